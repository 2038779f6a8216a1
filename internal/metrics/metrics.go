// Package metrics exposes Prometheus instrumentation for the pool
// subsystem through a private registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type poolMetrics struct {
	registry *prometheus.Registry

	poolSize *prometheus.GaugeVec
	poolIdle *prometheus.GaugeVec

	takesTotal        *prometheus.CounterVec
	dispatchesTotal   *prometheus.CounterVec
	exitsTotal        *prometheus.CounterVec
	heartbeatsTotal   prometheus.Counter
	provisionFailures prometheus.Counter
	reattachedTotal   *prometheus.CounterVec

	commandWait *prometheus.HistogramVec
}

// Default wait-duration buckets in milliseconds. The low end covers the
// fsnotify fast path; the high end the 1 s poll fallback and queue time.
var defaultBuckets = []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 15000, 60000}

var pm *poolMetrics

// Init initializes the metrics subsystem. Calls before Init are dropped,
// which keeps library code free of nil checks at call sites.
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &poolMetrics{
		registry: registry,

		poolSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_size",
				Help:      "Number of wrapper jobs owned by each pool",
			},
			[]string{"pool"},
		),
		poolIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pool_idle",
				Help:      "Number of idle wrapper jobs in each pool",
			},
			[]string{"pool"},
		),
		takesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "takes_total",
				Help:      "Pool take attempts by outcome",
			},
			[]string{"pool", "outcome"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Commands dispatched to wrapper jobs",
			},
			[]string{"pool"},
		),
		exitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "command_exits_total",
				Help:      "Commands completed by wrapper jobs, by status",
			},
			[]string{"pool", "status"},
		),
		heartbeatsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Heartbeat files written by the ticker",
			},
		),
		provisionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provision_failures_total",
				Help:      "Wrapper jobs that failed to provision",
			},
		),
		reattachedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wrappers_reattached_total",
				Help:      "Persisted wrapper jobs re-attached on startup",
			},
			[]string{"pool"},
		),
		commandWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_wait_ms",
				Help:      "Time from dispatch to observed exit in milliseconds",
				Buckets:   buckets,
			},
			[]string{"pool"},
		),
	}

	registry.MustRegister(
		m.poolSize, m.poolIdle,
		m.takesTotal, m.dispatchesTotal, m.exitsTotal,
		m.heartbeatsTotal, m.provisionFailures, m.reattachedTotal,
		m.commandWait,
	)
	pm = m
}

// Handler returns the HTTP handler serving the metrics registry.
func Handler() http.Handler {
	if pm == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// SetPoolSize records the member count of a pool.
func SetPoolSize(pool string, n int) {
	if pm != nil {
		pm.poolSize.WithLabelValues(pool).Set(float64(n))
	}
}

// SetPoolIdle records the idle count of a pool.
func SetPoolIdle(pool string, n int) {
	if pm != nil {
		pm.poolIdle.WithLabelValues(pool).Set(float64(n))
	}
}

// RecordTake counts one take attempt. outcome is "hit" or "miss".
func RecordTake(pool, outcome string) {
	if pm != nil {
		pm.takesTotal.WithLabelValues(pool, outcome).Inc()
	}
}

// RecordDispatch counts one command dispatched to a wrapper.
func RecordDispatch(pool string) {
	if pm != nil {
		pm.dispatchesTotal.WithLabelValues(pool).Inc()
	}
}

// RecordExit counts one completed command. status is "ok", "failed" or
// "malformed".
func RecordExit(pool, status string) {
	if pm != nil {
		pm.exitsTotal.WithLabelValues(pool, status).Inc()
	}
}

// RecordHeartbeat counts one heartbeat file written.
func RecordHeartbeat() {
	if pm != nil {
		pm.heartbeatsTotal.Inc()
	}
}

// RecordProvisionFailure counts one failed wrapper provisioning.
func RecordProvisionFailure() {
	if pm != nil {
		pm.provisionFailures.Inc()
	}
}

// RecordReattached counts one wrapper re-attached from persisted state.
func RecordReattached(pool string) {
	if pm != nil {
		pm.reattachedTotal.WithLabelValues(pool).Inc()
	}
}

// ObserveCommandWait records dispatch-to-exit latency in milliseconds.
func ObserveCommandWait(pool string, ms float64) {
	if pm != nil {
		pm.commandWait.WithLabelValues(pool).Observe(ms)
	}
}
