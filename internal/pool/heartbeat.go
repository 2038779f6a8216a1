package pool

import (
	"context"
	"time"
)

// heartbeatTicker is the single process-wide timer that re-touches the
// heartbeat file of every live wrapper. The wrapper deletes the file on
// its own schedule; each tick here reasserts that the controller is still
// alive. One shot per tick: a file deleted between ticks stays absent
// until the next tick, which is what bounds the wrapper's orphan-detection
// latency.
type heartbeatTicker struct {
	interval time.Duration
	pools    func() []*ExecutorPool
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHeartbeatTicker(interval time.Duration, pools func() []*ExecutorPool) *heartbeatTicker {
	return &heartbeatTicker{
		interval: interval,
		pools:    pools,
		done:     make(chan struct{}),
	}
}

func (h *heartbeatTicker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go h.run(ctx)
}

func (h *heartbeatTicker) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
}

func (h *heartbeatTicker) run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range h.pools() {
				p.touchHeartbeats()
			}
		}
	}
}
