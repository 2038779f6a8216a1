package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/oriys/pulsar/internal/config"
	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/observability"
)

// Registry maps pool names to started pools and routes executor requests.
// It is lifecycle-scoped: construct one, InitPools it, ShutdownAll it.
// Nothing in this package holds a global instance; the embedding process
// injects the registry wherever commands are produced.
type Registry struct {
	mu     sync.Mutex
	pools  []*ExecutorPool // registration order, which is request routing order
	byName map[string]*ExecutorPool
	ticker *heartbeatTicker
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]*ExecutorPool{}}
}

// InitPools constructs and starts one pool per preallocate section of the
// configuration and begins the heartbeat ticker. Section keys are
// processed in sorted order so routing order is stable across runs. A
// provisioning failure aborts initialization and propagates; pools
// already started remain registered so the caller can ShutdownAll.
func (r *Registry) InitPools(ctx context.Context, factory executor.Factory, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]string, 0, len(cfg.Preallocate))
	for key := range cfg.Preallocate {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	iv := cfg.Protocol.Intervals()
	for _, key := range keys {
		section := cfg.Preallocate[key]
		if section == nil {
			section = &config.PoolSection{}
		}
		poolCfg := section.ToPoolConfig(key)

		if _, dup := r.byName[poolCfg.Name]; dup {
			return fmt.Errorf("duplicate pool name %q", poolCfg.Name)
		}

		p := NewExecutorPool(poolCfg, factory, cfg.StateDir, iv)
		if err := p.Start(ctx); err != nil {
			return err
		}
		r.pools = append(r.pools, p)
		r.byName[poolCfg.Name] = p
	}

	if r.ticker == nil && len(r.pools) > 0 {
		r.ticker = newHeartbeatTicker(iv.Heartbeat, r.Pools)
		r.ticker.start()
	}
	return nil
}

// Pools returns the registered pools in registration order.
func (r *Registry) Pools() []*ExecutorPool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pools)
}

// Pool returns the named pool, or nil.
func (r *Registry) Pool(name string) *ExecutorPool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// RequestExecutor offers a pipeline command to the pools that serve its
// config, in registration order. The first pool with a compatible idle
// reservation adopts it and the bound command is returned. When every
// pool declines, the original command is returned unchanged and the
// caller dispatches directly to the backend.
func (r *Registry) RequestExecutor(ctx context.Context, cmd *domain.Command, cfg *domain.ResolvedConfig, outputLog io.Writer) (*domain.Command, error) {
	ctx, span := observability.StartSpan(ctx, "registry.request_executor",
		observability.AttrCommandID.String(cmd.ID),
		observability.AttrConfigName.String(cfg.Name),
	)
	defer span.End()

	reqID := uuid.New().String()[:8]

	for _, p := range r.Pools() {
		if !p.Config().Serves(cfg.Name) {
			continue
		}
		bound, err := p.Take(ctx, cmd, outputLog)
		if err != nil {
			if errors.Is(err, ErrNoCompatibleExecutor) {
				continue
			}
			observability.SetSpanError(span, err)
			return nil, err
		}
		span.SetAttributes(
			observability.AttrPooled.Bool(true),
			observability.AttrPoolName.String(p.Name()),
			observability.AttrHostCommandID.String(cmd.ExecutorID),
		)
		logging.Op().Debug("command routed to pool",
			"request", reqID, "command", cmd.ID, "pool", p.Name(), "host", cmd.ExecutorID)
		return bound, nil
	}

	span.SetAttributes(observability.AttrPooled.Bool(false))
	logging.Op().Debug("no pool accepted command, falling through",
		"request", reqID, "command", cmd.ID, "config", cfg.Name)
	return cmd, nil
}

// ShutdownAll stops the heartbeat ticker, shuts down every non-persistent
// pool, and detaches from persistent ones so their wrappers survive for
// the next controller. Stop failures are logged, never propagated.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	pools := r.pools
	ticker := r.ticker
	r.pools = nil
	r.byName = map[string]*ExecutorPool{}
	r.ticker = nil
	r.mu.Unlock()

	if ticker != nil {
		ticker.stop()
	}
	for _, p := range pools {
		if p.Persistent() {
			p.Detach()
			continue
		}
		p.Shutdown()
	}
}
