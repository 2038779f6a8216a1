// Package pool manages pre-allocated wrapper job reservations and
// multiplexes pipeline commands onto them.
//
// # Design rationale
//
// Submitting a command to a cluster batch system costs seconds to minutes
// of queue latency. To amortise this cost the controller reserves
// long-lived "wrapper" jobs ahead of demand; each wrapper idles on the
// backend, polling a private directory for work. Dispatching a pipeline
// command then costs one file rename instead of one backend submission.
//
// # Pool topology
//
// One ExecutorPool is maintained per named preallocate configuration
// section. A pool serves the backend-config names listed in its Configs
// set; the Registry routes each incoming command to the first registered
// pool serving its config that has a compatible idle reservation.
//
// # Concurrency model
//
// Each ExecutorPool has one mutex guarding its member and idle lists;
// Take, Release, Start and Shutdown hold it for their full duration.
// WaitFor runs on the caller's goroutine with no pool lock held, so a
// slow wrapper never blocks takes from the rest of the pool. The
// heartbeat ticker runs on its own goroutine owned by the Registry.
//
// # Invariants
//
//   - A reservation is in the idle list if and only if it has no adopted
//     command and has not been stopped.
//   - Every live reservation has exactly one descriptor file under
//     <root>/pools/<pool>/<hostCommandId>.
//   - A stopped reservation is never re-admitted to the idle list, even
//     though its release callback still fires.
//
// # Failure behaviour
//
// Provisioning failures abort Start and propagate: the controller decides
// whether to continue without the pool. Stop failures during Shutdown are
// logged and swallowed so one stuck backend cannot wedge controller exit.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gofrs/flock"

	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/wrapper"
)

// ErrNoCompatibleExecutor is returned by Take when no idle reservation can
// accept the command. The caller falls back to direct backend dispatch;
// the pool is not at fault.
var ErrNoCompatibleExecutor = errors.New("no compatible pooled executor available")

// ErrPoolDirLocked is returned when another controller already owns the
// pool's state directory.
var ErrPoolDirLocked = errors.New("pool directory is locked by another controller")

// ExecutorPool owns a fixed-size set of reservations for one named pool.
type ExecutorPool struct {
	cfg     *domain.PoolConfig
	factory executor.Factory
	root    string
	iv      wrapper.Intervals

	mu        sync.Mutex
	members   []*PooledExecutor
	idle      []*PooledExecutor
	closed    bool
	startedMs int64
	dirLock   *flock.Flock
}

// Stats is a point-in-time summary of one pool.
type Stats struct {
	Name    string `json:"name" yaml:"name"`
	Size    int    `json:"size" yaml:"size"`
	Idle    int    `json:"idle" yaml:"idle"`
	Persist bool   `json:"persist" yaml:"persist"`
}

// NewExecutorPool constructs a pool; Start provisions it.
func NewExecutorPool(cfg *domain.PoolConfig, factory executor.Factory, root string, iv wrapper.Intervals) *ExecutorPool {
	if root == "" {
		root = wrapper.DefaultRootDir
	}
	return &ExecutorPool{
		cfg:     cfg,
		factory: factory,
		root:    root,
		iv:      iv.WithDefaults(),
	}
}

// Name returns the pool name.
func (p *ExecutorPool) Name() string { return p.cfg.Name }

// Config returns the pool descriptor.
func (p *ExecutorPool) Config() *domain.PoolConfig { return p.cfg }

// Persistent reports whether the pool's wrappers outlive the controller.
func (p *ExecutorPool) Persistent() bool { return p.cfg.Persist }

// Start provisions the pool: it locks the pool state directory, re-attaches
// persisted wrappers that are still running (persistent pools only), and
// starts fresh wrappers until the pool holds Jobs members.
func (p *ExecutorPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := StateDir(p.root, p.cfg.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create pool dir for %s: %w", p.cfg.Name, err)
	}

	p.dirLock = flock.New(filepath.Join(dir, ".lock"))
	locked, err := p.dirLock.TryLock()
	if err != nil {
		return fmt.Errorf("lock pool dir for %s: %w", p.cfg.Name, err)
	}
	if !locked {
		return fmt.Errorf("pool %s: %w", p.cfg.Name, ErrPoolDirLocked)
	}

	var predecessors []*PooledExecutor
	if p.cfg.Persist {
		predecessors, err = p.searchForExistingPools()
		if err != nil {
			return err
		}
	}

	for i := 0; i < p.cfg.Jobs; i++ {
		var pe *PooledExecutor
		if n := len(predecessors); n > 0 {
			pe = predecessors[n-1]
			predecessors = predecessors[:n-1]
			metrics.RecordReattached(p.cfg.Name)
			logging.Op().Info("re-attached persisted wrapper",
				"pool", p.cfg.Name, "host", pe.hostCommandID)
		} else {
			pe, err = p.startNewPooledExecutor(ctx)
			if err != nil {
				metrics.RecordProvisionFailure()
				return fmt.Errorf("provision wrapper %d/%d for pool %s: %w",
					i+1, p.cfg.Jobs, p.cfg.Name, err)
			}
		}
		p.connectPooledExecutor(pe)
	}

	// A shrunk Jobs setting can leave surplus persisted wrappers behind;
	// stop them rather than strand them on the backend.
	for _, extra := range predecessors {
		logging.Op().Info("stopping surplus persisted wrapper",
			"pool", p.cfg.Name, "host", extra.hostCommandID)
		if err := extra.Stop(); err != nil {
			logging.Op().Warn("stop surplus wrapper failed",
				"pool", p.cfg.Name, "host", extra.hostCommandID, "error", err)
		}
		p.removeDescriptor(extra.hostCommandID)
	}

	p.startedMs = domain.NowMs()
	metrics.SetPoolSize(p.cfg.Name, len(p.members))
	metrics.SetPoolIdle(p.cfg.Name, len(p.idle))
	logging.Op().Info("pool started",
		"pool", p.cfg.Name, "jobs", len(p.members), "persist", p.cfg.Persist)
	return nil
}

// startNewPooledExecutor provisions one fresh wrapper job and persists its
// descriptor. Caller holds the pool lock.
func (p *ExecutorPool) startNewPooledExecutor(ctx context.Context) (*PooledExecutor, error) {
	hostID := domain.NewCommandID()
	proto := wrapper.New(p.root, hostID, p.iv)
	if err := proto.EnsureDir(); err != nil {
		return nil, err
	}

	script, err := proto.RenderWrapperScript(p.cfg.Debug)
	if err != nil {
		return nil, err
	}

	execCfg := p.cfg.ExecutorConfig()
	wrapperCmd := &domain.Command{
		ID:           hostID,
		Name:         p.cfg.Name + "_pool_wrapper",
		Cmd:          script,
		CreateTimeMs: domain.NowMs(),
		Cfg:          execCfg,
	}

	exe, err := p.factory.CreateExecutor(execCfg)
	if err != nil {
		return nil, err
	}

	pe := &PooledExecutor{
		hostCommandID: hostID,
		exec:          exe,
		poolCfg:       p.cfg,
		command:       wrapperCmd,
		proto:         proto,
		state:         StateProvisioning,
	}

	// The wrapper script captures command output itself; the backend sinks
	// only ever see the wrapper's own chatter.
	if err := pe.Start(execCfg, wrapperCmd, io.Discard, io.Discard); err != nil {
		return nil, err
	}

	if err := p.saveDescriptor(pe); err != nil {
		logging.Op().Warn("persist wrapper descriptor failed",
			"pool", p.cfg.Name, "host", hostID, "error", err)
	}

	pe.mu.Lock()
	pe.state = StateIdle
	pe.mu.Unlock()
	return pe, nil
}

// connectPooledExecutor reconstitutes the transient state a reservation
// needs inside this controller: the forwarding log sink, the output tails,
// and the membership link back to this pool. Caller holds the pool lock.
func (p *ExecutorPool) connectPooledExecutor(pe *PooledExecutor) {
	pe.membership = p
	pe.outputLog = logging.NewForwardingWriter(nil)
	pe.tailers = []*logging.Tailer{
		logging.NewTailer(pe.proto.OutPath(), pe.outputLog, 0),
		logging.NewTailer(pe.proto.ErrPath(), pe.outputLog, 0),
	}
	p.members = append(p.members, pe)
	p.idle = append(p.idle, pe)
}

// Take selects an idle reservation that can accept the command, adopts the
// command onto it, and returns the command bound to that reservation. The
// scan picks the first compatible reservation in idle order; selection is
// deterministic for a given idle list. ErrNoCompatibleExecutor means the
// caller should dispatch directly.
func (p *ExecutorPool) Take(ctx context.Context, cmd *domain.Command, outputLog io.Writer) (*domain.Command, error) {
	_, span := observability.StartSpan(ctx, "pool.take",
		observability.AttrPoolName.String(p.cfg.Name),
		observability.AttrCommandID.String(cmd.ID),
	)
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		metrics.RecordTake(p.cfg.Name, "miss")
		return nil, fmt.Errorf("pool %s: %w", p.cfg.Name, ErrNoCompatibleExecutor)
	}

	idx := -1
	for i, pe := range p.idle {
		if pe.CanAccept(cmd.Cfg) {
			idx = i
			break
		}
	}
	if idx < 0 {
		metrics.RecordTake(p.cfg.Name, "miss")
		return nil, fmt.Errorf("pool %s: %w", p.cfg.Name, ErrNoCompatibleExecutor)
	}

	pe := p.idle[idx]
	p.idle = slices.Delete(p.idle, idx, idx+1)

	if err := pe.Execute(cmd, outputLog); err != nil {
		p.idle = append(p.idle, pe)
		observability.SetSpanError(span, err)
		return nil, err
	}

	span.SetAttributes(observability.AttrHostCommandID.String(pe.hostCommandID))
	metrics.RecordTake(p.cfg.Name, "hit")
	metrics.SetPoolIdle(p.cfg.Name, len(p.idle))
	return cmd, nil
}

// Release returns a reservation to the idle set after its command
// finished. Stopped reservations and closed pools are refused; so are
// duplicates, which keeps the idle set consistent however callbacks race.
func (p *ExecutorPool) Release(pe *PooledExecutor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || pe.Stopped() {
		return
	}
	if slices.Contains(p.idle, pe) {
		return
	}
	p.idle = append(p.idle, pe)
	metrics.SetPoolIdle(p.cfg.Name, len(p.idle))
}

// Shutdown stops every reservation and releases the pool directory lock.
// Stop failures are logged at warning and do not abort the remaining
// members.
func (p *ExecutorPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := slices.Clone(p.members)
	p.members = nil
	p.idle = nil
	p.closed = true

	for _, pe := range members {
		if err := pe.Stop(); err != nil {
			logging.Op().Warn("stop pooled executor failed",
				"pool", p.cfg.Name, "host", pe.hostCommandID, "error", err)
		}
		p.removeDescriptor(pe.hostCommandID)
	}

	p.unlockDir()
	metrics.SetPoolSize(p.cfg.Name, 0)
	metrics.SetPoolIdle(p.cfg.Name, 0)
	logging.Op().Info("pool shut down", "pool", p.cfg.Name)
}

// Detach releases the controller's grip on a persistent pool without
// touching its wrappers: tails stop, the directory lock is released, and
// the wrapper jobs stay behind for the next controller to re-attach.
func (p *ExecutorPool) Detach() {
	p.mu.Lock()
	members := slices.Clone(p.members)
	p.members = nil
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	for _, pe := range members {
		pe.detach()
	}
	p.unlockDir()
	logging.Op().Info("pool detached, wrappers left running",
		"pool", p.cfg.Name, "jobs", len(members))
}

func (p *ExecutorPool) unlockDir() {
	if p.dirLock != nil {
		if err := p.dirLock.Unlock(); err != nil {
			logging.Op().Warn("unlock pool dir failed", "pool", p.cfg.Name, "error", err)
		}
	}
}

// Stats returns a snapshot of the pool's occupancy.
func (p *ExecutorPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Name:    p.cfg.Name,
		Size:    len(p.members),
		Idle:    len(p.idle),
		Persist: p.cfg.Persist,
	}
}

// touchHeartbeats re-asserts controller liveness for every live member.
// Called from the heartbeat ticker.
func (p *ExecutorPool) touchHeartbeats() {
	p.mu.Lock()
	members := slices.Clone(p.members)
	p.mu.Unlock()

	for _, pe := range members {
		if pe.Stopped() {
			continue
		}
		created, err := pe.proto.TouchHeartbeat()
		if err != nil {
			logging.Op().Warn("heartbeat touch failed",
				"pool", p.cfg.Name, "host", pe.hostCommandID, "error", err)
			continue
		}
		if created {
			metrics.RecordHeartbeat()
		}
	}
}
