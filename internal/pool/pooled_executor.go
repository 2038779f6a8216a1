package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/wrapper"
)

// State tracks a reservation through its lifecycle.
type State string

const (
	StateProvisioning State = "PROVISIONING"
	StateIdle         State = "IDLE"
	StateRunning      State = "RUNNING"
	StateStopping     State = "STOPPING"
	StateTerminated   State = "TERMINATED"
)

// Membership is a reservation's link back to its owning pool. WaitFor
// releases the reservation through it after each command; the pool side
// must refuse to re-admit a stopped reservation.
type Membership interface {
	Release(pe *PooledExecutor)
}

// PooledExecutor is one wrapper job reservation. It adopts at most one
// pipeline command at a time, relays it to the remote wrapper over the
// filesystem protocol, and reports the exit code back.
//
// The exec, proto, poolCfg and command fields are fixed at construction.
// state, currentCommandID and dispatchedMs are guarded by mu. The output
// forwarding writer is lock-free by design (see logging.ForwardingWriter).
type PooledExecutor struct {
	hostCommandID string
	exec          executor.CommandExecutor
	poolCfg       *domain.PoolConfig
	command       *domain.Command // the wrapper-level command, not the adopted one
	proto         *wrapper.Protocol

	outputLog  *logging.ForwardingWriter
	tailers    []*logging.Tailer
	membership Membership

	mu               sync.Mutex
	state            State
	currentCommandID string
	dispatchedMs     int64
}

// HostCommandID returns the stable identity of the reservation.
func (pe *PooledExecutor) HostCommandID() string { return pe.hostCommandID }

// Executor returns the backing backend executor.
func (pe *PooledExecutor) Executor() executor.CommandExecutor { return pe.exec }

// PoolConfig returns the pool descriptor snapshot this reservation was
// created under.
func (pe *PooledExecutor) PoolConfig() *domain.PoolConfig { return pe.poolCfg }

// Command returns the wrapper-level command; its CreateTimeMs anchors the
// wall-time accounting.
func (pe *PooledExecutor) Command() *domain.Command { return pe.command }

// StopFile returns the path of the wrapper's stop file.
func (pe *PooledExecutor) StopFile() string { return pe.proto.StopPath() }

// HeartbeatFile returns the path of the wrapper's heartbeat file.
func (pe *PooledExecutor) HeartbeatFile() string { return pe.proto.HeartbeatPath() }

// State returns the current lifecycle state.
func (pe *PooledExecutor) State() State {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return pe.state
}

// Stopped reports whether Stop has begun; a stopped reservation never
// re-enters the idle set.
func (pe *PooledExecutor) Stopped() bool {
	pe.mu.Lock()
	defer pe.mu.Unlock()
	return pe.state == StateStopping || pe.state == StateTerminated
}

// CanAccept reports whether this reservation may run a command resolved
// against cfg. The only enforced dimension today is wall time: when both
// the command and the pool carry a walltime, the wrapper's remaining
// budget must cover the command's. Memory and CPU budgets route through
// the same gate once backends report them.
func (pe *PooledExecutor) CanAccept(cfg *domain.ResolvedConfig) bool {
	return pe.fitsBudget(cfg)
}

func (pe *PooledExecutor) fitsBudget(cfg *domain.ResolvedConfig) bool {
	reqMs, err := cfg.WalltimeMs()
	if err != nil {
		logging.Op().Warn("unparseable command walltime, rejecting",
			"host", pe.hostCommandID, "error", err)
		return false
	}
	if reqMs == 0 {
		return true
	}
	poolMs, err := pe.poolCfg.WalltimeMs()
	if err != nil {
		logging.Op().Warn("unparseable pool walltime, rejecting",
			"pool", pe.poolCfg.Name, "error", err)
		return false
	}
	if poolMs == 0 {
		return true
	}
	remaining := poolMs - (domain.NowMs() - pe.command.CreateTimeMs)
	return remaining >= reqMs
}

// Execute adopts a pipeline command: binds it to this reservation, rewires
// the output forwarding sink to its log, and publishes the command script
// to the wrapper. Dispatch is asynchronous; completion is observed via
// WaitFor. Calling Execute on an occupied or stopped reservation is a
// caller bug and returns an error without side effects.
func (pe *PooledExecutor) Execute(cmd *domain.Command, outputLog io.Writer) error {
	pe.mu.Lock()
	if pe.state == StateStopping || pe.state == StateTerminated {
		pe.mu.Unlock()
		return fmt.Errorf("executor %s is stopped", pe.hostCommandID)
	}
	if pe.currentCommandID != "" {
		occupied := pe.currentCommandID
		pe.mu.Unlock()
		return fmt.Errorf("executor %s is occupied by command %s", pe.hostCommandID, occupied)
	}
	pe.currentCommandID = cmd.ID
	pe.state = StateRunning
	pe.dispatchedMs = domain.NowMs()
	pe.mu.Unlock()

	pe.outputLog.Rewire(outputLog)
	cmd.ExecutorID = pe.hostCommandID
	cmd.Handle = pe

	script := wrapper.RenderCommandScript(cmd.Cmd)
	if err := pe.proto.Dispatch(cmd.ID, script); err != nil {
		pe.mu.Lock()
		pe.currentCommandID = ""
		if pe.state == StateRunning {
			pe.state = StateIdle
		}
		pe.mu.Unlock()
		cmd.ExecutorID = ""
		cmd.Handle = nil
		return err
	}

	metrics.RecordDispatch(pe.poolCfg.Name)
	logging.Op().Info("command adopted by pooled executor",
		"pool", pe.poolCfg.Name, "host", pe.hostCommandID, "command", cmd.ID)
	return nil
}

// WaitFor blocks until the wrapper reports the adopted command's exit
// code, returns the reservation to its pool, and hands the code back. A
// malformed exit file surfaces as exit code 1; the wrapper itself has
// completed the command, so the reservation still returns to the idle set.
func (pe *PooledExecutor) WaitFor() (int, error) {
	pe.mu.Lock()
	cmdID := pe.currentCommandID
	dispatchedMs := pe.dispatchedMs
	pe.mu.Unlock()
	if cmdID == "" {
		return 0, errors.New("no command adopted")
	}

	ctx, span := observability.StartSpan(context.Background(), "pool.wait_for",
		observability.AttrPoolName.String(pe.poolCfg.Name),
		observability.AttrHostCommandID.String(pe.hostCommandID),
		observability.AttrCommandID.String(cmdID),
	)
	defer span.End()

	code, err := pe.proto.WaitForExit(ctx, cmdID)
	if err != nil {
		if !errors.Is(err, wrapper.ErrMalformedExit) {
			observability.SetSpanError(span, err)
			return code, err
		}
		logging.Op().Error("exit code file did not parse, failing command",
			"pool", pe.poolCfg.Name, "host", pe.hostCommandID,
			"command", cmdID, "error", err)
		metrics.RecordExit(pe.poolCfg.Name, "malformed")
		err = nil
	} else if code == 0 {
		metrics.RecordExit(pe.poolCfg.Name, "ok")
	} else {
		metrics.RecordExit(pe.poolCfg.Name, "failed")
	}
	span.SetAttributes(observability.AttrExitCode.Int(code))
	metrics.ObserveCommandWait(pe.poolCfg.Name, float64(domain.NowMs()-dispatchedMs))

	pe.mu.Lock()
	pe.currentCommandID = ""
	if pe.state == StateRunning {
		pe.state = StateIdle
	}
	pe.mu.Unlock()

	pe.outputLog.Rewire(nil)
	if err := pe.exec.SetJobName(pe.poolCfg.Name); err != nil {
		logging.Op().Debug("restore job name failed", "host", pe.hostCommandID, "error", err)
	}

	if m := pe.membership; m != nil {
		m.Release(pe)
	}
	return code, nil
}

// Stop tears the reservation down: stops the backend job, writes the stop
// file so the wrapper exits on its next poll, and removes the heartbeat.
// Stop is idempotent; repeated calls converge on the same filesystem
// state. The backend stop error is propagated to the caller.
func (pe *PooledExecutor) Stop() error {
	pe.mu.Lock()
	wasTerminated := pe.state == StateTerminated
	pe.state = StateStopping
	pe.mu.Unlock()

	var stopErr error
	if err := pe.exec.Stop(); err != nil && !wasTerminated {
		stopErr = fmt.Errorf("stop backend for %s: %w", pe.hostCommandID, err)
	}
	if err := pe.proto.WriteStop(); err != nil && stopErr == nil {
		stopErr = err
	}
	if err := pe.proto.RemoveHeartbeat(); err != nil && stopErr == nil {
		stopErr = err
	}

	pe.stopTailers()

	pe.mu.Lock()
	pe.state = StateTerminated
	pe.mu.Unlock()

	logging.Op().Info("pooled executor stopped",
		"pool", pe.poolCfg.Name, "host", pe.hostCommandID)
	return stopErr
}

// Start provisions the wrapper job through the conventional backend entry
// point and names the job after the pool for operator visibility.
func (pe *PooledExecutor) Start(cfg *domain.ResolvedConfig, cmd *domain.Command, outSink, errSink io.Writer) error {
	if err := pe.exec.Start(cfg, cmd, outSink, errSink); err != nil {
		return err
	}
	if err := pe.exec.SetJobName(pe.poolCfg.Name); err != nil {
		logging.Op().Debug("set job name failed", "host", pe.hostCommandID, "error", err)
	}
	return nil
}

// detach stops the output tails without touching the wrapper. Used when a
// persistent pool's controller exits and the wrapper stays behind.
func (pe *PooledExecutor) detach() {
	pe.stopTailers()
}

func (pe *PooledExecutor) stopTailers() {
	for _, t := range pe.tailers {
		t.Stop()
	}
	pe.tailers = nil
}
