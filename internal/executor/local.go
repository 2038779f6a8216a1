package executor

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/logging"
)

// LocalTypeName tags serialized local executors.
const LocalTypeName = "local"

func init() {
	RegisterType(LocalTypeName, func() Portable { return &LocalExecutor{} })
}

// LocalExecutor runs commands as host processes under /bin/sh.
//
// The exported fields are the reconnection handles: after a controller
// restart the executor is reconstructed from them and tracks the process
// by PID alone. A reattached executor cannot recover the exit code of a
// process it did not spawn; WaitFor on that path reports 0 once the
// process is gone, and liveness is what the pool actually consumes.
type LocalExecutor struct {
	Pid       int    `json:"pid"`
	StartedMs int64  `json:"started_ms"`
	JobName   string `json:"job_name,omitempty"`

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	started  bool
}

// NewLocalExecutor returns an executor for one local process.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{}
}

func (e *LocalExecutor) TypeName() string { return LocalTypeName }

func (e *LocalExecutor) Start(cfg *domain.ResolvedConfig, cmd *domain.Command, outSink, errSink io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.Pid != 0 {
		return errors.New("local executor already started")
	}

	c := exec.Command("/bin/sh", "-c", cmd.Cmd)
	c.Stdout = outSink
	c.Stderr = errSink
	// Own process group so Stop can take down the whole command tree.
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		return fmt.Errorf("start %q: %w", cmd.Name, err)
	}

	e.cmd = c
	e.Pid = c.Process.Pid
	e.StartedMs = domain.NowMs()
	e.started = true
	e.done = make(chan struct{})

	go func() {
		err := c.Wait()
		e.mu.Lock()
		if c.ProcessState != nil {
			e.exitCode = c.ProcessState.ExitCode()
		} else if err != nil {
			e.exitCode = -1
		}
		e.mu.Unlock()
		close(e.done)
	}()

	logging.Op().Debug("local process started", "command", cmd.ID, "pid", e.Pid)
	return nil
}

func (e *LocalExecutor) WaitFor() (int, error) {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done != nil {
		<-done
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.exitCode, nil
	}

	// Reattached process: not our child, so poll liveness instead of Wait.
	if e.Pid == 0 {
		return 0, errors.New("local executor was never started")
	}
	for e.Status() == StatusRunning {
		time.Sleep(time.Second)
	}
	return 0, nil
}

func (e *LocalExecutor) Stop() error {
	e.mu.Lock()
	pid := e.Pid
	e.mu.Unlock()
	if pid == 0 {
		return errors.New("local executor was never started")
	}

	// Negative PID addresses the process group created at Start.
	err := syscall.Kill(-pid, syscall.SIGTERM)
	if errors.Is(err, syscall.ESRCH) {
		// Group already gone; try the single process for reattached
		// executors whose group we did not create.
		err = syscall.Kill(pid, syscall.SIGTERM)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("stop pid %d: %w", pid, err)
	}
	return nil
}

func (e *LocalExecutor) Status() Status {
	e.mu.Lock()
	done := e.done
	pid := e.Pid
	e.mu.Unlock()

	if done != nil {
		select {
		case <-done:
			return StatusComplete
		default:
			return StatusRunning
		}
	}
	if pid == 0 {
		return StatusUnknown
	}

	// Signal 0 probes existence without delivering anything.
	err := syscall.Kill(pid, syscall.Signal(0))
	switch {
	case err == nil:
		return StatusRunning
	case errors.Is(err, syscall.EPERM):
		return StatusRunning
	case errors.Is(err, syscall.ESRCH):
		return StatusComplete
	default:
		return StatusUnknown
	}
}

func (e *LocalExecutor) SetJobName(name string) error {
	e.mu.Lock()
	e.JobName = name
	e.mu.Unlock()
	return nil
}

// LocalFactory creates LocalExecutors regardless of config. It is the
// in-tree backend; cluster backends register their own factories.
type LocalFactory struct{}

func (LocalFactory) CreateExecutor(cfg *domain.ResolvedConfig) (CommandExecutor, error) {
	return NewLocalExecutor(), nil
}
