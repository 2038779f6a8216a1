// Package executor defines the uniform contract over command backends and
// the in-tree local process backend.
//
// A CommandExecutor is the capability a backend exposes for one submitted
// command: start it, wait for it, stop it, ask its status. Cluster batch
// backends plug in behind the same interface via a Factory; the pool
// subsystem never sees past it.
//
// Executors used under a persistent pool must round-trip through
// Marshal/Unmarshal: the serialized state carries whatever handles the
// backend needs to reconnect to a still-running job after a controller
// restart (for the local backend, the PID).
package executor

import (
	"io"

	"github.com/oriys/pulsar/internal/domain"
)

// Status is the coarse backend-reported state of a submitted command.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusUnknown  Status = "UNKNOWN"
)

// CommandExecutor is the uniform backend contract.
type CommandExecutor interface {
	// Start begins the backend job for cmd. Output streams are attached to
	// the given sinks for backends that can deliver them directly.
	Start(cfg *domain.ResolvedConfig, cmd *domain.Command, outSink, errSink io.Writer) error

	// WaitFor blocks until the job exits and returns its exit code.
	WaitFor() (int, error)

	// Stop requests termination of the job.
	Stop() error

	// Status reports the backend's view of the job.
	Status() Status

	// SetJobName renames the job for operator visibility where the backend
	// supports it. Backends without a job-name concept record it and
	// return nil.
	SetJobName(name string) error
}

// Factory creates executors for a resolved backend config.
type Factory interface {
	CreateExecutor(cfg *domain.ResolvedConfig) (CommandExecutor, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(cfg *domain.ResolvedConfig) (CommandExecutor, error)

func (f FactoryFunc) CreateExecutor(cfg *domain.ResolvedConfig) (CommandExecutor, error) {
	return f(cfg)
}
