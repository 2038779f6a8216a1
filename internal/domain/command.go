package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Command is one shell-command unit of work. The pipeline engine produces
// commands; the pool subsystem also creates wrapper-level commands that
// represent the long-lived reservation jobs themselves.
type Command struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Cmd          string          `json:"cmd"`
	CreateTimeMs int64           `json:"create_time_ms"`
	Cfg          *ResolvedConfig `json:"cfg,omitempty"`

	// ExecutorID is the hostCommandId of the reservation that adopted this
	// command, or empty. The live handle is attached separately because the
	// descriptor on disk must not carry the back-pointer.
	ExecutorID string `json:"-"`

	// Handle is the adopted command's link back to whatever is running it.
	Handle RunHandle `json:"-"`
}

// RunHandle is the slice of executor capability the pipeline side consumes
// after dispatch. The full capability set lives in internal/executor.
type RunHandle interface {
	WaitFor() (int, error)
	Stop() error
}

// ResolvedConfig is the per-command configuration after all pipeline-level
// resolution (stage overrides, defaults) has been applied.
type ResolvedConfig struct {
	Name     string         `json:"name"`
	Walltime string         `json:"walltime,omitempty"`
	MemoryMB int            `json:"memory_mb,omitempty"`
	Procs    int            `json:"procs,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// WalltimeMs returns the configured walltime budget in milliseconds,
// or 0 when no walltime is set.
func (c *ResolvedConfig) WalltimeMs() (int64, error) {
	if c == nil || c.Walltime == "" {
		return 0, nil
	}
	d, err := ParseWalltime(c.Walltime)
	if err != nil {
		return 0, fmt.Errorf("config %q: %w", c.Name, err)
	}
	return d.Milliseconds(), nil
}

var commandIDCounter atomic.Int64

// NewCommandID returns a process-unique, strictly all-digit command id.
// Persistence names descriptor files after the wrapper command id, and
// startup rediscovery only considers all-digit filenames, so the format
// here and the filter in the pool package must stay in agreement.
func NewCommandID() string {
	n := commandIDCounter.Add(1)
	return fmt.Sprintf("%d%04d", time.Now().UnixMilli(), n%10000)
}

// NowMs returns the current wall clock in epoch milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
