package pool

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/oriys/pulsar/internal/domain"
	"github.com/oriys/pulsar/internal/executor"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/wrapper"
)

// fakeExecutor is a portable in-memory backend for pool tests.
type fakeExecutor struct {
	ReportStatus executor.Status `json:"report_status"`
	Job          string          `json:"job"`

	mu      sync.Mutex
	started bool
	stopped bool
	stopErr error
}

func (f *fakeExecutor) TypeName() string { return "pool_test_fake" }

func (f *fakeExecutor) Start(cfg *domain.ResolvedConfig, cmd *domain.Command, out, errSink io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.ReportStatus = executor.StatusRunning
	return nil
}

func (f *fakeExecutor) WaitFor() (int, error) { return 0, nil }

func (f *fakeExecutor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.ReportStatus = executor.StatusComplete
	return f.stopErr
}

func (f *fakeExecutor) Status() executor.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReportStatus == "" {
		return executor.StatusUnknown
	}
	return f.ReportStatus
}

func (f *fakeExecutor) SetJobName(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Job = name
	return nil
}

func (f *fakeExecutor) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func init() {
	executor.RegisterType("pool_test_fake", func() executor.Portable { return &fakeExecutor{} })
}

// fakeFactory hands out fakeExecutors and remembers them.
type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeExecutor
}

func (f *fakeFactory) CreateExecutor(cfg *domain.ResolvedConfig) (executor.CommandExecutor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeExecutor{}
	f.created = append(f.created, e)
	return e, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func testIntervals() wrapper.Intervals {
	return wrapper.Intervals{
		ExitPoll:  10 * time.Millisecond,
		Settle:    time.Millisecond,
		Heartbeat: time.Hour, // tests drive heartbeats by hand
	}.WithDefaults()
}

func poolConfig(name string, jobs int, configs ...string) *domain.PoolConfig {
	if len(configs) == 0 {
		configs = []string{name}
	}
	return &domain.PoolConfig{
		Name:    name,
		Configs: configs,
		Jobs:    jobs,
	}
}

func pipelineCommand(id, configName string) *domain.Command {
	return &domain.Command{
		ID:           id,
		Name:         "stage_" + id,
		Cmd:          "echo " + id,
		CreateTimeMs: domain.NowMs(),
		Cfg:          &domain.ResolvedConfig{Name: configName},
	}
}

// writeExit plays the wrapper's part: report an exit code for a command.
func writeExit(t *testing.T, root, hostID, cmdID, content string) {
	t.Helper()
	dir := filepath.Join(root, "commandtmp", hostID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, cmdID+".pool.exit"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newDetachedPE builds a PooledExecutor outside any pool, for unit tests
// of the reservation itself.
func newDetachedPE(t *testing.T, root string, cfg *domain.PoolConfig, createTimeMs int64) *PooledExecutor {
	t.Helper()
	hostID := domain.NewCommandID()
	return &PooledExecutor{
		hostCommandID: hostID,
		exec:          &fakeExecutor{ReportStatus: executor.StatusRunning},
		poolCfg:       cfg,
		command: &domain.Command{
			ID:           hostID,
			Name:         cfg.Name + "_pool_wrapper",
			CreateTimeMs: createTimeMs,
		},
		proto:     wrapper.New(root, hostID, testIntervals()),
		outputLog: logging.NewForwardingWriter(nil),
		state:     StateIdle,
	}
}
