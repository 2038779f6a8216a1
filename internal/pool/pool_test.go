package pool

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/oriys/pulsar/internal/domain"
)

func startTestPool(t *testing.T, cfg *domain.PoolConfig) (*ExecutorPool, *fakeFactory, string) {
	t.Helper()
	root := t.TempDir()
	factory := &fakeFactory{}
	p := NewExecutorPool(cfg, factory, root, testIntervals())
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("pool start failed: %v", err)
	}
	return p, factory, root
}

func TestStartProvisionsConfiguredJobs(t *testing.T) {
	p, factory, root := startTestPool(t, poolConfig("small", 2, "bwa"))

	st := p.Stats()
	if st.Size != 2 || st.Idle != 2 {
		t.Fatalf("stats = %+v, want size 2 idle 2", st)
	}
	if factory.count() != 2 {
		t.Fatalf("factory created %d executors, want 2", factory.count())
	}

	entries, err := os.ReadDir(StateDir(root, "small"))
	if err != nil {
		t.Fatalf("pool dir missing: %v", err)
	}
	descriptors := 0
	for _, e := range entries {
		if allDigits.MatchString(e.Name()) {
			descriptors++
		}
	}
	if descriptors != 2 {
		t.Fatalf("found %d descriptors, want 2", descriptors)
	}
}

func TestTakeHappyPath(t *testing.T) {
	p, _, root := startTestPool(t, poolConfig("small", 1, "bwa"))

	cmd := pipelineCommand("C1", "bwa")
	bound, err := p.Take(context.Background(), cmd, nil)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if bound != cmd {
		t.Fatal("Take must return the same command, bound")
	}
	if bound.Handle == nil || bound.ExecutorID == "" {
		t.Fatal("command not bound to a reservation")
	}
	if st := p.Stats(); st.Idle != 0 {
		t.Fatalf("idle = %d after take, want 0", st.Idle)
	}

	writeExit(t, root, bound.ExecutorID, "C1", "0\n")
	code, err := bound.Handle.WaitFor()
	if err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if st := p.Stats(); st.Idle != 1 {
		t.Fatalf("idle = %d after completion, want 1", st.Idle)
	}
}

func TestTakeEmptyPoolReturnsSentinel(t *testing.T) {
	p, _, _ := startTestPool(t, poolConfig("empty", 0, "bwa"))

	_, err := p.Take(context.Background(), pipelineCommand("C1", "bwa"), nil)
	if !errors.Is(err, ErrNoCompatibleExecutor) {
		t.Fatalf("expected ErrNoCompatibleExecutor, got %v", err)
	}
}

func TestTakeWalltimeRejection(t *testing.T) {
	cfg := poolConfig("small", 1, "bwa")
	cfg.Walltime = "00:01:00"
	p, _, _ := startTestPool(t, cfg)

	// Age the wrapper so only five seconds of budget remain.
	p.mu.Lock()
	p.members[0].command.CreateTimeMs = domain.NowMs() - 55000
	p.mu.Unlock()

	cmd := pipelineCommand("C1", "bwa")
	cmd.Cfg.Walltime = "00:00:10"
	if _, err := p.Take(context.Background(), cmd, nil); !errors.Is(err, ErrNoCompatibleExecutor) {
		t.Fatalf("expected walltime rejection, got %v", err)
	}

	// Without a command walltime the budget is not consulted.
	cmd2 := pipelineCommand("C2", "bwa")
	if _, err := p.Take(context.Background(), cmd2, nil); err != nil {
		t.Fatalf("Take without walltime failed: %v", err)
	}
}

func TestTakeSelectsFirstCompatible(t *testing.T) {
	p, _, _ := startTestPool(t, poolConfig("small", 3, "bwa"))

	p.mu.Lock()
	first := p.idle[0].hostCommandID
	p.mu.Unlock()

	cmd := pipelineCommand("C1", "bwa")
	if _, err := p.Take(context.Background(), cmd, nil); err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if cmd.ExecutorID != first {
		t.Fatalf("took %s, want first idle member %s", cmd.ExecutorID, first)
	}
}

func TestConcurrentTakesHandOutDistinctExecutors(t *testing.T) {
	p, _, _ := startTestPool(t, poolConfig("small", 2, "bwa"))

	cmds := []*domain.Command{
		pipelineCommand("C1", "bwa"),
		pipelineCommand("C2", "bwa"),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(cmds))
	for i, cmd := range cmds {
		wg.Add(1)
		go func(i int, cmd *domain.Command) {
			defer wg.Done()
			_, errs[i] = p.Take(context.Background(), cmd, nil)
		}(i, cmd)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("take %d failed: %v", i, err)
		}
	}
	if cmds[0].ExecutorID == cmds[1].ExecutorID {
		t.Fatalf("both commands adopted by %s", cmds[0].ExecutorID)
	}
	if st := p.Stats(); st.Idle != 0 {
		t.Fatalf("idle = %d, want 0", st.Idle)
	}
}

func TestReleaseRefusesStoppedExecutor(t *testing.T) {
	p, _, root := startTestPool(t, poolConfig("small", 1, "bwa"))

	cmd := pipelineCommand("C1", "bwa")
	if _, err := p.Take(context.Background(), cmd, nil); err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	p.mu.Lock()
	pe := p.members[0]
	p.mu.Unlock()
	if err := pe.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The wrapper still reports the exit; the finish callback fires but
	// must not re-admit the stopped reservation.
	writeExit(t, root, pe.hostCommandID, "C1", "0")
	if _, err := cmd.Handle.WaitFor(); err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}
	if st := p.Stats(); st.Idle != 0 {
		t.Fatalf("stopped reservation re-entered idle set (idle=%d)", st.Idle)
	}
}

func TestReleaseRefusesDuplicates(t *testing.T) {
	p, _, _ := startTestPool(t, poolConfig("small", 1, "bwa"))

	p.mu.Lock()
	pe := p.members[0]
	p.mu.Unlock()

	p.Release(pe)
	p.Release(pe)
	if st := p.Stats(); st.Idle != 1 {
		t.Fatalf("idle = %d, want 1 (no duplicates)", st.Idle)
	}
}

func TestShutdownStopsEveryMember(t *testing.T) {
	p, factory, root := startTestPool(t, poolConfig("small", 2, "bwa"))

	p.Shutdown()

	for i, fake := range factory.created {
		if !fake.isStopped() {
			t.Fatalf("member %d not stopped", i)
		}
	}
	entries, _ := os.ReadDir(StateDir(root, "small"))
	for _, e := range entries {
		if allDigits.MatchString(e.Name()) {
			t.Fatalf("descriptor %s survived shutdown", e.Name())
		}
	}

	if _, err := p.Take(context.Background(), pipelineCommand("C1", "bwa"), nil); !errors.Is(err, ErrNoCompatibleExecutor) {
		t.Fatalf("take after shutdown: %v", err)
	}
}

func TestPoolDirectorySingleOwner(t *testing.T) {
	cfg := poolConfig("small", 1, "bwa")
	p, _, root := startTestPool(t, cfg)
	defer p.Shutdown()

	other := NewExecutorPool(cfg, &fakeFactory{}, root, testIntervals())
	err := other.Start(context.Background())
	if !errors.Is(err, ErrPoolDirLocked) {
		t.Fatalf("expected ErrPoolDirLocked, got %v", err)
	}
}

func TestTouchHeartbeats(t *testing.T) {
	p, _, _ := startTestPool(t, poolConfig("small", 1, "bwa"))

	p.mu.Lock()
	pe := p.members[0]
	p.mu.Unlock()

	p.touchHeartbeats()
	if _, err := os.Stat(pe.HeartbeatFile()); err != nil {
		t.Fatalf("heartbeat not created: %v", err)
	}

	// The wrapper consumes the heartbeat; the next tick must reassert it.
	if err := os.Remove(pe.HeartbeatFile()); err != nil {
		t.Fatal(err)
	}
	p.touchHeartbeats()
	if _, err := os.Stat(pe.HeartbeatFile()); err != nil {
		t.Fatalf("heartbeat not recreated: %v", err)
	}
}
