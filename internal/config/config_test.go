package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "pulsar.yaml", `
state_dir: /tmp/pipeline/.bpipe
daemon:
  http_addr: ":9000"
  log_level: debug
preallocate:
  small:
    configs: bwa
    jobs: 2
  batch:
    name: heavy
    configs: [gatk, samtools]
    jobs: 4
    persist: true
    walltime: "08:00:00"
    debugPooledExecutor: true
    queue: highmem
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StateDir != "/tmp/pipeline/.bpipe" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
	if cfg.Daemon.HTTPAddr != ":9000" {
		t.Fatalf("http addr = %q", cfg.Daemon.HTTPAddr)
	}

	small := cfg.Preallocate["small"].ToPoolConfig("small")
	if small.Name != "small" {
		t.Fatalf("name = %q", small.Name)
	}
	if len(small.Configs) != 1 || small.Configs[0] != "bwa" {
		t.Fatalf("configs = %v; a single string must become a one-element list", small.Configs)
	}
	if small.Jobs != 2 || small.Persist || small.Debug {
		t.Fatalf("unexpected small pool: %+v", small)
	}

	heavy := cfg.Preallocate["batch"].ToPoolConfig("batch")
	if heavy.Name != "heavy" {
		t.Fatalf("explicit name not honored: %q", heavy.Name)
	}
	if len(heavy.Configs) != 2 {
		t.Fatalf("configs = %v", heavy.Configs)
	}
	if !heavy.Persist || !heavy.Debug || heavy.Jobs != 4 {
		t.Fatalf("unexpected heavy pool: %+v", heavy)
	}
	if heavy.Walltime != "08:00:00" {
		t.Fatalf("walltime = %q", heavy.Walltime)
	}
	if heavy.Extra["queue"] != "highmem" {
		t.Fatalf("extra key not passed through: %v", heavy.Extra)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "pulsar.json", `{
  "preallocate": {
    "small": {"configs": ["bwa"], "jobs": 1}
  }
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	pc := cfg.Preallocate["small"].ToPoolConfig("small")
	if pc.Jobs != 1 || len(pc.Configs) != 1 || pc.Configs[0] != "bwa" {
		t.Fatalf("unexpected pool: %+v", pc)
	}
}

func TestDefaultsWhenSectionEmpty(t *testing.T) {
	path := writeFile(t, "pulsar.yaml", "preallocate:\n  align: {}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	pc := cfg.Preallocate["align"].ToPoolConfig("align")
	if pc.Name != "align" {
		t.Fatalf("name should default to section key, got %q", pc.Name)
	}
	if len(pc.Configs) != 1 || pc.Configs[0] != "align" {
		t.Fatalf("configs should default to [name], got %v", pc.Configs)
	}
	if pc.Jobs != 1 {
		t.Fatalf("jobs should default to 1, got %d", pc.Jobs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PULSAR_STATE_DIR", "/elsewhere/.bpipe")
	t.Setenv("PULSAR_LOG_LEVEL", "debug")
	t.Setenv("PULSAR_HEARTBEAT_INTERVAL_S", "30")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.StateDir != "/elsewhere/.bpipe" {
		t.Fatalf("state dir override ignored: %q", cfg.StateDir)
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Fatalf("log level override ignored: %q", cfg.Daemon.LogLevel)
	}
	if got := cfg.Protocol.Intervals().Heartbeat; got != 30*time.Second {
		t.Fatalf("heartbeat override ignored: %v", got)
	}
}

func TestNegativeJobsRejected(t *testing.T) {
	path := writeFile(t, "pulsar.yaml", "preallocate:\n  bad:\n    jobs: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("negative jobs should fail validation")
	}
}

func TestWalltimeAsBareSeconds(t *testing.T) {
	path := writeFile(t, "pulsar.yaml", "preallocate:\n  quick:\n    walltime: 90\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.Preallocate["quick"].Walltime; got != "90" {
		t.Fatalf("walltime = %q, want seconds string", got)
	}
}

func TestProtocolIntervalDefaults(t *testing.T) {
	iv := ProtocolConfig{}.Intervals()
	if iv.ExitPoll != time.Second || iv.Heartbeat != 10*time.Second || iv.HeartbeatMisses != 3 {
		t.Fatalf("unexpected defaults: %+v", iv)
	}

	iv = ProtocolConfig{ExitPollMs: 250, HeartbeatIntervalS: 5}.Intervals()
	if iv.ExitPoll != 250*time.Millisecond || iv.Heartbeat != 5*time.Second {
		t.Fatalf("configured values ignored: %+v", iv)
	}
}
