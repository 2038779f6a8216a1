package domain

import (
	"testing"
)

func TestNewCommandIDAllDigits(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewCommandID()
		if id == "" {
			t.Fatal("empty command id")
		}
		for _, r := range id {
			if r < '0' || r > '9' {
				t.Fatalf("command id %q contains non-digit %q", id, r)
			}
		}
	}
}

func TestNewCommandIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewCommandID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate command id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestResolvedConfigWalltimeMs(t *testing.T) {
	var nilCfg *ResolvedConfig
	if ms, err := nilCfg.WalltimeMs(); err != nil || ms != 0 {
		t.Fatalf("nil config: got %d, %v", ms, err)
	}

	cfg := &ResolvedConfig{Name: "bwa"}
	if ms, err := cfg.WalltimeMs(); err != nil || ms != 0 {
		t.Fatalf("absent walltime: got %d, %v", ms, err)
	}

	cfg.Walltime = "00:01:00"
	ms, err := cfg.WalltimeMs()
	if err != nil {
		t.Fatalf("WalltimeMs failed: %v", err)
	}
	if ms != 60000 {
		t.Fatalf("WalltimeMs = %d, want 60000", ms)
	}

	cfg.Walltime = "bogus"
	if _, err := cfg.WalltimeMs(); err == nil {
		t.Fatal("bogus walltime should fail")
	}
}

func TestPoolConfigServes(t *testing.T) {
	cfg := &PoolConfig{Name: "small", Configs: []string{"bwa", "samtools"}}
	if !cfg.Serves("bwa") || !cfg.Serves("samtools") {
		t.Fatal("should serve listed configs")
	}
	if cfg.Serves("gatk") {
		t.Fatal("should not serve unlisted config")
	}
}
