package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestResolveFillsDBFileFromDataDir(t *testing.T) {
	cfg := &Config{DataDir: "/tmp/mystore"}
	cfg.Resolve()

	want := filepath.Join("/tmp/mystore", "store.db")
	if cfg.DBFile != want {
		t.Errorf("got DBFile %q, want %q", cfg.DBFile, want)
	}
	if cfg.JournalMode != "WAL" {
		t.Errorf("got JournalMode %q, want WAL", cfg.JournalMode)
	}
}

func TestValidateRejectsBadJournalMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JournalMode = "NOT_A_MODE"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for bad journal_mode")
	}
}

func TestValidateRejectsGuardConcurrencyInversion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Guard.MinConcurrency = 10
	cfg.Guard.MaxConcurrency = 2
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when min_concurrency exceeds max_concurrency")
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "data_dir: /var/lib/docstore\nhttp:\n  addr: \":9999\"\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.DataDir != "/var/lib/docstore" {
		t.Errorf("got DataDir %q, want /var/lib/docstore", cfg.DataDir)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("got HTTP.Addr %q, want :9999", cfg.HTTP.Addr)
	}
	// Fields absent from the file keep DefaultConfig's values.
	if cfg.Advisory.CreateThreshold != 50 {
		t.Errorf("got CreateThreshold %d, want default 50", cfg.Advisory.CreateThreshold)
	}
}

func TestLoadFromEnvOverridesGuardInterval(t *testing.T) {
	cfg := DefaultConfig()
	t.Setenv("DOCSTORE_GUARD_CHECK_INTERVAL", "45s")
	t.Setenv("DOCSTORE_GUARD_ENABLED", "1")

	LoadFromEnv(cfg)

	if cfg.Guard.CheckInterval != 45*time.Second {
		t.Errorf("got CheckInterval %v, want 45s", cfg.Guard.CheckInterval)
	}
	if !cfg.Guard.Enabled {
		t.Error("expected Guard.Enabled to be true")
	}
}
