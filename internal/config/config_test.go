package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChunkSize != 5000 || cfg.SyncBatchSize != 1000 || cfg.PollBaseDelay != 15*time.Second {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adbatch.yaml")
	content := `
base_url: https://ads.example.com
oplog_dsn: postgres://localhost/adbatch
workers: 8
poll_base_delay: 30s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://ads.example.com" || cfg.Workers != 8 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.PollBaseDelay != 30*time.Second {
		t.Fatalf("poll base delay = %s, want 30s", cfg.PollBaseDelay)
	}
	// Untouched keys keep their defaults.
	if cfg.ChunkSize != 5000 {
		t.Fatalf("chunk size = %d, want default 5000", cfg.ChunkSize)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adbatch.yaml")
	if err := os.WriteFile(path, []byte("workers: 8\nbase_url: https://file.example.com\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ADBATCH_WORKERS", "2")
	t.Setenv("ADBATCH_BASE_URL", "https://env.example.com")
	t.Setenv("ADBATCH_HTTP_TIMEOUT", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 2 || cfg.BaseURL != "https://env.example.com" {
		t.Fatalf("cfg = %+v, want env overrides", cfg)
	}
	if cfg.HTTPTimeout != 90*time.Second {
		t.Fatalf("timeout = %s, want 90s", cfg.HTTPTimeout)
	}
}

func TestLoadBadYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adbatch.yaml")
	if err := os.WriteFile(path, []byte("workers: [not a number"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("ADBATCH_WORKERS", "lots")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workers != 4 {
		t.Fatalf("workers = %d, want default 4", cfg.Workers)
	}
}
