package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Sync.StaleAfter() != 30*time.Minute {
		t.Errorf("stale window: got %v, want 30m", cfg.Sync.StaleAfter())
	}
	if cfg.Sync.PurgeAfter() != 24*time.Hour {
		t.Errorf("purge window: got %v, want 24h", cfg.Sync.PurgeAfter())
	}
	if cfg.Stream.Heartbeat() != 30*time.Second {
		t.Errorf("heartbeat: got %v, want 30s", cfg.Stream.Heartbeat())
	}
	if cfg.Stream.IdleTimeout() != 60*time.Second {
		t.Errorf("idle timeout: got %v, want 60s", cfg.Stream.IdleTimeout())
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
sync:
  staleAfterMinutes: 15
  syncSource: custom
stream:
  heartbeatSeconds: 10
  idleTimeoutSeconds: 20
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sync.StaleAfterMinutes != 15 {
		t.Errorf("staleAfterMinutes: got %d, want 15", cfg.Sync.StaleAfterMinutes)
	}
	if cfg.Sync.SyncSource != "custom" {
		t.Errorf("syncSource: got %s, want custom", cfg.Sync.SyncSource)
	}
	// Untouched values keep their defaults.
	if cfg.Sync.PurgeAfterHours != 24 {
		t.Errorf("purgeAfterHours: got %d, want 24", cfg.Sync.PurgeAfterHours)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DEFITRACK_POSTGRES_DSN", "postgres://env-host:5432/db")
	t.Setenv("DEFITRACK_WORKER_COUNT", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Postgres.DSN != "postgres://env-host:5432/db" {
		t.Errorf("dsn: got %s", cfg.Postgres.DSN)
	}
	if cfg.Sync.WorkerCount != 8 {
		t.Errorf("worker count: got %d, want 8", cfg.Sync.WorkerCount)
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	cfg := Default()
	cfg.Sync.StaleAfterMinutes = 0
	if err := cfg.validate(); err == nil {
		t.Error("zero stale window must fail validation")
	}

	cfg = Default()
	cfg.Stream.IdleTimeoutSeconds = 10
	cfg.Stream.HeartbeatSeconds = 30
	if err := cfg.validate(); err == nil {
		t.Error("idle timeout below heartbeat must fail validation")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("missing config file must error")
	}
}
