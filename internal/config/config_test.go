package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.RunnerConcurrency != 4 {
		t.Errorf("RunnerConcurrency = %d, want 4", cfg.RunnerConcurrency)
	}
	if cfg.RunnerPollInterval != 2*time.Second {
		t.Errorf("RunnerPollInterval = %v, want 2s", cfg.RunnerPollInterval)
	}
}

func TestLoadClampsValues(t *testing.T) {
	t.Setenv("ATELIER_DB_POOL_SIZE", "-3")
	t.Setenv("ATELIER_SCHEDULER_TICK_SECONDS", "1")
	t.Setenv("ATELIER_PAGE_SIZE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPoolSize != 1 {
		t.Errorf("DBPoolSize = %d, want clamped to 1", cfg.DBPoolSize)
	}
	if cfg.SchedulerInterval != 5*time.Second {
		t.Errorf("SchedulerInterval = %v, want clamped to 5s", cfg.SchedulerInterval)
	}
	if cfg.PageSize != 1 {
		t.Errorf("PageSize = %d, want clamped to 1", cfg.PageSize)
	}
}

func TestLoadIgnoresGarbageInts(t *testing.T) {
	t.Setenv("ATELIER_RUNNER_CONCURRENCY", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RunnerConcurrency != 4 {
		t.Errorf("RunnerConcurrency = %d, want default 4", cfg.RunnerConcurrency)
	}
}

func TestSnapshot(t *testing.T) {
	cfg := Config{
		DatabaseURL:       "postgres://localhost/atelier",
		DBPoolSize:        8,
		OIDCIssuer:        "https://id.example.com",
		RunnerConcurrency: 2,
		SchedulerInterval: 30 * time.Second,
	}
	snap := cfg.Snapshot()
	if !snap.DatabaseConfigured {
		t.Error("DatabaseConfigured = false, want true")
	}
	if snap.DBPoolSize != 8 || snap.RunnerConcurrency != 2 {
		t.Errorf("snapshot did not carry pool/concurrency: %+v", snap)
	}
	if snap.OIDCIssuer != "https://id.example.com" {
		t.Errorf("OIDCIssuer = %q", snap.OIDCIssuer)
	}
}
