// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration, read once at startup.
type Config struct {
	DatabaseURL string
	HTTPAddr    string

	// SessionSecret signs session cookies.
	SessionSecret string

	// OIDCIssuer is shown on the admin servers tab; OIDC sign-in
	// itself is handled upstream of this app.
	OIDCIssuer string

	DBPoolSize         int
	RunnerConcurrency  int
	RunnerPollInterval time.Duration
	SchedulerInterval  time.Duration
	RefreshInterval    time.Duration
	PageSize           int

	// DemoSeed populates the in-memory store with sample data when no
	// database is configured.
	DemoSeed bool
}

// Snapshot is the read-only subset of configuration surfaced on the
// admin servers tab. It is passed into the tab loader explicitly so
// the panel layer never reads ambient process state.
type Snapshot struct {
	DatabaseConfigured bool
	DBPoolSize         int
	OIDCIssuer         string
	RunnerConcurrency  int
	SchedulerInterval  time.Duration
}

// Snapshot returns the servers-tab view of this configuration.
func (c Config) Snapshot() Snapshot {
	return Snapshot{
		DatabaseConfigured: c.DatabaseURL != "",
		DBPoolSize:         c.DBPoolSize,
		OIDCIssuer:         c.OIDCIssuer,
		RunnerConcurrency:  c.RunnerConcurrency,
		SchedulerInterval:  c.SchedulerInterval,
	}
}

// Load reads configuration from the environment. A local .env file is
// loaded first when present; a missing file is fine.
func Load() (Config, error) {
	_ = godotenv.Load()

	poolSize := getenvIntDefault("ATELIER_DB_POOL_SIZE", 10)
	if poolSize < 1 {
		poolSize = 1
	}

	concurrency := getenvIntDefault("ATELIER_RUNNER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	pollSeconds := getenvIntDefault("ATELIER_RUNNER_POLL_SECONDS", 2)
	if pollSeconds < 1 {
		pollSeconds = 1
	}

	schedulerSeconds := getenvIntDefault("ATELIER_SCHEDULER_TICK_SECONDS", 30)
	if schedulerSeconds < 5 {
		schedulerSeconds = 5
	}

	refreshSeconds := getenvIntDefault("ATELIER_REFRESH_SECONDS", 5)
	if refreshSeconds < 1 {
		refreshSeconds = 1
	}

	pageSize := getenvIntDefault("ATELIER_PAGE_SIZE", 25)
	if pageSize < 1 {
		pageSize = 1
	}

	return Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		HTTPAddr:           getenvDefault("ATELIER_HTTP_ADDR", ":8080"),
		SessionSecret:      os.Getenv("ATELIER_SESSION_SECRET"),
		OIDCIssuer:         os.Getenv("ATELIER_OIDC_ISSUER"),
		DBPoolSize:         poolSize,
		RunnerConcurrency:  concurrency,
		RunnerPollInterval: time.Duration(pollSeconds) * time.Second,
		SchedulerInterval:  time.Duration(schedulerSeconds) * time.Second,
		RefreshInterval:    time.Duration(refreshSeconds) * time.Second,
		PageSize:           pageSize,
		DemoSeed:           getenvBool("ATELIER_DEMO_SEED"),
	}, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string) bool {
	v := os.Getenv(key)
	return v == "1" || v == "true" || v == "yes"
}
