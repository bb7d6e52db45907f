// Package testutil provides database helpers for integration tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDB wraps a PostgreSQL connection pool for testing.
type TestDB struct {
	Pool *pgxpool.Pool
}

// NewTestDB connects using the DATABASE_URL env var and skips the test
// when it is not set, so integration tests stay out of plain unit runs.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping database: %v", err)
	}
	return &TestDB{Pool: pool}
}

// Close closes the database connection.
func (db *TestDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// CleanTables truncates all tables for test isolation. Order does not
// matter because of CASCADE.
func (db *TestDB) CleanTables(ctx context.Context) error {
	tables := []string{
		"atelier_usage_events",
		"atelier_chat_messages",
		"atelier_chat_sessions",
		"atelier_runs",
		"atelier_schedules",
		"atelier_documents",
		"atelier_sources",
		"atelier_agents",
		"atelier_teams",
		"atelier_models",
		"atelier_providers",
		"atelier_tool_servers",
		"atelier_group_members",
		"atelier_groups",
		"atelier_invitations",
		"atelier_users",
	}
	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", table, err)
		}
	}
	return nil
}
