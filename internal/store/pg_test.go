package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tessellate-ai/atelier/internal/store"
	"github.com/tessellate-ai/atelier/internal/testutil"
)

// newPGStore connects, migrates and truncates. Skips without
// DATABASE_URL.
func newPGStore(t *testing.T) *store.PGStore {
	t.Helper()
	db := testutil.NewTestDB(t)
	t.Cleanup(db.Close)

	ctx := context.Background()
	st := store.NewPGStore(db.Pool)
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.CleanTables(ctx); err != nil {
		t.Fatalf("clean tables: %v", err)
	}
	return st
}

func TestPGUserRoundTrip(t *testing.T) {
	st := newPGStore(t)
	ctx := context.Background()

	created, err := st.CreateUser(ctx, &store.User{Email: "pg@example.com", Name: "PG", IsAdmin: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := st.GetUser(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Email != "pg@example.com" || !got.IsAdmin {
		t.Fatalf("got %+v", got)
	}

	if _, err := st.CreateUser(ctx, &store.User{Email: "PG@example.com", Name: "Dup"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate err = %v, want ErrConflict", err)
	}
}

func TestPGRunClaimIsExclusive(t *testing.T) {
	st := newPGStore(t)
	ctx := context.Background()

	u, err := st.CreateUser(ctx, &store.User{Email: "runner@example.com", Name: "Runner"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	p, err := st.CreateProvider(ctx, &store.Provider{
		OwnerID: u.ID, Name: "anthropic", Kind: store.ProviderAnthropic,
		APIKey: "sk-test", InstanceWide: true, Active: true,
	})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	m, err := st.CreateModel(ctx, &store.Model{
		ProviderID: p.ID, OwnerID: u.ID, Name: "haiku", UpstreamID: "claude-haiku",
		InstanceWide: true, Active: true,
	})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	agent, err := st.CreateAgent(ctx, &store.Agent{OwnerID: u.ID, Name: "worker", ModelID: m.ID})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	run, err := st.CreateRun(ctx, &store.Run{AgentID: &agent.ID, UserID: u.ID, Prompt: "claim me"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	first, err := st.ClaimPendingRuns(ctx, "worker-a", 5)
	if err != nil || len(first) != 1 {
		t.Fatalf("first claim = %v, err = %v", first, err)
	}
	second, err := st.ClaimPendingRuns(ctx, "worker-b", 5)
	if err != nil || len(second) != 0 {
		t.Fatalf("second claim = %v, err = %v", second, err)
	}

	if err := st.FinishRun(ctx, run.ID, store.RunDone, "out", "", store.UsageTotals{InputTokens: 1}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := st.FinishRun(ctx, run.ID, store.RunFailed, "", "late", store.UsageTotals{}); !errors.Is(err, store.ErrRunFinalized) {
		t.Fatalf("double finish err = %v, want ErrRunFinalized", err)
	}
}
