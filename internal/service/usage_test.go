package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return New(st, nil, nil), st
}

func TestParsePeriod(t *testing.T) {
	if got := ParsePeriod("7d"); got != Period7d {
		t.Errorf("ParsePeriod(7d) = %q", got)
	}
	if got := ParsePeriod("bogus"); got != Period30d {
		t.Errorf("ParsePeriod(bogus) = %q, want 30d default", got)
	}
	if got := ParsePeriod("all"); got != PeriodAll {
		t.Errorf("ParsePeriod(all) = %q", got)
	}
}

func TestPeriodSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	if got := Period7d.Since(now); !got.Equal(now.AddDate(0, 0, -7)) {
		t.Errorf("7d since = %v", got)
	}
	if got := PeriodAll.Since(now); !got.IsZero() {
		t.Errorf("all since = %v, want zero", got)
	}
}

func TestUsageDeletedUserLabelsUnknown(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	u, err := st.CreateUser(ctx, &store.User{Email: "gone@example.com", Name: "Gone"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.RecordUsage(ctx, &store.UsageEvent{
		UserID:       u.ID,
		ModelID:      uuid.New(),
		InputTokens:  100,
		OutputTokens: 50,
		Day:          time.Now().UTC().Truncate(24 * time.Hour),
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if err := st.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	snap, err := svc.Usage(ctx, PeriodAll, time.Now())
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if len(snap.Users) != 1 {
		t.Fatalf("got %d user rows, want 1", len(snap.Users))
	}
	if snap.Users[0].Label != "Unknown" {
		t.Errorf("deleted user label = %q, want Unknown", snap.Users[0].Label)
	}
	if snap.Users[0].TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", snap.Users[0].TotalTokens)
	}
}

func TestUsageZeroUsageGroupsIncluded(t *testing.T) {
	ctx := context.Background()
	svc, st := newTestService(t)

	busy, err := st.CreateGroup(ctx, &store.Group{Name: "busy"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := st.CreateGroup(ctx, &store.Group{Name: "idle"}); err != nil {
		t.Fatalf("create group: %v", err)
	}

	u, err := st.CreateUser(ctx, &store.User{Email: "a@example.com", Name: "A"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := st.RecordUsage(ctx, &store.UsageEvent{
		UserID:       u.ID,
		ModelID:      uuid.New(),
		GroupID:      &busy.ID,
		InputTokens:  400,
		OutputTokens: 100,
		Day:          time.Now().UTC().Truncate(24 * time.Hour),
	}); err != nil {
		t.Fatalf("record usage: %v", err)
	}

	snap, err := svc.Usage(ctx, PeriodAll, time.Now())
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if len(snap.Groups) != 2 {
		t.Fatalf("got %d group rows, want 2", len(snap.Groups))
	}
	if snap.Groups[0].Label != "busy" || snap.Groups[0].TotalTokens != 500 {
		t.Errorf("first group = %q/%d, want busy/500", snap.Groups[0].Label, snap.Groups[0].TotalTokens)
	}
	if snap.Groups[1].Label != "idle" || snap.Groups[1].TotalTokens != 0 {
		t.Errorf("second group = %q/%d, want idle/0", snap.Groups[1].Label, snap.Groups[1].TotalTokens)
	}
	if snap.Groups[0].SharePct != 100 || snap.Groups[1].SharePct != 0 {
		t.Errorf("shares = %d/%d, want 100/0", snap.Groups[0].SharePct, snap.Groups[1].SharePct)
	}
}

func TestCacheHitFormatting(t *testing.T) {
	if got := cacheHit(0, 0); got != "—" {
		t.Errorf("cacheHit(0,0) = %q", got)
	}
	if got := cacheHit(25, 100); got != "25.0%" {
		t.Errorf("cacheHit(25,100) = %q", got)
	}
	if got := cacheHit(1, 3); got != "33.3%" {
		t.Errorf("cacheHit(1,3) = %q", got)
	}
}

func TestFillSharesRoundsToNearestPercent(t *testing.T) {
	rows := []UsageRow{{TotalTokens: 2}, {TotalTokens: 1}}
	fillShares(rows)
	if rows[0].SharePct != 67 || rows[1].SharePct != 33 {
		t.Errorf("shares = %d/%d, want 67/33", rows[0].SharePct, rows[1].SharePct)
	}

	rows = []UsageRow{{TotalTokens: 999}, {TotalTokens: 1}}
	fillShares(rows)
	if rows[0].SharePct != 100 || rows[1].SharePct != 0 {
		t.Errorf("shares = %d/%d, want 100/0", rows[0].SharePct, rows[1].SharePct)
	}
}

func TestFillSharesZeroSum(t *testing.T) {
	rows := []UsageRow{{Label: "a"}, {Label: "b"}}
	fillShares(rows)
	if rows[0].SharePct != 0 || rows[1].SharePct != 0 {
		t.Errorf("zero-sum shares = %d/%d, want 0/0", rows[0].SharePct, rows[1].SharePct)
	}
}
