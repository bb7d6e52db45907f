package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

type countingTrigger struct{ n int }

func (c *countingTrigger) Trigger() { c.n++ }

func seedSchedule(t *testing.T, st *store.MemoryStore, enabled bool, nextFire time.Time) *store.Schedule {
	t.Helper()
	ctx := context.Background()
	agent, err := st.CreateAgent(ctx, &store.Agent{Name: "reporter", ModelID: uuid.New()})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	sched, err := st.CreateSchedule(ctx, &store.Schedule{
		Name:       "daily digest",
		CronExpr:   "0 9 * * *",
		AgentID:    &agent.ID,
		Prompt:     "write the digest",
		Enabled:    enabled,
		NextFireAt: nextFire,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return sched
}

func TestNextFire(t *testing.T) {
	after := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	next, err := NextFire("0 9 * * *", after)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	if _, err := NextFire("not a cron", after); err == nil {
		t.Error("expected error for bad expression")
	}
}

func TestValidateExpr(t *testing.T) {
	if err := ValidateExpr("*/5 * * * *"); err != nil {
		t.Errorf("ValidateExpr: %v", err)
	}
	if err := ValidateExpr("@hourly"); err != nil {
		t.Errorf("ValidateExpr(@hourly): %v", err)
	}
	if err := ValidateExpr("61 * * * *"); err == nil {
		t.Error("expected error for out-of-range minute")
	}
}

func TestTickFiresDueSchedules(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2025, 6, 1, 9, 0, 30, 0, time.UTC)

	due := seedSchedule(t, st, true, now.Add(-time.Minute))
	notDue := seedSchedule(t, st, true, now.Add(time.Hour))
	disabled := seedSchedule(t, st, false, now.Add(-time.Minute))

	trigger := &countingTrigger{}
	s := New(st, nil, time.Minute, trigger)
	s.now = func() time.Time { return now }

	s.Tick(ctx)

	runs, _, err := st.ListRuns(ctx, store.ListRunsParams{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].ScheduleID == nil || *runs[0].ScheduleID != due.ID {
		t.Errorf("run schedule = %v, want %v", runs[0].ScheduleID, due.ID)
	}
	if runs[0].Prompt != "write the digest" {
		t.Errorf("run prompt = %q", runs[0].Prompt)
	}
	if trigger.n != 1 {
		t.Errorf("trigger fired %d times, want 1", trigger.n)
	}

	got, err := st.GetSchedule(ctx, due.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.LastFiredAt == nil || !got.LastFiredAt.Equal(now) {
		t.Errorf("LastFiredAt = %v, want %v", got.LastFiredAt, now)
	}
	if !got.NextFireAt.After(now) {
		t.Errorf("NextFireAt = %v, want after %v", got.NextFireAt, now)
	}

	for _, id := range []uuid.UUID{notDue.ID, disabled.ID} {
		s, err := st.GetSchedule(ctx, id)
		if err != nil {
			t.Fatalf("GetSchedule: %v", err)
		}
		if s.LastFiredAt != nil {
			t.Errorf("schedule %v fired but should not have", id)
		}
	}
}

func TestTickIsIdempotentBetweenFireTimes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	now := time.Date(2025, 6, 1, 9, 0, 30, 0, time.UTC)
	seedSchedule(t, st, true, now.Add(-time.Minute))

	s := New(st, nil, time.Minute, nil)
	s.now = func() time.Time { return now }

	s.Tick(ctx)
	s.Tick(ctx)

	runs, _, err := st.ListRuns(ctx, store.ListRunsParams{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs after double tick, want 1", len(runs))
	}
}
