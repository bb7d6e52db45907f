// Package scheduler turns enabled schedules into pending runs when
// their cron expressions come due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tessellate-ai/atelier/internal/store"
)

// cronParser accepts standard five-field cron expressions plus the
// @every and @hourly style descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NextFire returns when expr next fires after the given time.
func NextFire(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(after), nil
}

// ValidateExpr reports whether expr is a parseable cron expression.
func ValidateExpr(expr string) error {
	_, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Trigger is notified after new runs are created so the runner can
// poll immediately instead of waiting out its interval.
type Trigger interface {
	Trigger()
}

// Scheduler scans schedules on a fixed interval.
type Scheduler struct {
	store    store.Store
	log      *slog.Logger
	interval time.Duration
	trigger  Trigger
	now      func() time.Time
}

// New creates a Scheduler. trigger may be nil.
func New(st store.Store, log *slog.Logger, interval time.Duration, trigger Trigger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{store: st, log: log, interval: interval, trigger: trigger, now: time.Now}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every enabled schedule whose next fire time has passed.
// Each firing creates one pending run and advances the schedule.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.log.Error("list schedules", "error", err)
		return
	}

	fired := false
	for _, sched := range schedules {
		if !sched.Enabled || sched.NextFireAt.After(now) {
			continue
		}
		if err := s.fire(ctx, sched, now); err != nil {
			s.log.Error("fire schedule", "schedule_id", sched.ID, "error", err)
			continue
		}
		fired = true
	}
	if fired && s.trigger != nil {
		s.trigger.Trigger()
	}
}

func (s *Scheduler) fire(ctx context.Context, sched *store.Schedule, now time.Time) error {
	next, err := NextFire(sched.CronExpr, now)
	if err != nil {
		return err
	}

	run, err := s.store.CreateRun(ctx, &store.Run{
		AgentID:    sched.AgentID,
		TeamID:     sched.TeamID,
		ScheduleID: &sched.ID,
		Prompt:     sched.Prompt,
		State:      store.RunPending,
	})
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	if err := s.store.MarkScheduleFired(ctx, sched.ID, now, next); err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}

	s.log.Info("schedule fired", "schedule_id", sched.ID, "run_id", run.ID, "next_fire_at", next)
	return nil
}
