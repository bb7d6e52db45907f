// Package runner executes queued runs: it claims pending runs from the
// store, drives the model and tool loop for each, and records results
// and token usage.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// Runner polls for pending runs and executes them with bounded
// concurrency. Cancel requests are delivered through the Handles
// registry.
type Runner struct {
	store        store.Store
	log          *slog.Logger
	llm          LLM
	handles      *Handles
	claimant     string
	concurrency  int
	pollInterval time.Duration
	triggerCh    chan struct{}
}

// Options configures a Runner. Zero values fall back to sane defaults.
type Options struct {
	LLM          LLM
	Claimant     string
	Concurrency  int
	PollInterval time.Duration
}

// New creates a Runner over the store.
func New(st store.Store, log *slog.Logger, opts Options) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if opts.LLM == nil {
		opts.LLM = &anthropicLLM{}
	}
	if opts.Claimant == "" {
		host, _ := os.Hostname()
		opts.Claimant = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Runner{
		store:        st,
		log:          log,
		llm:          opts.LLM,
		handles:      NewHandles(),
		claimant:     opts.Claimant,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
		triggerCh:    make(chan struct{}, 1),
	}
}

// Handles exposes the cancel registry for wiring into the service.
func (r *Runner) Handles() *Handles {
	return r.handles
}

// Trigger nudges the runner to poll immediately. Non-blocking.
func (r *Runner) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled, then waits for in-flight runs.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-r.triggerCh:
			r.processRuns(ctx, &wg)
		case <-ticker.C:
			r.processRuns(ctx, &wg)
		}
	}
}

func (r *Runner) processRuns(ctx context.Context, wg *sync.WaitGroup) {
	slots := r.concurrency - r.handles.Active()
	if slots < 1 {
		return
	}
	runs, err := r.store.ClaimPendingRuns(ctx, r.claimant, slots)
	if err != nil {
		r.log.Error("claim runs", "error", err)
		return
	}
	for _, run := range runs {
		run := run
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.executeClaimed(ctx, run)
		}()
	}
}

func (r *Runner) executeClaimed(ctx context.Context, run *store.Run) {
	runCtx := r.handles.Register(ctx, run.ID)
	defer r.handles.Release(run.ID)

	r.log.Info("run started", "run_id", run.ID, "claimed_by", r.claimant)

	result, err := r.execute(runCtx, run)
	switch {
	case err == nil:
		r.finish(ctx, run, store.RunDone, result, "")
	case errors.Is(err, context.Canceled) && ctx.Err() == nil:
		// The run's own context was cancelled: a cancel request. The
		// state row was already flipped; just log it.
		r.log.Info("run cancelled mid-flight", "run_id", run.ID)
	default:
		r.log.Error("run failed", "run_id", run.ID, "error", err)
		r.finish(ctx, run, store.RunFailed, result, err.Error())
	}
}

func (r *Runner) finish(ctx context.Context, run *store.Run, state store.RunState, result *executionResult, errMsg string) {
	if result == nil {
		result = &executionResult{}
	}
	err := r.store.FinishRun(ctx, run.ID, state, result.Output, errMsg, result.Usage)
	if errors.Is(err, store.ErrRunFinalized) {
		// Lost the race against a cancel. Nothing to record.
		return
	}
	if err != nil {
		r.log.Error("finish run", "run_id", run.ID, "error", err)
		return
	}
	if run.SessionID != nil && state == store.RunDone {
		if _, err := r.store.CreateChatMessage(ctx, &store.ChatMessage{
			SessionID: *run.SessionID,
			RunID:     &run.ID,
			Role:      "assistant",
			Body:      result.Output,
			ToolCalls: result.ToolCalls,
		}); err != nil {
			r.log.Error("record chat message", "run_id", run.ID, "error", err)
		}
	}
	r.log.Info("run finished", "run_id", run.ID, "state", state,
		"input_tokens", result.Usage.InputTokens, "output_tokens", result.Usage.OutputTokens)
}
