package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// scriptedLLM returns canned completions in order.
type scriptedLLM struct {
	completions []*Completion
	calls       int
}

func (s *scriptedLLM) Complete(ctx context.Context, p CompleteParams) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.calls >= len(s.completions) {
		return &Completion{Text: "done", InputTokens: 1, OutputTokens: 1}, nil
	}
	c := s.completions[s.calls]
	s.calls++
	return c, nil
}

func seedAgentRun(t *testing.T, st *store.MemoryStore) (*store.Agent, *store.Run) {
	t.Helper()
	ctx := context.Background()
	provider, err := st.CreateProvider(ctx, &store.Provider{Name: "main", Kind: store.ProviderAnthropic, APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	model, err := st.CreateModel(ctx, &store.Model{Name: "fast", UpstreamID: "claude-test", ProviderID: provider.ID})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	agent, err := st.CreateAgent(ctx, &store.Agent{Name: "solo", ModelID: model.ID})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	run, err := st.CreateRun(ctx, &store.Run{AgentID: &agent.ID, UserID: uuid.New(), Prompt: "hi", State: store.RunPending})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return agent, run
}

func TestExecuteAgentFinishesRunAndRecordsUsage(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, run := seedAgentRun(t, st)

	llm := &scriptedLLM{completions: []*Completion{
		{Text: "the answer", InputTokens: 120, OutputTokens: 30, CachedTokens: 40},
	}}
	r := New(st, nil, Options{LLM: llm, Concurrency: 1})

	claimed, err := st.ClaimPendingRuns(ctx, "test", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d runs)", err, len(claimed))
	}
	r.executeClaimed(ctx, claimed[0])

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != store.RunDone {
		t.Fatalf("state = %q, want done (error %q)", got.State, got.Error)
	}
	if got.Output != "the answer" {
		t.Errorf("output = %q", got.Output)
	}
	if got.InputTokens != 120 || got.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 120/30", got.InputTokens, got.OutputTokens)
	}

	totals, err := st.UsageTotals(ctx, time.Time{})
	if err != nil {
		t.Fatalf("UsageTotals: %v", err)
	}
	if totals.Requests != 1 || totals.InputTokens != 120 || totals.CachedTokens != 40 {
		t.Errorf("usage totals = %+v", totals)
	}
}

func TestExecuteAttributesUsageToUserGroup(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	user, err := st.CreateUser(ctx, &store.User{Email: "member@example.com", Name: "Member"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	group, err := st.CreateGroup(ctx, &store.Group{Name: "research"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := st.AddGroupMember(ctx, group.ID, user.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	provider, _ := st.CreateProvider(ctx, &store.Provider{Name: "main", Kind: store.ProviderAnthropic, APIKey: "sk-test"})
	model, _ := st.CreateModel(ctx, &store.Model{Name: "fast", UpstreamID: "m", ProviderID: provider.ID})
	agent, _ := st.CreateAgent(ctx, &store.Agent{Name: "solo", ModelID: model.ID})
	if _, err := st.CreateRun(ctx, &store.Run{AgentID: &agent.ID, UserID: user.ID, Prompt: "hi", State: store.RunPending}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	llm := &scriptedLLM{completions: []*Completion{
		{Text: "ok", InputTokens: 60, OutputTokens: 15},
	}}
	r := New(st, nil, Options{LLM: llm})

	claimed, err := st.ClaimPendingRuns(ctx, "test", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v", err)
	}
	r.executeClaimed(ctx, claimed[0])

	rollups, err := st.UsageByGroup(ctx, time.Time{})
	if err != nil {
		t.Fatalf("UsageByGroup: %v", err)
	}
	if len(rollups) != 1 || rollups[0].Key != group.ID {
		t.Fatalf("group rollups = %+v, want one for %s", rollups, group.ID)
	}
	if rollups[0].InputTokens != 60 || rollups[0].OutputTokens != 15 {
		t.Errorf("group tokens = %d/%d, want 60/15", rollups[0].InputTokens, rollups[0].OutputTokens)
	}
}

func TestExecuteToolLoop(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemoryStore()
	agent, run := seedAgentRun(t, memory)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"results":["go is a language"]}`))
	}))
	defer srv.Close()

	ts, err := memory.CreateToolServer(ctx, &store.ToolServer{Name: "lookup", Kind: "http", URL: srv.URL})
	if err != nil {
		t.Fatalf("create tool server: %v", err)
	}
	agent.ToolServers = []store.Ref{store.PersistedRef(ts.ID)}
	if _, err := memory.UpdateAgent(ctx, agent); err != nil {
		t.Fatalf("update agent: %v", err)
	}

	llm := &scriptedLLM{completions: []*Completion{
		{
			ToolUses:     []ToolUse{{ID: "tu_1", Name: "lookup", Input: json.RawMessage(`{"input":"what is go"}`)}},
			InputTokens:  50,
			OutputTokens: 10,
		},
		{Text: "go is a language", InputTokens: 80, OutputTokens: 20},
	}}
	r := New(memory, nil, Options{LLM: llm})

	claimed, err := memory.ClaimPendingRuns(ctx, "test", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v", err)
	}
	r.executeClaimed(ctx, claimed[0])

	got, err := memory.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != store.RunDone {
		t.Fatalf("state = %q (error %q)", got.State, got.Error)
	}
	if got.Output != "go is a language" {
		t.Errorf("output = %q", got.Output)
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want 2", llm.calls)
	}
	if got.InputTokens != 130 {
		t.Errorf("input tokens = %d, want 130", got.InputTokens)
	}
}

func TestExecuteTeamPipeline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	provider, _ := st.CreateProvider(ctx, &store.Provider{Name: "main", Kind: store.ProviderAnthropic, APIKey: "k"})
	model, _ := st.CreateModel(ctx, &store.Model{Name: "fast", UpstreamID: "m", ProviderID: provider.ID})
	first, _ := st.CreateAgent(ctx, &store.Agent{Name: "researcher", ModelID: model.ID})
	second, _ := st.CreateAgent(ctx, &store.Agent{Name: "writer", ModelID: model.ID})
	team, err := st.CreateTeam(ctx, &store.Team{Name: "duo", AgentIDs: []uuid.UUID{first.ID, second.ID}})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	run, err := st.CreateRun(ctx, &store.Run{TeamID: &team.ID, UserID: uuid.New(), Prompt: "topic", State: store.RunPending})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	llm := &scriptedLLM{completions: []*Completion{
		{Text: "notes", InputTokens: 10, OutputTokens: 5},
		{Text: "final article", InputTokens: 20, OutputTokens: 15},
	}}
	r := New(st, nil, Options{LLM: llm})

	claimed, _ := st.ClaimPendingRuns(ctx, "test", 1)
	r.executeClaimed(ctx, claimed[0])

	got, _ := st.GetRun(ctx, run.ID)
	if got.State != store.RunDone {
		t.Fatalf("state = %q (error %q)", got.State, got.Error)
	}
	if got.Output != "final article" {
		t.Errorf("output = %q, want final agent's output", got.Output)
	}
	if got.InputTokens != 30 || got.OutputTokens != 20 {
		t.Errorf("tokens = %d/%d, want summed 30/20", got.InputTokens, got.OutputTokens)
	}
	if llm.calls != 2 {
		t.Errorf("llm calls = %d, want one per team member", llm.calls)
	}
}

func TestCancelledRunKeepsCancelledState(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_, run := seedAgentRun(t, st)

	claimed, err := st.ClaimPendingRuns(ctx, "test", 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v", err)
	}

	// Cancel the stored run before execution observes it, the way a
	// cancel request racing the runner would.
	blocking := &blockingLLM{started: make(chan struct{}), release: make(chan struct{})}
	r := New(st, nil, Options{LLM: blocking})

	done := make(chan struct{})
	go func() {
		r.executeClaimed(ctx, claimed[0])
		close(done)
	}()

	<-blocking.started
	if err := st.CancelRun(ctx, run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}
	if !r.Handles().Cancel(run.ID) {
		t.Fatal("run handle not registered")
	}
	close(blocking.release)
	<-done

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.State != store.RunCancelled {
		t.Errorf("state = %q, want cancelled", got.State)
	}
}

// blockingLLM blocks in Complete until released, then reports the
// context error.
type blockingLLM struct {
	startOnce sync.Once
	started   chan struct{}
	release   chan struct{}
}

func (b *blockingLLM) Complete(ctx context.Context, p CompleteParams) (*Completion, error) {
	b.signalStarted()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Completion{Text: "late"}, nil
	}
}

func (b *blockingLLM) signalStarted() {
	b.startOnce.Do(func() { close(b.started) })
}

func TestHandlesRegistry(t *testing.T) {
	h := NewHandles()
	id := uuid.New()
	ctx := h.Register(context.Background(), id)
	if h.Active() != 1 {
		t.Fatalf("active = %d, want 1", h.Active())
	}
	if !h.Cancel(id) {
		t.Fatal("Cancel returned false for registered run")
	}
	<-ctx.Done()
	h.Release(id)
	if h.Active() != 0 {
		t.Errorf("active = %d after release", h.Active())
	}
	if h.Cancel(id) {
		t.Error("Cancel returned true for released run")
	}
}
