package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func seedRegistry(t *testing.T, s *MemoryStore) (*User, *Provider, *Model) {
	t.Helper()
	ctx := context.Background()
	u, err := s.CreateUser(ctx, &User{Email: "owner@example.com", Name: "Owner", IsAdmin: true})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	p, err := s.CreateProvider(ctx, &Provider{
		OwnerID: u.ID, Name: "anthropic", Kind: ProviderAnthropic,
		APIKey: "sk-test", InstanceWide: true, Active: true,
	})
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	m, err := s.CreateModel(ctx, &Model{
		ProviderID: p.ID, OwnerID: u.ID, Name: "haiku", UpstreamID: "claude-haiku",
		InstanceWide: true, Active: true,
	})
	if err != nil {
		t.Fatalf("create model: %v", err)
	}
	return u, p, m
}

func TestCreateUserDuplicateEmailConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.CreateUser(ctx, &User{Email: "a@example.com", Name: "A"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateUser(ctx, &User{Email: "A@Example.COM", Name: "Shadow"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateUser(context.Background(), &User{Email: "not-an-email", Name: ""})
	ve, ok := IsValidation(err)
	if !ok {
		t.Fatalf("err = %v, want validation error", err)
	}
	if ve.Fields["email"] == "" || ve.Fields["name"] == "" {
		t.Fatalf("fields = %v, want email and name errors", ve.Fields)
	}
}

func TestDeleteProviderWithModelsConflicts(t *testing.T) {
	s := NewMemoryStore()
	_, p, m := seedRegistry(t, s)
	ctx := context.Background()

	if err := s.DeleteProvider(ctx, p.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict while a model references it", err)
	}
	if err := s.DeleteModel(ctx, m.ID); err != nil {
		t.Fatalf("delete model: %v", err)
	}
	if err := s.DeleteProvider(ctx, p.ID); err != nil {
		t.Fatalf("delete provider after model gone: %v", err)
	}
}

func TestUpdateProviderBlankKeyKeepsStored(t *testing.T) {
	s := NewMemoryStore()
	_, p, _ := seedRegistry(t, s)
	ctx := context.Background()

	p.Name = "renamed"
	p.APIKey = ""
	updated, err := s.UpdateProvider(ctx, p)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.APIKey != "sk-test" {
		t.Fatalf("api key = %q, want stored value kept", updated.APIKey)
	}
	if updated.Name != "renamed" {
		t.Fatalf("name = %q, want renamed", updated.Name)
	}
}

func TestRunLifecycle(t *testing.T) {
	s := NewMemoryStore()
	u, _, m := seedRegistry(t, s)
	ctx := context.Background()
	agent, err := s.CreateAgent(ctx, &Agent{OwnerID: u.ID, Name: "worker", ModelID: m.ID})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	run, err := s.CreateRun(ctx, &Run{AgentID: &agent.ID, UserID: u.ID, Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if run.State != RunPending {
		t.Fatalf("state = %q, want pending", run.State)
	}

	claimed, err := s.ClaimPendingRuns(ctx, "worker-1", 10)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claimed = %v, err = %v", claimed, err)
	}
	if claimed[0].State != RunRunning || claimed[0].ClaimedBy != "worker-1" {
		t.Fatalf("claimed run = %+v", claimed[0])
	}

	// A second claim finds nothing: the run already moved to running.
	again, err := s.ClaimPendingRuns(ctx, "worker-2", 10)
	if err != nil || len(again) != 0 {
		t.Fatalf("second claim = %v, err = %v", again, err)
	}

	usage := UsageTotals{InputTokens: 100, OutputTokens: 40, Requests: 1}
	if err := s.FinishRun(ctx, run.ID, RunDone, "answer", "", usage); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.State != RunDone || got.Output != "answer" || got.InputTokens != 100 {
		t.Fatalf("run = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Fatal("finished run must carry a finish time")
	}

	// Finishing twice and cancelling a terminal run both refuse.
	if err := s.FinishRun(ctx, run.ID, RunFailed, "", "late", UsageTotals{}); !errors.Is(err, ErrRunFinalized) {
		t.Fatalf("double finish err = %v, want ErrRunFinalized", err)
	}
	if err := s.CancelRun(ctx, run.ID); !errors.Is(err, ErrRunFinalized) {
		t.Fatalf("cancel finished err = %v, want ErrRunFinalized", err)
	}
}

func TestCreateRunRequiresTargetAndPrompt(t *testing.T) {
	s := NewMemoryStore()
	u, _, _ := seedRegistry(t, s)
	ctx := context.Background()

	if _, err := s.CreateRun(ctx, &Run{UserID: u.ID, Prompt: "no target"}); err == nil {
		t.Fatal("run without a target must be rejected")
	}
	id := uuid.New()
	if _, err := s.CreateRun(ctx, &Run{AgentID: &id, UserID: u.ID, Prompt: "   "}); err == nil {
		t.Fatal("run with a blank prompt must be rejected")
	}
}

func TestClaimPendingRunsHonorsLimitAndOrder(t *testing.T) {
	s := NewMemoryStore()
	u, _, m := seedRegistry(t, s)
	ctx := context.Background()
	agent, err := s.CreateAgent(ctx, &Agent{OwnerID: u.ID, Name: "worker", ModelID: m.ID})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	var first *Run
	for i := 0; i < 3; i++ {
		r, err := s.CreateRun(ctx, &Run{AgentID: &agent.ID, UserID: u.ID, Prompt: "batch"})
		if err != nil {
			t.Fatalf("create run %d: %v", i, err)
		}
		if first == nil {
			first = r
		}
		time.Sleep(time.Millisecond)
	}

	claimed, err := s.ClaimPendingRuns(ctx, "w", 2)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("claimed %d runs, err = %v, want 2", len(claimed), err)
	}
	if claimed[0].ID != first.ID {
		t.Fatal("oldest pending run must be claimed first")
	}
}

func TestRedeemInvitationOnlyOnce(t *testing.T) {
	s := NewMemoryStore()
	u, _, _ := seedRegistry(t, s)
	ctx := context.Background()

	inv, err := s.CreateInvitation(ctx, &Invitation{Email: "new@example.com", TokenHash: "hash", CreatedBy: u.ID})
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if err := s.RedeemInvitation(ctx, inv.ID, time.Now()); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := s.RedeemInvitation(ctx, inv.ID, time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("second redeem err = %v, want ErrConflict", err)
	}
	if err := s.RevokeInvitation(ctx, inv.ID); !errors.Is(err, ErrInvitationUsed) {
		t.Fatalf("revoke used err = %v, want ErrInvitationUsed", err)
	}
}

func TestGroupMembership(t *testing.T) {
	s := NewMemoryStore()
	u, _, _ := seedRegistry(t, s)
	ctx := context.Background()

	g, err := s.CreateGroup(ctx, &Group{Name: "research"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if err := s.AddGroupMember(ctx, g.ID, u.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// Adding twice is fine; membership is a set.
	if err := s.AddGroupMember(ctx, g.ID, u.ID); err != nil {
		t.Fatalf("re-add member: %v", err)
	}
	members, err := s.ListGroupMembers(ctx, g.ID)
	if err != nil || len(members) != 1 {
		t.Fatalf("members = %v, err = %v", members, err)
	}
	if err := s.RemoveGroupMember(ctx, g.ID, u.ID); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	members, _ = s.ListGroupMembers(ctx, g.ID)
	if len(members) != 0 {
		t.Fatalf("members after remove = %v", members)
	}
}

func TestListRunsFiltersAndPaginates(t *testing.T) {
	s := NewMemoryStore()
	u, _, m := seedRegistry(t, s)
	ctx := context.Background()
	a1, _ := s.CreateAgent(ctx, &Agent{OwnerID: u.ID, Name: "a1", ModelID: m.ID})
	a2, _ := s.CreateAgent(ctx, &Agent{OwnerID: u.ID, Name: "a2", ModelID: m.ID})

	for i := 0; i < 3; i++ {
		if _, err := s.CreateRun(ctx, &Run{AgentID: &a1.ID, UserID: u.ID, Prompt: "x"}); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}
	if _, err := s.CreateRun(ctx, &Run{AgentID: &a2.ID, UserID: u.ID, Prompt: "y"}); err != nil {
		t.Fatalf("create run: %v", err)
	}

	runs, total, err := s.ListRuns(ctx, ListRunsParams{AgentID: &a1.ID})
	if err != nil || total != 3 || len(runs) != 3 {
		t.Fatalf("filtered: %d/%d, err = %v", len(runs), total, err)
	}

	runs, total, err = s.ListRuns(ctx, ListRunsParams{Limit: 2})
	if err != nil || total != 4 || len(runs) != 2 {
		t.Fatalf("paginated: %d/%d, err = %v", len(runs), total, err)
	}
}

func TestUsageRollups(t *testing.T) {
	s := NewMemoryStore()
	u, _, m := seedRegistry(t, s)
	ctx := context.Background()

	day := time.Now().UTC().Truncate(24 * time.Hour)
	for i := 0; i < 2; i++ {
		if err := s.RecordUsage(ctx, &UsageEvent{
			UserID: u.ID, ModelID: m.ID,
			InputTokens: 100, OutputTokens: 50, CachedTokens: 10,
			Day: day,
		}); err != nil {
			t.Fatalf("record usage: %v", err)
		}
	}

	totals, err := s.UsageTotals(ctx, time.Time{})
	if err != nil {
		t.Fatalf("totals: %v", err)
	}
	if totals.InputTokens != 200 || totals.Requests != 2 {
		t.Fatalf("totals = %+v", totals)
	}

	byModel, err := s.UsageByModel(ctx, time.Time{})
	if err != nil || len(byModel) != 1 {
		t.Fatalf("by model = %v, err = %v", byModel, err)
	}
	if byModel[0].Key != m.ID || byModel[0].TotalTokens() != 300 {
		t.Fatalf("rollup = %+v", byModel[0])
	}

	// A cutoff in the future excludes everything.
	totals, err = s.UsageTotals(ctx, time.Now().Add(time.Hour))
	if err != nil || totals.Requests != 0 {
		t.Fatalf("future window totals = %+v, err = %v", totals, err)
	}
}

func TestSettingsToggle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.OpenRegistration {
		t.Fatal("registration must default closed")
	}
	if err := s.SetOpenRegistration(ctx, true); err != nil {
		t.Fatalf("set: %v", err)
	}
	settings, _ = s.GetSettings(ctx)
	if !settings.OpenRegistration {
		t.Fatal("toggle did not stick")
	}
}
