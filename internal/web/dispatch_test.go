package web

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

func TestDispatchUnknownEventIsNoop(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u@example.com", true)
	state := NewPanelState()

	app.Dispatch(context.Background(), state, principal, "no_such_event", url.Values{})

	if state.TakeNotice() != nil {
		t.Fatal("unknown event must not raise a notice")
	}
	if state.Confirm() != nil {
		t.Fatal("unknown event must not touch state")
	}
}

func TestRequireAdminSilentlyDropsNonAdmin(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "member@example.com", false)
	state := NewPanelState()

	form := url.Values{}
	form.Set("email", "new@example.com")
	form.Set("name", "New User")
	form.Set("password", "supersecret")
	app.Dispatch(context.Background(), state, principal, "user_create", form)

	if state.TakeNotice() != nil {
		t.Fatal("denied event must not raise a notice")
	}
	users, err := st.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1: privileged event must not run", len(users))
	}
}

func TestRequireAdminReReadsStoreNotPrincipal(t *testing.T) {
	app, st := newTestApp(t)
	// Stale session principal still claims admin.
	principal := seedUser(t, st, "demoted@example.com", false)
	principal.IsAdmin = true
	state := NewPanelState()

	form := url.Values{}
	form.Set("name", "ops")
	app.Dispatch(context.Background(), state, principal, "group_create", form)

	groups, err := st.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 0 {
		t.Fatal("demoted user must not create groups")
	}
}

func seedAgent(t *testing.T, st *store.MemoryStore, owner Principal, name string) *store.Agent {
	t.Helper()
	model := seedModel(t, st, owner)
	a, err := st.CreateAgent(context.Background(), &store.Agent{
		OwnerID: owner.ID,
		Name:    name,
		ModelID: model.ID,
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return a
}

func seedModel(t *testing.T, st *store.MemoryStore, owner Principal) *store.Model {
	t.Helper()
	p, err := st.CreateProvider(context.Background(), &store.Provider{
		OwnerID:      owner.ID,
		Name:         "anthropic",
		Kind:         store.ProviderAnthropic,
		APIKey:       "sk-test",
		InstanceWide: true,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seed provider: %v", err)
	}
	m, err := st.CreateModel(context.Background(), &store.Model{
		ProviderID:   p.ID,
		OwnerID:      owner.ID,
		Name:         "test-model",
		UpstreamID:   "test-model-1",
		InstanceWide: true,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seed model: %v", err)
	}
	return m
}

func TestConfirmedDeleteRequiresMatchingConfirmation(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u@example.com", false)
	agent := seedAgent(t, st, principal, "victim")
	state := NewPanelState()
	ctx := context.Background()

	// First event only records the pending delete.
	form := url.Values{}
	form.Set("id", agent.ID.String())
	app.Dispatch(ctx, state, principal, "agent_delete", form)

	if _, err := st.GetAgent(ctx, agent.ID); err != nil {
		t.Fatal("request alone must not delete")
	}
	pending := state.Confirm()
	if pending == nil || pending.Kind != KindAgent || pending.ID != agent.ID {
		t.Fatalf("pending = %+v", pending)
	}

	// Confirming a different id is ignored.
	other := url.Values{}
	other.Set("id", uuid.New().String())
	app.Dispatch(ctx, state, principal, "agent_confirm_delete", other)
	if _, err := st.GetAgent(ctx, agent.ID); err != nil {
		t.Fatal("mismatched confirmation must not delete")
	}

	// Matching confirmation deletes and clears the pending state.
	app.Dispatch(ctx, state, principal, "agent_confirm_delete", form)
	if _, err := st.GetAgent(ctx, agent.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("agent still present after confirm: %v", err)
	}
	if state.Confirm() != nil {
		t.Fatal("confirmation must clear after delete")
	}
	if n := state.TakeNotice(); n == nil || n.Kind != NoticeSuccess {
		t.Fatalf("notice = %+v, want success", n)
	}
}

func TestConfirmedDeleteCancelIsIdempotent(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u@example.com", false)
	agent := seedAgent(t, st, principal, "kept")
	state := NewPanelState()
	ctx := context.Background()

	form := url.Values{}
	form.Set("id", agent.ID.String())
	app.Dispatch(ctx, state, principal, "agent_delete", form)
	app.Dispatch(ctx, state, principal, "agent_cancel_delete", form)
	if state.Confirm() != nil {
		t.Fatal("cancel must clear the pending delete")
	}
	// A second cancel with nothing pending is harmless.
	app.Dispatch(ctx, state, principal, "agent_cancel_delete", form)
	if _, err := st.GetAgent(ctx, agent.ID); err != nil {
		t.Fatal("cancelled delete must keep the record")
	}
}

func TestUserCannotDeleteOwnAccount(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "admin@example.com", true)
	state := NewPanelState()
	ctx := context.Background()

	form := url.Values{}
	form.Set("id", principal.ID.String())
	app.Dispatch(ctx, state, principal, "user_delete", form)
	app.Dispatch(ctx, state, principal, "user_confirm_delete", form)

	if _, err := st.GetUser(ctx, principal.ID); err != nil {
		t.Fatal("self-delete must be blocked")
	}
	if n := state.TakeNotice(); n == nil || n.Kind != NoticeError {
		t.Fatalf("notice = %+v, want error", n)
	}
}

func TestProviderSaveInvalidConfigKeepsFormOpen(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "admin@example.com", true)
	state := NewPanelState()

	form := url.Values{}
	form.Set("name", "broken")
	form.Set("kind", "anthropic")
	form.Set("api_key", "sk-secret")
	form.Set("config", "[1, 2]")
	app.Dispatch(context.Background(), state, principal, "provider_save", form)

	providers, err := st.ListProviders(context.Background(), principal.ID)
	if err != nil {
		t.Fatalf("list providers: %v", err)
	}
	if len(providers) != 0 {
		t.Fatal("invalid config must not create a provider")
	}
	editing := state.Editing(KindProvider)
	if editing == nil {
		t.Fatal("failed save must keep the form open")
	}
	if editing.Errors["config"] != "must be a JSON object" {
		t.Fatalf("config error = %q", editing.Errors["config"])
	}
	if editing.Values["name"] != "broken" {
		t.Fatal("submitted values must echo back")
	}
	if _, ok := editing.Values["api_key"]; ok {
		t.Fatal("api_key must never echo back")
	}
}

func TestProviderAPIKeyIsWriteOnly(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "admin@example.com", true)
	state := NewPanelState()
	ctx := context.Background()

	form := url.Values{}
	form.Set("name", "anthropic")
	form.Set("kind", "anthropic")
	form.Set("api_key", "sk-original")
	form.Set("active", "on")
	form.Set("instance_wide", "on")
	app.Dispatch(ctx, state, principal, "provider_save", form)

	providers, err := st.ListProviders(ctx, principal.ID)
	if err != nil || len(providers) != 1 {
		t.Fatalf("providers = %v, err = %v", providers, err)
	}
	id := providers[0].ID

	// The providers tab view never carries the key.
	result, err := app.Enter(ctx, state, EnterParams{Tab: TabProviders}, principal)
	if err != nil {
		t.Fatalf("enter providers: %v", err)
	}
	view := result.Data.(*ProvidersView)
	if view.Providers[0].APIKey != "" {
		t.Fatal("api key leaked into the tab view")
	}

	// Editing echoes everything except the key.
	edit := url.Values{}
	edit.Set("id", id.String())
	app.Dispatch(ctx, state, principal, "provider_edit", edit)
	editing := state.Editing(KindProvider)
	if editing == nil {
		t.Fatal("edit must open the form")
	}
	if _, ok := editing.Values["api_key"]; ok {
		t.Fatal("api key leaked into the edit form")
	}

	// Saving with a blank key keeps the stored one.
	update := url.Values{}
	update.Set("id", id.String())
	update.Set("name", "anthropic renamed")
	update.Set("kind", "anthropic")
	update.Set("api_key", "")
	update.Set("active", "on")
	update.Set("instance_wide", "on")
	app.Dispatch(ctx, state, principal, "provider_save", update)

	stored, err := st.GetProvider(ctx, id)
	if err != nil {
		t.Fatalf("get provider: %v", err)
	}
	if stored.APIKey != "sk-original" {
		t.Fatalf("stored key = %q, want the original kept", stored.APIKey)
	}
	if stored.Name != "anthropic renamed" {
		t.Fatalf("name = %q, update must still apply", stored.Name)
	}
}

func TestScheduleSaveEditsExisting(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u@example.com", false)
	agent := seedAgent(t, st, principal, "reporter")
	state := NewPanelState()
	ctx := context.Background()

	form := url.Values{}
	form.Set("name", "daily")
	form.Set("cron", "0 9 * * *")
	form.Set("agent_id", agent.ID.String())
	form.Set("prompt", "summarize yesterday")
	form.Set("enabled", "on")
	app.Dispatch(ctx, state, principal, "schedule_save", form)

	schedules, err := st.ListSchedules(ctx)
	if err != nil || len(schedules) != 1 {
		t.Fatalf("schedules = %d, err = %v", len(schedules), err)
	}
	created := schedules[0]

	edit := url.Values{}
	edit.Set("id", created.ID.String())
	app.Dispatch(ctx, state, principal, "schedule_edit", edit)
	e := state.Editing(KindSchedule)
	if e == nil || e.ID != created.ID {
		t.Fatalf("editing = %+v, want the schedule's form open", e)
	}
	if e.Values["cron"] != "0 9 * * *" || e.Values["agent_id"] != agent.ID.String() {
		t.Fatalf("editing values = %v", e.Values)
	}

	update := url.Values{}
	update.Set("id", created.ID.String())
	update.Set("name", "afternoon")
	update.Set("cron", "30 14 * * *")
	update.Set("agent_id", agent.ID.String())
	update.Set("prompt", "summarize the week")
	update.Set("enabled", "on")
	app.Dispatch(ctx, state, principal, "schedule_save", update)

	stored, err := st.GetSchedule(ctx, created.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if stored.Name != "afternoon" || stored.CronExpr != "30 14 * * *" {
		t.Fatalf("schedule = %q/%q, update must apply", stored.Name, stored.CronExpr)
	}
	if stored.NextFireAt.Equal(created.NextFireAt) {
		t.Error("changed cron expression must recompute the next fire time")
	}
	if state.Editing(KindSchedule) != nil {
		t.Error("successful save must close the form")
	}
}

func TestScheduleCancelClosesForm(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u@example.com", false)
	state := NewPanelState()

	state.SetEditing(KindSchedule, &Editing{New: true, Values: map[string]string{}})
	app.Dispatch(context.Background(), state, principal, "schedule_cancel", url.Values{})
	if state.Editing(KindSchedule) != nil {
		t.Fatal("cancel must close the schedule form")
	}
}

func TestNotifyErrorMapsStoreErrors(t *testing.T) {
	app, _ := newTestApp(t)

	cases := []struct {
		err  error
		want string
	}{
		{store.ErrNotFound, "Record no longer exists"},
		{store.ErrInvitationUsed, "Invitation was already used and can't be revoked"},
	}
	for _, tc := range cases {
		state := NewPanelState()
		app.notifyError(state, tc.err)
		n := state.TakeNotice()
		if n == nil || n.Message != tc.want {
			t.Errorf("notice for %v = %+v, want %q", tc.err, n, tc.want)
		}
	}
}
