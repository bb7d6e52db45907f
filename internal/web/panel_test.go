package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(st, log, nil)
	return NewApp(st, svc, log, Options{}), st
}

func seedUser(t *testing.T, st *store.MemoryStore, email string, isAdmin bool) Principal {
	t.Helper()
	u, err := st.CreateUser(context.Background(), &store.User{
		Email:   email,
		Name:    email,
		IsAdmin: isAdmin,
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	return Principal{ID: u.ID, Email: u.Email, Name: u.Name, IsAdmin: u.IsAdmin}
}

func TestEnterUnknownTabRedirects(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "a@example.com", false)
	state := NewPanelState()

	result, err := app.Enter(context.Background(), state, EnterParams{Tab: Tab("bogus")}, principal)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if result.Redirect != defaultTab {
		t.Fatalf("redirect = %q, want %q", result.Redirect, defaultTab)
	}
	if result.Data != nil {
		t.Fatal("unknown tab must not load data")
	}
}

func TestEnterAdminTabReReadsAdminFromStore(t *testing.T) {
	app, st := newTestApp(t)
	// The principal claims admin but the store says otherwise, as after
	// a mid-session demotion.
	principal := seedUser(t, st, "demoted@example.com", false)
	principal.IsAdmin = true
	state := NewPanelState()

	result, err := app.Enter(context.Background(), state, EnterParams{Tab: TabUsers}, principal)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if result.Redirect != defaultTab {
		t.Fatalf("redirect = %q, want %q", result.Redirect, defaultTab)
	}
	if result.Data != nil {
		t.Fatal("non-admin must not get admin tab data")
	}
	if state.TakeNotice() != nil {
		t.Fatal("silent redirect must not raise a notice")
	}
}

func TestEnterAdminTabLoadsForAdmin(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "admin@example.com", true)
	state := NewPanelState()

	result, err := app.Enter(context.Background(), state, EnterParams{Tab: TabUsers}, principal)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if result.Redirect != "" {
		t.Fatalf("unexpected redirect %q", result.Redirect)
	}
	view, ok := result.Data.(*UsersView)
	if !ok {
		t.Fatalf("data = %T, want *UsersView", result.Data)
	}
	if len(view.Users) != 1 {
		t.Fatalf("got %d users, want 1", len(view.Users))
	}
	if state.ActiveTab != TabUsers {
		t.Fatalf("active tab = %q, want %q", state.ActiveTab, TabUsers)
	}
}

func TestEnterClearsTransientStateOnTabChange(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u@example.com", false)
	state := NewPanelState()

	if _, err := app.Enter(context.Background(), state, EnterParams{Tab: TabAgents}, principal); err != nil {
		t.Fatalf("Enter agents: %v", err)
	}
	state.SetEditing(KindAgent, &Editing{New: true, Values: map[string]string{"name": "draft"}})
	state.SetConfirm(&ConfirmPending{Kind: KindAgent, ID: uuid.New()})

	// Re-entering the same tab keeps the open form and pending confirm.
	if _, err := app.Enter(context.Background(), state, EnterParams{Tab: TabAgents}, principal); err != nil {
		t.Fatalf("re-enter agents: %v", err)
	}
	if state.Editing(KindAgent) == nil || state.Confirm() == nil {
		t.Fatal("same-tab entry must keep transient state")
	}

	if _, err := app.Enter(context.Background(), state, EnterParams{Tab: TabTeams}, principal); err != nil {
		t.Fatalf("Enter teams: %v", err)
	}
	if state.Editing(KindAgent) != nil {
		t.Fatal("tab change must clear editing state")
	}
	if state.Confirm() != nil {
		t.Fatal("tab change must clear pending confirmation")
	}
}

func TestEnterDetailTabMissingRecord(t *testing.T) {
	app, st := newTestApp(t)
	principal := seedUser(t, st, "u2@example.com", false)
	state := NewPanelState()

	_, err := app.Enter(context.Background(), state, EnterParams{Tab: TabAgentShow, ID: uuid.New()}, principal)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTakeNoticeIsOneShot(t *testing.T) {
	state := NewPanelState()
	state.SetNotice(NoticeSuccess, "saved %d records", 3)

	n := state.TakeNotice()
	if n == nil || n.Message != "saved 3 records" || n.Kind != NoticeSuccess {
		t.Fatalf("notice = %+v", n)
	}
	if state.TakeNotice() != nil {
		t.Fatal("notice must clear after one take")
	}
}

func TestParseTab(t *testing.T) {
	if _, ok := ParseTab("agents"); !ok {
		t.Fatal("agents must parse")
	}
	if _, ok := ParseTab("run_show"); !ok {
		t.Fatal("run_show must parse")
	}
	if _, ok := ParseTab("../../etc/passwd"); ok {
		t.Fatal("garbage must not parse")
	}
	if _, ok := ParseTab(""); ok {
		t.Fatal("empty must not parse")
	}
}
