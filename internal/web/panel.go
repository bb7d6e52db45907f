package web

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/service"
)

// Tab identifies one view of a panel. The set is closed: anything else
// coming off the wire falls back to the panel default.
type Tab string

const (
	// Admin panel tabs.
	TabUsage     Tab = "usage"
	TabServers   Tab = "servers"
	TabUsers     Tab = "users"
	TabGroups    Tab = "groups"
	TabProviders Tab = "providers"
	TabModels    Tab = "models"

	// Studio panel tabs.
	TabAgents    Tab = "agents"
	TabAgentNew  Tab = "agent_new"
	TabAgentShow Tab = "agent_show"
	TabAgentEdit Tab = "agent_edit"
	TabTeams     Tab = "teams"
	TabTeamNew   Tab = "team_new"
	TabTeamShow  Tab = "team_show"
	TabTeamEdit  Tab = "team_edit"
	TabRuns      Tab = "runs"
	TabRunShow   Tab = "run_show"
	TabSchedules Tab = "schedules"

	// Profile tabs.
	TabProfile  Tab = "profile"
	TabPassword Tab = "password"
)

// defaultTab is where unauthorized or unknown navigation lands.
const defaultTab = TabAgents

// EntityKind names an editable entity for per-kind editing and
// confirmation state.
type EntityKind string

const (
	KindUser       EntityKind = "user"
	KindInvitation EntityKind = "invitation"
	KindGroup      EntityKind = "group"
	KindProvider   EntityKind = "provider"
	KindModel      EntityKind = "model"
	KindToolServer EntityKind = "tool_server"
	KindAgent      EntityKind = "agent"
	KindTeam       EntityKind = "team"
	KindRun        EntityKind = "run"
	KindSchedule   EntityKind = "schedule"
	KindSource     EntityKind = "source"
)

// Editing marks an open form: either a new record or an existing one,
// with the submitted values echoed back after a validation failure.
type Editing struct {
	New    bool
	ID     uuid.UUID
	Values map[string]string
	Errors map[string]string
}

// ConfirmPending is a delete awaiting its second, confirming event.
type ConfirmPending struct {
	Kind EntityKind
	ID   uuid.UUID
}

// NoticeKind classifies a one-shot notice.
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a one-shot message shown on the next render.
type Notice struct {
	Kind    NoticeKind
	Message string
}

// PanelState is the server-side view state of one session. Exactly one
// tab's data is live at a time; entering a different tab clears any
// editing and confirmation state left behind.
type PanelState struct {
	mu        sync.Mutex
	ActiveTab Tab
	ActiveID  uuid.UUID
	editing   map[EntityKind]*Editing
	confirm   *ConfirmPending
	notice    *Notice
}

// NewPanelState returns a state positioned on the default tab.
func NewPanelState() *PanelState {
	return &PanelState{ActiveTab: defaultTab, editing: make(map[EntityKind]*Editing)}
}

// Editing returns the open form for kind, or nil.
func (s *PanelState) Editing(kind EntityKind) *Editing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.editing[kind]
}

// SetEditing opens (or replaces) the form for kind.
func (s *PanelState) SetEditing(kind EntityKind, e *Editing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e == nil {
		delete(s.editing, kind)
		return
	}
	s.editing[kind] = e
}

// ClearEditing closes the form for kind.
func (s *PanelState) ClearEditing(kind EntityKind) {
	s.SetEditing(kind, nil)
}

// Confirm returns the pending delete, or nil.
func (s *PanelState) Confirm() *ConfirmPending {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirm
}

// SetConfirm records a pending delete, replacing any previous one.
func (s *PanelState) SetConfirm(c *ConfirmPending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm = c
}

// SetNotice replaces the one-shot notice.
func (s *PanelState) SetNotice(kind NoticeKind, format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = &Notice{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// TakeNotice returns the notice and clears it.
func (s *PanelState) TakeNotice() *Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.notice
	s.notice = nil
	return n
}

// resetTransient clears editing and confirmation state. Called when
// navigation moves to a different tab so nothing leaks across.
func (s *PanelState) resetTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editing = make(map[EntityKind]*Editing)
	s.confirm = nil
}

// Principal is the authenticated caller, resolved fresh from the
// store on every request.
type Principal struct {
	ID      uuid.UUID
	Email   string
	Name    string
	IsAdmin bool
}

// EnterParams addresses a tab entry: the tab, an optional entity id
// for show/edit tabs, and the usage period.
type EnterParams struct {
	Tab    Tab
	ID     uuid.UUID
	Period service.Period
}

// EnterResult is either a loaded tab (Data set) or a redirect
// instruction (Redirect non-empty, nothing loaded).
type EnterResult struct {
	Tab      Tab
	Redirect Tab
	Data     any
}

type tabSpec struct {
	adminOnly bool
	load      func(ctx context.Context, app *App, p EnterParams, principal Principal) (any, error)
}

// Enter is the tab router. It re-reads the caller's admin capability
// from the store, silently redirects non-admins away from admin tabs
// without running any loader, and otherwise loads the tab's data,
// clearing transient state when the tab changed.
func (app *App) Enter(ctx context.Context, state *PanelState, p EnterParams, principal Principal) (*EnterResult, error) {
	spec, ok := app.tabs[p.Tab]
	if !ok {
		return &EnterResult{Redirect: defaultTab}, nil
	}

	if spec.adminOnly {
		user, err := app.store.GetUser(ctx, principal.ID)
		if err != nil || !user.IsAdmin {
			return &EnterResult{Redirect: defaultTab}, nil
		}
		principal.IsAdmin = true
	}

	if state.ActiveTab != p.Tab || state.ActiveID != p.ID {
		state.resetTransient()
	}
	state.mu.Lock()
	state.ActiveTab = p.Tab
	state.ActiveID = p.ID
	state.mu.Unlock()

	data, err := spec.load(ctx, app, p, principal)
	if err != nil {
		return nil, err
	}
	return &EnterResult{Tab: p.Tab, Data: data}, nil
}

// ParseTab maps a wire value to a Tab; anything unknown comes back
// false and navigation falls to the default.
func ParseTab(s string) (Tab, bool) {
	switch t := Tab(s); t {
	case TabUsage, TabServers, TabUsers, TabGroups, TabProviders, TabModels,
		TabAgents, TabAgentNew, TabAgentShow, TabAgentEdit,
		TabTeams, TabTeamNew, TabTeamShow, TabTeamEdit,
		TabRuns, TabRunShow, TabSchedules,
		TabProfile, TabPassword:
		return t, true
	}
	return "", false
}
