// Package store defines the persistence layer for the console: entity
// types, the Store interface, and its Postgres and in-memory
// implementations.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the full persistence surface used by the service and web
// layers. Implementations: PGStore (pgx/v5) and MemoryStore.
type Store interface {
	UserStore
	InvitationStore
	GroupStore
	ProviderStore
	ModelStore
	UsageStore
	ToolServerStore
	AgentStore
	TeamStore
	RunStore
	ScheduleStore
	ChatStore
	SourceStore
	SettingsStore
}

// UserStore manages user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	// SetUserAdmin promotes or demotes a user.
	SetUserAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error
	// SetUserPassword replaces the password hash. temp marks the
	// password as temporary (admin reset).
	SetUserPassword(ctx context.Context, id uuid.UUID, hash string, temp bool) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// InvitationStore manages sign-up invitations.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) (*Invitation, error)
	ListInvitations(ctx context.Context) ([]*Invitation, error)
	// RevokeInvitation withdraws a pending invitation. Returns
	// ErrInvitationUsed if it was already redeemed.
	RevokeInvitation(ctx context.Context, id uuid.UUID) error
	// RedeemInvitation marks an invitation used.
	RedeemInvitation(ctx context.Context, id uuid.UUID, at time.Time) error
}

// GroupStore manages groups and their membership.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *Group) (*Group, error)
	GetGroup(ctx context.Context, id uuid.UUID) (*Group, error)
	ListGroups(ctx context.Context) ([]*Group, error)
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
	RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error
	ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]*User, error)
	// ListUserGroups returns the groups userID belongs to, ordered by name.
	ListUserGroups(ctx context.Context, userID uuid.UUID) ([]*Group, error)
}

// ProviderStore manages LLM provider configurations.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *Provider) (*Provider, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
	// ListProviders returns providers visible to userID: instance-wide
	// ones plus the user's own.
	ListProviders(ctx context.Context, userID uuid.UUID) ([]*Provider, error)
	UpdateProvider(ctx context.Context, p *Provider) (*Provider, error)
	// DeleteProvider returns ErrConflict while models still reference
	// the provider.
	DeleteProvider(ctx context.Context, id uuid.UUID) error
}

// ModelStore manages model registrations.
type ModelStore interface {
	CreateModel(ctx context.Context, m *Model) (*Model, error)
	GetModel(ctx context.Context, id uuid.UUID) (*Model, error)
	ListModels(ctx context.Context, userID uuid.UUID) ([]*Model, error)
	UpdateModel(ctx context.Context, m *Model) (*Model, error)
	DeleteModel(ctx context.Context, id uuid.UUID) error
}

// UsageStore records and aggregates token usage. A zero since time
// means no lower bound (all time).
type UsageStore interface {
	RecordUsage(ctx context.Context, ev *UsageEvent) error
	UsageTotals(ctx context.Context, since time.Time) (*UsageTotals, error)
	UsageByModel(ctx context.Context, since time.Time) ([]*UsageRollup, error)
	UsageByUser(ctx context.Context, since time.Time) ([]*UsageRollup, error)
	UsageByGroup(ctx context.Context, since time.Time) ([]*UsageRollup, error)
	UsageByDay(ctx context.Context, since time.Time) ([]*UsageDay, error)
}

// ToolServerStore manages persisted tool servers. Built-in entries are
// synthesized by the service catalog and never hit the store.
type ToolServerStore interface {
	CreateToolServer(ctx context.Context, ts *ToolServer) (*ToolServer, error)
	GetToolServer(ctx context.Context, id uuid.UUID) (*ToolServer, error)
	ListToolServers(ctx context.Context) ([]*ToolServer, error)
	DeleteToolServer(ctx context.Context, id uuid.UUID) error
}

// AgentStore manages agent definitions.
type AgentStore interface {
	CreateAgent(ctx context.Context, a *Agent) (*Agent, error)
	GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	UpdateAgent(ctx context.Context, a *Agent) (*Agent, error)
	DeleteAgent(ctx context.Context, id uuid.UUID) error
}

// TeamStore manages teams.
type TeamStore interface {
	CreateTeam(ctx context.Context, t *Team) (*Team, error)
	GetTeam(ctx context.Context, id uuid.UUID) (*Team, error)
	ListTeams(ctx context.Context) ([]*Team, error)
	UpdateTeam(ctx context.Context, t *Team) (*Team, error)
	DeleteTeam(ctx context.Context, id uuid.UUID) error
}

// ListRunsParams filters ListRuns.
type ListRunsParams struct {
	AgentID   *uuid.UUID
	TeamID    *uuid.UUID
	SessionID *uuid.UUID
	State     RunState
	Limit     int
	Offset    int
}

// RunStore manages run records and their lifecycle transitions.
type RunStore interface {
	CreateRun(ctx context.Context, r *Run) (*Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, params ListRunsParams) ([]*Run, int, error)
	// ClaimPendingRuns atomically moves up to limit pending runs to
	// running, marking them claimed by claimant.
	ClaimPendingRuns(ctx context.Context, claimant string, limit int) ([]*Run, error)
	// FinishRun moves a run to a terminal state with its output,
	// error message and token usage. Returns ErrRunFinalized if the
	// run already reached a terminal state.
	FinishRun(ctx context.Context, id uuid.UUID, state RunState, output, errMsg string, usage UsageTotals) error
	// CancelRun marks a pending or running run cancelled. Returns
	// ErrRunFinalized for terminal runs.
	CancelRun(ctx context.Context, id uuid.UUID) error
}

// ScheduleStore manages recurring run triggers.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *Schedule) (*Schedule, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	ListSchedules(ctx context.Context) ([]*Schedule, error)
	UpdateSchedule(ctx context.Context, s *Schedule) (*Schedule, error)
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	// MarkScheduleFired records a firing and the next computed fire time.
	MarkScheduleFired(ctx context.Context, id uuid.UUID, firedAt, nextAt time.Time) error
}

// ChatStore manages chat sessions and messages.
type ChatStore interface {
	CreateChatSession(ctx context.Context, s *ChatSession) (*ChatSession, error)
	GetChatSession(ctx context.Context, id uuid.UUID) (*ChatSession, error)
	ListChatSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*ChatSession, error)
	CreateChatMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error)
	ListChatMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*ChatMessage, error)
}

// SourceStore manages persisted document sources and the ingest
// pipeline view.
type SourceStore interface {
	CreateSource(ctx context.Context, s *Source) (*Source, error)
	GetSource(ctx context.Context, id uuid.UUID) (*Source, error)
	ListSources(ctx context.Context) ([]*Source, error)
	DeleteSource(ctx context.Context, id uuid.UUID) error
	ListDocuments(ctx context.Context, sourceID uuid.UUID) ([]*Document, error)
	GetPipelineStatus(ctx context.Context) (*PipelineStatus, error)
}

// SettingsStore manages global instance settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*Settings, error)
	SetOpenRegistration(ctx context.Context, open bool) error
}
