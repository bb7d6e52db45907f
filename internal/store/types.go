package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is an account that can sign in to the console.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	IsAdmin      bool
	// TempPassword marks accounts whose password was set by an admin
	// and must be changed on next sign-in.
	TempPassword bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Invitation is a pending sign-up invitation. UsedAt is set when the
// invitee redeems it; RevokedAt when an admin withdraws it.
type Invitation struct {
	ID        uuid.UUID
	Email     string
	TokenHash string
	CreatedBy uuid.UUID
	CreatedAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
}

// Group is a named collection of users, used for usage rollups.
type Group struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// ProviderKind identifies the upstream API family of a provider.
type ProviderKind string

const (
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOpenAI     ProviderKind = "openai"
	ProviderCompatible ProviderKind = "compatible"
)

// Provider is an LLM API endpoint configuration. APIKey is write-only:
// it is stored and used by the runner but never surfaced for display.
type Provider struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Name         string
	Kind         ProviderKind
	BaseURL      string
	APIKey       string
	Config       map[string]any
	InstanceWide bool
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Model is a named model served by a provider. Prices are per million
// tokens and optional.
type Model struct {
	ID            uuid.UUID
	ProviderID    uuid.UUID
	OwnerID       uuid.UUID
	Name          string
	UpstreamID    string
	ContextWindow int
	InputPrice    decimal.NullDecimal
	OutputPrice   decimal.NullDecimal
	InstanceWide  bool
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// UsageEvent records token consumption for one model invocation.
type UsageEvent struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	ModelID      uuid.UUID
	GroupID      *uuid.UUID
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Day          time.Time
	CreatedAt    time.Time
}

// UsageTotals is an instance-wide usage aggregate.
type UsageTotals struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Requests     int
}

// UsageRollup is a usage aggregate grouped by one key (model, user or
// group id). Labels are joined by the caller.
type UsageRollup struct {
	Key          uuid.UUID
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Requests     int
}

// TotalTokens returns input plus output tokens.
func (r *UsageRollup) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// UsageDay is a per-day usage aggregate.
type UsageDay struct {
	Day          time.Time
	InputTokens  int
	OutputTokens int
	CachedTokens int
}

// ToolServer is a tool endpoint agents can be given access to.
// Built-in servers are synthesized by the catalog, not persisted.
type ToolServer struct {
	ID        uuid.UUID
	Name      string
	Kind      string
	URL       string
	Config    map[string]any
	Builtin   bool
	CreatedAt time.Time
}

// Agent is a single LLM actor: a model, a system prompt and a set of
// assigned tool servers.
type Agent struct {
	ID           uuid.UUID
	OwnerID      uuid.UUID
	Name         string
	Description  string
	SystemPrompt string
	ModelID      uuid.UUID
	MaxTokens    *int
	Temperature  *float64
	ToolServers  []Ref
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Team is an ordered pipeline of agents.
type Team struct {
	ID          uuid.UUID
	Name        string
	Description string
	AgentIDs    []uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunState is the lifecycle status of a run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunDone      RunState = "done"
	RunCancelled RunState = "cancelled"
	RunFailed    RunState = "failed"
)

// Final reports whether the state is terminal.
func (s RunState) Final() bool {
	return s == RunDone || s == RunCancelled || s == RunFailed
}

// Run is one execution of an agent or team against a prompt.
// Exactly one of AgentID and TeamID is set.
type Run struct {
	ID           uuid.UUID
	AgentID      *uuid.UUID
	TeamID       *uuid.UUID
	ScheduleID   *uuid.UUID
	UserID       uuid.UUID
	SessionID    *uuid.UUID
	Prompt       string
	Output       string
	State        RunState
	Error        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	ClaimedBy    string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Schedule is a cron-expression trigger that creates runs.
// Exactly one of AgentID and TeamID is set.
type Schedule struct {
	ID          uuid.UUID
	Name        string
	CronExpr    string
	AgentID     *uuid.UUID
	TeamID      *uuid.UUID
	Prompt      string
	Enabled     bool
	LastFiredAt *time.Time
	NextFireAt  time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatSession groups chat messages for one user and agent.
type ChatSession struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	AgentID   uuid.UUID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ToolCall records one tool invocation made during a run, kept on the
// assistant message that issued it for display.
type ToolCall struct {
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input,omitempty"`
	Output  string          `json:"output,omitempty"`
	IsError bool            `json:"is_error,omitempty"`
}

// ChatMessage is one turn in a chat session.
type ChatMessage struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	RunID     *uuid.UUID
	Role      string
	Body      string
	ToolCalls []ToolCall
	CreatedAt time.Time
}

// Source is a RAG document source. Built-in sources are synthesized by
// the catalog, not persisted.
type Source struct {
	ID            uuid.UUID
	Name          string
	Kind          string
	Builtin       bool
	DocumentCount int
	SyncState     string
	LastSyncedAt  *time.Time
	CreatedAt     time.Time
}

// Document is one ingested document within a source.
type Document struct {
	ID         uuid.UUID
	SourceID   uuid.UUID
	Title      string
	ChunkCount int
	Status     string
	UpdatedAt  time.Time
}

// PipelineFailure is one recent ingest failure for the dashboard.
type PipelineFailure struct {
	DocumentID uuid.UUID
	Title      string
	Error      string
	At         time.Time
}

// PipelineStatus is a point-in-time snapshot of the ingest pipeline.
type PipelineStatus struct {
	Queued         int
	Processing     int
	Failed         int
	DoneToday      int
	RecentFailures []PipelineFailure
}

// Settings holds the global instance settings.
type Settings struct {
	OpenRegistration bool
	UpdatedAt        time.Time
}
