package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store used by tests and demo mode.
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[uuid.UUID]*User
	invitations map[uuid.UUID]*Invitation
	groups      map[uuid.UUID]*Group
	memberships map[uuid.UUID]map[uuid.UUID]bool // groupID -> userID set
	providers   map[uuid.UUID]*Provider
	models      map[uuid.UUID]*Model
	usage       []*UsageEvent
	toolServers map[uuid.UUID]*ToolServer
	agents      map[uuid.UUID]*Agent
	teams       map[uuid.UUID]*Team
	runs        map[uuid.UUID]*Run
	schedules   map[uuid.UUID]*Schedule
	sessions    map[uuid.UUID]*ChatSession
	messages    map[uuid.UUID][]*ChatMessage // sessionID -> ordered messages
	sources     map[uuid.UUID]*Source
	documents   map[uuid.UUID][]*Document // sourceID -> documents
	settings    Settings
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]*User),
		invitations: make(map[uuid.UUID]*Invitation),
		groups:      make(map[uuid.UUID]*Group),
		memberships: make(map[uuid.UUID]map[uuid.UUID]bool),
		providers:   make(map[uuid.UUID]*Provider),
		models:      make(map[uuid.UUID]*Model),
		toolServers: make(map[uuid.UUID]*ToolServer),
		agents:      make(map[uuid.UUID]*Agent),
		teams:       make(map[uuid.UUID]*Team),
		runs:        make(map[uuid.UUID]*Run),
		schedules:   make(map[uuid.UUID]*Schedule),
		sessions:    make(map[uuid.UUID]*ChatSession),
		messages:    make(map[uuid.UUID][]*ChatMessage),
		sources:     make(map[uuid.UUID]*Source),
		documents:   make(map[uuid.UUID][]*Document),
	}
}

func ensureID(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}

// ============================================================================
// Users
// ============================================================================

func (s *MemoryStore) CreateUser(ctx context.Context, u *User) (*User, error) {
	if err := validateUser(u); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, ErrConflict
		}
	}
	cp := *u
	cp.ID = ensureID(cp.ID)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func validateUser(u *User) error {
	fields := make(map[string]string)
	if strings.TrimSpace(u.Email) == "" || !strings.Contains(u.Email, "@") {
		fields["email"] = "must be a valid email address"
	}
	if strings.TrimSpace(u.Name) == "" {
		fields["name"] = "can't be blank"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *MemoryStore) SetUserAdmin(ctx context.Context, id uuid.UUID, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsAdmin = isAdmin
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetUserPassword(ctx context.Context, id uuid.UUID, hash string, temp bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	u.TempPassword = temp
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	for _, members := range s.memberships {
		delete(members, id)
	}
	return nil
}

// ============================================================================
// Invitations
// ============================================================================

func (s *MemoryStore) CreateInvitation(ctx context.Context, inv *Invitation) (*Invitation, error) {
	if strings.TrimSpace(inv.Email) == "" || !strings.Contains(inv.Email, "@") {
		return nil, NewValidationError(map[string]string{"email": "must be a valid email address"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inv
	cp.ID = ensureID(cp.ID)
	cp.CreatedAt = time.Now()
	s.invitations[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) ListInvitations(ctx context.Context) ([]*Invitation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Invitation, 0, len(s.invitations))
	for _, inv := range s.invitations {
		cp := *inv
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeInvitation(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return ErrNotFound
	}
	if inv.UsedAt != nil {
		return ErrInvitationUsed
	}
	now := time.Now()
	inv.RevokedAt = &now
	return nil
}

func (s *MemoryStore) RedeemInvitation(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return ErrNotFound
	}
	if inv.UsedAt != nil || inv.RevokedAt != nil {
		return ErrConflict
	}
	inv.UsedAt = &at
	return nil
}

// ============================================================================
// Groups
// ============================================================================

func (s *MemoryStore) CreateGroup(ctx context.Context, g *Group) (*Group, error) {
	if strings.TrimSpace(g.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.groups {
		if strings.EqualFold(existing.Name, g.Name) {
			return nil, ErrConflict
		}
	}
	cp := *g
	cp.ID = ensureID(cp.ID)
	cp.CreatedAt = time.Now()
	s.groups[cp.ID] = &cp
	s.memberships[cp.ID] = make(map[uuid.UUID]bool)
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetGroup(ctx context.Context, id uuid.UUID) (*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) ListGroups(ctx context.Context) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0, len(s.groups))
	for _, g := range s.groups {
		cp := *g
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return ErrNotFound
	}
	delete(s.groups, id)
	delete(s.memberships, id)
	return nil
}

func (s *MemoryStore) AddGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[groupID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.users[userID]; !ok {
		return ErrNotFound
	}
	members[userID] = true
	return nil
}

func (s *MemoryStore) RemoveGroupMember(ctx context.Context, groupID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	members, ok := s.memberships[groupID]
	if !ok {
		return ErrNotFound
	}
	delete(members, userID)
	return nil
}

func (s *MemoryStore) ListGroupMembers(ctx context.Context, groupID uuid.UUID) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members, ok := s.memberships[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*User, 0, len(members))
	for userID := range members {
		if u, ok := s.users[userID]; ok {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *MemoryStore) ListUserGroups(ctx context.Context, userID uuid.UUID) ([]*Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Group, 0)
	for groupID, members := range s.memberships {
		if !members[userID] {
			continue
		}
		if g, ok := s.groups[groupID]; ok {
			cp := *g
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ============================================================================
// Providers
// ============================================================================

func validateProvider(p *Provider) error {
	fields := make(map[string]string)
	if strings.TrimSpace(p.Name) == "" {
		fields["name"] = "can't be blank"
	}
	switch p.Kind {
	case ProviderAnthropic, ProviderOpenAI, ProviderCompatible:
	default:
		fields["kind"] = "must be anthropic, openai or compatible"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func (s *MemoryStore) CreateProvider(ctx context.Context, p *Provider) (*Provider, error) {
	if err := validateProvider(p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.ID = ensureID(cp.ID)
	if cp.Config == nil {
		cp.Config = map[string]any{}
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.providers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProviders(ctx context.Context, userID uuid.UUID) ([]*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Provider, 0, len(s.providers))
	for _, p := range s.providers {
		if p.InstanceWide || p.OwnerID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateProvider(ctx context.Context, p *Provider) (*Provider, error) {
	if err := validateProvider(p); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.providers[p.ID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.OwnerID = existing.OwnerID
	// Empty key on update means "leave unchanged": the key is
	// write-only and never round-trips through the edit form.
	if cp.APIKey == "" {
		cp.APIKey = existing.APIKey
	}
	cp.UpdatedAt = time.Now()
	s.providers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) DeleteProvider(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[id]; !ok {
		return ErrNotFound
	}
	for _, m := range s.models {
		if m.ProviderID == id {
			return ErrConflict
		}
	}
	delete(s.providers, id)
	return nil
}

// ============================================================================
// Models
// ============================================================================

func validateModel(m *Model) error {
	fields := make(map[string]string)
	if strings.TrimSpace(m.Name) == "" {
		fields["name"] = "can't be blank"
	}
	if strings.TrimSpace(m.UpstreamID) == "" {
		fields["upstream_id"] = "can't be blank"
	}
	if m.ProviderID == uuid.Nil {
		fields["provider"] = "must be selected"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func (s *MemoryStore) CreateModel(ctx context.Context, m *Model) (*Model, error) {
	if err := validateModel(m); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.providers[m.ProviderID]; !ok {
		return nil, NewValidationError(map[string]string{"provider": "does not exist"})
	}
	cp := *m
	cp.ID = ensureID(cp.ID)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.models[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetModel(ctx context.Context, id uuid.UUID) (*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListModels(ctx context.Context, userID uuid.UUID) ([]*Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Model, 0, len(s.models))
	for _, m := range s.models {
		if m.InstanceWide || m.OwnerID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateModel(ctx context.Context, m *Model) (*Model, error) {
	if err := validateModel(m); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.models[m.ID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.CreatedAt = existing.CreatedAt
	cp.OwnerID = existing.OwnerID
	cp.UpdatedAt = time.Now()
	s.models[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) DeleteModel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[id]; !ok {
		return ErrNotFound
	}
	delete(s.models, id)
	return nil
}

// ============================================================================
// Usage
// ============================================================================

func (s *MemoryStore) RecordUsage(ctx context.Context, ev *UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	cp.ID = ensureID(cp.ID)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.Day.IsZero() {
		cp.Day = cp.CreatedAt.Truncate(24 * time.Hour)
	}
	s.usage = append(s.usage, &cp)
	return nil
}

func inWindow(ev *UsageEvent, since time.Time) bool {
	return since.IsZero() || !ev.CreatedAt.Before(since)
}

func (s *MemoryStore) UsageTotals(ctx context.Context, since time.Time) (*UsageTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	totals := &UsageTotals{}
	for _, ev := range s.usage {
		if !inWindow(ev, since) {
			continue
		}
		totals.InputTokens += ev.InputTokens
		totals.OutputTokens += ev.OutputTokens
		totals.CachedTokens += ev.CachedTokens
		totals.Requests++
	}
	return totals, nil
}

func (s *MemoryStore) rollup(since time.Time, key func(*UsageEvent) (uuid.UUID, bool)) []*UsageRollup {
	byKey := make(map[uuid.UUID]*UsageRollup)
	for _, ev := range s.usage {
		if !inWindow(ev, since) {
			continue
		}
		k, ok := key(ev)
		if !ok {
			continue
		}
		r := byKey[k]
		if r == nil {
			r = &UsageRollup{Key: k}
			byKey[k] = r
		}
		r.InputTokens += ev.InputTokens
		r.OutputTokens += ev.OutputTokens
		r.CachedTokens += ev.CachedTokens
		r.Requests++
	}
	out := make([]*UsageRollup, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalTokens() > out[j].TotalTokens() })
	return out
}

func (s *MemoryStore) UsageByModel(ctx context.Context, since time.Time) ([]*UsageRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollup(since, func(ev *UsageEvent) (uuid.UUID, bool) { return ev.ModelID, true }), nil
}

func (s *MemoryStore) UsageByUser(ctx context.Context, since time.Time) ([]*UsageRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollup(since, func(ev *UsageEvent) (uuid.UUID, bool) { return ev.UserID, true }), nil
}

func (s *MemoryStore) UsageByGroup(ctx context.Context, since time.Time) ([]*UsageRollup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rollup(since, func(ev *UsageEvent) (uuid.UUID, bool) {
		if ev.GroupID == nil {
			return uuid.Nil, false
		}
		return *ev.GroupID, true
	}), nil
}

func (s *MemoryStore) UsageByDay(ctx context.Context, since time.Time) ([]*UsageDay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byDay := make(map[time.Time]*UsageDay)
	for _, ev := range s.usage {
		if !inWindow(ev, since) {
			continue
		}
		d := byDay[ev.Day]
		if d == nil {
			d = &UsageDay{Day: ev.Day}
			byDay[ev.Day] = d
		}
		d.InputTokens += ev.InputTokens
		d.OutputTokens += ev.OutputTokens
		d.CachedTokens += ev.CachedTokens
	}
	out := make([]*UsageDay, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// ============================================================================
// Tool servers
// ============================================================================

func (s *MemoryStore) CreateToolServer(ctx context.Context, ts *ToolServer) (*ToolServer, error) {
	fields := make(map[string]string)
	if strings.TrimSpace(ts.Name) == "" {
		fields["name"] = "can't be blank"
	}
	if strings.TrimSpace(ts.URL) == "" {
		fields["url"] = "can't be blank"
	}
	if len(fields) > 0 {
		return nil, NewValidationError(fields)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ts
	cp.ID = ensureID(cp.ID)
	cp.Builtin = false
	if cp.Config == nil {
		cp.Config = map[string]any{}
	}
	cp.CreatedAt = time.Now()
	s.toolServers[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetToolServer(ctx context.Context, id uuid.UUID) (*ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.toolServers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ts
	return &cp, nil
}

func (s *MemoryStore) ListToolServers(ctx context.Context) ([]*ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ToolServer, 0, len(s.toolServers))
	for _, ts := range s.toolServers {
		cp := *ts
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteToolServer(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.toolServers[id]; !ok {
		return ErrNotFound
	}
	delete(s.toolServers, id)
	return nil
}

// ============================================================================
// Agents
// ============================================================================

func validateAgent(a *Agent) error {
	fields := make(map[string]string)
	if strings.TrimSpace(a.Name) == "" {
		fields["name"] = "can't be blank"
	}
	if a.ModelID == uuid.Nil {
		fields["model"] = "must be selected"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func (s *MemoryStore) CreateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	cp.ID = ensureID(cp.ID)
	cp.ToolServers = append([]Ref(nil), a.ToolServers...)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.agents[cp.ID] = &cp
	out := cp
	out.ToolServers = append([]Ref(nil), cp.ToolServers...)
	return &out, nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id uuid.UUID) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.ToolServers = append([]Ref(nil), a.ToolServers...)
	return &cp, nil
}

func (s *MemoryStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Agent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		cp.ToolServers = append([]Ref(nil), a.ToolServers...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateAgent(ctx context.Context, a *Agent) (*Agent, error) {
	if err := validateAgent(a); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.agents[a.ID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.CreatedAt = existing.CreatedAt
	cp.OwnerID = existing.OwnerID
	cp.ToolServers = append([]Ref(nil), a.ToolServers...)
	cp.UpdatedAt = time.Now()
	s.agents[cp.ID] = &cp
	out := cp
	out.ToolServers = append([]Ref(nil), cp.ToolServers...)
	return &out, nil
}

func (s *MemoryStore) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	for _, t := range s.teams {
		for _, memberID := range t.AgentIDs {
			if memberID == id {
				return ErrConflict
			}
		}
	}
	delete(s.agents, id)
	return nil
}

// ============================================================================
// Teams
// ============================================================================

func (s *MemoryStore) CreateTeam(ctx context.Context, t *Team) (*Team, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.ID = ensureID(cp.ID)
	cp.AgentIDs = append([]uuid.UUID(nil), t.AgentIDs...)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.teams[cp.ID] = &cp
	out := cp
	out.AgentIDs = append([]uuid.UUID(nil), cp.AgentIDs...)
	return &out, nil
}

func (s *MemoryStore) GetTeam(ctx context.Context, id uuid.UUID) (*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.AgentIDs = append([]uuid.UUID(nil), t.AgentIDs...)
	return &cp, nil
}

func (s *MemoryStore) ListTeams(ctx context.Context) ([]*Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Team, 0, len(s.teams))
	for _, t := range s.teams {
		cp := *t
		cp.AgentIDs = append([]uuid.UUID(nil), t.AgentIDs...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateTeam(ctx context.Context, t *Team) (*Team, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.teams[t.ID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	cp.CreatedAt = existing.CreatedAt
	cp.AgentIDs = append([]uuid.UUID(nil), t.AgentIDs...)
	cp.UpdatedAt = time.Now()
	s.teams[cp.ID] = &cp
	out := cp
	out.AgentIDs = append([]uuid.UUID(nil), cp.AgentIDs...)
	return &out, nil
}

func (s *MemoryStore) DeleteTeam(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[id]; !ok {
		return ErrNotFound
	}
	delete(s.teams, id)
	return nil
}

// ============================================================================
// Runs
// ============================================================================

func (s *MemoryStore) CreateRun(ctx context.Context, r *Run) (*Run, error) {
	if r.AgentID == nil && r.TeamID == nil {
		return nil, NewValidationError(map[string]string{"target": "must reference an agent or a team"})
	}
	if strings.TrimSpace(r.Prompt) == "" {
		return nil, NewValidationError(map[string]string{"prompt": "can't be blank"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.ID = ensureID(cp.ID)
	if cp.State == "" {
		cp.State = RunPending
	}
	cp.CreatedAt = time.Now()
	s.runs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, params ListRunsParams) ([]*Run, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		if params.AgentID != nil && (r.AgentID == nil || *r.AgentID != *params.AgentID) {
			continue
		}
		if params.TeamID != nil && (r.TeamID == nil || *r.TeamID != *params.TeamID) {
			continue
		}
		if params.SessionID != nil && (r.SessionID == nil || *r.SessionID != *params.SessionID) {
			continue
		}
		if params.State != "" && r.State != params.State {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	if params.Offset > 0 {
		if params.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[params.Offset:]
	}
	if params.Limit > 0 && len(matched) > params.Limit {
		matched = matched[:params.Limit]
	}
	return matched, total, nil
}

func (s *MemoryStore) ClaimPendingRuns(ctx context.Context, claimant string, limit int) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := make([]*Run, 0)
	for _, r := range s.runs {
		if r.State == RunPending {
			pending = append(pending, r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	now := time.Now()
	out := make([]*Run, 0, len(pending))
	for _, r := range pending {
		r.State = RunRunning
		r.ClaimedBy = claimant
		r.StartedAt = &now
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, id uuid.UUID, state RunState, output, errMsg string, usage UsageTotals) error {
	if !state.Final() {
		return ErrRunFinalized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.State.Final() {
		return ErrRunFinalized
	}
	now := time.Now()
	r.State = state
	r.Output = output
	r.Error = errMsg
	r.InputTokens = usage.InputTokens
	r.OutputTokens = usage.OutputTokens
	r.CachedTokens = usage.CachedTokens
	r.FinishedAt = &now
	return nil
}

func (s *MemoryStore) CancelRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if r.State.Final() {
		return ErrRunFinalized
	}
	now := time.Now()
	r.State = RunCancelled
	r.FinishedAt = &now
	return nil
}

// ============================================================================
// Schedules
// ============================================================================

func validateSchedule(sc *Schedule) error {
	fields := make(map[string]string)
	if strings.TrimSpace(sc.Name) == "" {
		fields["name"] = "can't be blank"
	}
	if strings.TrimSpace(sc.CronExpr) == "" {
		fields["cron"] = "can't be blank"
	}
	if sc.AgentID == nil && sc.TeamID == nil {
		fields["target"] = "must reference an agent or a team"
	}
	if len(fields) > 0 {
		return NewValidationError(fields)
	}
	return nil
}

func (s *MemoryStore) CreateSchedule(ctx context.Context, sc *Schedule) (*Schedule, error) {
	if err := validateSchedule(sc); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sc
	cp.ID = ensureID(cp.ID)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.schedules[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		cp := *sc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpdateSchedule(ctx context.Context, sc *Schedule) (*Schedule, error) {
	if err := validateSchedule(sc); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.schedules[sc.ID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.schedules[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

func (s *MemoryStore) SetScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sc.Enabled = enabled
	sc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) MarkScheduleFired(ctx context.Context, id uuid.UUID, firedAt, nextAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return ErrNotFound
	}
	sc.LastFiredAt = &firedAt
	sc.NextFireAt = nextAt
	sc.UpdatedAt = time.Now()
	return nil
}

// ============================================================================
// Chat
// ============================================================================

func (s *MemoryStore) CreateChatSession(ctx context.Context, cs *ChatSession) (*ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cs
	cp.ID = ensureID(cp.ID)
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetChatSession(ctx context.Context, id uuid.UUID) (*ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cs
	return &cp, nil
}

func (s *MemoryStore) ListChatSessions(ctx context.Context, userID uuid.UUID, limit int) ([]*ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ChatSession, 0)
	for _, cs := range s.sessions {
		if cs.UserID == userID {
			cp := *cs
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateChatMessage(ctx context.Context, m *ChatMessage) (*ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[m.SessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	cp.ID = ensureID(cp.ID)
	cp.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	cp.CreatedAt = time.Now()
	s.messages[m.SessionID] = append(s.messages[m.SessionID], &cp)
	cs.UpdatedAt = cp.CreatedAt
	out := cp
	return &out, nil
}

func (s *MemoryStore) ListChatMessages(ctx context.Context, sessionID uuid.UUID, limit int) ([]*ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.messages[sessionID]
	out := make([]*ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		cp.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ============================================================================
// Sources
// ============================================================================

func (s *MemoryStore) CreateSource(ctx context.Context, src *Source) (*Source, error) {
	if strings.TrimSpace(src.Name) == "" {
		return nil, NewValidationError(map[string]string{"name": "can't be blank"})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *src
	cp.ID = ensureID(cp.ID)
	cp.Builtin = false
	cp.CreatedAt = time.Now()
	s.sources[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryStore) GetSource(ctx context.Context, id uuid.UUID) (*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *src
	return &cp, nil
}

func (s *MemoryStore) ListSources(ctx context.Context) ([]*Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Source, 0, len(s.sources))
	for _, src := range s.sources {
		cp := *src
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteSource(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return ErrNotFound
	}
	delete(s.sources, id)
	delete(s.documents, id)
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, sourceID uuid.UUID) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.documents[sourceID]
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// AddDocument inserts a document for tests and demo seeding.
func (s *MemoryStore) AddDocument(sourceID uuid.UUID, d *Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.ID = ensureID(cp.ID)
	cp.SourceID = sourceID
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.documents[sourceID] = append(s.documents[sourceID], &cp)
	if src, ok := s.sources[sourceID]; ok {
		src.DocumentCount = len(s.documents[sourceID])
	}
}

func (s *MemoryStore) GetPipelineStatus(ctx context.Context) (*PipelineStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := &PipelineStatus{}
	today := time.Now().Truncate(24 * time.Hour)
	for _, docs := range s.documents {
		for _, d := range docs {
			switch d.Status {
			case "queued":
				status.Queued++
			case "processing":
				status.Processing++
			case "failed":
				status.Failed++
				if len(status.RecentFailures) < 10 {
					status.RecentFailures = append(status.RecentFailures, PipelineFailure{
						DocumentID: d.ID,
						Title:      d.Title,
						Error:      "ingest failed",
						At:         d.UpdatedAt,
					})
				}
			case "done":
				if !d.UpdatedAt.Before(today) {
					status.DoneToday++
				}
			}
		}
	}
	return status, nil
}

// ============================================================================
// Settings
// ============================================================================

func (s *MemoryStore) GetSettings(ctx context.Context) (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := s.settings
	return &cp, nil
}

func (s *MemoryStore) SetOpenRegistration(ctx context.Context, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.OpenRegistration = open
	s.settings.UpdatedAt = time.Now()
	return nil
}
