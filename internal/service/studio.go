package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// builtinToolServers are the fixed tool servers every deployment
// ships with. They are synthesized here, never persisted.
var builtinToolServers = []CatalogEntry{
	{Ref: store.BuiltinRef("web_search"), Name: "Web search", Kind: "builtin"},
	{Ref: store.BuiltinRef("code_interpreter"), Name: "Code interpreter", Kind: "builtin"},
	{Ref: store.BuiltinRef("file_store"), Name: "File store", Kind: "builtin"},
}

// CatalogEntry is one selectable tool server, built-in or persisted.
type CatalogEntry struct {
	Ref  store.Ref
	Name string
	Kind string
	URL  string
}

// ToolServerCatalog returns all selectable tool servers: the built-in
// set followed by persisted servers in store order.
func (s *Service) ToolServerCatalog(ctx context.Context) ([]CatalogEntry, error) {
	entries := make([]CatalogEntry, len(builtinToolServers))
	copy(entries, builtinToolServers)

	persisted, err := s.store.ListToolServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tool servers: %w", err)
	}
	for _, ts := range persisted {
		entries = append(entries, CatalogEntry{
			Ref:  store.PersistedRef(ts.ID),
			Name: ts.Name,
			Kind: ts.Kind,
			URL:  ts.URL,
		})
	}
	return entries, nil
}

// ResolveToolServer resolves a ref against the catalog. Built-in refs
// with unknown keys and persisted refs to deleted servers both return
// store.ErrNotFound.
func (s *Service) ResolveToolServer(ctx context.Context, ref store.Ref) (*store.ToolServer, error) {
	if ref.Kind == store.RefBuiltin {
		for _, e := range builtinToolServers {
			if e.Ref.ID == ref.ID {
				return &store.ToolServer{Name: e.Name, Kind: e.Kind, Builtin: true}, nil
			}
		}
		return nil, fmt.Errorf("builtin tool server %q: %w", ref.ID, store.ErrNotFound)
	}
	id, err := ref.UUID()
	if err != nil {
		return nil, err
	}
	return s.store.GetToolServer(ctx, id)
}

// AvailableToolServers returns the catalog entries not yet assigned to
// the agent, preserving catalog order.
func (s *Service) AvailableToolServers(ctx context.Context, assigned []store.Ref) ([]CatalogEntry, error) {
	catalog, err := s.ToolServerCatalog(ctx)
	if err != nil {
		return nil, err
	}
	taken := make(map[store.Ref]bool, len(assigned))
	for _, r := range assigned {
		taken[r] = true
	}
	available := make([]CatalogEntry, 0, len(catalog))
	for _, e := range catalog {
		if !taken[e.Ref] {
			available = append(available, e)
		}
	}
	return available, nil
}

// AvailableAgents returns agents not yet part of the team, in store
// order.
func (s *Service) AvailableAgents(ctx context.Context, memberIDs []uuid.UUID) ([]*store.Agent, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	taken := make(map[uuid.UUID]bool, len(memberIDs))
	for _, id := range memberIDs {
		taken[id] = true
	}
	available := make([]*store.Agent, 0, len(agents))
	for _, a := range agents {
		if !taken[a.ID] {
			available = append(available, a)
		}
	}
	return available, nil
}
