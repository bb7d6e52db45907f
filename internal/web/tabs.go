package web

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/config"
	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
)

// View data per tab. Providers are scrubbed before they reach a
// template: the api key is write-only and never round-trips.

type ServersView struct {
	Snapshot config.Snapshot
	Catalog  []service.CatalogEntry
}

type UsersView struct {
	Users       []*store.User
	Invitations []*store.Invitation
	Settings    *store.Settings
}

type GroupsView struct {
	Groups  []*store.Group
	Members map[uuid.UUID][]*store.User
	// NonMembers lists, per group, the users who can still be added.
	NonMembers map[uuid.UUID][]*store.User
}

type ProvidersView struct {
	Providers []*store.Provider
}

type ModelsView struct {
	Models    []*store.Model
	Providers []*store.Provider
}

type AgentsView struct {
	Agents []*store.Agent
}

type AgentDetailView struct {
	Agent     *store.Agent
	Assigned  []service.CatalogEntry
	Available []service.CatalogEntry
	Models    []*store.Model
}

type TeamsView struct {
	Teams []*store.Team
}

type TeamDetailView struct {
	Team      *store.Team
	Members   []*store.Agent
	Available []*store.Agent
}

type RunsView struct {
	Runs       []*store.Run
	Total      int
	TargetName map[uuid.UUID]string
}

type RunShowView struct {
	Run        *store.Run
	TargetName string
}

type SchedulesView struct {
	Schedules []*store.Schedule
	Agents    []*store.Agent
	Teams     []*store.Team
}

type ProfileView struct {
	User *store.User
}

func (app *App) tabSpecs() map[Tab]tabSpec {
	return map[Tab]tabSpec{
		TabUsage:     {adminOnly: true, load: loadUsage},
		TabServers:   {adminOnly: true, load: loadServers},
		TabUsers:     {adminOnly: true, load: loadUsers},
		TabGroups:    {adminOnly: true, load: loadGroups},
		TabProviders: {adminOnly: true, load: loadProviders},
		TabModels:    {adminOnly: true, load: loadModels},

		TabAgents:    {load: loadAgents},
		TabAgentNew:  {load: loadAgentNew},
		TabAgentShow: {load: loadAgentDetail},
		TabAgentEdit: {load: loadAgentDetail},
		TabTeams:     {load: loadTeams},
		TabTeamNew:   {load: loadTeamNew},
		TabTeamShow:  {load: loadTeamDetail},
		TabTeamEdit:  {load: loadTeamDetail},
		TabRuns:      {load: loadRuns},
		TabRunShow:   {load: loadRunShow},
		TabSchedules: {load: loadSchedules},

		TabProfile:  {load: loadProfile},
		TabPassword: {load: loadProfile},
	}
}

func loadUsage(ctx context.Context, app *App, p EnterParams, _ Principal) (any, error) {
	return app.svc.Usage(ctx, p.Period, timeNow())
}

func loadServers(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	catalog, err := app.svc.ToolServerCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return &ServersView{Snapshot: app.opts.Snapshot, Catalog: catalog}, nil
}

func loadUsers(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	users, err := app.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	invitations, err := app.store.ListInvitations(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := app.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return &UsersView{Users: users, Invitations: invitations, Settings: settings}, nil
}

func loadGroups(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	groups, err := app.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	users, err := app.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	view := &GroupsView{
		Groups:     groups,
		Members:    make(map[uuid.UUID][]*store.User, len(groups)),
		NonMembers: make(map[uuid.UUID][]*store.User, len(groups)),
	}
	for _, g := range groups {
		members, err := app.store.ListGroupMembers(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		view.Members[g.ID] = members
		in := make(map[uuid.UUID]bool, len(members))
		for _, m := range members {
			in[m.ID] = true
		}
		for _, u := range users {
			if !in[u.ID] {
				view.NonMembers[g.ID] = append(view.NonMembers[g.ID], u)
			}
		}
	}
	return view, nil
}

func loadProviders(ctx context.Context, app *App, _ EnterParams, principal Principal) (any, error) {
	providers, err := app.store.ListProviders(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return &ProvidersView{Providers: scrubProviders(providers)}, nil
}

func loadModels(ctx context.Context, app *App, _ EnterParams, principal Principal) (any, error) {
	models, err := app.store.ListModels(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	providers, err := app.store.ListProviders(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return &ModelsView{Models: models, Providers: scrubProviders(providers)}, nil
}

func loadAgents(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	agents, err := app.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	return &AgentsView{Agents: agents}, nil
}

func loadAgentNew(ctx context.Context, app *App, _ EnterParams, principal Principal) (any, error) {
	models, err := app.store.ListModels(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return &AgentDetailView{Models: models}, nil
}

func loadAgentDetail(ctx context.Context, app *App, p EnterParams, principal Principal) (any, error) {
	agent, err := app.store.GetAgent(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	catalog, err := app.svc.ToolServerCatalog(ctx)
	if err != nil {
		return nil, err
	}
	byRef := make(map[store.Ref]service.CatalogEntry, len(catalog))
	for _, e := range catalog {
		byRef[e.Ref] = e
	}
	assigned := make([]service.CatalogEntry, 0, len(agent.ToolServers))
	for _, ref := range agent.ToolServers {
		if e, ok := byRef[ref]; ok {
			assigned = append(assigned, e)
		} else {
			// Dangling ref to a deleted server: show it so it can be removed.
			assigned = append(assigned, service.CatalogEntry{Ref: ref, Name: fmt.Sprintf("(missing %s)", ref)})
		}
	}
	available, err := app.svc.AvailableToolServers(ctx, agent.ToolServers)
	if err != nil {
		return nil, err
	}
	models, err := app.store.ListModels(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return &AgentDetailView{Agent: agent, Assigned: assigned, Available: available, Models: models}, nil
}

func loadTeams(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	teams, err := app.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return &TeamsView{Teams: teams}, nil
}

func loadTeamNew(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	return &TeamDetailView{}, nil
}

func loadTeamDetail(ctx context.Context, app *App, p EnterParams, _ Principal) (any, error) {
	team, err := app.store.GetTeam(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	members := make([]*store.Agent, 0, len(team.AgentIDs))
	for _, id := range team.AgentIDs {
		a, err := app.store.GetAgent(ctx, id)
		if err != nil {
			continue
		}
		members = append(members, a)
	}
	available, err := app.svc.AvailableAgents(ctx, team.AgentIDs)
	if err != nil {
		return nil, err
	}
	return &TeamDetailView{Team: team, Members: members, Available: available}, nil
}

func loadRuns(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	runs, total, err := app.store.ListRuns(ctx, store.ListRunsParams{Limit: app.opts.PageSize})
	if err != nil {
		return nil, err
	}
	view := &RunsView{Runs: runs, Total: total, TargetName: make(map[uuid.UUID]string)}
	for _, r := range runs {
		view.TargetName[r.ID] = app.runTargetName(ctx, r)
	}
	return view, nil
}

func loadRunShow(ctx context.Context, app *App, p EnterParams, _ Principal) (any, error) {
	run, err := app.store.GetRun(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &RunShowView{Run: run, TargetName: app.runTargetName(ctx, run)}, nil
}

func (app *App) runTargetName(ctx context.Context, r *store.Run) string {
	if r.AgentID != nil {
		if a, err := app.store.GetAgent(ctx, *r.AgentID); err == nil {
			return a.Name
		}
	}
	if r.TeamID != nil {
		if t, err := app.store.GetTeam(ctx, *r.TeamID); err == nil {
			return t.Name
		}
	}
	return "Unknown"
}

func loadSchedules(ctx context.Context, app *App, _ EnterParams, _ Principal) (any, error) {
	schedules, err := app.store.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := app.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	teams, err := app.store.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	return &SchedulesView{Schedules: schedules, Agents: agents, Teams: teams}, nil
}

func loadProfile(ctx context.Context, app *App, _ EnterParams, principal Principal) (any, error) {
	user, err := app.store.GetUser(ctx, principal.ID)
	if err != nil {
		return nil, err
	}
	return &ProfileView{User: user}, nil
}

// scrubProviders blanks the write-only api key on copies so it can
// never reach a template or form echo.
func scrubProviders(providers []*store.Provider) []*store.Provider {
	out := make([]*store.Provider, len(providers))
	for i, p := range providers {
		cp := *p
		cp.APIKey = ""
		out[i] = &cp
	}
	return out
}
