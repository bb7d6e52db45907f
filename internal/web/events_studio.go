package web

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/scheduler"
	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
)

// Studio panel events: agents, teams, runs, schedules, and the chat
// send path share this table.

func agentSave(ctx context.Context, ec *eventContext) error {
	id, isNew := ec.id("id")
	isNew = !isNew

	modelID, _ := ec.id("model_id")
	a := &store.Agent{
		ID:           id,
		OwnerID:      ec.principal.ID,
		Name:         ec.form.Get("name"),
		Description:  ec.form.Get("description"),
		SystemPrompt: ec.form.Get("system_prompt"),
		ModelID:      modelID,
		MaxTokens:    ParseOptionalInt(ec.form.Get("max_tokens")),
		Temperature:  ParseOptionalFloat(ec.form.Get("temperature")),
	}

	var err error
	if isNew {
		_, err = ec.app.store.CreateAgent(ctx, a)
	} else {
		prev, getErr := ec.app.store.GetAgent(ctx, id)
		if getErr != nil {
			return getErr
		}
		a.ToolServers = prev.ToolServers
		_, err = ec.app.store.UpdateAgent(ctx, a)
	}
	if err != nil {
		editFailure(ec, KindAgent, isNew, id, err)
		return nil
	}
	editSuccess(ec, KindAgent, "Agent saved")
	return nil
}

// agentAddTool assigns a catalog entry by its tagged ref. The
// availability set is recomputed on the next load, so an entry can
// only move between the two lists, never appear in both.
func agentAddTool(ctx context.Context, ec *eventContext) error {
	agentID, ok := ec.id("agent_id")
	if !ok {
		return nil
	}
	ref, err := store.ParseRef(ec.form.Get("ref"))
	if err != nil {
		ec.state.SetNotice(NoticeError, "Unrecognized tool server reference")
		return nil
	}
	if _, err := ec.app.svc.ResolveToolServer(ctx, ref); err != nil {
		return err
	}
	agent, err := ec.app.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if slices.Contains(agent.ToolServers, ref) {
		return nil
	}
	agent.ToolServers = append(agent.ToolServers, ref)
	_, err = ec.app.store.UpdateAgent(ctx, agent)
	return err
}

func agentRemoveTool(ctx context.Context, ec *eventContext) error {
	agentID, ok := ec.id("agent_id")
	if !ok {
		return nil
	}
	ref, err := store.ParseRef(ec.form.Get("ref"))
	if err != nil {
		return nil
	}
	agent, err := ec.app.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	agent.ToolServers = slices.DeleteFunc(agent.ToolServers, func(r store.Ref) bool { return r == ref })
	_, err = ec.app.store.UpdateAgent(ctx, agent)
	return err
}

func teamSave(ctx context.Context, ec *eventContext) error {
	id, isNew := ec.id("id")
	isNew = !isNew

	t := &store.Team{
		ID:          id,
		Name:        ec.form.Get("name"),
		Description: ec.form.Get("description"),
	}

	var err error
	if isNew {
		_, err = ec.app.store.CreateTeam(ctx, t)
	} else {
		prev, getErr := ec.app.store.GetTeam(ctx, id)
		if getErr != nil {
			return getErr
		}
		t.AgentIDs = prev.AgentIDs
		_, err = ec.app.store.UpdateTeam(ctx, t)
	}
	if err != nil {
		editFailure(ec, KindTeam, isNew, id, err)
		return nil
	}
	editSuccess(ec, KindTeam, "Team saved")
	return nil
}

func teamAddAgent(ctx context.Context, ec *eventContext) error {
	teamID, ok1 := ec.id("team_id")
	agentID, ok2 := ec.id("agent_id")
	if !ok1 || !ok2 {
		return nil
	}
	if _, err := ec.app.store.GetAgent(ctx, agentID); err != nil {
		return err
	}
	team, err := ec.app.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if slices.Contains(team.AgentIDs, agentID) {
		return nil
	}
	team.AgentIDs = append(team.AgentIDs, agentID)
	_, err = ec.app.store.UpdateTeam(ctx, team)
	return err
}

func teamRemoveAgent(ctx context.Context, ec *eventContext) error {
	teamID, ok1 := ec.id("team_id")
	agentID, ok2 := ec.id("agent_id")
	if !ok1 || !ok2 {
		return nil
	}
	team, err := ec.app.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	team.AgentIDs = slices.DeleteFunc(team.AgentIDs, func(id uuid.UUID) bool { return id == agentID })
	_, err = ec.app.store.UpdateTeam(ctx, team)
	return err
}

func runStart(ctx context.Context, ec *eventContext) error {
	params := service.StartRunParams{
		UserID: ec.principal.ID,
		Prompt: ec.form.Get("prompt"),
	}
	if id, ok := ec.id("agent_id"); ok {
		params.AgentID = &id
	}
	if id, ok := ec.id("team_id"); ok {
		params.TeamID = &id
	}
	if _, err := ec.app.svc.StartRun(ctx, params); err != nil {
		ec.app.notifyError(ec.state, err)
		return nil
	}
	ec.app.nudgeRunner()
	ec.state.SetNotice(NoticeSuccess, "Run queued")
	return nil
}

func runCancel(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	if err := ec.app.svc.CancelRun(ctx, id); err != nil {
		return err
	}
	ec.state.SetNotice(NoticeSuccess, "Run cancelled")
	return nil
}

func runRerun(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	if _, err := ec.app.svc.RerunRun(ctx, id, ec.principal.ID); err != nil {
		return err
	}
	ec.app.nudgeRunner()
	ec.state.SetNotice(NoticeSuccess, "Run queued")
	return nil
}

func scheduleEdit(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	sched, err := ec.app.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	values := map[string]string{
		"name":    sched.Name,
		"cron":    sched.CronExpr,
		"prompt":  sched.Prompt,
		"enabled": boolField(sched.Enabled),
	}
	if sched.AgentID != nil {
		values["agent_id"] = sched.AgentID.String()
	}
	if sched.TeamID != nil {
		values["team_id"] = sched.TeamID.String()
	}
	ec.state.SetEditing(KindSchedule, &Editing{ID: id, Values: values})
	return nil
}

func scheduleCancel(ctx context.Context, ec *eventContext) error {
	ec.state.ClearEditing(KindSchedule)
	return nil
}

func scheduleSave(ctx context.Context, ec *eventContext) error {
	id, isNew := ec.id("id")
	isNew = !isNew

	expr := ec.form.Get("cron")
	if err := scheduler.ValidateExpr(expr); err != nil {
		editFailure(ec, KindSchedule, isNew, id, store.NewValidationError(map[string]string{"cron": "is not a valid cron expression"}))
		return nil
	}

	s := &store.Schedule{
		ID:       id,
		Name:     ec.form.Get("name"),
		CronExpr: expr,
		Prompt:   ec.form.Get("prompt"),
		Enabled:  ec.form.Get("enabled") == "on",
	}
	if aid, ok := ec.id("agent_id"); ok {
		s.AgentID = &aid
	}
	if tid, ok := ec.id("team_id"); ok {
		s.TeamID = &tid
	}

	var err error
	if isNew {
		s.NextFireAt, err = scheduler.NextFire(expr, timeNow())
		if err != nil {
			return err
		}
		_, err = ec.app.store.CreateSchedule(ctx, s)
	} else {
		prev, getErr := ec.app.store.GetSchedule(ctx, id)
		if getErr != nil {
			return getErr
		}
		s.LastFiredAt = prev.LastFiredAt
		s.NextFireAt = prev.NextFireAt
		// A changed expression or a re-enable fires from now, never
		// from the stale slot.
		if s.Enabled && (expr != prev.CronExpr || !prev.Enabled) {
			s.NextFireAt, err = scheduler.NextFire(expr, timeNow())
			if err != nil {
				return err
			}
		}
		_, err = ec.app.store.UpdateSchedule(ctx, s)
	}
	if err != nil {
		editFailure(ec, KindSchedule, isNew, id, err)
		return nil
	}
	editSuccess(ec, KindSchedule, "Schedule saved")
	return nil
}

func scheduleToggle(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	sched, err := ec.app.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if !sched.Enabled {
		// Re-enable relative to now so a long-disabled schedule does
		// not fire immediately for every missed slot.
		next, err := scheduler.NextFire(sched.CronExpr, timeNow())
		if err != nil {
			return err
		}
		sched.Enabled = true
		sched.NextFireAt = next
		_, err = ec.app.store.UpdateSchedule(ctx, sched)
		return err
	}
	return ec.app.store.SetScheduleEnabled(ctx, id, false)
}

func (app *App) nudgeRunner() {
	if app.opts.Trigger != nil {
		app.opts.Trigger.Trigger()
	}
}
