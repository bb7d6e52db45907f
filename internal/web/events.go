package web

import (
	"context"

	"github.com/google/uuid"
)

// eventTable is the closed name-to-handler map the dispatcher routes
// through. Admin-panel mutations are wrapped in requireAdmin.
func (app *App) eventTable() map[string]eventHandler {
	table := make(map[string]eventHandler)

	admin := func(name string, h eventHandler) { table[name] = requireAdmin(h) }
	open := func(name string, h eventHandler) { table[name] = h }

	admin("user_create", userCreate)
	admin("user_set_admin", userSetAdmin)
	admin("user_set_password", userSetPassword)
	admin("invitation_create", invitationCreate)
	admin("invitation_revoke", invitationRevoke)
	admin("group_create", groupCreate)
	admin("group_add_member", groupAddMember)
	admin("group_remove_member", groupRemoveMember)
	admin("provider_new", providerNew)
	admin("provider_edit", providerEdit)
	admin("provider_cancel", providerCancel)
	admin("provider_save", providerSave)
	admin("model_new", modelNew)
	admin("model_edit", modelEdit)
	admin("model_cancel", modelCancel)
	admin("model_save", modelSave)
	admin("tool_server_create", toolServerCreate)
	admin("settings_toggle_registration", settingsToggleRegistration)

	del, confirm, cancel := confirmedDelete(KindUser, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		if id == ec.principal.ID {
			ec.state.SetNotice(NoticeError, "You can't delete your own account")
			return errDeleteDeclined
		}
		return ec.app.store.DeleteUser(ctx, id)
	})
	admin("user_delete", del)
	admin("user_confirm_delete", confirm)
	admin("user_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindGroup, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteGroup(ctx, id)
	})
	admin("group_delete", del)
	admin("group_confirm_delete", confirm)
	admin("group_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindProvider, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteProvider(ctx, id)
	})
	admin("provider_delete", del)
	admin("provider_confirm_delete", confirm)
	admin("provider_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindModel, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteModel(ctx, id)
	})
	admin("model_delete", del)
	admin("model_confirm_delete", confirm)
	admin("model_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindToolServer, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteToolServer(ctx, id)
	})
	admin("tool_server_delete", del)
	admin("tool_server_confirm_delete", confirm)
	admin("tool_server_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindSource, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteSource(ctx, id)
	})
	admin("source_delete", del)
	admin("source_confirm_delete", confirm)
	admin("source_cancel_delete", cancel)

	open("agent_save", agentSave)
	open("agent_add_tool", agentAddTool)
	open("agent_remove_tool", agentRemoveTool)
	open("team_save", teamSave)
	open("team_add_agent", teamAddAgent)
	open("team_remove_agent", teamRemoveAgent)
	open("run_start", runStart)
	open("run_cancel", runCancel)
	open("run_rerun", runRerun)
	open("schedule_save", scheduleSave)
	open("schedule_edit", scheduleEdit)
	open("schedule_cancel", scheduleCancel)
	open("schedule_toggle", scheduleToggle)

	del, confirm, cancel = confirmedDelete(KindAgent, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteAgent(ctx, id)
	})
	open("agent_delete", del)
	open("agent_confirm_delete", confirm)
	open("agent_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindTeam, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteTeam(ctx, id)
	})
	open("team_delete", del)
	open("team_confirm_delete", confirm)
	open("team_cancel_delete", cancel)

	del, confirm, cancel = confirmedDelete(KindSchedule, func(ctx context.Context, ec *eventContext, id uuid.UUID) error {
		return ec.app.store.DeleteSchedule(ctx, id)
	})
	open("schedule_delete", del)
	open("schedule_confirm_delete", confirm)
	open("schedule_cancel_delete", cancel)

	return table
}
