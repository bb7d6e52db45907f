package web

import (
	"context"
	"errors"
	"net/url"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// eventContext carries everything an event handler needs.
type eventContext struct {
	app       *App
	state     *PanelState
	principal Principal
	form      url.Values
}

func (ec *eventContext) id(field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(ec.form.Get(field))
	return id, err == nil
}

type eventHandler func(ctx context.Context, ec *eventContext) error

// Dispatch routes one panel event by name. Unknown events are logged
// and ignored; the session state is never corrupted by bad input.
// Handler errors surface as error notices, never as failed responses.
func (app *App) Dispatch(ctx context.Context, state *PanelState, principal Principal, name string, form url.Values) {
	handler, ok := app.events[name]
	if !ok {
		app.log.Warn("unknown panel event", "event", name, "user_id", principal.ID)
		return
	}
	ec := &eventContext{app: app, state: state, principal: principal, form: form}
	if err := handler(ctx, ec); err != nil {
		app.notifyError(state, err)
	}
}

// notifyError maps store errors onto user-facing notices.
func (app *App) notifyError(state *PanelState, err error) {
	switch {
	case errors.Is(err, store.ErrInvitationUsed):
		state.SetNotice(NoticeError, "Invitation was already used and can't be revoked")
	case errors.Is(err, store.ErrConflict):
		state.SetNotice(NoticeError, "Blocked by dependent records: %v", err)
	case errors.Is(err, store.ErrNotFound):
		state.SetNotice(NoticeError, "Record no longer exists")
	default:
		if ve, ok := store.IsValidation(err); ok {
			state.SetNotice(NoticeError, "%s", ve.Error())
			return
		}
		state.SetNotice(NoticeError, "Operation failed: %v", err)
	}
}

// requireAdmin wraps privileged handlers: a non-admin caller is a
// silent no-op, no notice, no state change.
func requireAdmin(h eventHandler) eventHandler {
	return func(ctx context.Context, ec *eventContext) error {
		user, err := ec.app.store.GetUser(ctx, ec.principal.ID)
		if err != nil || !user.IsAdmin {
			ec.app.log.Warn("privileged event denied", "user_id", ec.principal.ID)
			return nil
		}
		return h(ctx, ec)
	}
}

// errDeleteDeclined signals that a delete callback refused the
// operation and already set its own notice.
var errDeleteDeclined = errors.New("delete declined")

// confirmedDelete implements the two-step delete contract for one
// entity kind. requestDelete records the pending id; confirm performs
// the delete only when the submitted id matches it; cancel clears it
// and is idempotent.
func confirmedDelete(kind EntityKind, del func(ctx context.Context, ec *eventContext, id uuid.UUID) error) (request, confirm, cancel eventHandler) {
	request = func(ctx context.Context, ec *eventContext) error {
		id, ok := ec.id("id")
		if !ok {
			return nil
		}
		ec.state.SetConfirm(&ConfirmPending{Kind: kind, ID: id})
		return nil
	}
	confirm = func(ctx context.Context, ec *eventContext) error {
		pending := ec.state.Confirm()
		id, ok := ec.id("id")
		if !ok || pending == nil || pending.Kind != kind || pending.ID != id {
			return nil
		}
		ec.state.SetConfirm(nil)
		if err := del(ctx, ec, id); err != nil {
			if errors.Is(err, errDeleteDeclined) {
				return nil
			}
			return err
		}
		ec.state.SetNotice(NoticeSuccess, "Deleted")
		return nil
	}
	cancel = func(ctx context.Context, ec *eventContext) error {
		ec.state.SetConfirm(nil)
		return nil
	}
	return request, confirm, cancel
}

// editFailure keeps the submitted values (and field errors, when the
// failure was a validation error) in the open form and raises the
// notice.
func editFailure(ec *eventContext, kind EntityKind, isNew bool, id uuid.UUID, err error) {
	editing := &Editing{New: isNew, ID: id, Values: formValues(ec.form)}
	if ve, ok := store.IsValidation(err); ok {
		editing.Errors = ve.Fields
	}
	ec.state.SetEditing(kind, editing)
	ec.app.notifyError(ec.state, err)
}

// editSuccess closes the form and raises a success notice.
func editSuccess(ec *eventContext, kind EntityKind, message string) {
	ec.state.ClearEditing(kind)
	ec.state.SetNotice(NoticeSuccess, "%s", message)
}
