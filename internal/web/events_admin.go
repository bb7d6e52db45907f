package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tessellate-ai/atelier/internal/store"
)

// Admin panel events. All of them are wrapped in requireAdmin by the
// event table.

func userCreate(ctx context.Context, ec *eventContext) error {
	password := ec.form.Get("password")
	if len(password) < 8 {
		err := store.NewValidationError(map[string]string{"password": "must be at least 8 characters"})
		editFailure(ec, KindUser, true, uuid.Nil, err)
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = ec.app.store.CreateUser(ctx, &store.User{
		Email:        ec.form.Get("email"),
		Name:         ec.form.Get("name"),
		PasswordHash: string(hash),
		IsAdmin:      ec.form.Get("is_admin") == "on",
	})
	if err != nil {
		editFailure(ec, KindUser, true, uuid.Nil, err)
		return nil
	}
	editSuccess(ec, KindUser, "User created")
	return nil
}

func userSetAdmin(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	// An admin can't demote themselves: the panel would lock them out
	// mid-session.
	if id == ec.principal.ID && ec.form.Get("admin") != "true" {
		ec.state.SetNotice(NoticeError, "You can't demote yourself")
		return nil
	}
	if err := ec.app.store.SetUserAdmin(ctx, id, ec.form.Get("admin") == "true"); err != nil {
		return err
	}
	ec.state.SetNotice(NoticeSuccess, "Role updated")
	return nil
}

func userSetPassword(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	password := ec.form.Get("password")
	if len(password) < 8 {
		ec.state.SetNotice(NoticeError, "password must be at least 8 characters")
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := ec.app.store.SetUserPassword(ctx, id, string(hash), true); err != nil {
		return err
	}
	ec.state.SetNotice(NoticeSuccess, "Temporary password set")
	return nil
}

func invitationCreate(ctx context.Context, ec *eventContext) error {
	token := randomToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	inv, err := ec.app.store.CreateInvitation(ctx, &store.Invitation{
		Email:     ec.form.Get("email"),
		TokenHash: string(hash),
		CreatedBy: ec.principal.ID,
	})
	if err != nil {
		editFailure(ec, KindInvitation, true, uuid.Nil, err)
		return nil
	}
	// The cleartext token is shown exactly once.
	editSuccess(ec, KindInvitation, fmt.Sprintf("Invitation created. Token for %s: %s.%s", inv.Email, inv.ID, token))
	return nil
}

func invitationRevoke(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	if err := ec.app.store.RevokeInvitation(ctx, id); err != nil {
		return err
	}
	ec.state.SetNotice(NoticeSuccess, "Invitation revoked")
	return nil
}

func groupCreate(ctx context.Context, ec *eventContext) error {
	_, err := ec.app.store.CreateGroup(ctx, &store.Group{
		Name:        ec.form.Get("name"),
		Description: ec.form.Get("description"),
	})
	if err != nil {
		editFailure(ec, KindGroup, true, uuid.Nil, err)
		return nil
	}
	editSuccess(ec, KindGroup, "Group created")
	return nil
}

func groupAddMember(ctx context.Context, ec *eventContext) error {
	groupID, ok1 := ec.id("group_id")
	userID, ok2 := ec.id("user_id")
	if !ok1 || !ok2 {
		return nil
	}
	return ec.app.store.AddGroupMember(ctx, groupID, userID)
}

func groupRemoveMember(ctx context.Context, ec *eventContext) error {
	groupID, ok1 := ec.id("group_id")
	userID, ok2 := ec.id("user_id")
	if !ok1 || !ok2 {
		return nil
	}
	return ec.app.store.RemoveGroupMember(ctx, groupID, userID)
}

func providerNew(ctx context.Context, ec *eventContext) error {
	ec.state.SetEditing(KindProvider, &Editing{New: true, Values: map[string]string{}})
	return nil
}

func providerEdit(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	p, err := ec.app.store.GetProvider(ctx, id)
	if err != nil {
		return err
	}
	// api_key deliberately absent: the stored value never round-trips.
	ec.state.SetEditing(KindProvider, &Editing{ID: id, Values: map[string]string{
		"name":          p.Name,
		"kind":          string(p.Kind),
		"base_url":      p.BaseURL,
		"config":        encodeConfig(p.Config),
		"instance_wide": boolField(p.InstanceWide),
		"active":        boolField(p.Active),
	}})
	return nil
}

func providerCancel(ctx context.Context, ec *eventContext) error {
	ec.state.ClearEditing(KindProvider)
	return nil
}

func providerSave(ctx context.Context, ec *eventContext) error {
	id, isNew := ec.id("id")
	isNew = !isNew

	cfg, fieldErr := ParseConfigJSON(ec.form.Get("config"))
	if fieldErr != "" {
		editFailure(ec, KindProvider, isNew, id, store.NewValidationError(map[string]string{"config": fieldErr}))
		return nil
	}

	p := &store.Provider{
		ID:           id,
		OwnerID:      ec.principal.ID,
		Name:         ec.form.Get("name"),
		Kind:         store.ProviderKind(ec.form.Get("kind")),
		BaseURL:      ec.form.Get("base_url"),
		APIKey:       ec.form.Get("api_key"),
		Config:       cfg,
		InstanceWide: ec.form.Get("instance_wide") == "on",
		Active:       ec.form.Get("active") == "on",
	}

	var err error
	if isNew {
		_, err = ec.app.store.CreateProvider(ctx, p)
	} else {
		// Empty api_key on update keeps the stored key.
		_, err = ec.app.store.UpdateProvider(ctx, p)
	}
	if err != nil {
		editFailure(ec, KindProvider, isNew, id, err)
		return nil
	}
	editSuccess(ec, KindProvider, "Provider saved")
	return nil
}

func modelNew(ctx context.Context, ec *eventContext) error {
	ec.state.SetEditing(KindModel, &Editing{New: true, Values: map[string]string{}})
	return nil
}

func modelEdit(ctx context.Context, ec *eventContext) error {
	id, ok := ec.id("id")
	if !ok {
		return nil
	}
	m, err := ec.app.store.GetModel(ctx, id)
	if err != nil {
		return err
	}
	values := map[string]string{
		"name":           m.Name,
		"upstream_id":    m.UpstreamID,
		"provider_id":    m.ProviderID.String(),
		"context_window": fmt.Sprintf("%d", m.ContextWindow),
		"instance_wide":  boolField(m.InstanceWide),
		"active":         boolField(m.Active),
	}
	if m.InputPrice.Valid {
		values["input_price"] = m.InputPrice.Decimal.String()
	}
	if m.OutputPrice.Valid {
		values["output_price"] = m.OutputPrice.Decimal.String()
	}
	ec.state.SetEditing(KindModel, &Editing{ID: id, Values: values})
	return nil
}

func modelCancel(ctx context.Context, ec *eventContext) error {
	ec.state.ClearEditing(KindModel)
	return nil
}

func modelSave(ctx context.Context, ec *eventContext) error {
	id, isNew := ec.id("id")
	isNew = !isNew

	providerID, _ := ec.id("provider_id")
	contextWindow := 0
	if n := ParseOptionalInt(ec.form.Get("context_window")); n != nil {
		contextWindow = *n
	}
	m := &store.Model{
		ID:            id,
		ProviderID:    providerID,
		OwnerID:       ec.principal.ID,
		Name:          ec.form.Get("name"),
		UpstreamID:    ec.form.Get("upstream_id"),
		ContextWindow: contextWindow,
		InputPrice:    ParsePrice(ec.form.Get("input_price")),
		OutputPrice:   ParsePrice(ec.form.Get("output_price")),
		InstanceWide:  ec.form.Get("instance_wide") == "on",
		Active:        ec.form.Get("active") == "on",
	}

	var err error
	if isNew {
		_, err = ec.app.store.CreateModel(ctx, m)
	} else {
		_, err = ec.app.store.UpdateModel(ctx, m)
	}
	if err != nil {
		editFailure(ec, KindModel, isNew, id, err)
		return nil
	}
	editSuccess(ec, KindModel, "Model saved")
	return nil
}

func toolServerCreate(ctx context.Context, ec *eventContext) error {
	cfg, fieldErr := ParseConfigJSON(ec.form.Get("config"))
	if fieldErr != "" {
		editFailure(ec, KindToolServer, true, uuid.Nil, store.NewValidationError(map[string]string{"config": fieldErr}))
		return nil
	}
	_, err := ec.app.store.CreateToolServer(ctx, &store.ToolServer{
		Name:   ec.form.Get("name"),
		Kind:   ec.form.Get("kind"),
		URL:    ec.form.Get("url"),
		Config: cfg,
	})
	if err != nil {
		editFailure(ec, KindToolServer, true, uuid.Nil, err)
		return nil
	}
	editSuccess(ec, KindToolServer, "Tool server created")
	return nil
}

func settingsToggleRegistration(ctx context.Context, ec *eventContext) error {
	settings, err := ec.app.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if err := ec.app.store.SetOpenRegistration(ctx, !settings.OpenRegistration); err != nil {
		return err
	}
	if settings.OpenRegistration {
		ec.state.SetNotice(NoticeSuccess, "Open registration disabled")
	} else {
		ec.state.SetNotice(NoticeSuccess, "Open registration enabled")
	}
	return nil
}

func encodeConfig(cfg map[string]any) string {
	if len(cfg) == 0 {
		return ""
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

func boolField(b bool) string {
	if b {
		return "on"
	}
	return ""
}

func randomToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
