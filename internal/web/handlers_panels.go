package web

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
)

// adminTabs and studioTabs map which tabs belong to which panel page,
// so navigation within each page stays on it.
var adminTabs = map[Tab]bool{
	TabUsage: true, TabServers: true, TabUsers: true,
	TabGroups: true, TabProviders: true, TabModels: true,
}

func (app *App) handleAdminPanel(w http.ResponseWriter, r *http.Request) {
	app.renderPanel(w, r, "admin.html", TabUsage, adminTabs)
}

func (app *App) handleStudioPanel(w http.ResponseWriter, r *http.Request) {
	app.renderPanel(w, r, "studio.html", TabAgents, nil)
}

// renderPanel enters the requested tab and renders the panel page.
// A redirect result from Enter becomes an HTTP redirect to the
// default tab.
func (app *App) renderPanel(w http.ResponseWriter, r *http.Request, page string, fallback Tab, allowed map[Tab]bool) {
	sess := requestSession(r)
	principal := requestPrincipal(r)

	tab, ok := ParseTab(r.URL.Query().Get("tab"))
	if !ok || (allowed != nil && !allowed[tab]) {
		tab = fallback
	}
	id, _ := uuid.Parse(r.URL.Query().Get("id"))

	result, err := app.Enter(r.Context(), sess.Panel, EnterParams{
		Tab:    tab,
		ID:     id,
		Period: service.ParsePeriod(r.URL.Query().Get("period")),
	}, principal)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The record vanished: drop back to the list view.
			sess.Panel.SetNotice(NoticeError, "Record no longer exists")
			http.Redirect(w, r, panelPath(fallback), http.StatusSeeOther)
			return
		}
		app.log.Error("load tab", "tab", tab, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if result.Redirect != "" {
		http.Redirect(w, r, panelPath(result.Redirect), http.StatusSeeOther)
		return
	}

	data := &PageData{
		Title:           "Atelier",
		ActiveTab:       result.Tab,
		Principal:       principal,
		Notice:          sess.Panel.TakeNotice(),
		Confirm:         sess.Panel.Confirm(),
		Editing:         app.editingSnapshot(sess.Panel),
		RefreshInterval: int(app.opts.RefreshInterval.Seconds()),
		Data:            result.Data,
	}
	if err := app.renderer.render(w, page, data); err != nil {
		app.log.Error("render panel", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// editingSnapshot flattens open forms into a string-keyed map the
// templates can index.
func (app *App) editingSnapshot(state *PanelState) map[string]*Editing {
	snapshot := make(map[string]*Editing)
	for _, kind := range []EntityKind{
		KindUser, KindInvitation, KindGroup, KindProvider, KindModel,
		KindToolServer, KindAgent, KindTeam, KindSchedule, KindSource,
	} {
		if e := state.Editing(kind); e != nil {
			snapshot[string(kind)] = e
		}
	}
	return snapshot
}

func (app *App) handleAdminEvent(w http.ResponseWriter, r *http.Request) {
	app.handlePanelEvent(w, r, "/admin")
}

func (app *App) handleStudioEvent(w http.ResponseWriter, r *http.Request) {
	app.handlePanelEvent(w, r, "/studio")
}

// handlePanelEvent dispatches one event then redirects back to the
// originating tab (post/redirect/get).
func (app *App) handlePanelEvent(w http.ResponseWriter, r *http.Request, panel string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	sess := requestSession(r)
	principal := requestPrincipal(r)

	// A clicked submit button named "event" serializes after the form's
	// hidden default, so the last value wins.
	var name string
	if events := r.PostForm["event"]; len(events) > 0 {
		name = events[len(events)-1]
	}
	app.Dispatch(r.Context(), sess.Panel, principal, name, r.PostForm)

	back := url.Values{}
	if tab := r.PostForm.Get("tab"); tab != "" {
		back.Set("tab", tab)
	}
	if id := r.PostForm.Get("view_id"); id != "" {
		back.Set("id", id)
	}
	target := panel
	if len(back) > 0 {
		target += "?" + back.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func panelPath(tab Tab) string {
	if adminTabs[tab] {
		return "/admin?tab=" + string(tab)
	}
	return "/studio?tab=" + string(tab)
}

func (app *App) handleProfile(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)
	principal := requestPrincipal(r)
	result, err := app.Enter(r.Context(), sess.Panel, EnterParams{Tab: TabProfile}, principal)
	if err != nil {
		app.log.Error("load profile", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data := &PageData{
		Title:     "Profile",
		ActiveTab: TabProfile,
		Principal: principal,
		Notice:    sess.Panel.TakeNotice(),
		Data:      result.Data,
	}
	if err := app.renderer.render(w, "profile.html", data); err != nil {
		app.log.Error("render profile", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (app *App) handleProfilePassword(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)
	principal := requestPrincipal(r)

	password := r.FormValue("password")
	if len(password) < 8 {
		sess.Panel.SetNotice(NoticeError, "password must be at least 8 characters")
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err == nil {
		err = app.store.SetUserPassword(r.Context(), principal.ID, string(hash), false)
	}
	if err != nil {
		sess.Panel.SetNotice(NoticeError, "Could not update password")
	} else {
		sess.Panel.SetNotice(NoticeSuccess, "Password updated")
	}
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}
