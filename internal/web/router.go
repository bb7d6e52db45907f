package web

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey int

const (
	principalKey contextKey = iota
	sessionKey
)

// Router builds the full HTTP handler.
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	r.Get("/login", app.handleLoginPage)
	r.Post("/login", app.handleLogin)
	r.Post("/logout", app.handleLogout)
	r.Get("/register", app.handleRegisterPage)
	r.Post("/register", app.handleRegister)

	r.Group(func(r chi.Router) {
		r.Use(app.requireAuth)

		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, "/studio?tab=agents", http.StatusSeeOther)
		})

		r.Get("/admin", app.handleAdminPanel)
		r.Post("/admin/event", app.handleAdminEvent)
		r.Get("/studio", app.handleStudioPanel)
		r.Post("/studio/event", app.handleStudioEvent)

		r.Get("/chat", app.handleChat)
		r.Get("/chat/session/{id}", app.handleChat)
		r.Post("/chat/send", app.handleChatSend)
		r.Get("/chat/poll/{runID}", app.handleChatPoll)
		r.Get("/chat/session/{id}/messages", app.handleChatMessages)

		r.Get("/sources", app.handleSources)
		r.Get("/sources/{id}", app.handleSourceDetail)
		r.Get("/fragments/pipeline", app.handleFragmentPipeline)

		r.Get("/profile", app.handleProfile)
		r.Post("/profile/password", app.handleProfilePassword)
	})

	return r
}

// requireAuth resolves the session and re-reads the user from the
// store on every request, so demotions and deletions take effect on
// the next navigation.
func (app *App) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := app.sessions.Get(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		user, err := app.store.GetUser(r.Context(), sess.UserID)
		if err != nil {
			app.sessions.Destroy(w, r)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		principal := Principal{ID: user.ID, Email: user.Email, Name: user.Name, IsAdmin: user.IsAdmin}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = context.WithValue(ctx, sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestPrincipal(r *http.Request) Principal {
	p, _ := r.Context().Value(principalKey).(Principal)
	return p
}

func requestSession(r *http.Request) *Session {
	s, _ := r.Context().Value(sessionKey).(*Session)
	return s
}
