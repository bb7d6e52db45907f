package web

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/tessellate-ai/atelier/internal/store"
)

type authPageData struct {
	Error            string
	Email            string
	OpenRegistration bool
}

func (app *App) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	app.renderAuth(w, r, "login.html", &authPageData{})
}

func (app *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.FormValue("email")
	user, err := app.store.GetUserByEmail(r.Context(), email)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(r.FormValue("password"))) != nil {
		app.renderAuth(w, r, "login.html", &authPageData{Error: "Invalid email or password", Email: email})
		return
	}
	app.sessions.Create(w, user.ID)
	if user.TempPassword {
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (app *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	app.sessions.Destroy(w, r)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (app *App) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	app.renderAuth(w, r, "register.html", &authPageData{})
}

// handleRegister creates an account, either through open registration
// or by redeeming an invitation token of the form "<id>.<secret>".
func (app *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := r.FormValue("email")
	fail := func(msg string) {
		app.renderAuth(w, r, "register.html", &authPageData{Error: msg, Email: email})
	}

	password := r.FormValue("password")
	if len(password) < 8 {
		fail("Password must be at least 8 characters")
		return
	}

	token := strings.TrimSpace(r.FormValue("invitation"))
	if token == "" {
		settings, err := app.store.GetSettings(ctx)
		if err != nil || !settings.OpenRegistration {
			fail("Registration requires an invitation")
			return
		}
	} else {
		if err := app.redeemInvitation(r, token, email); err != nil {
			app.log.Warn("invitation redemption failed", "email", email, "error", err)
			fail("Invitation is invalid, used or revoked")
			return
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		fail("Registration failed")
		return
	}
	user, err := app.store.CreateUser(ctx, &store.User{
		Email:        email,
		Name:         r.FormValue("name"),
		PasswordHash: string(hash),
	})
	if err != nil {
		if ve, ok := store.IsValidation(err); ok {
			fail(ve.Error())
			return
		}
		fail("An account with this email already exists")
		return
	}
	app.sessions.Create(w, user.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// redeemInvitation validates a "<id>.<secret>" token against the
// stored bcrypt hash and marks the invitation used.
func (app *App) redeemInvitation(r *http.Request, token, email string) error {
	idPart, secret, ok := strings.Cut(token, ".")
	if !ok {
		return store.ErrNotFound
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return store.ErrNotFound
	}
	invitations, err := app.store.ListInvitations(r.Context())
	if err != nil {
		return err
	}
	for _, inv := range invitations {
		if inv.ID != id {
			continue
		}
		if !strings.EqualFold(inv.Email, email) {
			return store.ErrNotFound
		}
		if bcrypt.CompareHashAndPassword([]byte(inv.TokenHash), []byte(secret)) != nil {
			return store.ErrNotFound
		}
		return app.store.RedeemInvitation(r.Context(), id, timeNow())
	}
	return store.ErrNotFound
}

func (app *App) renderAuth(w http.ResponseWriter, r *http.Request, page string, data *authPageData) {
	if settings, err := app.store.GetSettings(r.Context()); err == nil {
		data.OpenRegistration = settings.OpenRegistration
	}
	if err := app.renderer.render(w, page, &PageData{Title: "Atelier", Data: data}); err != nil {
		app.log.Error("render auth page", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
