package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
)

// ChatView backs the chat page: session sidebar plus the active
// conversation.
type ChatView struct {
	Sessions []*store.ChatSession
	Active   *store.ChatSession
	Messages []*store.ChatMessage
	Agents   []*store.Agent
}

func (app *App) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestPrincipal(r)

	sessions, err := app.store.ListChatSessions(ctx, principal.ID, 50)
	if err != nil {
		app.log.Error("list chat sessions", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	agents, err := app.store.ListAgents(ctx)
	if err != nil {
		app.log.Error("list agents", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	view := &ChatView{Sessions: sessions, Agents: agents}

	if idStr := chi.URLParam(r, "id"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err == nil {
			if cs, err := app.store.GetChatSession(ctx, id); err == nil && cs.UserID == principal.ID {
				view.Active = cs
				view.Messages, err = app.store.ListChatMessages(ctx, cs.ID, 200)
				if err != nil {
					app.log.Error("list chat messages", "session_id", cs.ID, "error", err)
				}
			}
		}
	}

	sess := requestSession(r)
	data := &PageData{
		Title:           "Chat",
		Principal:       principal,
		Notice:          sess.Panel.TakeNotice(),
		RefreshInterval: int(app.opts.RefreshInterval.Seconds()),
		Data:            view,
	}
	if err := app.renderer.render(w, "chat.html", data); err != nil {
		app.log.Error("render chat", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleChatSend records the user message, queues a run for the
// session's agent and returns the pending fragment that polls it.
func (app *App) handleChatSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := requestPrincipal(r)
	body := r.FormValue("message")
	// Reject before creating a session so a blank first message does
	// not leave an empty session behind.
	if strings.TrimSpace(body) == "" {
		http.Error(w, "message can't be blank", http.StatusUnprocessableEntity)
		return
	}

	var chatSession *store.ChatSession
	if sessionID, err := uuid.Parse(r.FormValue("session_id")); err == nil {
		cs, err := app.store.GetChatSession(ctx, sessionID)
		if err != nil || cs.UserID != principal.ID {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		chatSession = cs
	} else {
		agentID, err := uuid.Parse(r.FormValue("agent_id"))
		if err != nil {
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		chatSession, err = app.store.CreateChatSession(ctx, &store.ChatSession{
			UserID:  principal.ID,
			AgentID: agentID,
			Title:   truncate(60, body),
		})
		if err != nil {
			app.log.Error("create chat session", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}

	run, err := app.svc.StartRun(ctx, service.StartRunParams{
		AgentID:   &chatSession.AgentID,
		UserID:    principal.ID,
		SessionID: &chatSession.ID,
		Prompt:    body,
	})
	if err != nil {
		if ve, ok := store.IsValidation(err); ok {
			http.Error(w, ve.Error(), http.StatusUnprocessableEntity)
			return
		}
		app.log.Error("start chat run", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err := app.store.CreateChatMessage(ctx, &store.ChatMessage{
		SessionID: chatSession.ID,
		RunID:     &run.ID,
		Role:      "user",
		Body:      body,
	}); err != nil {
		app.log.Error("record user message", "error", err)
	}
	app.nudgeRunner()

	app.fragment(w, "fragments/chat-pending.html", map[string]any{
		"Run":     run,
		"Session": chatSession,
	})
}

// handleChatPoll returns the live fragment for a run: its state and
// the tool calls made so far, then the final message when done.
func (app *App) handleChatPoll(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	run, err := app.store.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if run.UserID != requestPrincipal(r).ID {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if !run.State.Final() {
		app.fragment(w, "fragments/chat-pending.html", map[string]any{"Run": run})
		return
	}

	var messages []*store.ChatMessage
	if run.SessionID != nil {
		all, err := app.store.ListChatMessages(r.Context(), *run.SessionID, 200)
		if err == nil {
			for _, m := range all {
				if m.RunID != nil && *m.RunID == run.ID && m.Role == "assistant" {
					messages = append(messages, m)
				}
			}
		}
	}
	app.fragment(w, "fragments/chat-result.html", map[string]any{
		"Run":      run,
		"Messages": messages,
	})
}

func (app *App) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	cs, err := app.store.GetChatSession(r.Context(), id)
	if err != nil || cs.UserID != requestPrincipal(r).ID {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	messages, err := app.store.ListChatMessages(r.Context(), id, 200)
	if err != nil {
		app.log.Error("list chat messages", "session_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	app.fragment(w, "fragments/chat-messages.html", map[string]any{"Messages": messages})
}

func (app *App) fragment(w http.ResponseWriter, name string, data any) {
	if err := app.renderer.renderFragment(w, name, data); err != nil {
		app.log.Error("render fragment", "fragment", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
