package web

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sessionCookie = "atelier_session"

// sessionTTL bounds how long an idle session survives.
const sessionTTL = 12 * time.Hour

// Session binds a signed-in user to their server-side panel state.
type Session struct {
	Token    string
	UserID   uuid.UUID
	Panel    *PanelState
	LastSeen time.Time
}

// Sessions is the in-memory session registry. Sessions do not survive
// a restart; users sign back in.
type Sessions struct {
	mu sync.Mutex
	m  map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{m: make(map[string]*Session)}
}

// Create starts a session for the user and sets its cookie.
func (s *Sessions) Create(w http.ResponseWriter, userID uuid.UUID) *Session {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	sess := &Session{
		Token:    hex.EncodeToString(b),
		UserID:   userID,
		Panel:    NewPanelState(),
		LastSeen: time.Now(),
	}
	s.mu.Lock()
	s.m[sess.Token] = sess
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// Get resolves the request's session, refreshing its last-seen time.
// Expired sessions are dropped.
func (s *Sessions) Get(r *http.Request) (*Session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[cookie.Value]
	if !ok {
		return nil, false
	}
	if time.Since(sess.LastSeen) > sessionTTL {
		delete(s.m, cookie.Value)
		return nil, false
	}
	sess.LastSeen = time.Now()
	return sess, true
}

// Destroy ends the request's session and clears its cookie.
func (s *Sessions) Destroy(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.mu.Lock()
		delete(s.m, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
