// Package web serves the console: a server-rendered panel UI (chi +
// html/template + HTMX) over the service and store layers, with
// session-keyed view state.
package web

import (
	"log/slog"
	"time"

	"github.com/tessellate-ai/atelier/internal/config"
	"github.com/tessellate-ai/atelier/internal/service"
	"github.com/tessellate-ai/atelier/internal/store"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// Trigger nudges the runner to poll for new work right away.
type Trigger interface {
	Trigger()
}

// Options configures the App.
type Options struct {
	Snapshot        config.Snapshot
	RefreshInterval time.Duration
	PageSize        int
	Trigger         Trigger
}

// App is the web application: router state, tab specs and the event
// dispatch table.
type App struct {
	store    store.Store
	svc      *service.Service
	sessions *Sessions
	renderer *renderer
	log      *slog.Logger
	opts     Options

	tabs   map[Tab]tabSpec
	events map[string]eventHandler
}

// NewApp wires the application. trigger may be nil.
func NewApp(st store.Store, svc *service.Service, log *slog.Logger, opts Options) *App {
	if log == nil {
		log = slog.Default()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Second
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 25
	}
	app := &App{
		store:    st,
		svc:      svc,
		sessions: NewSessions(),
		renderer: newRenderer(),
		log:      log,
		opts:     opts,
	}
	app.tabs = app.tabSpecs()
	app.events = app.eventTable()
	return app
}
