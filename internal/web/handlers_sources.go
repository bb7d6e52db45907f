package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tessellate-ai/atelier/internal/store"
)

// builtinSources are fixed document sources every deployment exposes.
var builtinSources = []*store.Source{
	{Name: "Uploaded files", Kind: "uploads", Builtin: true, SyncState: "live"},
	{Name: "Chat transcripts", Kind: "transcripts", Builtin: true, SyncState: "live"},
}

// SourcesView backs the source browser list page.
type SourcesView struct {
	Builtin   []*store.Source
	Persisted []*store.Source
	Pipeline  *store.PipelineStatus
}

// SourceDetailView backs one source's document list.
type SourceDetailView struct {
	Source    *store.Source
	Documents []*store.Document
}

func (app *App) handleSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	persisted, err := app.store.ListSources(ctx)
	if err != nil {
		app.log.Error("list sources", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	pipeline, err := app.store.GetPipelineStatus(ctx)
	if err != nil {
		app.log.Error("pipeline status", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	sess := requestSession(r)
	data := &PageData{
		Title:           "Sources",
		Principal:       requestPrincipal(r),
		Notice:          sess.Panel.TakeNotice(),
		RefreshInterval: int(app.opts.RefreshInterval.Seconds()),
		Data:            &SourcesView{Builtin: builtinSources, Persisted: persisted, Pipeline: pipeline},
	}
	if err := app.renderer.render(w, "sources.html", data); err != nil {
		app.log.Error("render sources", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (app *App) handleSourceDetail(w http.ResponseWriter, r *http.Request) {
	ref, err := store.ParseRef(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	view := &SourceDetailView{}
	switch ref.Kind {
	case store.RefBuiltin:
		for _, s := range builtinSources {
			if s.Kind == ref.ID {
				view.Source = s
			}
		}
		if view.Source == nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	case store.RefPersisted:
		id, err := ref.UUID()
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		view.Source, err = app.store.GetSource(r.Context(), id)
		if err != nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		view.Documents, err = app.store.ListDocuments(r.Context(), id)
		if err != nil {
			app.log.Error("list documents", "source_id", id, "error", err)
		}
	}

	sess := requestSession(r)
	data := &PageData{
		Title:     "Source",
		Principal: requestPrincipal(r),
		Notice:    sess.Panel.TakeNotice(),
		Data:      view,
	}
	if err := app.renderer.render(w, "source_detail.html", data); err != nil {
		app.log.Error("render source detail", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleFragmentPipeline serves the pipeline dashboard fragment. The
// client polls it on a fixed interval while the tab is visible; the
// server keeps no timer.
func (app *App) handleFragmentPipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, err := app.store.GetPipelineStatus(r.Context())
	if err != nil {
		app.log.Error("pipeline status", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	app.fragment(w, "fragments/pipeline.html", pipeline)
}
