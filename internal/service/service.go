// Package service implements the application logic behind the console:
// usage analytics, the tool server catalog, availability sets and run
// lifecycle operations.
package service

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/tessellate-ai/atelier/internal/store"
)

// RunCanceller interrupts an in-flight run. The runner registers a
// cancel handle per claimed run; Cancel reports whether a handle was
// found and fired.
type RunCanceller interface {
	Cancel(id uuid.UUID) bool
}

// Service wraps the store with console-level operations.
type Service struct {
	store     store.Store
	log       *slog.Logger
	canceller RunCanceller
}

// New creates a Service. canceller may be nil when no runner is
// attached (tests, read-only deployments).
func New(st store.Store, log *slog.Logger, canceller RunCanceller) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: st, log: log, canceller: canceller}
}

// Store exposes the underlying store for handlers that need plain CRUD.
func (s *Service) Store() store.Store {
	return s.store
}
