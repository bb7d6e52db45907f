package runner

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Handles tracks the cancel function of every run currently executing,
// so a cancel request can interrupt in-flight work instead of only
// flipping the stored state.
type Handles struct {
	mu sync.Mutex
	m  map[uuid.UUID]context.CancelFunc
}

// NewHandles creates an empty registry.
func NewHandles() *Handles {
	return &Handles{m: make(map[uuid.UUID]context.CancelFunc)}
}

// Register derives a cancellable context for the run and records its
// handle. The caller must Release when the run finishes.
func (h *Handles) Register(ctx context.Context, id uuid.UUID) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.m[id] = cancel
	h.mu.Unlock()
	return ctx
}

// Release drops the run's handle.
func (h *Handles) Release(id uuid.UUID) {
	h.mu.Lock()
	cancel, ok := h.m[id]
	delete(h.m, id)
	h.mu.Unlock()
	if ok {
		cancel()
	}
}

// Cancel fires the run's cancel function if it is registered, and
// reports whether it was.
func (h *Handles) Cancel(id uuid.UUID) bool {
	h.mu.Lock()
	cancel, ok := h.m[id]
	h.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of runs currently registered.
func (h *Handles) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.m)
}
