package store

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RefKind distinguishes built-in entries from persisted records.
type RefKind string

const (
	RefBuiltin   RefKind = "builtin"
	RefPersisted RefKind = "persisted"
)

// Ref identifies a tool server or document source as either a fixed
// built-in entry (keyed by name) or a persisted record (keyed by id).
// The tagged form is parsed once at the form boundary and carried
// through instead of re-parsing an id prefix at every call site.
type Ref struct {
	Kind RefKind `json:"kind"`
	// ID is the builtin key for RefBuiltin, or the record uuid in
	// string form for RefPersisted.
	ID string `json:"id"`
}

// BuiltinRef returns a Ref for a built-in entry.
func BuiltinRef(key string) Ref {
	return Ref{Kind: RefBuiltin, ID: key}
}

// PersistedRef returns a Ref for a persisted record.
func PersistedRef(id uuid.UUID) Ref {
	return Ref{Kind: RefPersisted, ID: id.String()}
}

// ParseRef parses the wire form of a Ref: "builtin:<key>" for
// built-ins, a bare uuid for persisted records.
func ParseRef(s string) (Ref, error) {
	if key, ok := strings.CutPrefix(s, "builtin:"); ok {
		if key == "" {
			return Ref{}, fmt.Errorf("empty builtin key")
		}
		return BuiltinRef(key), nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid ref %q: %w", s, err)
	}
	return PersistedRef(id), nil
}

// String returns the wire form accepted by ParseRef.
func (r Ref) String() string {
	if r.Kind == RefBuiltin {
		return "builtin:" + r.ID
	}
	return r.ID
}

// UUID returns the record id of a persisted ref.
func (r Ref) UUID() (uuid.UUID, error) {
	if r.Kind != RefPersisted {
		return uuid.Nil, fmt.Errorf("ref %s is not persisted", r)
	}
	return uuid.Parse(r.ID)
}
