// Package ltm provides the session-isolated long-term memory store: one
// SessionStore interface with two interchangeable backends, a volatile
// keyed table and an ontology-graph adapter over an external quad store.
package ltm

import (
	"context"
	"errors"

	"github.com/xiy/tiermem/pkg/types"
)

// Store errors. All are local and recoverable; callers branch with errors.Is.
var (
	ErrNotFound            = errors.New("memory not found")
	ErrMissingFields       = errors.New("missing required fields")
	ErrInvalidImportance   = errors.New("importance out of range")
	ErrInvalidType         = errors.New("invalid memory type")
	ErrDataTooLarge        = errors.New("data exceeds size limit")
	ErrInvalidUpdateFields = errors.New("invalid update fields")
)

// QueryFilter narrows a session-scoped query; all filters are conjunctive.
type QueryFilter struct {
	Type          types.MemoryType
	MinImportance *float64
	Limit         int
}

// SessionStore is long-term memory for exactly one session. Implementations
// bake the session into every storage key or graph link, so one session's
// operations never observe another's rows. Within a session at most one
// writer is assumed at a time; reads may be concurrent.
type SessionStore interface {
	SessionID() string

	// Persist validates and stores an item, stamping created_at/updated_at.
	Persist(ctx context.Context, item types.MemoryItem) (types.MemoryItem, error)

	// Get retrieves an item by id.
	Get(ctx context.Context, id string) (types.MemoryItem, error)

	// Query returns matching items in insertion order.
	Query(ctx context.Context, filter QueryFilter) ([]types.MemoryItem, error)

	// Update applies a partial update; only data and importance are mutable.
	Update(ctx context.Context, id string, fields map[string]any) (types.MemoryItem, error)

	// Delete removes an item by id.
	Delete(ctx context.Context, id string) error

	// Count reports the number of stored items for the session.
	Count(ctx context.Context) (int, error)

	// Clear removes every item for the session. Idempotent.
	Clear(ctx context.Context) error
}

// validateItem enforces the persistence contract shared by both backends.
func validateItem(item types.MemoryItem) error {
	if item.ID == "" || item.Type == "" || item.Data == nil {
		return ErrMissingFields
	}
	if item.Importance < 0 || item.Importance > 1 {
		return ErrInvalidImportance
	}
	if !types.ValidTypes[item.Type] {
		return ErrInvalidType
	}
	if size := item.DataSize(); size < 0 || size > types.MaxDataBytes {
		return ErrDataTooLarge
	}
	return nil
}

// applyUpdate merges a partial update into item, rejecting identity fields.
// Returns whether anything changed.
func applyUpdate(item *types.MemoryItem, fields map[string]any) error {
	for key := range fields {
		if key != "data" && key != "importance" {
			return ErrInvalidUpdateFields
		}
	}
	if raw, ok := fields["importance"]; ok {
		imp, ok := toFloat(raw)
		if !ok || imp < 0 || imp > 1 {
			return ErrInvalidImportance
		}
		item.Importance = imp
	}
	if raw, ok := fields["data"]; ok {
		data, ok := raw.(map[string]any)
		if !ok {
			return ErrInvalidUpdateFields
		}
		item.Data = types.CloneData(data)
		if size := item.DataSize(); size < 0 || size > types.MaxDataBytes {
			return ErrDataTooLarge
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
