package stm

import (
	"errors"
	"strings"

	"github.com/xiy/tiermem/pkg/types"
)

// Scratchpad errors, returned to the immediate caller; a capacity rejection
// means the owner must evict or promote before retrying.
var (
	ErrAtCapacity = errors.New("at capacity")
	ErrNotFound   = errors.New("not found")
)

// DefaultContextCapacity bounds the number of distinct working-context keys.
const DefaultContextCapacity = 50

// WorkingContext is a bounded key-value scratchpad for ephemeral facts about
// the current task. Capacity limits distinct keys, not updates: rewriting an
// existing key always succeeds. Every write refreshes the key's recency.
type WorkingContext struct {
	capacity int
	values   map[string]any
	recency  []string // oldest write first
}

// NewWorkingContext creates a scratchpad holding at most capacity distinct
// keys. A non-positive capacity selects the default.
func NewWorkingContext(capacity int) *WorkingContext {
	if capacity <= 0 {
		capacity = DefaultContextCapacity
	}
	return &WorkingContext{
		capacity: capacity,
		values:   make(map[string]any),
	}
}

// Put stores value under key, rejecting new keys once at capacity.
func (w *WorkingContext) Put(key string, value any) error {
	if _, exists := w.values[key]; !exists && len(w.values) >= w.capacity {
		return ErrAtCapacity
	}
	w.touch(key)
	w.values[key] = value
	return nil
}

// PutMany stores every entry or none: if the batch would push the scratchpad
// over capacity the whole write is rejected.
func (w *WorkingContext) PutMany(entries map[string]any) error {
	fresh := 0
	for key := range entries {
		if _, exists := w.values[key]; !exists {
			fresh++
		}
	}
	if len(w.values)+fresh > w.capacity {
		return ErrAtCapacity
	}
	for key, value := range entries {
		w.touch(key)
		w.values[key] = value
	}
	return nil
}

// Get returns the value stored under key.
func (w *WorkingContext) Get(key string) (any, error) {
	v, ok := w.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

// Delete removes key and its recency entry.
func (w *WorkingContext) Delete(key string) error {
	if _, ok := w.values[key]; !ok {
		return ErrNotFound
	}
	delete(w.values, key)
	w.forget(key)
	return nil
}

// RecentKeys returns up to n keys ordered by most recent write.
func (w *WorkingContext) RecentKeys(n int) []string {
	if n <= 0 || len(w.recency) == 0 {
		return nil
	}
	if n > len(w.recency) {
		n = len(w.recency)
	}
	out := make([]string, 0, n)
	for i := len(w.recency) - 1; i >= len(w.recency)-n; i-- {
		out = append(out, w.recency[i])
	}
	return out
}

// Keys returns every stored key in no particular order.
func (w *WorkingContext) Keys() []string {
	out := make([]string, 0, len(w.values))
	for k := range w.values {
		out = append(out, k)
	}
	return out
}

// Len reports the number of distinct keys.
func (w *WorkingContext) Len() int { return len(w.values) }

// Clear drops every entry.
func (w *WorkingContext) Clear() {
	w.values = make(map[string]any)
	w.recency = nil
}

func (w *WorkingContext) touch(key string) {
	w.forget(key)
	w.recency = append(w.recency, key)
}

func (w *WorkingContext) forget(key string) {
	for i, k := range w.recency {
		if k == key {
			w.recency = append(w.recency[:i], w.recency[i+1:]...)
			return
		}
	}
}

// SuggestType maps a scratchpad entry onto a memory type by key-name
// heuristics, used to pre-tag promotion candidates. The match is
// case-insensitive and purely lexical; unrecognized keys default to fact.
func SuggestType(key string, _ any) types.MemoryType {
	k := strings.ToLower(key)
	switch {
	case containsAny(k, "file", "path", "dir"):
		return types.TypeFileContext
	case containsAny(k, "analysis", "decision", "recommendation", "conclusion"):
		return types.TypeAnalysis
	case containsAny(k, "message", "chat", "dialog", "conversation"):
		return types.TypeConversation
	case containsAny(k, "task", "todo", "action", "step"):
		return types.TypeAnalysis
	default:
		return types.TypeFact
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
