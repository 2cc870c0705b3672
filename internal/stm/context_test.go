package stm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/xiy/tiermem/pkg/types"
)

func TestWorkingContext_CapacityLimitsDistinctKeys(t *testing.T) {
	t.Parallel()
	wc := NewWorkingContext(2)

	if err := wc.Put("a", 1); err != nil {
		t.Fatalf("Put(a) error = %v", err)
	}
	if err := wc.Put("b", 2); err != nil {
		t.Fatalf("Put(b) error = %v", err)
	}
	if err := wc.Put("c", 3); !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("Put(c) error = %v, want ErrAtCapacity", err)
	}
	// Rewriting an existing key is always permitted at capacity.
	if err := wc.Put("a", 10); err != nil {
		t.Fatalf("Put(a) rewrite error = %v", err)
	}
	v, err := wc.Get("a")
	if err != nil || v != 10 {
		t.Fatalf("Get(a) = %v, %v, want 10, nil", v, err)
	}
}

func TestWorkingContext_PutManyAllOrNothing(t *testing.T) {
	t.Parallel()
	wc := NewWorkingContext(3)
	if err := wc.Put("a", 1); err != nil {
		t.Fatalf("Put(a) error = %v", err)
	}

	err := wc.PutMany(map[string]any{"b": 2, "c": 3, "d": 4})
	if !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("PutMany over capacity error = %v, want ErrAtCapacity", err)
	}
	if wc.Len() != 1 {
		t.Fatalf("Len() after rejected batch = %d, want 1", wc.Len())
	}

	if err := wc.PutMany(map[string]any{"a": 9, "b": 2, "c": 3}); err != nil {
		t.Fatalf("PutMany within capacity error = %v", err)
	}
	if wc.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", wc.Len())
	}
}

func TestWorkingContext_RecencyOrder(t *testing.T) {
	t.Parallel()
	wc := NewWorkingContext(10)
	for i := 0; i < 4; i++ {
		if err := wc.Put(fmt.Sprintf("k%d", i), i); err != nil {
			t.Fatalf("Put(k%d) error = %v", i, err)
		}
	}
	// Touch k1 again; it becomes the most recent.
	if err := wc.Put("k1", 99); err != nil {
		t.Fatalf("Put(k1) error = %v", err)
	}

	keys := wc.RecentKeys(3)
	want := []string{"k1", "k3", "k2"}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("RecentKeys(3) = %v, want %v", keys, want)
		}
	}

	if err := wc.Delete("k1"); err != nil {
		t.Fatalf("Delete(k1) error = %v", err)
	}
	if err := wc.Delete("k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete(k1) again error = %v, want ErrNotFound", err)
	}
	if _, err := wc.Get("k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(k1) error = %v, want ErrNotFound", err)
	}
}

func TestSuggestType(t *testing.T) {
	t.Parallel()
	cases := map[string]types.MemoryType{
		"current_file_path":    types.TypeFileContext,
		"Decision_rationale":   types.TypeAnalysis,
		"chat_transcript":      types.TypeConversation,
		"next_action_step":     types.TypeAnalysis,
		"TODO_list":            types.TypeAnalysis,
		"deployment_host":      types.TypeFact,
		"recommendation_draft": types.TypeAnalysis,
	}
	for key, want := range cases {
		if got := SuggestType(key, nil); got != want {
			t.Fatalf("SuggestType(%q) = %q, want %q", key, got, want)
		}
	}
}
