package ltm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/xiy/tiermem/pkg/types"
)

func item(id string, typ types.MemoryType, importance float64) types.MemoryItem {
	return types.MemoryItem{
		ID:         id,
		Type:       typ,
		Importance: importance,
		Data:       map[string]any{"key": "value"},
	}
}

func TestTableSession_PersistValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewTableStore().Session("s1")

	cases := []struct {
		name string
		in   types.MemoryItem
		want error
	}{
		{"missing id", types.MemoryItem{Type: types.TypeFact, Data: map[string]any{}}, ErrMissingFields},
		{"missing data", types.MemoryItem{ID: "a", Type: types.TypeFact}, ErrMissingFields},
		{"importance above range", item("a", types.TypeFact, 1.5), ErrInvalidImportance},
		{"importance below range", item("a", types.TypeFact, -0.1), ErrInvalidImportance},
		{"unknown type", item("a", "gossip", 0.5), ErrInvalidType},
	}
	for _, tc := range cases {
		if _, err := st.Persist(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: Persist() error = %v, want %v", tc.name, err, tc.want)
		}
	}

	huge := item("big", types.TypeFact, 0.5)
	huge.Data = map[string]any{"blob": strings.Repeat("x", types.MaxDataBytes+1)}
	if _, err := st.Persist(ctx, huge); !errors.Is(err, ErrDataTooLarge) {
		t.Fatalf("Persist(oversized) error = %v, want ErrDataTooLarge", err)
	}
}

func TestTableSession_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewTableStore().Session("s1")

	in := item("mem_1", types.TypeFact, 0.8)
	in.Data = map[string]any{
		"key":    "value",
		"nested": map[string]any{"list": []any{"a", "b"}, "n": 42.0},
	}
	stored, err := st.Persist(ctx, in)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Fatal("Persist() did not stamp timestamps")
	}

	got, err := st.Get(ctx, "mem_1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Importance != 0.8 || got.Type != types.TypeFact || got.SessionID != "s1" {
		t.Fatalf("Get() = %+v, want importance 0.8 fact in s1", got)
	}
	nested := got.Data["nested"].(map[string]any)
	if nested["n"] != 42.0 || nested["list"].([]any)[1] != "b" {
		t.Fatalf("nested data not preserved: %+v", got.Data)
	}

	// Mutating the returned copy must not touch the stored row.
	got.Data["key"] = "tampered"
	again, err := st.Get(ctx, "mem_1")
	if err != nil {
		t.Fatalf("Get() again error = %v", err)
	}
	if again.Data["key"] != "value" {
		t.Fatalf("stored row mutated through returned copy: %v", again.Data["key"])
	}
}

func TestTableSession_QueryFiltersAndOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewTableStore().Session("s1")

	for i, typ := range []types.MemoryType{types.TypeFact, types.TypeAnalysis, types.TypeFact} {
		in := item(fmt.Sprintf("m%d", i), typ, 0.3+float64(i)*0.3)
		if _, err := st.Persist(ctx, in); err != nil {
			t.Fatalf("Persist(m%d) error = %v", i, err)
		}
	}

	all, err := st.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "m0" || all[2].ID != "m2" {
		t.Fatalf("Query() order = %v, want insertion order m0..m2", ids(all))
	}

	facts, err := st.Query(ctx, QueryFilter{Type: types.TypeFact})
	if err != nil {
		t.Fatalf("Query(fact) error = %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("Query(fact) returned %d items, want 2", len(facts))
	}

	min := 0.5
	important, err := st.Query(ctx, QueryFilter{MinImportance: &min, Limit: 1})
	if err != nil {
		t.Fatalf("Query(min 0.5) error = %v", err)
	}
	if len(important) != 1 || important[0].ID != "m1" {
		t.Fatalf("Query(min 0.5, limit 1) = %v, want [m1]", ids(important))
	}
}

func TestTableSession_UpdateDeleteCountClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewTableStore().Session("s1")

	if _, err := st.Persist(ctx, item("a", types.TypeFact, 0.5)); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	updated, err := st.Update(ctx, "a", map[string]any{"importance": 0.9})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Importance != 0.9 {
		t.Fatalf("Update() importance = %f, want 0.9", updated.Importance)
	}
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		t.Fatal("Update() did not refresh updated_at")
	}

	if _, err := st.Update(ctx, "a", map[string]any{"id": "b"}); !errors.Is(err, ErrInvalidUpdateFields) {
		t.Fatalf("Update(id) error = %v, want ErrInvalidUpdateFields", err)
	}
	if _, err := st.Update(ctx, "a", map[string]any{"importance": 2.0}); !errors.Is(err, ErrInvalidImportance) {
		t.Fatalf("Update(importance=2) error = %v, want ErrInvalidImportance", err)
	}
	if _, err := st.Update(ctx, "missing", map[string]any{"importance": 0.1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update(missing) error = %v, want ErrNotFound", err)
	}

	if n, _ := st.Count(ctx); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}
	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := st.Delete(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() again error = %v, want ErrNotFound", err)
	}

	if _, err := st.Persist(ctx, item("b", types.TypeFact, 0.5)); err != nil {
		t.Fatalf("Persist(b) error = %v", err)
	}
	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear() twice error = %v, want idempotent nil", err)
	}
	if n, _ := st.Count(ctx); n != 0 {
		t.Fatalf("Count() after clear = %d, want 0", n)
	}
}

func TestTableStore_SessionIsolationUnderConcurrentWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := NewTableStore()
	a := table.Session("session-a")
	b := table.Session("session-b")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			in := item("mem_1", types.TypeFact, 0.5)
			in.Data = map[string]any{"owner": "a", "i": i}
			if _, err := a.Persist(ctx, in); err != nil {
				t.Errorf("a.Persist() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			in := item("mem_1", types.TypeClaim, 0.7)
			in.Data = map[string]any{"owner": "b", "i": i}
			if _, err := b.Persist(ctx, in); err != nil {
				t.Errorf("b.Persist() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()

	fromA, err := a.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("a.Query() error = %v", err)
	}
	if len(fromA) != 1 || fromA[0].Data["owner"] != "a" || fromA[0].SessionID != "session-a" {
		t.Fatalf("session a sees foreign rows: %+v", fromA)
	}
	fromB, err := b.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("b.Query() error = %v", err)
	}
	if len(fromB) != 1 || fromB[0].Data["owner"] != "b" {
		t.Fatalf("session b sees foreign rows: %+v", fromB)
	}
}

func ids(items []types.MemoryItem) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}
