package promotion

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/ltm"
	"github.com/xiy/tiermem/internal/stm"
	"github.com/xiy/tiermem/pkg/types"
)

func testPipeline(emitter events.Emitter) *Pipeline {
	return New(log.NewWithOptions(io.Discard, log.Options{}), emitter)
}

func TestPromote_MovesReadyItemAndEmptiesQueue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := stm.New("s1", stm.Options{})
	store := ltm.NewTableStore().Session("s1")
	ring := events.NewRing(8)

	importance := 0.9
	if err := mem.Pending.Enqueue(types.PendingMemory{
		ID:         "cand",
		Type:       types.TypeAnalysis,
		Data:       map[string]any{"note": "worth keeping"},
		Importance: &importance,
	}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := testPipeline(ring).Promote(ctx, mem, store, Options{MinImportance: 0.5})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if len(report.Promoted) != 1 || report.Promoted[0].ID != "cand" {
		t.Fatalf("Promoted = %+v, want [cand]", report.Promoted)
	}
	if len(report.Skipped) != 0 {
		t.Fatalf("Skipped = %+v, want none", report.Skipped)
	}

	if _, err := mem.Pending.Dequeue(); !errors.Is(err, stm.ErrEmpty) {
		t.Fatalf("Dequeue() after promote error = %v, want ErrEmpty", err)
	}

	got, err := store.Get(ctx, "cand")
	if err != nil {
		t.Fatalf("Get(cand) error = %v", err)
	}
	if got.Importance != 0.9 || got.SessionID != "s1" {
		t.Fatalf("persisted item = %+v", got)
	}

	recent := ring.Recent(1)
	if len(recent) != 1 || recent[0].Type != events.TypeMemoryPromoted {
		t.Fatalf("expected memory.promoted event, got %+v", recent)
	}
}

func TestPromote_BelowThresholdStaysPending(t *testing.T) {
	t.Parallel()
	mem := stm.New("s1", stm.Options{})
	store := ltm.NewTableStore().Session("s1")

	if err := mem.Pending.Enqueue(types.PendingMemory{
		ID:   "weak",
		Type: types.TypeConversation, // base score 0.4
		Data: map[string]any{"note": "chitchat"},
	}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := testPipeline(nil).Promote(context.Background(), mem, store, Options{MinImportance: 0.5})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if len(report.Promoted) != 0 || len(report.Skipped) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
	if mem.Pending.Len() != 1 {
		t.Fatalf("Pending.Len() = %d, want 1", mem.Pending.Len())
	}
}

func TestPromote_PartialFailureSkipsBadItemOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := stm.New("s1", stm.Options{})
	store := ltm.NewTableStore().Session("s1")

	good := 0.9
	if err := mem.Pending.Enqueue(types.PendingMemory{
		ID: "bad", Type: "nonsense", Data: map[string]any{"x": 1}, Importance: &good,
	}); err != nil {
		t.Fatalf("Enqueue(bad) error = %v", err)
	}
	if err := mem.Pending.Enqueue(types.PendingMemory{
		ID: "good", Type: types.TypeFact, Data: map[string]any{"x": 2}, Importance: &good,
	}); err != nil {
		t.Fatalf("Enqueue(good) error = %v", err)
	}

	report, err := testPipeline(nil).Promote(ctx, mem, store, Options{MinImportance: 0.5})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if len(report.Promoted) != 1 || report.Promoted[0].ID != "good" {
		t.Fatalf("Promoted = %+v, want [good]", report.Promoted)
	}
	if len(report.Skipped) != 1 || report.Skipped[0].ID != "bad" {
		t.Fatalf("Skipped = %+v, want [bad]", report.Skipped)
	}

	// The failed item stays pending for the caller to fix or drop.
	if mem.Pending.Len() != 1 {
		t.Fatalf("Pending.Len() = %d, want 1", mem.Pending.Len())
	}
	remaining, err := mem.Pending.Peek()
	if err != nil || remaining.ID != "bad" {
		t.Fatalf("Peek() = %+v, %v, want bad still queued", remaining, err)
	}
}

func TestPromote_MaxAgeExcludesStale(t *testing.T) {
	t.Parallel()
	mem := stm.New("s1", stm.Options{})
	store := ltm.NewTableStore().Session("s1")

	high := 0.9
	if err := mem.Pending.Enqueue(types.PendingMemory{
		ID: "stale", Type: types.TypeFact, Data: map[string]any{"x": 1},
		Importance: &high, Timestamp: time.Now().UTC().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	report, err := testPipeline(nil).Promote(context.Background(), mem, store, Options{
		MinImportance: 0.5,
		MaxAge:        time.Hour,
	})
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if len(report.Promoted) != 0 {
		t.Fatalf("Promoted = %+v, want none for stale item", report.Promoted)
	}
}
