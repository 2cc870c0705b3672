// Package promotion moves candidates from a session's pending queue into
// its long-term store. It is the only bridge between STM and LTM.
package promotion

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/ltm"
	"github.com/xiy/tiermem/internal/stm"
	"github.com/xiy/tiermem/pkg/types"
)

// Options select which pending items are ready. A zero MaxAge disables the
// age bound.
type Options struct {
	MinImportance float64
	MaxAge        time.Duration
}

// Skipped records one candidate that failed to persist and stays pending.
type Skipped struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Report summarizes one promotion batch.
type Report struct {
	Promoted []types.MemoryItem `json:"promoted"`
	Skipped  []Skipped          `json:"skipped"`
}

// Pipeline persists promotion-ready candidates.
type Pipeline struct {
	logger  *log.Logger
	emitter events.Emitter
}

// New creates a promotion pipeline.
func New(logger *log.Logger, emitter events.Emitter) *Pipeline {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Pipeline{logger: logger, emitter: emitter}
}

// Promote selects ready candidates, persists each one, and removes the
// persisted ones from the queue. A candidate that fails to persist is
// reported as skipped and remains pending; one bad item never aborts the
// batch.
func (p *Pipeline) Promote(ctx context.Context, mem *stm.Memory, store ltm.SessionStore, opts Options) (Report, error) {
	ready := mem.Pending.ReadyForPromotion(opts.MinImportance, opts.MaxAge)
	if len(ready) == 0 {
		return Report{}, nil
	}

	now := time.Now().UTC()
	var report Report
	promoted := make([]string, 0, len(ready))

	for _, candidate := range ready {
		item := itemFromPending(candidate, now)
		stored, err := store.Persist(ctx, item)
		if err != nil {
			p.logger.Warn("promotion skipped item", "id", candidate.ID, "error", err)
			report.Skipped = append(report.Skipped, Skipped{ID: candidate.ID, Reason: err.Error()})
			continue
		}
		promoted = append(promoted, candidate.ID)
		report.Promoted = append(report.Promoted, stored)
		p.emitter.Emit(events.New(events.TypeMemoryPromoted, events.MemoryPayload{
			SessionID:  stored.SessionID,
			MemoryID:   stored.ID,
			Type:       string(stored.Type),
			Importance: stored.Importance,
		}))
	}

	mem.Pending.ClearPromoted(promoted)
	return report, nil
}

// itemFromPending copies a candidate into a memory item, deriving importance
// at promotion time and defaulting an untyped candidate to fact.
func itemFromPending(candidate types.PendingMemory, now time.Time) types.MemoryItem {
	typ := candidate.Type
	if typ == "" {
		typ = types.TypeFact
	}
	return types.MemoryItem{
		ID:         candidate.ID,
		Type:       typ,
		Data:       candidate.Data,
		Importance: stm.CalculateImportance(candidate, now),
	}
}
