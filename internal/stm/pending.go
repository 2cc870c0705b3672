package stm

import (
	"errors"
	"math"
	"time"

	"github.com/xiy/tiermem/pkg/types"
)

var (
	// ErrEmpty is returned when dequeuing from an empty promotion queue.
	ErrEmpty = errors.New("queue empty")
	// ErrMissingField is returned when an enqueued candidate lacks an id or payload.
	ErrMissingField = errors.New("missing field")
)

// DefaultPendingCapacity bounds the promotion queue.
const DefaultPendingCapacity = 20

// Base importance scores per memory type, before age decay.
var baseImportance = map[types.MemoryType]float64{
	types.TypeAnalysis:     0.8,
	types.TypeFileContext:  0.6,
	types.TypeFact:         0.5,
	types.TypeConversation: 0.4,
}

const defaultBaseImportance = 0.5

// PendingMemories is the FIFO queue of promotion candidates. Insertion order
// is preserved for promotion fairness; the highest-importance lookup is an
// on-demand scan since promotion batches are small and infrequent.
type PendingMemories struct {
	capacity int
	items    []types.PendingMemory
}

// NewPendingMemories creates a queue holding at most capacity candidates.
// A non-positive capacity selects the default.
func NewPendingMemories(capacity int) *PendingMemories {
	if capacity <= 0 {
		capacity = DefaultPendingCapacity
	}
	return &PendingMemories{capacity: capacity}
}

// Enqueue appends a candidate, stamping its timestamp if unset.
func (p *PendingMemories) Enqueue(item types.PendingMemory) error {
	if item.ID == "" || item.Data == nil {
		return ErrMissingField
	}
	if len(p.items) >= p.capacity {
		return ErrAtCapacity
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}
	p.items = append(p.items, item)
	return nil
}

// Dequeue pops the oldest candidate.
func (p *PendingMemories) Dequeue() (types.PendingMemory, error) {
	if len(p.items) == 0 {
		return types.PendingMemory{}, ErrEmpty
	}
	item := p.items[0]
	p.items = p.items[1:]
	return item, nil
}

// Peek returns the oldest candidate without removing it.
func (p *PendingMemories) Peek() (types.PendingMemory, error) {
	if len(p.items) == 0 {
		return types.PendingMemory{}, ErrEmpty
	}
	return p.items[0], nil
}

// PeekPriority returns the highest-importance candidate without removing it,
// scoring with current-time decay. Ties keep the earliest enqueued.
func (p *PendingMemories) PeekPriority() (types.PendingMemory, error) {
	if len(p.items) == 0 {
		return types.PendingMemory{}, ErrEmpty
	}
	now := time.Now().UTC()
	best := 0
	bestScore := CalculateImportance(p.items[0], now)
	for i := 1; i < len(p.items); i++ {
		if score := CalculateImportance(p.items[i], now); score > bestScore {
			best, bestScore = i, score
		}
	}
	return p.items[best], nil
}

// ReadyForPromotion returns, in queue order, every candidate whose importance
// meets minImportance and whose age is within maxAge. A zero maxAge disables
// the age bound.
func (p *PendingMemories) ReadyForPromotion(minImportance float64, maxAge time.Duration) []types.PendingMemory {
	now := time.Now().UTC()
	var ready []types.PendingMemory
	for _, item := range p.items {
		if maxAge > 0 && now.Sub(item.Timestamp) > maxAge {
			continue
		}
		if CalculateImportance(item, now) >= minImportance {
			ready = append(ready, item)
		}
	}
	return ready
}

// ClearPromoted removes every candidate whose id is in ids, in one pass, and
// reports how many were removed.
func (p *PendingMemories) ClearPromoted(ids []string) int {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	return p.RemoveWhere(func(item types.PendingMemory) bool {
		_, ok := idSet[item.ID]
		return ok
	})
}

// RemoveWhere removes every candidate matching the predicate and reports the
// count removed.
func (p *PendingMemories) RemoveWhere(match func(types.PendingMemory) bool) int {
	kept := p.items[:0]
	removed := 0
	for _, item := range p.items {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	p.items = kept
	return removed
}

// Len reports the number of queued candidates.
func (p *PendingMemories) Len() int { return len(p.items) }

// CalculateImportance scores a candidate at the given instant. An explicit
// importance is respected verbatim. Otherwise the type's base score decays
// 10% per hour of age, capped at 50%, and is rounded to two decimals, so the
// score never drops below half the base.
func CalculateImportance(item types.PendingMemory, now time.Time) float64 {
	if item.Importance != nil {
		return *item.Importance
	}
	base, ok := baseImportance[item.Type]
	if !ok {
		base = defaultBaseImportance
	}
	hours := now.Sub(item.Timestamp).Hours()
	if hours < 0 {
		hours = 0
	}
	decay := math.Min(hours*0.1, 0.5)
	return math.Round(base*(1-decay)*100) / 100
}
