package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/ltm"
	"github.com/xiy/tiermem/pkg/types"
)

// Grouping modes for enriched context.
const (
	GroupByType    = "type"
	GroupByRecency = "recency"
)

// EnrichOptions shape an enriched context bundle.
type EnrichOptions struct {
	MaxTokens       int
	GroupBy         string
	IncludeMetadata bool
}

// Enriched is a retrieval result packaged for prompt injection: the ranked
// memories, a human-readable summary with a type breakdown, and bookkeeping.
type Enriched struct {
	Memories      []Match   `json:"memories"`
	Summary       string    `json:"summary"`
	Count         int       `json:"count"`
	LastRetrieved time.Time `json:"last_retrieved"`
}

// EnrichContext searches the store and wraps the results into a summary
// object, truncating approximately at MaxTokens of payload.
func (e *Engine) EnrichContext(ctx context.Context, store ltm.SessionStore, q Query, opts EnrichOptions) (Enriched, error) {
	matches, err := e.SearchWithCache(ctx, store, q)
	if err != nil {
		return Enriched{}, err
	}

	if opts.MaxTokens > 0 {
		matches = truncateByTokens(matches, opts.MaxTokens)
	}

	switch opts.GroupBy {
	case GroupByType:
		matches = groupByType(matches)
	case GroupByRecency:
		matches = sortByRecency(matches)
	}

	if !opts.IncludeMetadata {
		stripped := make([]Match, len(matches))
		for i, m := range matches {
			stripped[i] = Match{Memory: m.Memory, Score: m.Score}
		}
		matches = stripped
	}

	enriched := Enriched{
		Memories:      matches,
		Summary:       summarize(matches),
		Count:         len(matches),
		LastRetrieved: time.Now().UTC(),
	}

	e.emitter.Emit(events.New(events.TypeContextEnriched, events.RetrievalPayload{
		SessionID: store.SessionID(),
		Count:     enriched.Count,
	}))
	return enriched, nil
}

// truncateByTokens keeps matches, in rank order, until the approximate token
// cost of their payloads exceeds the budget. At least one match survives if
// any were found.
func truncateByTokens(matches []Match, budget int) []Match {
	tokens := 0
	for i, m := range matches {
		tokens += estimateTokens(flattenData(m.Memory.Data))
		if tokens > budget && i > 0 {
			return matches[:i]
		}
	}
	return matches
}

func groupByType(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Memory.Type < matches[j].Memory.Type
	})
	return matches
}

func sortByRecency(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Memory.UpdatedAt.After(matches[j].Memory.UpdatedAt)
	})
	return matches
}

// summarize reports the count and a per-type breakdown in stable type order.
func summarize(matches []Match) string {
	if len(matches) == 0 {
		return "retrieved 0 memories"
	}
	counts := map[types.MemoryType]int{}
	var order []types.MemoryType
	for _, m := range matches {
		if counts[m.Memory.Type] == 0 {
			order = append(order, m.Memory.Type)
		}
		counts[m.Memory.Type]++
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	parts := make([]string, 0, len(order))
	for _, typ := range order {
		parts = append(parts, fmt.Sprintf("%s: %d", typ, counts[typ]))
	}
	return fmt.Sprintf("retrieved %d memories (%s)", len(matches), strings.Join(parts, ", "))
}

func estimateTokens(s string) int {
	runes := len([]rune(s))
	t := int(math.Ceil(float64(runes) / 4.0))
	if t < 1 {
		return 1
	}
	return t
}
