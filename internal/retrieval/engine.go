// Package retrieval ranks long-term memories against keyword queries and
// caches ranked results per session.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/ltm"
	"github.com/xiy/tiermem/pkg/types"
)

// Relevance weights. They sum to 1 so the composite score stays in [0,1].
const (
	weightKeyword    = 0.4
	weightImportance = 0.3
	weightRecency    = 0.2
	weightTypeBonus  = 0.1
)

// Query describes one retrieval request. A zero CacheTTL caches the result
// without expiry.
type Query struct {
	Keywords      []string
	Type          types.MemoryType
	MinImportance *float64
	Limit         int
	CacheTTL      time.Duration
}

// Match is one ranked retrieval result.
type Match struct {
	Memory       types.MemoryItem `json:"memory"`
	Score        float64          `json:"score"`
	MatchReasons []string         `json:"match_reasons"`
}

// Engine ranks memories from a SessionStore. The cache is the one piece of
// process-wide state shared across sessions, so every cache key carries the
// session id.
type Engine struct {
	logger  *log.Logger
	emitter events.Emitter
	cache   *cache
}

// NewEngine creates a retrieval engine with an empty cache.
func NewEngine(logger *log.Logger, emitter events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Engine{logger: logger, emitter: emitter, cache: newCache()}
}

// Search queries the store and ranks results by relevance, descending, ties
// kept in store iteration order. Limit truncates after ranking.
func (e *Engine) Search(ctx context.Context, store ltm.SessionStore, q Query) ([]Match, error) {
	items, err := store.Query(ctx, ltm.QueryFilter{
		Type:          q.Type,
		MinImportance: q.MinImportance,
	})
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}

	now := time.Now().UTC()
	matches := make([]Match, 0, len(items))
	for _, item := range items {
		reasons := matchKeywords(item, q.Keywords)
		if len(q.Keywords) > 0 && len(reasons) == 0 {
			continue
		}
		matches = append(matches, Match{
			Memory:       item,
			Score:        relevance(item, q, reasons, now),
			MatchReasons: reasons,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}

	e.emitter.Emit(events.New(events.TypeMemoryRetrieved, events.RetrievalPayload{
		SessionID: store.SessionID(),
		Count:     len(matches),
	}))
	return matches, nil
}

// SearchWithCache wraps Search with the process-wide cache. Entries are
// keyed by session and normalized query, so identical queries from two
// sessions never share an entry.
func (e *Engine) SearchWithCache(ctx context.Context, store ltm.SessionStore, q Query) ([]Match, error) {
	key := store.SessionID() + "\x00" + normalizeQuery(q)
	if hit, ok := e.cache.get(key); ok {
		return hit, nil
	}

	matches, err := e.Search(ctx, store, q)
	if err != nil {
		return nil, err
	}
	e.cache.set(key, matches, q.CacheTTL)
	return matches, nil
}

// ClearCache drops every cached result.
func (e *Engine) ClearCache() { e.cache.clear() }

// CacheStats reports cache size and hit counters.
func (e *Engine) CacheStats() CacheStats { return e.cache.stats() }

// matchKeywords returns the keywords found as case-insensitive substrings in
// the flattened payload, in query order.
func matchKeywords(item types.MemoryItem, keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	haystack := strings.ToLower(flattenData(item.Data))
	var reasons []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			reasons = append(reasons, kw)
		}
	}
	return reasons
}

// relevance combines keyword coverage, importance, recency decay and an
// optional type-match bonus into one score in [0,1].
func relevance(item types.MemoryItem, q Query, reasons []string, now time.Time) float64 {
	score := weightImportance * item.Importance

	if len(q.Keywords) > 0 {
		score += weightKeyword * float64(len(reasons)) / float64(len(q.Keywords))
	}

	age := now.Sub(item.UpdatedAt).Hours()
	if age < 0 {
		age = 0
	}
	score += weightRecency * math.Exp(-age/24.0)

	if q.Type != "" && item.Type == q.Type {
		score += weightTypeBonus
	}

	return math.Min(score, 1.0)
}

// flattenData renders a payload as one searchable string: keys and scalar
// values, recursively.
func flattenData(data map[string]any) string {
	var sb strings.Builder
	flattenInto(&sb, data)
	return sb.String()
}

func flattenInto(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			sb.WriteString(k)
			sb.WriteByte(' ')
			flattenInto(sb, item)
		}
	case []any:
		for _, item := range val {
			flattenInto(sb, item)
		}
	case string:
		sb.WriteString(val)
		sb.WriteByte(' ')
	case nil:
	default:
		fmt.Fprintf(sb, "%v ", val)
	}
}

// normalizeQuery renders a query in canonical form so logically identical
// queries share a cache entry.
func normalizeQuery(q Query) string {
	keywords := make([]string, 0, len(q.Keywords))
	for _, kw := range q.Keywords {
		keywords = append(keywords, strings.ToLower(strings.TrimSpace(kw)))
	}
	sort.Strings(keywords)

	min := ""
	if q.MinImportance != nil {
		min = strconv.FormatFloat(*q.MinImportance, 'f', -1, 64)
	}
	return strings.Join(keywords, ",") + "|type=" + string(q.Type) + "|min=" + min + "|limit=" + strconv.Itoa(q.Limit)
}
