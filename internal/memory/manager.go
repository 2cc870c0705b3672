// Package memory coordinates the tiers for every open session: short-term
// structures in process, a long-term store per session, retrieval with a
// shared cache, and the promotion pipeline between them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/xiy/tiermem/internal/config"
	"github.com/xiy/tiermem/internal/events"
	"github.com/xiy/tiermem/internal/ltm"
	"github.com/xiy/tiermem/internal/promotion"
	"github.com/xiy/tiermem/internal/retrieval"
	"github.com/xiy/tiermem/internal/stm"
	"github.com/xiy/tiermem/pkg/types"
)

// ErrSessionRequired is returned when an operation names no session.
var ErrSessionRequired = errors.New("session_id is required")

// Session pairs one session's short-term memory with its long-term store.
type Session struct {
	ID    string
	STM   *stm.Memory
	Store ltm.SessionStore
}

// Manager owns the open sessions and routes every memory operation through
// the right tier. Sessions never see each other's data; the retrieval cache
// is shared but session-keyed.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg      config.Config
	logger   *log.Logger
	emitter  events.Emitter
	engine   *retrieval.Engine
	pipeline *promotion.Pipeline

	table *ltm.TableStore
	quads ltm.QuadStore
}

// NewManager creates a manager for the configured backend. quads may be nil
// unless the backend is graph.
func NewManager(cfg config.Config, logger *log.Logger, emitter events.Emitter, quads ltm.QuadStore) (*Manager, error) {
	if emitter == nil {
		emitter = events.Nop{}
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		emitter:  emitter,
		engine:   retrieval.NewEngine(logger, emitter),
		pipeline: promotion.New(logger, emitter),
		quads:    quads,
	}
	switch cfg.Backend {
	case config.BackendTable:
		m.table = ltm.NewTableStore()
	case config.BackendGraph:
		if quads == nil {
			return nil, errors.New("graph backend requires a quad store")
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return m, nil
}

// Session returns the session for id, creating it on first use.
func (m *Manager) Session(id string) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrSessionRequired
	}

	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[id]; ok {
		return sess, nil
	}

	var store ltm.SessionStore
	if m.table != nil {
		store = m.table.Session(id)
	} else {
		store = ltm.NewGraphStore(m.quads, ltm.DefaultGraph, id)
	}

	sess = &Session{
		ID: id,
		STM: stm.New(id, stm.Options{
			Budget: stm.TokenBudget{
				MaxTokens:         m.cfg.MaxTokens,
				ReservePercentage: m.cfg.ReservePercentage,
				OverheadThreshold: m.cfg.OverheadThreshold,
			},
			ContextCapacity: m.cfg.ContextCapacity,
			PendingCapacity: m.cfg.PendingCapacity,
		}),
		Store: store,
	}
	m.sessions[id] = sess
	m.logger.Debug("opened session", "session_id", id, "backend", m.cfg.Backend)
	return sess, nil
}

// Remember appends a conversation message to the session's buffer and
// returns any messages evicted to stay within the token budget.
func (m *Manager) Remember(sessionID string, role types.Role, content string) ([]types.ConversationMessage, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content must not be empty")
	}
	if role == "" {
		role = types.RoleUser
	}
	evicted := sess.STM.Buffer.Add(types.ConversationMessage{Role: role, Content: content})
	return evicted, nil
}

// PutContext stores working-context entries for the session. All entries are
// stored or none are.
func (m *Manager) PutContext(sessionID string, entries map[string]any) error {
	sess, err := m.Session(sessionID)
	if err != nil {
		return err
	}
	return sess.STM.Context.PutMany(entries)
}

// QueueForPromotion enqueues a promotion candidate, minting an id when the
// caller supplied none.
func (m *Manager) QueueForPromotion(sessionID string, candidate types.PendingMemory) (types.PendingMemory, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return types.PendingMemory{}, err
	}
	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	if err := sess.STM.Pending.Enqueue(candidate); err != nil {
		return types.PendingMemory{}, err
	}
	return candidate, nil
}

// StoreMemory persists an item directly to the session's long-term store,
// bypassing the promotion queue. An empty id is minted.
func (m *Manager) StoreMemory(ctx context.Context, sessionID string, item types.MemoryItem) (types.MemoryItem, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return types.MemoryItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	stored, err := sess.Store.Persist(ctx, item)
	if err != nil {
		return types.MemoryItem{}, err
	}
	m.emitter.Emit(events.New(events.TypeMemoryStored, events.MemoryPayload{
		SessionID:  stored.SessionID,
		MemoryID:   stored.ID,
		Type:       string(stored.Type),
		Importance: stored.Importance,
	}))
	return stored, nil
}

// Promote runs one promotion batch for the session using the configured
// thresholds.
func (m *Manager) Promote(ctx context.Context, sessionID string) (promotion.Report, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return promotion.Report{}, err
	}
	return m.pipeline.Promote(ctx, sess.STM, sess.Store, m.promotionOptions())
}

// PromoteDue sweeps every open session and reports how many memories were
// promoted in total.
func (m *Manager) PromoteDue(ctx context.Context) (int, error) {
	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		open = append(open, sess)
	}
	m.mu.RUnlock()

	total := 0
	var firstErr error
	for _, sess := range open {
		report, err := m.pipeline.Promote(ctx, sess.STM, sess.Store, m.promotionOptions())
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("session %s: %w", sess.ID, err)
			}
			continue
		}
		total += len(report.Promoted)
	}
	return total, firstErr
}

// Recall searches the session's long-term store, serving repeated queries
// from the cache. A zero CacheTTL falls back to the configured TTL.
func (m *Manager) Recall(ctx context.Context, sessionID string, q retrieval.Query) ([]retrieval.Match, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return nil, err
	}
	if q.CacheTTL <= 0 {
		q.CacheTTL = m.cacheTTL()
	}
	return m.engine.SearchWithCache(ctx, sess.Store, q)
}

// Enrich packages recalled memories for prompt injection.
func (m *Manager) Enrich(ctx context.Context, sessionID string, q retrieval.Query, opts retrieval.EnrichOptions) (retrieval.Enriched, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return retrieval.Enriched{}, err
	}
	if q.CacheTTL <= 0 {
		q.CacheTTL = m.cacheTTL()
	}
	return m.engine.EnrichContext(ctx, sess.Store, q, opts)
}

// SessionStats is a point-in-time snapshot of one session's tiers.
type SessionStats struct {
	SessionID      string `json:"session_id"`
	BufferMessages int    `json:"buffer_messages"`
	BufferTokens   int    `json:"buffer_tokens"`
	ContextEntries int    `json:"context_entries"`
	PendingItems   int    `json:"pending_items"`
	StoredMemories int    `json:"stored_memories"`
}

// Stats reports a snapshot of the session's tiers.
func (m *Manager) Stats(ctx context.Context, sessionID string) (SessionStats, error) {
	sess, err := m.Session(sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	count, err := sess.Store.Count(ctx)
	if err != nil {
		return SessionStats{}, err
	}
	return SessionStats{
		SessionID:      sess.ID,
		BufferMessages: sess.STM.Buffer.Len(),
		BufferTokens:   sess.STM.Buffer.CurrentTokens(),
		ContextEntries: sess.STM.Context.Len(),
		PendingItems:   sess.STM.Pending.Len(),
		StoredMemories: count,
	}, nil
}

// Overview aggregates per-session stats for the admin dashboard, sorted by
// session id.
func (m *Manager) Overview(ctx context.Context) ([]SessionStats, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	stats := make([]SessionStats, 0, len(ids))
	for _, id := range ids {
		s, err := m.Stats(ctx, id)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// CacheStats exposes the retrieval cache counters.
func (m *Manager) CacheStats() retrieval.CacheStats { return m.engine.CacheStats() }

// ClearSession resets the session's short-term structures and drops its
// long-term memories.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	sess, err := m.Session(sessionID)
	if err != nil {
		return err
	}
	sess.STM.Clear()
	if err := sess.Store.Clear(ctx); err != nil {
		return err
	}
	m.engine.ClearCache()
	return nil
}

func (m *Manager) promotionOptions() promotion.Options {
	return promotion.Options{
		MinImportance: m.cfg.PromoteMinImportance,
		MaxAge:        time.Duration(m.cfg.PromoteMaxAgeSeconds) * time.Second,
	}
}

func (m *Manager) cacheTTL() time.Duration {
	return time.Duration(m.cfg.CacheTTLSeconds) * time.Second
}
