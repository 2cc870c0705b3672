package ltm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xiy/tiermem/pkg/types"
)

// rowKey scopes a row to its owning session.
type rowKey struct {
	sessionID string
	id        string
}

// TableStore is the keyed-table backend: fast, volatile, process-lifetime
// rows shared by all sessions but keyed by (session_id, id). Many sessions
// read and write concurrently; copy-on-read keeps handed-out items detached
// from the table.
type TableStore struct {
	mu    sync.RWMutex
	rows  map[rowKey]types.MemoryItem
	order map[string][]string // per-session insertion order of ids
}

// NewTableStore creates an empty shared table.
func NewTableStore() *TableStore {
	return &TableStore{
		rows:  make(map[rowKey]types.MemoryItem),
		order: make(map[string][]string),
	}
}

// Session returns the SessionStore view over one session's partition.
func (t *TableStore) Session(sessionID string) SessionStore {
	return &tableSession{table: t, sessionID: sessionID}
}

// TotalItems reports row counts across all sessions, for dashboards.
func (t *TableStore) TotalItems() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// SessionCount reports how many sessions own at least one row.
func (t *TableStore) SessionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, ids := range t.order {
		if len(ids) > 0 {
			n++
		}
	}
	return n
}

// RecentItem is a compact row summary for admin dashboards.
type RecentItem struct {
	ID         string
	SessionID  string
	Type       types.MemoryType
	Importance float64
	CreatedAt  time.Time
}

// RecentItems returns the newest rows across all sessions, newest first.
func (t *TableStore) RecentItems(limit int) []RecentItem {
	if limit <= 0 {
		limit = 20
	}
	t.mu.RLock()
	items := make([]RecentItem, 0, len(t.rows))
	for _, row := range t.rows {
		items = append(items, RecentItem{
			ID:         row.ID,
			SessionID:  row.SessionID,
			Type:       row.Type,
			Importance: row.Importance,
			CreatedAt:  row.CreatedAt,
		})
	}
	t.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

type tableSession struct {
	table     *TableStore
	sessionID string
}

func (s *tableSession) SessionID() string { return s.sessionID }

func (s *tableSession) Persist(_ context.Context, item types.MemoryItem) (types.MemoryItem, error) {
	item.SessionID = s.sessionID
	if err := validateItem(item); err != nil {
		return types.MemoryItem{}, err
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	stored := item.Clone()

	key := rowKey{sessionID: s.sessionID, id: item.ID}
	s.table.mu.Lock()
	if _, exists := s.table.rows[key]; !exists {
		s.table.order[s.sessionID] = append(s.table.order[s.sessionID], item.ID)
	}
	s.table.rows[key] = stored
	s.table.mu.Unlock()

	return stored.Clone(), nil
}

func (s *tableSession) Get(_ context.Context, id string) (types.MemoryItem, error) {
	s.table.mu.RLock()
	row, ok := s.table.rows[rowKey{sessionID: s.sessionID, id: id}]
	s.table.mu.RUnlock()
	if !ok {
		return types.MemoryItem{}, ErrNotFound
	}
	return row.Clone(), nil
}

func (s *tableSession) Query(_ context.Context, filter QueryFilter) ([]types.MemoryItem, error) {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()

	var out []types.MemoryItem
	for _, id := range s.table.order[s.sessionID] {
		row, ok := s.table.rows[rowKey{sessionID: s.sessionID, id: id}]
		if !ok {
			continue
		}
		if filter.Type != "" && row.Type != filter.Type {
			continue
		}
		if filter.MinImportance != nil && row.Importance < *filter.MinImportance {
			continue
		}
		out = append(out, row.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *tableSession) Update(_ context.Context, id string, fields map[string]any) (types.MemoryItem, error) {
	key := rowKey{sessionID: s.sessionID, id: id}
	s.table.mu.Lock()
	defer s.table.mu.Unlock()

	row, ok := s.table.rows[key]
	if !ok {
		return types.MemoryItem{}, ErrNotFound
	}
	updated := row.Clone()
	if err := applyUpdate(&updated, fields); err != nil {
		return types.MemoryItem{}, err
	}
	updated.UpdatedAt = time.Now().UTC()
	s.table.rows[key] = updated
	return updated.Clone(), nil
}

func (s *tableSession) Delete(_ context.Context, id string) error {
	key := rowKey{sessionID: s.sessionID, id: id}
	s.table.mu.Lock()
	defer s.table.mu.Unlock()

	if _, ok := s.table.rows[key]; !ok {
		return ErrNotFound
	}
	delete(s.table.rows, key)
	ids := s.table.order[s.sessionID]
	for i, existing := range ids {
		if existing == id {
			s.table.order[s.sessionID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *tableSession) Count(_ context.Context) (int, error) {
	s.table.mu.RLock()
	defer s.table.mu.RUnlock()
	return len(s.table.order[s.sessionID]), nil
}

func (s *tableSession) Clear(_ context.Context) error {
	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	for _, id := range s.table.order[s.sessionID] {
		delete(s.table.rows, rowKey{sessionID: s.sessionID, id: id})
	}
	delete(s.table.order, s.sessionID)
	return nil
}
