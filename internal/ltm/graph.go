package ltm

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/xiy/tiermem/pkg/types"
)

// Quad is one statement in a named graph. Literal marks the object as a
// plain value rather than a node reference.
type Quad struct {
	Subject   string
	Predicate string
	Object    string
	Literal   bool
}

// Pattern matches quads; empty fields are wildcards.
type Pattern struct {
	Subject   string
	Predicate string
	Object    string
}

// QuadStore is the narrow interface to the external graph store. Apply must
// run deletes and inserts as one atomic unit so a crash mid-write cannot
// leave an item half-linked to its session.
type QuadStore interface {
	Ask(ctx context.Context, graph string, p Pattern) (bool, error)
	Select(ctx context.Context, graph string, p Pattern) ([]Quad, error)
	Apply(ctx context.Context, graph string, deletes []Pattern, inserts []Quad) error
}

// DefaultGraph is the named graph holding all session memory statements.
const DefaultGraph = "mem:graph/sessions"

// GraphStore is the ontology-graph backend: each item becomes a typed
// individual linked to its session's WorkSession node. Session isolation is
// structural; every read goes through the sourceSession link.
type GraphStore struct {
	quads     QuadStore
	graph     string
	sessionID string
}

// NewGraphStore creates the graph-backed SessionStore for one session.
// An empty graph name selects DefaultGraph.
func NewGraphStore(quads QuadStore, graph, sessionID string) *GraphStore {
	if graph == "" {
		graph = DefaultGraph
	}
	return &GraphStore{quads: quads, graph: graph, sessionID: sessionID}
}

func (g *GraphStore) SessionID() string { return g.sessionID }

func (g *GraphStore) Persist(ctx context.Context, item types.MemoryItem) (types.MemoryItem, error) {
	item.SessionID = g.sessionID
	if err := validateItem(item); err != nil {
		return types.MemoryItem{}, err
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	inserts, err := toQuads(item)
	if err != nil {
		return types.MemoryItem{}, err
	}
	sessionQuads, err := g.ensureSessionQuads(ctx)
	if err != nil {
		return types.MemoryItem{}, err
	}
	inserts = append(inserts, sessionQuads...)

	// Replacing any previous statements and inserting the new ones is a
	// single transaction on the quad store.
	deletes := []Pattern{{Subject: itemSubject(g.sessionID, item.ID)}}
	if err := g.quads.Apply(ctx, g.graph, deletes, inserts); err != nil {
		return types.MemoryItem{}, fmt.Errorf("persist item graph: %w", err)
	}
	return g.Get(ctx, item.ID)
}

// ensureSessionQuads returns the statements creating the WorkSession
// individual if it does not exist yet. Creation rides along the first
// write's transaction.
func (g *GraphStore) ensureSessionQuads(ctx context.Context) ([]Quad, error) {
	subject := sessionSubject(g.sessionID)
	exists, err := g.quads.Ask(ctx, g.graph, Pattern{
		Subject:   subject,
		Predicate: predType,
		Object:    classWorkSession,
	})
	if err != nil {
		return nil, fmt.Errorf("ask work session: %w", err)
	}
	if exists {
		return nil, nil
	}
	return []Quad{{Subject: subject, Predicate: predType, Object: classWorkSession}}, nil
}

func (g *GraphStore) Get(ctx context.Context, id string) (types.MemoryItem, error) {
	quads, err := g.quads.Select(ctx, g.graph, Pattern{Subject: itemSubject(g.sessionID, id)})
	if err != nil {
		return types.MemoryItem{}, fmt.Errorf("select item: %w", err)
	}
	if len(quads) == 0 {
		return types.MemoryItem{}, ErrNotFound
	}
	return fromQuads(g.sessionID, quads)
}

func (g *GraphStore) Query(ctx context.Context, filter QueryFilter) ([]types.MemoryItem, error) {
	subjects, err := g.sessionSubjects(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]types.MemoryItem, 0, len(subjects))
	for _, subject := range subjects {
		quads, err := g.quads.Select(ctx, g.graph, Pattern{Subject: subject})
		if err != nil {
			return nil, fmt.Errorf("select item: %w", err)
		}
		item, err := fromQuads(g.sessionID, quads)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	// Insertion order survives updates by sorting on the preserved
	// creation timestamp.
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })

	out := items[:0]
	for _, item := range items {
		if filter.Type != "" && item.Type != filter.Type {
			continue
		}
		if filter.MinImportance != nil && item.Importance < *filter.MinImportance {
			continue
		}
		out = append(out, item)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (g *GraphStore) Update(ctx context.Context, id string, fields map[string]any) (types.MemoryItem, error) {
	current, err := g.Get(ctx, id)
	if err != nil {
		return types.MemoryItem{}, err
	}
	if err := applyUpdate(&current, fields); err != nil {
		return types.MemoryItem{}, err
	}
	current.UpdatedAt = time.Now().UTC()

	inserts, err := toQuads(current)
	if err != nil {
		return types.MemoryItem{}, err
	}
	deletes := []Pattern{{Subject: itemSubject(g.sessionID, id)}}
	if err := g.quads.Apply(ctx, g.graph, deletes, inserts); err != nil {
		return types.MemoryItem{}, fmt.Errorf("update item graph: %w", err)
	}
	return current, nil
}

func (g *GraphStore) Delete(ctx context.Context, id string) error {
	subject := itemSubject(g.sessionID, id)
	exists, err := g.quads.Ask(ctx, g.graph, Pattern{Subject: subject})
	if err != nil {
		return fmt.Errorf("ask item: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	if err := g.quads.Apply(ctx, g.graph, []Pattern{{Subject: subject}}, nil); err != nil {
		return fmt.Errorf("delete item graph: %w", err)
	}
	return nil
}

func (g *GraphStore) Count(ctx context.Context) (int, error) {
	subjects, err := g.sessionSubjects(ctx)
	if err != nil {
		return 0, err
	}
	return len(subjects), nil
}

func (g *GraphStore) Clear(ctx context.Context) error {
	subjects, err := g.sessionSubjects(ctx)
	if err != nil {
		return err
	}
	if len(subjects) == 0 {
		return nil
	}
	deletes := make([]Pattern, 0, len(subjects))
	for _, subject := range subjects {
		deletes = append(deletes, Pattern{Subject: subject})
	}
	if err := g.quads.Apply(ctx, g.graph, deletes, nil); err != nil {
		return fmt.Errorf("clear session graph: %w", err)
	}
	return nil
}

// sessionSubjects lists this session's item nodes via the sourceSession link.
func (g *GraphStore) sessionSubjects(ctx context.Context) ([]string, error) {
	links, err := g.quads.Select(ctx, g.graph, Pattern{
		Predicate: predSourceSession,
		Object:    sessionSubject(g.sessionID),
	})
	if err != nil {
		return nil, fmt.Errorf("select session links: %w", err)
	}
	subjects := make([]string, 0, len(links))
	for _, link := range links {
		subjects = append(subjects, link.Subject)
	}
	return subjects, nil
}
