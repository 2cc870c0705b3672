// Package quad implements the external quad-store collaborator behind the
// ontology-graph memory backend: a named-graph statement table on SQLite
// with atomic write batches.
package quad

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"

	"github.com/xiy/tiermem/internal/ltm"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore is a SQLite-backed quad store.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens and initializes the quad store at dbPath.
func Open(ctx context.Context, dbPath string, logger *log.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, stmt := range splitSQLStatements(schemaSQL) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run schema stmt: %w", err)
		}
	}
	return nil
}

func splitSQLStatements(s string) []string {
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p+";")
	}
	return out
}

// Ask reports whether any quad matches the pattern.
func (s *SQLiteStore) Ask(ctx context.Context, graph string, p ltm.Pattern) (bool, error) {
	where, args := patternClause(graph, p)
	q := "SELECT EXISTS(SELECT 1 FROM quads WHERE " + where + ")"
	var exists int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("ask quads: %w", err)
	}
	return exists == 1, nil
}

// Select returns matching quads in insertion order.
func (s *SQLiteStore) Select(ctx context.Context, graph string, p ltm.Pattern) ([]ltm.Quad, error) {
	where, args := patternClause(graph, p)
	q := "SELECT subject, predicate, object, literal FROM quads WHERE " + where + " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select quads: %w", err)
	}
	defer rows.Close()

	var out []ltm.Quad
	for rows.Next() {
		var quad ltm.Quad
		var literal int
		if err := rows.Scan(&quad.Subject, &quad.Predicate, &quad.Object, &literal); err != nil {
			return nil, fmt.Errorf("scan quad: %w", err)
		}
		quad.Literal = literal == 1
		out = append(out, quad)
	}
	return out, rows.Err()
}

// Apply runs deletes then inserts as one transaction.
func (s *SQLiteStore) Apply(ctx context.Context, graph string, deletes []ltm.Pattern, inserts []ltm.Quad) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range deletes {
		where, args := patternClause(graph, p)
		if _, err := tx.ExecContext(ctx, "DELETE FROM quads WHERE "+where, args...); err != nil {
			return fmt.Errorf("delete quads: %w", err)
		}
	}
	for _, quad := range inserts {
		literal := 0
		if quad.Literal {
			literal = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quads (graph, subject, predicate, object, literal) VALUES (?, ?, ?, ?, ?)`,
			graph, quad.Subject, quad.Predicate, quad.Object, literal,
		); err != nil {
			return fmt.Errorf("insert quad: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply tx: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func patternClause(graph string, p ltm.Pattern) (string, []any) {
	where := []string{"graph = ?"}
	args := []any{graph}
	if p.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, p.Subject)
	}
	if p.Predicate != "" {
		where = append(where, "predicate = ?")
		args = append(args, p.Predicate)
	}
	if p.Object != "" {
		where = append(where, "object = ?")
		args = append(args, p.Object)
	}
	return strings.Join(where, " AND "), args
}
