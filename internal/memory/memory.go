// Package memory provides the agent's durable long-term memory: short
// free-text facts that survive compaction and restarts.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Fact is one remembered item.
type Fact struct {
	ID      string
	Content string
	// Source records how the fact arrived: "tool" for explicit
	// remember calls, "flush" for compaction extraction.
	Source  string
	Created time.Time
}

// Store is the SQLite-backed fact store.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the fact database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_facts_created ON facts(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores a new fact. Blank content is silently ignored rather
// than persisted as noise.
func (s *Store) Append(ctx context.Context, content, source string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO facts (id, content, source, created_at) VALUES (?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), content, source, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return nil
}

// Search returns up to limit fact contents matching the query,
// best-first. Each query term is matched case-insensitively as a
// substring; facts rank by how many terms hit, recency breaking ties.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return s.Recent(ctx, limit)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT content, created_at FROM facts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	type scored struct {
		content string
		created time.Time
		hits    int
	}
	var matches []scored
	for rows.Next() {
		var sc scored
		if err := rows.Scan(&sc.content, &sc.created); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		lower := strings.ToLower(sc.content)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				sc.hits++
			}
		}
		if sc.hits > 0 {
			matches = append(matches, sc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate facts: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].hits != matches[j].hits {
			return matches[i].hits > matches[j].hits
		}
		return matches[i].created.After(matches[j].created)
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.content
	}
	return out, nil
}

// Recent returns the newest facts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM facts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, content)
	}
	return out, rows.Err()
}
