package persona

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrDefaultPersonaDelete is returned before any mutation when a caller
// tries to remove the built-in persona.
var ErrDefaultPersonaDelete = errors.New("the default persona cannot be deleted")

// Store persists personas in sqlite. The whole persona document is kept
// as JSON in one column; personas are small and always read whole.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create persona db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS personas (
			id TEXT PRIMARY KEY,
			doc_json TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init persona schema: %w", err)
		}
	}
	return nil
}

// Load returns the saved persona, or the built-in defaults when the id
// has never been saved.
func (s *Store) Load(ctx context.Context, id string) (*Persona, error) {
	if id == "" {
		id = DefaultID
	}

	var docJSON string
	var updatedMs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT doc_json, updated_at_ms FROM personas WHERE id = ?`, id,
	).Scan(&docJSON, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		p := Default()
		p.ID = id
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load persona %s: %w", id, err)
	}

	var p Persona
	if err := json.Unmarshal([]byte(docJSON), &p); err != nil {
		return nil, fmt.Errorf("decode persona %s: %w", id, err)
	}
	p.ID = id
	p.UpdatedAt = time.UnixMilli(updatedMs)
	if p.SubmoltPriorities == nil {
		p.SubmoltPriorities = map[string]int{}
	}
	return &p, nil
}

func (s *Store) Save(ctx context.Context, p *Persona) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("persona id is required")
	}
	for name, prio := range p.SubmoltPriorities {
		if prio < 1 || prio > 10 {
			return fmt.Errorf("submolt %q priority %d out of range 1-10", name, prio)
		}
	}
	if p.Rules.EngagementRate < 0 || p.Rules.EngagementRate > 1 {
		return fmt.Errorf("engagement_rate %v out of range 0-1", p.Rules.EngagementRate)
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode persona %s: %w", p.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO personas (id, doc_json, updated_at_ms) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET doc_json = excluded.doc_json, updated_at_ms = excluded.updated_at_ms`,
		p.ID, string(doc), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save persona %s: %w", p.ID, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*Persona, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc_json, updated_at_ms FROM personas ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list personas: %w", err)
	}
	defer rows.Close()

	var out []*Persona
	seenDefault := false
	for rows.Next() {
		var id, docJSON string
		var updatedMs int64
		if err := rows.Scan(&id, &docJSON, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan persona: %w", err)
		}
		var p Persona
		if err := json.Unmarshal([]byte(docJSON), &p); err != nil {
			return nil, fmt.Errorf("decode persona %s: %w", id, err)
		}
		p.ID = id
		p.UpdatedAt = time.UnixMilli(updatedMs)
		if id == DefaultID {
			seenDefault = true
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !seenDefault {
		out = append([]*Persona{Default()}, out...)
	}
	return out, nil
}

// Delete removes a saved persona. The default persona is protected.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == DefaultID {
		return ErrDefaultPersonaDelete
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM personas WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete persona %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("persona %s not found", id)
	}
	return nil
}
