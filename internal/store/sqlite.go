package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"eventdir/internal/model"
)

// SQLite stores events in a single table. Category and search filters
// beyond state, origin and modification time are applied in Go.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path, creating its
// directory if needed. ":memory:" opens a private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// modernc connections do not share an in-memory database
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	location TEXT NOT NULL,
	categories TEXT NOT NULL,
	start_at TEXT NOT NULL,
	end_at TEXT NOT NULL,
	timezone TEXT NOT NULL,
	whole_day INTEGER NOT NULL,
	recurrence TEXT NOT NULL,
	state TEXT NOT NULL,
	external INTEGER NOT NULL,
	source_id TEXT NOT NULL,
	modified_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_state ON events(state);
`)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// timeLayout is fixed width so stored instants compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func iso(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

const selectEvents = `
SELECT id, title, description, location, categories, start_at, end_at,
       timezone, whole_day, recurrence, state, external, source_id, modified_at
FROM events`

func (s *SQLite) Get(ctx context.Context, id string) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx, selectEvents+` WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

func (s *SQLite) Put(ctx context.Context, ev *model.Event) error {
	categories, err := json.Marshal(ev.Categories)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
INSERT OR REPLACE INTO events(
	id, title, description, location, categories, start_at, end_at,
	timezone, whole_day, recurrence, state, external, source_id, modified_at
)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		ev.ID,
		ev.Title,
		ev.Description,
		ev.Location,
		string(categories),
		iso(ev.Start),
		iso(ev.End),
		ev.Timezone,
		ev.WholeDay,
		ev.Recurrence,
		string(ev.State),
		ev.External,
		ev.SourceID,
		iso(ev.Modified),
	)
	return err
}

func (s *SQLite) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query filters state, origin and times in SQL and the rest
// through Query.Match. Results are ordered by id.
func (s *SQLite) Query(ctx context.Context, q Query) ([]*model.Event, error) {
	var (
		where []string
		args  []any
	)
	if len(q.States) > 0 {
		marks := make([]string, len(q.States))
		for i, st := range q.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	if q.External != nil {
		where = append(where, "external = ?")
		args = append(args, *q.External)
	}
	if !q.ModifiedBefore.IsZero() {
		where = append(where, "modified_at < ?")
		args = append(args, iso(q.ModifiedBefore))
	}
	if !q.EndBefore.IsZero() {
		where = append(where, "start_at < ? AND end_at < ?")
		args = append(args, iso(q.EndBefore), iso(q.EndBefore))
	}

	query := selectEvents
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if q.Match(ev) {
			out = append(out, ev)
		}
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var (
		ev                   model.Event
		categories, state    string
		start, end, modified string
	)
	if err := row.Scan(
		&ev.ID,
		&ev.Title,
		&ev.Description,
		&ev.Location,
		&categories,
		&start,
		&end,
		&ev.Timezone,
		&ev.WholeDay,
		&ev.Recurrence,
		&state,
		&ev.External,
		&ev.SourceID,
		&modified,
	); err != nil {
		return nil, err
	}

	ev.State = model.State(state)
	if err := json.Unmarshal([]byte(categories), &ev.Categories); err != nil {
		return nil, fmt.Errorf("store: event %s categories: %w", ev.ID, err)
	}

	var err error
	if ev.Start, err = time.Parse(timeLayout, start); err != nil {
		return nil, fmt.Errorf("store: event %s start: %w", ev.ID, err)
	}
	if ev.End, err = time.Parse(timeLayout, end); err != nil {
		return nil, fmt.Errorf("store: event %s end: %w", ev.ID, err)
	}
	if ev.Modified, err = time.Parse(timeLayout, modified); err != nil {
		return nil, fmt.Errorf("store: event %s modified: %w", ev.ID, err)
	}
	return &ev, nil
}
