// Package history persists wait-session events to SQLite so operators can
// audit what the controller waited on and how each wait ended.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"probetherm/pkg/config"
	"probetherm/pkg/errors"
)

const sqliteDriverName = "sqlite"

// Event kinds stored in the kind column.
const (
	KindStarted   = "started"
	KindReport    = "report"
	KindCompleted = "completed"
	KindTimedOut  = "timed_out"
)

const schemaWaitEvents = `
CREATE TABLE IF NOT EXISTS wait_events (
    id TEXT PRIMARY KEY,
    occurred_at TIMESTAMP NOT NULL,
    kind TEXT NOT NULL,
    direction TEXT NOT NULL,
    target REAL NOT NULL,
    reading REAL NOT NULL,
    detail TEXT
);
`

// WaitEvent is one row in the wait_events table.
type WaitEvent struct {
	ID         string
	OccurredAt time.Time
	Kind       string
	Direction  string
	Target     float64
	Reading    float64
	Detail     string
}

// Store appends and lists wait events. A Store with no database (no
// [history] section) accepts writes and drops them.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing database handle. Used by tests.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Open builds a Store from the optional [history] config section:
//
//	[history]
//	path: /var/lib/probetherm/history.db
//
// Without the section a no-op store is returned.
func Open(cfg *config.Config) (*Store, error) {
	sec := cfg.GetSectionOptional("history")
	if sec == nil {
		return &Store{}, nil
	}
	path, err := sec.Get("path")
	if err != nil {
		return nil, err
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// openSQLite opens/creates the database file and ensures the schema.
func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriverName, path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrStorage, fmt.Sprintf("open sqlite at %q", path))
	}

	// Single writer; SQLite contends badly with more.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.ErrStorage, strings.TrimSuffix(pragma, ";"))
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrStorage, "ping sqlite")
	}
	return db, nil
}

func ensureSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaWaitEvents); err != nil {
		return errors.Wrap(err, errors.ErrStorage, "apply wait_events schema")
	}
	return nil
}

// Enabled reports whether events actually reach a database.
func (s *Store) Enabled() bool { return s.db != nil }

// Append inserts an event. Empty ID and zero OccurredAt are filled in.
func (s *Store) Append(ctx context.Context, e WaitEvent) error {
	if s.db == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	} else {
		e.OccurredAt = e.OccurredAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wait_events (id, occurred_at, kind, direction, target, reading, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		e.OccurredAt.Format("2006-01-02 15:04:05"),
		strings.ToLower(strings.TrimSpace(e.Kind)),
		e.Direction,
		e.Target,
		e.Reading,
		e.Detail,
	)
	return err
}

// List returns events filtered by [from, to] (inclusive) and/or kind,
// ordered by occurrence time ascending.
func (s *Store) List(ctx context.Context, from, to time.Time, kind string) ([]WaitEvent, error) {
	if s.db == nil {
		return nil, nil
	}

	var (
		conds []string
		args  []any
	)
	if !from.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		conds = append(conds, "occurred_at <= ?")
		args = append(args, to.UTC())
	}
	if kind = strings.ToLower(strings.TrimSpace(kind)); kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, kind)
	}

	q := `SELECT id, occurred_at, kind, direction, target, reading, detail FROM wait_events`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY occurred_at ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]WaitEvent, 0, 64)
	for rows.Next() {
		var ev WaitEvent
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &ev.Kind, &ev.Direction,
			&ev.Target, &ev.Reading, &detail); err != nil {
			return nil, err
		}
		ev.OccurredAt = ev.OccurredAt.UTC()
		if detail.Valid {
			ev.Detail = detail.String
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
