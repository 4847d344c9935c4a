// Package store persists placements in a SQLite database, keyed by the
// local day they were planned for.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	appLog "autoplan/internal/log"
	"autoplan/internal/model"
	"autoplan/internal/tz"
)

//go:embed migrations.sql
var migrations string

// ErrNotFound is returned when a placement id does not exist.
var ErrNotFound = errors.New("store: placement not found")

// Store is a SQLite-backed placement store. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: database path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrap(err, "store: create directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(migrations); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "store: migrate")
	}

	appLog.Debug("store opened", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListByDay returns the placements stored for day ordered by start.
func (s *Store) ListByDay(ctx context.Context, day tz.Date) ([]model.Placement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, task_title, start_unix, duration_min
		 FROM placements WHERE day = ? ORDER BY start_unix, id`,
		day.String(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "store: list")
	}
	defer rows.Close()

	out := make([]model.Placement, 0)
	for rows.Next() {
		var (
			p     model.Placement
			start int64
		)
		if err := rows.Scan(&p.ID, &p.TaskID, &p.TaskTitle, &start, &p.DurationMinutes); err != nil {
			return nil, errors.Wrap(err, "store: scan")
		}
		p.Start = time.Unix(start, 0).UTC()
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "store: list")
}

// Save upserts placements for day in a single transaction.
func (s *Store) Save(ctx context.Context, day tz.Date, placements ...model.Placement) error {
	if len(placements) == 0 {
		return nil
	}
	for _, p := range placements {
		if p.ID == "" || p.TaskID == "" {
			return errors.New("store: placement id and task id are required")
		}
		if p.DurationMinutes <= 0 {
			return errors.Errorf("store: placement %s has non-positive duration", p.ID)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	created := s.now().Unix()
	for _, p := range placements {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO placements(id, task_id, task_title, day, start_unix, duration_min, created_at)
			 VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET
			   task_id=excluded.task_id,
			   task_title=excluded.task_title,
			   day=excluded.day,
			   start_unix=excluded.start_unix,
			   duration_min=excluded.duration_min`,
			p.ID, p.TaskID, p.TaskTitle, day.String(), p.Start.Unix(), p.DurationMinutes, created,
		)
		if err != nil {
			return errors.Wrapf(err, "store: save %s", p.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "store: commit")
	}
	appLog.Debug("store saved placements", "day", day.String(), "count", len(placements))
	return nil
}

// Delete removes a single placement.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM placements WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "store: delete")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "store: delete")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDay removes every placement of day and reports how many were
// removed.
func (s *Store) DeleteDay(ctx context.Context, day tz.Date) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM placements WHERE day = ?`, day.String())
	if err != nil {
		return 0, errors.Wrap(err, "store: delete day")
	}
	return res.RowsAffected()
}
