// CLAUDE:SUMMARY SQLite journal of firings and persistence setups; implements sink.Sink and retention cleanup.
// Package ledger keeps a local SQLite journal of every firing and every
// persistence setup, so an operator can check after the fact whether the
// connect button was found and clicked.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/sentinel/keepalive"
	"github.com/hazyhaar/sentinel/persist"
)

// Schema creates the ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS firings (
	firing_id  TEXT PRIMARY KEY,
	task       TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL,
	target     INTEGER NOT NULL,
	selector   TEXT NOT NULL DEFAULT '',
	activated  INTEGER NOT NULL,
	fired_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_firings_fired_at ON firings(fired_at);

CREATE TABLE IF NOT EXISTS setups (
	setup_id    TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	base        TEXT NOT NULL,
	checkpoints TEXT NOT NULL,
	logs        TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// Ledger writes and reads the journal. Write failures are logged and
// returned but never stop the caller.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// New wraps an open database. Call Init before use.
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, logger: slog.Default()}
}

// WithLogger sets the logger used for write failures.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	return l
}

// Init applies the schema.
func (l *Ledger) Init() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return fmt.Errorf("ledger: schema: %w", err)
	}
	return nil
}

// DB returns the underlying database.
func (l *Ledger) DB() *sql.DB { return l.db }

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// SendFiring records a firing.
func (l *Ledger) SendFiring(ctx context.Context, f keepalive.Firing) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO firings (firing_id, task, seq, target, selector, activated, fired_at)
		VALUES (?,?,?,?,?,?,?)`,
		"fir_"+uuid.Must(uuid.NewV7()).String(), string(f.Task), f.Seq, f.Target,
		f.Selector, f.Activated, f.At.UnixMilli())
	if err != nil {
		l.logger.Error("ledger: record firing failed", "error", err, "task", f.Task)
		return fmt.Errorf("ledger: record firing: %w", err)
	}
	return nil
}

// SendSetup records a persistence setup.
func (l *Ledger) SendSetup(ctx context.Context, r persist.Record) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO setups (setup_id, project, base, checkpoints, logs, created_at)
		VALUES (?,?,?,?,?,?)`,
		"set_"+uuid.Must(uuid.NewV7()).String(), r.Project, r.Base, r.Checkpoints,
		r.Logs, r.At.UnixMilli())
	if err != nil {
		l.logger.Error("ledger: record setup failed", "error", err, "project", r.Project)
		return fmt.Errorf("ledger: record setup: %w", err)
	}
	return nil
}

// Firings returns the most recent firings, newest first. A non-empty task
// restricts the result to that task.
func (l *Ledger) Firings(ctx context.Context, task keepalive.Handle, limit int) ([]keepalive.Firing, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT task, seq, target, selector, activated, fired_at
		FROM firings
		WHERE ? = '' OR task = ?
		ORDER BY fired_at DESC, seq DESC
		LIMIT ?`, string(task), string(task), limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query firings: %w", err)
	}
	defer rows.Close()

	var out []keepalive.Firing
	for rows.Next() {
		var f keepalive.Firing
		var taskID string
		var at int64
		if err := rows.Scan(&taskID, &f.Seq, &f.Target, &f.Selector, &f.Activated, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan firing: %w", err)
		}
		f.Task = keepalive.Handle(taskID)
		f.At = time.UnixMilli(at)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Setups returns the most recent setups, newest first.
func (l *Ledger) Setups(ctx context.Context, limit int) ([]persist.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT project, base, checkpoints, logs, created_at
		FROM setups ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query setups: %w", err)
	}
	defer rows.Close()

	var out []persist.Record
	for rows.Next() {
		var r persist.Record
		var at int64
		if err := rows.Scan(&r.Project, &r.Base, &r.Checkpoints, &r.Logs, &at); err != nil {
			return nil, fmt.Errorf("ledger: scan setup: %w", err)
		}
		r.At = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary aggregates the firings of one task (or all tasks for an empty handle).
type Summary struct {
	Firings     int64     `json:"firings"`
	Activations int64     `json:"activations"`
	LastClick   time.Time `json:"last_click,omitzero"`
}

// Summarize aggregates firings.
func (l *Ledger) Summarize(ctx context.Context, task keepalive.Handle) (Summary, error) {
	var s Summary
	var last sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(activated), 0),
		       MAX(CASE WHEN activated THEN fired_at END)
		FROM firings WHERE ? = '' OR task = ?`, string(task), string(task)).
		Scan(&s.Firings, &s.Activations, &last)
	if err != nil {
		return Summary{}, fmt.Errorf("ledger: summarize: %w", err)
	}
	if last.Valid {
		s.LastClick = time.UnixMilli(last.Int64)
	}
	return s, nil
}

// Cleanup deletes firings older than retention. Setups are kept.
func (l *Ledger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := l.db.ExecContext(ctx, "DELETE FROM firings WHERE fired_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: cleanup: %w", err)
	}
	return res.RowsAffected()
}
