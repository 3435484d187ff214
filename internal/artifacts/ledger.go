package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Status of a ledger record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Record is one row of the artifact ledger.
type Record struct {
	ID          string
	Path        string
	Speaker     string
	Mode        string
	Status      Status
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Ledger records artifacts in SQLite. A Ledger opened with an empty path is
// a no-op, which is how tests and ephemeral deployments run.
type Ledger struct {
	db    *sql.DB
	log   zerolog.Logger
	clock func() time.Time
}

// OpenLedger opens (and migrates) the ledger database at path.
func OpenLedger(ctx context.Context, path string, log zerolog.Logger) (*Ledger, error) {
	l := &Ledger{log: log, clock: time.Now}
	if path == "" {
		return l, nil
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	l.db = db

	if err := l.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS artifacts (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    speaker TEXT,
    mode TEXT,
    status TEXT NOT NULL,
    error TEXT,
    created_at INTEGER NOT NULL,
    completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created_at);
`
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Ping reports whether the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.PingContext(ctx)
}

// Begin inserts a pending record.
func (l *Ledger) Begin(ctx context.Context, rec Record) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.clock()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO artifacts(id, path, speaker, mode, status, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Path, rec.Speaker, rec.Mode, string(StatusPending), rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert artifact %s: %w", rec.ID, err)
	}
	return nil
}

// Complete marks a record as finished with status and an optional error.
func (l *Ledger) Complete(ctx context.Context, id string, status Status, cause error) error {
	if l == nil || l.db == nil {
		return nil
	}
	var msg sql.NullString
	if cause != nil {
		msg = sql.NullString{String: cause.Error(), Valid: true}
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE artifacts SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), msg, l.clock().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("complete artifact %s: %w", id, err)
	}
	return nil
}

// Get returns the record for id, or sql.ErrNoRows.
func (l *Ledger) Get(ctx context.Context, id string) (Record, error) {
	if l == nil || l.db == nil {
		return Record{}, sql.ErrNoRows
	}
	row := l.db.QueryRowContext(ctx,
		`SELECT id, path, speaker, mode, status, error, created_at, completed_at FROM artifacts WHERE id = ?`, id)
	return scanRecord(row)
}

// Recent lists up to limit records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, path, speaker, mode, status, error, created_at, completed_at
		 FROM artifacts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec           Record
		speaker, mode sql.NullString
		status        string
		errMsg        sql.NullString
		created       int64
		completed     sql.NullInt64
	)
	if err := s.Scan(&rec.ID, &rec.Path, &speaker, &mode, &status, &errMsg, &created, &completed); err != nil {
		return Record{}, err
	}
	rec.Speaker = speaker.String
	rec.Mode = mode.String
	rec.Status = Status(status)
	rec.Error = errMsg.String
	rec.CreatedAt = time.UnixMilli(created)
	if completed.Valid {
		rec.CompletedAt = time.UnixMilli(completed.Int64)
	}
	return rec, nil
}

// Prune deletes artifacts older than maxAge, both the files and the rows.
// It returns the number of records removed.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if l == nil || l.db == nil || maxAge <= 0 {
		return 0, nil
	}
	cutoff := l.clock().Add(-maxAge).UnixMilli()

	rows, err := l.db.QueryContext(ctx, `SELECT id, path FROM artifacts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select expired artifacts: %w", err)
	}
	type expired struct{ id, path string }
	var victims []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.path); err != nil {
			rows.Close()
			return 0, err
		}
		victims = append(victims, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for _, v := range victims {
		if err := os.Remove(v.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.log.Warn().Err(err).Str("artifact_id", v.id).Msg("failed to remove expired artifact")
			continue
		}
		if _, err := l.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, v.id); err != nil {
			return removed, fmt.Errorf("delete artifact %s: %w", v.id, err)
		}
		removed++
	}
	return removed, nil
}

// RunPruner prunes every interval until ctx is done.
func (l *Ledger) RunPruner(ctx context.Context, interval, maxAge time.Duration) {
	if l == nil || l.db == nil || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Prune(ctx, maxAge)
			if err != nil {
				l.log.Warn().Err(err).Msg("artifact prune failed")
				continue
			}
			if n > 0 {
				l.log.Info().Int("removed", n).Msg("pruned expired artifacts")
			}
		}
	}
}
