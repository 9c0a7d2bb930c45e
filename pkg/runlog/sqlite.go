package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal at path. ":memory:"
// gives a private in-process database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every new connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore uses an already opened database, creating the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		outcome TEXT NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		result TEXT,
		error TEXT,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("record needs an id")
	}
	r := normalize(rec)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, task, outcome, steps, result, error, duration_ns, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID,
		r.Task,
		r.Outcome,
		r.Steps,
		r.Result,
		r.Error,
		r.Duration.Nanoseconds(),
		r.StartedAt.UnixNano(),
	)
	return err
}

const selectColumns = `SELECT id, task, outcome, steps, result, error, duration_ns, started_at FROM runs`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	rec := &Record{}
	var result, errText sql.NullString
	var durationNs, startedNs int64
	if err := row.Scan(&rec.ID, &rec.Task, &rec.Outcome, &rec.Steps, &result, &errText, &durationNs, &startedNs); err != nil {
		return nil, err
	}
	rec.Result = result.String
	rec.Error = errText.String
	rec.Duration = time.Duration(durationNs)
	rec.StartedAt = time.Unix(0, startedNs).UTC()
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Record, error) {
	query := selectColumns + ` WHERE 1=1`
	args := []any{}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*), COALESCE(SUM(duration_ns), 0)
		FROM runs
		GROUP BY outcome
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var outcome string
		var count, durationNs int64
		if err := rows.Scan(&outcome, &count, &durationNs); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.TotalDuration += time.Duration(durationNs)
		switch outcome {
		case OutcomeSuccess:
			stats.Succeeded += count
		case OutcomeCancelled:
			stats.Cancelled += count
		default:
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.finish()
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
