package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Bing-dwendwen/fuzzyhnsw/internal/recall"
)

const schema = `
CREATE TABLE IF NOT EXISTS recall_runs (
	run_id     TEXT PRIMARY KEY,
	index_ref  TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	trials     INTEGER NOT NULL,
	mode       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS recall_results (
	run_id     TEXT NOT NULL REFERENCES recall_runs(run_id),
	seq        INTEGER NOT NULL,
	record_key TEXT NOT NULL,
	hash       TEXT NOT NULL,
	size       INTEGER NOT NULL,
	hits       INTEGER NOT NULL,
	trials     INTEGER NOT NULL,
	failures   INTEGER NOT NULL,
	recall     REAL NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Run describes a recall run stored by SQLiteSink.
type Run struct {
	ID        string
	IndexRef  string
	StartedAt time.Time
	Trials    int
	Mode      string
}

// SQLiteSink stores results of one run in a SQLite database.
type SQLiteSink struct {
	ctx context.Context
	db  *sql.DB
	run Run
	seq int
}

// OpenSQLiteSink opens (or creates) the database at path and registers run.
func OpenSQLiteSink(ctx context.Context, path string, run Run) (*SQLiteSink, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO recall_runs (run_id, index_ref, started_at, trials, mode) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.IndexRef, run.StartedAt.Unix(), run.Trials, run.Mode,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return &SQLiteSink{ctx: ctx, db: db, run: run}, nil
}

func (s *SQLiteSink) Write(r recall.Result) error {
	_, err := s.db.ExecContext(s.ctx, `
		INSERT INTO recall_results (run_id, seq, record_key, hash, size, hits, trials, failures, recall)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.run.ID, s.seq, r.Key, r.Hash, r.Size, r.Hits, r.Trials, r.Failures, r.Recall,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	s.seq++
	return nil
}

// Results reads back the stored results of a run in write order.
func (s *SQLiteSink) Results(ctx context.Context, runID string) ([]recall.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record_key, hash, size, hits, trials, failures, recall
		FROM recall_results WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []recall.Result
	for rows.Next() {
		var r recall.Result
		if err := rows.Scan(&r.Key, &r.Hash, &r.Size, &r.Hits, &r.Trials, &r.Failures, &r.Recall); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
