// Package history keeps regression run results in a local SQLite database so
// a case's pass/fail record can be followed across library changes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/robert-at-pretension-io/amc/internal/regression"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	suite        TEXT NOT NULL,
	tech         TEXT NOT NULL,
	started      TEXT NOT NULL,
	duration_ms  INTEGER NOT NULL,
	library_hash TEXT NOT NULL,
	total        INTEGER NOT NULL,
	passed       INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	errors       INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS case_results (
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	case_id     TEXT NOT NULL,
	generator   TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	message     TEXT NOT NULL,
	PRIMARY KEY (run_id, case_id)
);
CREATE INDEX IF NOT EXISTS idx_case_results_case ON case_results(case_id);
`

// timeLayout keeps fractional seconds fixed-width so start times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is an open history database.
type Store struct {
	db *sql.DB
}

// Run is one recorded suite run.
type Run struct {
	RunID       string    `json:"runId"`
	Suite       string    `json:"suite"`
	Tech        string    `json:"tech"`
	Started     time.Time `json:"started"`
	DurationMS  int64     `json:"durationMs"`
	LibraryHash string    `json:"libraryHash"`
	Total       int       `json:"total"`
	Passed      int       `json:"passed"`
	Failed      int       `json:"failed"`
	Errors      int       `json:"errors"`
}

// CaseRecord is one case outcome within a run.
type CaseRecord struct {
	RunID      string            `json:"runId"`
	Started    time.Time         `json:"started"`
	Tech       string            `json:"tech"`
	CaseID     string            `json:"case"`
	Generator  string            `json:"generator"`
	Status     regression.Status `json:"status"`
	DurationMS int64             `json:"durationMs"`
	Message    string            `json:"message,omitempty"`
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a run and its case results in one transaction.
func (s *Store) Record(ctx context.Context, r *regression.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	passed := r.Summary.Pass + r.Summary.Cached + r.Summary.Updated
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, suite, tech, started, duration_ms, library_hash, total, passed, failed, errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Suite, r.Tech, r.Started.UTC().Format(timeLayout), r.DurationMS, r.LibraryHash,
		r.Summary.Total, passed, r.Summary.Fail, r.Summary.Error,
	); err != nil {
		return fmt.Errorf("recording run %s: %w", r.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO case_results (run_id, case_id, generator, status, duration_ms, message) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range r.Cases {
		if _, err := stmt.ExecContext(ctx, r.RunID, c.ID, c.Generator, string(c.Status), c.DurationMS, c.Message); err != nil {
			return fmt.Errorf("recording case %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns the latest runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, suite, tech, started, duration_ms, library_hash, total, passed, failed, errors
		 FROM runs ORDER BY started DESC, run_id LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.RunID, &r.Suite, &r.Tech, &started, &r.DurationMS, &r.LibraryHash,
			&r.Total, &r.Passed, &r.Failed, &r.Errors); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time %q", r.RunID, started)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CaseHistory returns a case's results across runs, newest first.
func (s *Store) CaseHistory(ctx context.Context, caseID string, limit int) ([]CaseRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.run_id, r.started, r.tech, c.case_id, c.generator, c.status, c.duration_ms, c.message
		 FROM case_results c JOIN runs r ON r.run_id = c.run_id
		 WHERE c.case_id = ?
		 ORDER BY r.started DESC, c.run_id LIMIT ?`, caseID, limitOrAll(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaseRecord
	for rows.Next() {
		var c CaseRecord
		var started, status string
		if err := rows.Scan(&c.RunID, &started, &c.Tech, &c.CaseID, &c.Generator, &status, &c.DurationMS, &c.Message); err != nil {
			return nil, err
		}
		if c.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time %q", c.RunID, started)
		}
		c.Status = regression.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
