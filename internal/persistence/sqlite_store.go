package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/petalflow/petal/pkg/api"
)

// SQLiteStore is a RunStore backed by a SQLite database file. Reports
// are serialized as JSON; the indexed columns exist only to answer
// ListRuns filters without decoding every row.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	workflow   TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	report     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs (workflow);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing run store schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, report *api.ExecutionReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", report.RunID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (run_id, workflow, status, started_at, report)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET
	workflow = excluded.workflow,
	status = excluded.status,
	started_at = excluded.started_at,
	report = excluded.report`,
		report.RunID, report.Workflow, string(report.Status), report.StartedAt, payload)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", report.RunID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*api.ExecutionReport, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	var report api.ExecutionReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &report, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*api.ExecutionReport, error) {
	var conds []string
	var args []any
	if filter.Workflow != "" {
		conds = append(conds, "workflow = ?")
		args = append(args, filter.Workflow)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "started_at >= ?")
		args = append(args, filter.Since)
	}

	query := "SELECT report FROM runs"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*api.ExecutionReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		var report api.ExecutionReport
		if err := json.Unmarshal(payload, &report); err != nil {
			return nil, fmt.Errorf("decoding run row: %w", err)
		}
		out = append(out, &report)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
