package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ellflow/ellflow-go/flow"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists executions in a single-file database. Zero-setup
// persistence for development, pilots, and single-process deployments;
// move to MySQLStore when several servers share one history.
//
// WAL mode is enabled so readers do not block the writer. The pool is
// capped at one connection because SQLite allows one writer at a time.
//
// Schema:
//   - executions: one row per run; the record is a JSON document with
//     indexed columns for the common filters
//   - node_executions: append-only audit rows per run
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (and if needed creates) the database at path and
// runs migrations. Use ":memory:" for a throwaway database in tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL DEFAULT '',
			student_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			document TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_student ON executions(student_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			status TEXT NOT NULL,
			record TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_executions_run ON node_executions(run_id, id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// SaveExecution upserts the record. The embedded audit trail replaces any
// previously saved rows for the run in the same transaction, so repeated
// snapshot saves stay consistent.
func (s *SQLiteStore) SaveExecution(ctx context.Context, exec *flow.WorkflowExecution) error {
	if err := s.guard(); err != nil {
		return err
	}
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution must have an id")
	}

	doc, trail, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, workflow_id, student_id, status, started_at, completed_at, document, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			workflow_id = excluded.workflow_id,
			student_id = excluded.student_id,
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			document = excluded.document,
			updated_at = excluded.updated_at`,
		exec.ID, exec.WorkflowID, exec.StudentID, string(exec.Status),
		formatTime(exec.StartedAt), formatTimePtr(exec.CompletedAt), doc, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM node_executions WHERE run_id = ?`, exec.ID); err != nil {
		return fmt.Errorf("failed to clear audit trail: %w", err)
	}
	for _, row := range trail {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO node_executions (run_id, node_id, node_type, status, record, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			exec.ID, row.entry.NodeID, row.entry.NodeType, string(row.entry.Status), row.record, formatTime(time.Now().UTC())); err != nil {
			return fmt.Errorf("failed to insert audit entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	return nil
}

// LoadExecution reassembles the record and its audit trail.
func (s *SQLiteStore) LoadExecution(ctx context.Context, id string) (*flow.WorkflowExecution, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM executions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	exec, err := decodeExecution(doc)
	if err != nil {
		return nil, err
	}
	trail, err := s.ListNodeExecutions(ctx, id)
	if err != nil {
		return nil, err
	}
	exec.NodeExecutions = trail
	return exec, nil
}

// ListExecutions returns matching records, most recently started first.
// The audit trails are not loaded; use LoadExecution for the full record.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter Filter) ([]*flow.WorkflowExecution, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	query := `SELECT document FROM executions`
	var conds []string
	var args []any
	if filter.StudentID != "" {
		conds = append(conds, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.WorkflowID != "" {
		conds = append(conds, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	for i, cond := range conds {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*flow.WorkflowExecution
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec, err := decodeExecution(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return out, nil
}

// AppendNodeExecution adds one audit row without touching the record.
func (s *SQLiteStore) AppendNodeExecution(ctx context.Context, runID string, entry flow.NodeExecution) error {
	if err := s.guard(); err != nil {
		return err
	}
	if runID == "" {
		return fmt.Errorf("run id must not be empty")
	}
	record, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO node_executions (run_id, node_id, node_type, status, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID, entry.NodeID, entry.NodeType, string(entry.Status), string(record), formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListNodeExecutions returns a run's audit trail in append order.
func (s *SQLiteStore) ListNodeExecutions(ctx context.Context, runID string) ([]flow.NodeExecution, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM node_executions WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	trail := []flow.NodeExecution{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		var entry flow.NodeExecution
		if err := json.Unmarshal([]byte(record), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		trail = append(trail, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return trail, nil
}

// DeleteExecution removes the record and its audit trail.
func (s *SQLiteStore) DeleteExecution(ctx context.Context, id string) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM node_executions WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete audit trail: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// auditRow pairs a decoded entry with its serialized form so SaveExecution
// marshals each entry exactly once.
type auditRow struct {
	entry  flow.NodeExecution
	record string
}

// encodeExecution splits the record into a JSON document without the audit
// trail plus the trail rows. Keeping the trail in its own table lets
// AppendNodeExecution stay cheap for live runs.
func encodeExecution(exec *flow.WorkflowExecution) (string, []auditRow, error) {
	stripped := *exec
	stripped.NodeExecutions = nil
	doc, err := json.Marshal(&stripped)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal execution: %w", err)
	}

	rows := make([]auditRow, 0, len(exec.NodeExecutions))
	for _, entry := range exec.NodeExecutions {
		record, err := json.Marshal(entry)
		if err != nil {
			return "", nil, fmt.Errorf("failed to marshal audit entry: %w", err)
		}
		rows = append(rows, auditRow{entry: entry, record: string(record)})
	}
	return string(doc), rows, nil
}

func decodeExecution(doc string) (*flow.WorkflowExecution, error) {
	var exec flow.WorkflowExecution
	if err := json.Unmarshal([]byte(doc), &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	if exec.NodeExecutions == nil {
		exec.NodeExecutions = []flow.NodeExecution{}
	}
	return &exec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
