package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ellflow/ellflow-go/flow"
)

// MySQLStore persists executions in MySQL or MariaDB. Use it when several
// servers share one execution history, or when runs must survive process
// restarts on managed infrastructure.
//
// The DSN follows the go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/ellflow
//
// Never hardcode credentials; read the DSN from the environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects with pooling configured for a modest server
// fleet and runs migrations.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL DEFAULT '',
			student_id VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(32) NOT NULL,
			started_at VARCHAR(64) NOT NULL,
			completed_at VARCHAR(64),
			document LONGTEXT NOT NULL,
			updated_at VARCHAR(64) NOT NULL,
			INDEX idx_executions_student (student_id),
			INDEX idx_executions_workflow (workflow_id),
			INDEX idx_executions_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			node_type VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			record LONGTEXT NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			INDEX idx_node_executions_run (run_id, id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// SaveExecution upserts the record and replaces its audit rows in one
// transaction.
func (s *MySQLStore) SaveExecution(ctx context.Context, exec *flow.WorkflowExecution) error {
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
		ON DUPLICATE KEY UPDATE
			workflow_id = VALUES(workflow_id),
			student_id = VALUES(student_id),
			status = VALUES(status),
			started_at = VALUES(started_at),
			completed_at = VALUES(completed_at),
			document = VALUES(document),
			updated_at = VALUES(updated_at)`,
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
func (s *MySQLStore) LoadExecution(ctx context.Context, id string) (*flow.WorkflowExecution, error) {
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

// ListExecutions returns matching records, most recently started first,
// without audit trails.
func (s *MySQLStore) ListExecutions(ctx context.Context, filter Filter) ([]*flow.WorkflowExecution, error) {
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
func (s *MySQLStore) AppendNodeExecution(ctx context.Context, runID string, entry flow.NodeExecution) error {
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
func (s *MySQLStore) ListNodeExecutions(ctx context.Context, runID string) ([]flow.NodeExecution, error) {
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
func (s *MySQLStore) DeleteExecution(ctx context.Context, id string) error {
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

// Close closes the connection pool.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *MySQLStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
