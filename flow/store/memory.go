package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ellflow/ellflow-go/flow"
)

// MemStore is an in-memory Store for tests, development, and short-lived
// single-process deployments. Records and audit entries are deep-copied on
// write and read, so callers can keep mutating their own copies safely.
//
// Trail semantics match the SQL backends: SaveExecution replaces the run's
// audit trail with the record's embedded entries, AppendNodeExecution adds
// to it, and LoadExecution reassembles the record with the current trail.
type MemStore struct {
	mu         sync.RWMutex
	executions map[string]*flow.WorkflowExecution
	trails     map[string][]flow.NodeExecution
	seq        map[string]int
	closed     bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		executions: make(map[string]*flow.WorkflowExecution),
		trails:     make(map[string][]flow.NodeExecution),
		seq:        make(map[string]int),
	}
}

// SaveExecution inserts or replaces the record for exec.ID. The record's
// embedded audit entries replace any previously appended trail.
func (m *MemStore) SaveExecution(_ context.Context, exec *flow.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution must have an id")
	}
	copied, err := copyExecution(exec)
	if err != nil {
		return err
	}
	trail := copied.NodeExecutions
	copied.NodeExecutions = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	if _, ok := m.seq[exec.ID]; !ok {
		m.seq[exec.ID] = len(m.seq)
	}
	m.executions[exec.ID] = copied
	m.trails[exec.ID] = trail
	return nil
}

// LoadExecution returns the stored record with its current audit trail,
// or ErrNotFound.
func (m *MemStore) LoadExecution(_ context.Context, id string) (*flow.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}
	exec, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied, err := copyExecution(exec)
	if err != nil {
		return nil, err
	}
	trail, err := copyTrail(m.trails[id])
	if err != nil {
		return nil, err
	}
	copied.NodeExecutions = trail
	return copied, nil
}

// ListExecutions returns matching records, most recently started first.
// Ties on start time fall back to insertion order so results are stable.
// Audit trails are not included; use LoadExecution for the full record.
func (m *MemStore) ListExecutions(_ context.Context, filter Filter) ([]*flow.WorkflowExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}

	var matched []*flow.WorkflowExecution
	for _, exec := range m.executions {
		if filter.matches(exec) {
			matched = append(matched, exec)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return m.seq[matched[i].ID] > m.seq[matched[j].ID]
	})
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*flow.WorkflowExecution, 0, len(matched))
	for _, exec := range matched {
		copied, err := copyExecution(exec)
		if err != nil {
			return nil, err
		}
		copied.NodeExecutions = []flow.NodeExecution{}
		out = append(out, copied)
	}
	return out, nil
}

// AppendNodeExecution adds one audit entry to a run's trail.
func (m *MemStore) AppendNodeExecution(_ context.Context, runID string, entry flow.NodeExecution) error {
	if runID == "" {
		return fmt.Errorf("run id must not be empty")
	}
	copied, err := copyEntry(entry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	m.trails[runID] = append(m.trails[runID], copied)
	return nil
}

// ListNodeExecutions returns a run's audit trail in append order.
func (m *MemStore) ListNodeExecutions(_ context.Context, runID string) ([]flow.NodeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}
	return copyTrail(m.trails[runID])
}

// DeleteExecution removes the record and its audit trail.
func (m *MemStore) DeleteExecution(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	if _, ok := m.executions[id]; !ok {
		return ErrNotFound
	}
	delete(m.executions, id)
	delete(m.trails, id)
	delete(m.seq, id)
	return nil
}

// Close marks the store closed. Subsequent calls fail.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// copyExecution deep-copies a record via JSON round-trip. The run error's
// wrapped cause is tagged out of the JSON form, so the error is restored
// by hand to keep the full chain.
func copyExecution(exec *flow.WorkflowExecution) (*flow.WorkflowExecution, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution: %w", err)
	}
	var copied flow.WorkflowExecution
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	if exec.Error != nil {
		cause := *exec.Error
		copied.Error = &cause
	}
	return &copied, nil
}

// copyEntry deep-copies one audit entry via JSON round-trip.
func copyEntry(entry flow.NodeExecution) (flow.NodeExecution, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return flow.NodeExecution{}, fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	var copied flow.NodeExecution
	if err := json.Unmarshal(data, &copied); err != nil {
		return flow.NodeExecution{}, fmt.Errorf("failed to unmarshal audit entry: %w", err)
	}
	return copied, nil
}

// copyTrail deep-copies a run's audit entries. The result is never nil so
// callers can range and append without checking.
func copyTrail(entries []flow.NodeExecution) ([]flow.NodeExecution, error) {
	out := make([]flow.NodeExecution, 0, len(entries))
	for _, entry := range entries {
		copied, err := copyEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}
