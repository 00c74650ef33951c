// Package store persists workflow execution records and their per-node
// audit trails.
//
// The engine itself runs in memory; persistence is driven from outside,
// typically by a server saving snapshots at run boundaries and appending
// audit entries from lifecycle callbacks. Three backends are provided:
// in-memory (tests, development), SQLite (single process, zero setup),
// and MySQL (shared infrastructure).
package store

import (
	"context"
	"errors"

	"github.com/ellflow/ellflow-go/flow"
)

// ErrNotFound is returned when the requested execution id does not exist.
var ErrNotFound = errors.New("execution not found")

// Store persists execution records keyed by run id.
//
// SaveExecution upserts the whole record, including its embedded node
// audit entries; it is safe to call repeatedly as a run progresses.
// AppendNodeExecution exists for callers that persist audit entries
// incrementally while a run is live, without rewriting the record.
type Store interface {
	// SaveExecution inserts or replaces the record for exec.ID.
	SaveExecution(ctx context.Context, exec *flow.WorkflowExecution) error

	// LoadExecution returns the stored record, or ErrNotFound.
	LoadExecution(ctx context.Context, id string) (*flow.WorkflowExecution, error)

	// ListExecutions returns records matching the filter, most recently
	// started first.
	ListExecutions(ctx context.Context, filter Filter) ([]*flow.WorkflowExecution, error)

	// AppendNodeExecution adds one audit entry to a run's trail without
	// touching the execution record itself.
	AppendNodeExecution(ctx context.Context, runID string, entry flow.NodeExecution) error

	// ListNodeExecutions returns a run's audit trail in append order.
	// The trail may be empty; a missing run id is not an error here.
	ListNodeExecutions(ctx context.Context, runID string) ([]flow.NodeExecution, error)

	// DeleteExecution removes the record and its audit trail, or returns
	// ErrNotFound.
	DeleteExecution(ctx context.Context, id string) error

	// Close releases backend resources. The store is unusable afterwards.
	Close() error
}

// Filter narrows ListExecutions. Zero fields match everything.
type Filter struct {
	// StudentID matches executions run for one student.
	StudentID string

	// WorkflowID matches executions of one authored workflow.
	WorkflowID string

	// Status matches executions in one lifecycle state.
	Status flow.RunStatus

	// Limit caps the result count; zero means no cap.
	Limit int
}

func (f Filter) matches(exec *flow.WorkflowExecution) bool {
	if f.StudentID != "" && exec.StudentID != f.StudentID {
		return false
	}
	if f.WorkflowID != "" && exec.WorkflowID != f.WorkflowID {
		return false
	}
	if f.Status != "" && exec.Status != f.Status {
		return false
	}
	return true
}
