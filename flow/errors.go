package flow

import (
	"errors"
	"fmt"
)

// Error codes carried by RunError and NodeError. The code string is part of
// the wire contract: UIs branch on it to decide retry affordances.
const (
	// CodeInvalidWorkflow marks configuration errors found before or
	// while building the execution graph (dangling edges, duplicate ids).
	CodeInvalidWorkflow = "INVALID_WORKFLOW"

	// CodeUnresolvableDependency marks the no-progress condition: no node
	// is ready while pending nodes remain. This is the cycle and
	// dangling-dependency detector.
	CodeUnresolvableDependency = "UNRESOLVABLE_DEPENDENCY"

	// CodeNodeFailed marks a handler error that failed the run.
	CodeNodeFailed = "NODE_FAILED"

	// CodeNodeTimeout marks a node exceeding its wall-clock budget.
	CodeNodeTimeout = "NODE_TIMEOUT"

	// CodeRunCancelled marks caller cancellation; never recoverable.
	CodeRunCancelled = "RUN_CANCELLED"

	// CodeSchemaInvalid marks a structured-output validation failure
	// surfaced under fallbackBehavior "error".
	CodeSchemaInvalid = "SCHEMA_INVALID"

	// CodeRetriesExhausted marks a structured-output retry budget spent
	// without producing schema-valid output.
	CodeRetriesExhausted = "RETRIES_EXHAUSTED"
)

// ErrNotPaused is returned by Resume when the run is not paused.
var ErrNotPaused = errors.New("run is not paused")

// ErrAlreadyFinished is returned by Pause, Resume, and Cancel once the run
// has reached a terminal status.
var ErrAlreadyFinished = errors.New("run already finished")

// ErrNotStarted is returned by Pause, Resume, and Cancel before Execute
// has been called.
var ErrNotStarted = errors.New("run has not started")

// ErrAlreadyStarted is returned by Execute when the executor has already
// run a workflow. Executors are single-use; create one per run.
var ErrAlreadyStarted = errors.New("executor already started a run")

// RunError is the run-level error descriptor attached to a failed
// WorkflowExecution. Recoverable hints whether the caller may retry the
// run as-is (configuration and cancellation errors are not recoverable;
// transient node failures may be).
type RunError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	Cause       error  `json:"-"`
}

// Error implements the error interface.
func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// NodeError wraps a handler failure with the node that produced it.
type NodeError struct {
	NodeID  string
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: node %s: %s: %v", e.Code, e.NodeID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Message)
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// newNodeError builds a NodeError with the given code.
func newNodeError(nodeID, code, message string, cause error) *NodeError {
	return &NodeError{NodeID: nodeID, Code: code, Message: message, Cause: cause}
}
