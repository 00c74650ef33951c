package flow

import "time"

// NodeStatus is the lifecycle state of one node within a run.
type NodeStatus string

const (
	// NodePending means the node has not yet been dispatched.
	NodePending NodeStatus = "pending"
	// NodeRunning means the node's handler is currently executing.
	NodeRunning NodeStatus = "running"
	// NodeCompleted means the handler returned successfully and the
	// node's output is stored.
	NodeCompleted NodeStatus = "completed"
	// NodeFailed means the handler returned an error or timed out.
	NodeFailed NodeStatus = "failed"
	// NodeSkipped means a router upstream chose a different branch.
	NodeSkipped NodeStatus = "skipped"
)

// Terminal reports whether the status is final for the run.
func (s NodeStatus) Terminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// RunStatus is the lifecycle state of a whole workflow run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ExecutionNode is the executor's internal per-node record. Dependencies
// and dependents are populated once by the graph builder; status and
// output evolve as the run progresses.
type ExecutionNode struct {
	ID           string         `json:"id"`
	Node         Node           `json:"node"`
	Dependencies []string       `json:"dependencies"`
	Dependents   []string       `json:"dependents"`
	Status       NodeStatus     `json:"status"`
	Output       map[string]any `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// NodeExecution is one audit entry, appended per node attempt. The engine
// never reads these back; they exist for debugging and trace UIs.
type NodeExecution struct {
	NodeID      string         `json:"nodeId"`
	NodeType    string         `json:"nodeType"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt time.Time      `json:"completedAt"`
	Status      NodeStatus     `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// WorkflowExecution is the run record returned to the caller. It is owned
// exclusively by the executor for the run's duration and handed over as an
// immutable report afterwards.
type WorkflowExecution struct {
	ID             string            `json:"id"`
	WorkflowID     string            `json:"workflowId"`
	StudentID      string            `json:"studentId"`
	Status         RunStatus         `json:"status"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	CurrentNodeID  string            `json:"currentNodeId,omitempty"`
	NodeExecutions []NodeExecution   `json:"nodeExecutions"`
	Context        *ExecutionContext `json:"context"`
	Error          *RunError         `json:"error,omitempty"`

	// Usage aggregates completion-client token consumption for the run
	// when a usage tracker is configured.
	Usage *UsageSummary `json:"usage,omitempty"`
}
