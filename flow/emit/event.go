// Package emit provides pluggable observability events for workflow runs.
package emit

// Standard event messages emitted by the executor and handlers. Consumers
// filter on Msg; the set is open, these are the ones the engine itself
// produces.
const (
	MsgRunStart     = "run_start"
	MsgRunComplete  = "run_complete"
	MsgRunPaused    = "run_paused"
	MsgRunResumed   = "run_resumed"
	MsgRunCancelled = "run_cancelled"
	MsgRunError     = "run_error"

	MsgWaveStart    = "wave_start"
	MsgWaveComplete = "wave_complete"

	MsgNodeStart    = "node_start"
	MsgNodeComplete = "node_complete"
	MsgNodeError    = "node_error"
	MsgNodeSkipped  = "node_skipped"
	MsgNodeTimeout  = "node_timeout"

	MsgStreamStart    = "stream_start"
	MsgStreamComplete = "stream_complete"

	MsgCompletionFallback = "completion_fallback"
	MsgAssessmentSaved    = "assessment_saved"
	MsgAssessmentFailed   = "assessment_failed"
)

// Event is one observability record from a workflow run.
//
// Events cover the run lifecycle (start, pause, resume, cancel, complete),
// wave boundaries, per-node execution, streaming, and best-effort external
// calls. They are delivered to an Emitter, which may log them, build
// traces, or buffer them for inspection in tests.
type Event struct {
	// RunID identifies the workflow execution that emitted this event.
	RunID string

	// Wave is the scheduler iteration the event belongs to (1-indexed).
	// Zero for run-level events.
	Wave int

	// NodeID identifies the node, empty for run- and wave-level events.
	NodeID string

	// Msg names the event; usually one of the Msg constants above.
	Msg string

	// Meta carries event-specific structured data. Common keys:
	//   - "duration_ms": handler latency in milliseconds
	//   - "error": error text
	//   - "node_type", "label": node identity for UIs
	//   - "progress", "completed", "total": run progress
	//   - "tokens_in", "tokens_out", "model": completion usage
	Meta map[string]interface{}
}
