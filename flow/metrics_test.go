package flow

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestPrometheusMetrics_CompletedRun verifies a finished run settles the
// gauges back to zero and counts its waves, latencies, and terminal
// status.
func TestPrometheusMetrics_CompletedRun(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stepHandler(newInputRecorder()))
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	ex, err := NewExecutor(WithRegistry(registry), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	wf := &WorkflowGraph{
		ID:    "wf-metrics",
		Nodes: []Node{stepNode("first", nil), stepNode("second", nil)},
		Edges: []Edge{testEdge("first", "second")},
	}
	exec, err := ex.Execute(context.Background(), wf, testStudent())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != RunCompleted {
		t.Fatalf("expected status %s, got %s", RunCompleted, exec.Status)
	}

	if got := testutil.ToFloat64(metrics.waves); got != 2 {
		t.Errorf("expected 2 waves for a two-node chain, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues(string(RunCompleted))); got != 1 {
		t.Errorf("expected 1 completed run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.activeRuns); got != 0 {
		t.Errorf("active runs should return to 0, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.inflightNodes); got != 0 {
		t.Errorf("inflight nodes should return to 0, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.nodeLatency); got != 1 {
		t.Errorf("expected one latency series (step/completed), got %d", got)
	}
}

// TestPrometheusMetrics_PausedRun verifies a paused run stays on the
// active gauge and counts the pause, and that resuming settles it.
func TestPrometheusMetrics_PausedRun(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stepHandler(newInputRecorder()))
	registry.Register(HandlerFunc{TypeTag: "gate", Fn: func(_ context.Context, _ Node, _ map[string]any, _ *Runtime) (*HandlerResult, error) {
		return &HandlerResult{
			Output:      map[string]any{"prompt": "Ready?", "awaitingInput": true},
			ShouldPause: true,
		}, nil
	}})
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	wf := &WorkflowGraph{
		ID:    "wf-gate-metrics",
		Nodes: []Node{stepNode("warmup", nil), testNode("ask", "gate")},
		Edges: []Edge{testEdge("warmup", "ask")},
	}
	ex, err := NewExecutor(WithRegistry(registry), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	exec, err := ex.Execute(context.Background(), wf, testStudent())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != RunPaused {
		t.Fatalf("expected status %s, got %s", RunPaused, exec.Status)
	}

	if got := testutil.ToFloat64(metrics.pauses.WithLabelValues("gate")); got != 1 {
		t.Errorf("expected 1 pause for the gate type, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.activeRuns); got != 1 {
		t.Errorf("a paused run should stay active, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.inflightNodes); got != 0 {
		t.Errorf("no node is inflight while paused, got %v", got)
	}

	resumed, err := ex.Resume(context.Background(), map[string]any{"answer": "yes"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != RunCompleted {
		t.Fatalf("expected status %s after resume, got %s", RunCompleted, resumed.Status)
	}
	if got := testutil.ToFloat64(metrics.activeRuns); got != 0 {
		t.Errorf("active runs should return to 0 after resume, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues(string(RunCompleted))); got != 1 {
		t.Errorf("expected 1 completed run, got %v", got)
	}
}

// TestPrometheusMetrics_TimeoutFailure verifies a timed-out node counts
// both the timeout and the failed run.
func TestPrometheusMetrics_TimeoutFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register(HandlerFunc{TypeTag: "slow", Fn: func(_ context.Context, _ Node, _ map[string]any, _ *Runtime) (*HandlerResult, error) {
		time.Sleep(250 * time.Millisecond)
		return &HandlerResult{Output: map[string]any{}}, nil
	}})
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	wf := &WorkflowGraph{
		ID:    "wf-slow-metrics",
		Nodes: []Node{{ID: "stuck", Type: "slow", Data: NodeData{Label: "stuck", Config: map[string]any{"timeoutMs": 40}}}},
	}
	ex, err := NewExecutor(WithRegistry(registry), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if _, err := ex.Execute(context.Background(), wf, testStudent()); err == nil {
		t.Fatal("expected the run to fail on timeout")
	}

	if got := testutil.ToFloat64(metrics.nodeTimeouts.WithLabelValues("slow")); got != 1 {
		t.Errorf("expected 1 timeout for the slow type, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.runs.WithLabelValues(string(RunFailed))); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.activeRuns); got != 0 {
		t.Errorf("active runs should return to 0 after a failure, got %v", got)
	}
	if got := testutil.CollectAndCount(metrics.nodeLatency); got != 1 {
		t.Errorf("expected one latency series (slow/failed), got %d", got)
	}
}

// TestPrometheusMetrics_CompletionFallback verifies a content node
// without a completion backend counts its degradation and relayed
// tokens.
func TestPrometheusMetrics_CompletionFallback(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	ex, err := NewExecutor(WithMetrics(metrics))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	wf := &WorkflowGraph{
		ID: "wf-fallback-metrics",
		Nodes: []Node{{
			ID:   "passage",
			Type: TypeContentGenerator,
			Data: NodeData{Label: "passage", Config: map[string]any{"topic": "cats", "streaming": true}},
		}},
	}
	exec, err := ex.Execute(context.Background(), wf, testStudent())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.Status != RunCompleted {
		t.Fatalf("expected status %s, got %s", RunCompleted, exec.Status)
	}

	if got := testutil.ToFloat64(metrics.completionFallbacks.WithLabelValues(TypeContentGenerator)); got != 1 {
		t.Errorf("expected 1 fallback for the content node, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.streamTokens); got <= 0 {
		t.Errorf("expected relayed tokens to be counted, got %v", got)
	}
}

// TestPrometheusMetrics_DisableAndReset verifies the recording switch
// and that Reset only touches the gauges.
func TestPrometheusMetrics_DisableAndReset(t *testing.T) {
	metrics := NewPrometheusMetrics(prometheus.NewRegistry())

	metrics.Disable()
	metrics.RunStarted()
	metrics.IncrementWaves()
	metrics.AddStreamTokens(5)
	if got := testutil.ToFloat64(metrics.activeRuns); got != 0 {
		t.Errorf("disabled metrics should not record, got %v active runs", got)
	}
	if got := testutil.ToFloat64(metrics.waves); got != 0 {
		t.Errorf("disabled metrics should not record, got %v waves", got)
	}

	metrics.Enable()
	metrics.RunStarted()
	metrics.IncrementWaves()
	metrics.UpdateInflightNodes(2)
	metrics.AddStreamTokens(0)
	if got := testutil.ToFloat64(metrics.activeRuns); got != 1 {
		t.Errorf("expected 1 active run after enable, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.streamTokens); got != 0 {
		t.Errorf("a non-positive token count should not record, got %v", got)
	}

	metrics.Reset()
	if got := testutil.ToFloat64(metrics.activeRuns); got != 0 {
		t.Errorf("Reset should zero the active run gauge, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.inflightNodes); got != 0 {
		t.Errorf("Reset should zero the inflight gauge, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.waves); got != 1 {
		t.Errorf("Reset must not touch counters, got %v waves", got)
	}
}

// TestPrometheusMetrics_NilReceiver verifies every recording method is
// safe on a nil receiver, matching how the executor calls them when no
// metrics are configured.
func TestPrometheusMetrics_NilReceiver(t *testing.T) {
	var metrics *PrometheusMetrics

	metrics.RunStarted()
	metrics.RunFinished(string(RunCompleted))
	metrics.IncrementWaves()
	metrics.UpdateInflightNodes(3)
	metrics.RecordNodeLatency("step", time.Millisecond, string(NodeCompleted))
	metrics.IncrementPauses("gate")
	metrics.IncrementTimeouts("slow")
	metrics.IncrementFallbacks(TypeContentGenerator)
	metrics.AddStreamTokens(10)
}
