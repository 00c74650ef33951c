package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ellflow/ellflow-go/flow/assessment"
	"github.com/ellflow/ellflow-go/flow/completion"
	"github.com/ellflow/ellflow-go/flow/emit"
	"github.com/ellflow/ellflow-go/flow/relay"
)

// Executor runs one workflow graph for one student. It resolves execution
// order from the edge list, dispatches ready nodes in concurrent waves,
// suspends for human input, and enforces per-node timeouts.
//
// An Executor is single-use: call Execute once, then Pause, Resume, or
// Cancel against that run. Create a new Executor for each run.
//
// Scheduling model: each iteration collects every pending node whose
// dependencies have all completed or been skipped, takes up to
// maxConcurrentNodes of them in declaration order, and dispatches them
// together. The wave is awaited as a whole; nodes becoming ready mid-wave
// wait for the next iteration. When no node is ready while pending nodes
// remain, the graph has a cycle or an unsatisfiable dependency and the run
// fails instead of hanging.
type Executor struct {
	cfg executorConfig

	mu          sync.Mutex
	execution   *WorkflowExecution
	nodes       map[string]*ExecutionNode
	declared    []string
	runtime     *Runtime
	wave        int
	inflight    int
	pausedNode  string
	pauseReq    bool
	cancelReq   *RunError
	unsubscribe []func()

	runID string
}

// NewExecutor builds an executor from functional options. Unset concerns
// get working defaults: the built-in handler registry, a deterministic
// fallback completion client, a fresh stream relay, a null assessment
// sink, and a null emitter.
func NewExecutor(opts ...Option) (*Executor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.registry == nil {
		cfg.registry = DefaultRegistry()
	}
	if cfg.client == nil {
		cfg.client = completion.NewFallback()
	}
	if cfg.relay == nil {
		cfg.relay = relay.New()
	}
	if cfg.sink == nil {
		cfg.sink = assessment.NewNullSink()
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NewNullEmitter()
	}
	return &Executor{cfg: cfg}, nil
}

// Execute runs the workflow for the given student until it completes,
// fails, or pauses for human input.
//
// The returned WorkflowExecution always reflects the run's final state for
// this call: status completed (nil error), paused (nil error; continue
// with Resume), or failed (the returned error is the run's *RunError).
// Cancelling ctx fails the run with code RUN_CANCELLED after the current
// wave finishes.
func (e *Executor) Execute(ctx context.Context, wf *WorkflowGraph, student StudentProfile) (*WorkflowExecution, error) {
	if wf == nil || len(wf.Nodes) == 0 {
		return nil, &RunError{Code: CodeInvalidWorkflow, Message: "workflow has no nodes"}
	}

	e.mu.Lock()
	if e.execution != nil {
		e.mu.Unlock()
		return nil, ErrAlreadyStarted
	}

	nodes := buildExecutionGraph(wf)
	declared := make([]string, 0, len(wf.Nodes))
	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		declared = append(declared, n.ID)
	}

	id := e.cfg.runID
	if id == "" {
		id = uuid.NewString()
	}
	exec := &WorkflowExecution{
		ID:             id,
		WorkflowID:     wf.ID,
		StudentID:      student.ID,
		Status:         RunRunning,
		StartedAt:      time.Now().UTC(),
		CurrentNodeID:  entryNodeID(wf, nodes),
		NodeExecutions: []NodeExecution{},
		Context:        NewExecutionContext(student),
	}

	e.runID = id
	e.execution = exec
	e.nodes = nodes
	e.declared = declared
	e.runtime = &Runtime{
		RunID:       id,
		WorkflowID:  wf.ID,
		Context:     exec.Context,
		Completion:  e.cfg.client,
		Relay:       e.cfg.relay,
		Assessments: e.cfg.sink,
		Emitter:     e.cfg.emitter,
		Metrics:     e.cfg.metrics,
	}
	if e.cfg.trackUsage {
		e.runtime.Usage = NewUsageTracker(id)
	}
	if e.cfg.callbacks.OnStreamToken != nil {
		for _, nodeID := range declared {
			e.unsubscribe = append(e.unsubscribe, e.cfg.relay.Subscribe(nodeID, e.cfg.callbacks.OnStreamToken))
		}
	}
	e.mu.Unlock()

	e.cfg.metrics.RunStarted()
	e.emitRun(emit.MsgRunStart, map[string]interface{}{
		"workflow_id": wf.ID,
		"student_id":  student.ID,
		"nodes":       len(declared),
	})
	return e.drive(ctx)
}

// Resume continues a paused run. A non-nil input becomes the paused node's
// stored output and the node completes without its handler running again;
// a nil input re-dispatches the node from scratch. Returns ErrNotPaused if
// the run is active and ErrAlreadyFinished if it already ended.
func (e *Executor) Resume(ctx context.Context, input map[string]any) (*WorkflowExecution, error) {
	e.mu.Lock()
	if e.execution == nil {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	switch e.execution.Status {
	case RunCompleted, RunFailed:
		exec := e.execution
		e.mu.Unlock()
		return exec, ErrAlreadyFinished
	case RunRunning:
		exec := e.execution
		e.mu.Unlock()
		return exec, ErrNotPaused
	}
	e.execution.Status = RunRunning
	pausedID := e.pausedNode
	e.pausedNode = ""
	e.pauseReq = false
	wave := e.wave
	e.mu.Unlock()

	meta := map[string]interface{}{}
	if pausedID != "" {
		meta["node_id"] = pausedID
		meta["input_provided"] = input != nil
	}
	e.emitRun(emit.MsgRunResumed, meta)

	if pausedID != "" && input != nil {
		if n, ok := e.node(pausedID); ok {
			now := time.Now().UTC()
			e.completeNode(wave, n, e.nodeInput(n), auditCopy(input), now, now)
		}
	}
	return e.drive(ctx)
}

// Pause asks the run to suspend before its next wave. Nodes already
// dispatched finish first; Execute then returns with status paused.
func (e *Executor) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execution == nil {
		return ErrNotStarted
	}
	switch e.execution.Status {
	case RunCompleted, RunFailed:
		return ErrAlreadyFinished
	case RunPaused:
		return nil
	}
	e.pauseReq = true
	return nil
}

// Cancel stops the run with a non-recoverable RUN_CANCELLED error and
// cancels all active token streams. Cancellation is cooperative: nodes
// already dispatched finish their current wave, and no further waves are
// scheduled. Cancelling a paused run finalizes it immediately.
func (e *Executor) Cancel() error {
	rerr := &RunError{Code: CodeRunCancelled, Message: "run cancelled by caller"}

	e.mu.Lock()
	if e.execution == nil {
		e.mu.Unlock()
		return ErrNotStarted
	}
	switch e.execution.Status {
	case RunCompleted, RunFailed:
		e.mu.Unlock()
		return ErrAlreadyFinished
	case RunRunning:
		e.cancelReq = rerr
		e.mu.Unlock()
		e.cfg.relay.CancelAll()
		return nil
	default:
		// Paused: no drive loop is in flight, so finalize here while
		// still holding the lock to keep Resume from racing in.
		exec, changed := e.markFailedLocked(rerr)
		e.mu.Unlock()
		e.cfg.relay.CancelAll()
		if changed {
			e.announceFailed(exec, rerr)
		}
		return nil
	}
}

// Status returns the run's current status, or an empty string before
// Execute is called.
func (e *Executor) Status() RunStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execution == nil {
		return ""
	}
	return e.execution.Status
}

// Snapshot returns a deep copy of the execution record, safe to inspect
// or serialize while the run is still in flight. It returns nil before
// Execute is called.
func (e *Executor) Snapshot() *WorkflowExecution {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execution == nil {
		return nil
	}
	data, err := json.Marshal(e.execution)
	if err != nil {
		return nil
	}
	var copied WorkflowExecution
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil
	}
	if e.execution.Error != nil {
		cp := *e.execution.Error
		copied.Error = &cp
	}
	return &copied
}

// AwaitingInput reports the node the run is paused on and its rendering
// contract, the payload a client renders to collect the learner's input.
// ok is false unless the run is paused on a node.
func (e *Executor) AwaitingInput() (nodeID string, contract map[string]interface{}, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.execution == nil || e.execution.Status != RunPaused || e.pausedNode == "" {
		return "", nil, false
	}
	n, found := e.nodes[e.pausedNode]
	if !found {
		return "", nil, false
	}
	return e.pausedNode, auditCopy(n.Output), true
}

// drive is the scheduler loop: readiness, wave dispatch, settlement,
// repeat until the graph quiesces or something stops the run.
func (e *Executor) drive(ctx context.Context) (*WorkflowExecution, error) {
	for {
		if rerr := e.takeCancel(); rerr != nil {
			return e.finishFailed(rerr)
		}
		if err := ctx.Err(); err != nil {
			return e.finishFailed(&RunError{Code: CodeRunCancelled, Message: "run context cancelled", Cause: err})
		}
		if e.takePause() {
			return e.pauseRun("")
		}

		ready, pending, cascaded := e.nextWave()
		for _, n := range cascaded {
			e.emitNode(e.currentWave(), n.ID, emit.MsgNodeSkipped, map[string]interface{}{
				"node_type": n.Node.Type,
				"label":     n.Node.Label(),
				"cascade":   true,
			})
		}
		if len(ready) == 0 {
			if pending > 0 {
				return e.finishFailed(&RunError{
					Code:    CodeUnresolvableDependency,
					Message: fmt.Sprintf("%d pending nodes can never become ready; check for cycles or edges from undeclared nodes", pending),
				})
			}
			return e.finishCompleted()
		}
		if len(ready) > e.cfg.maxConcurrentNodes {
			ready = ready[:e.cfg.maxConcurrentNodes]
		}

		waveNum := e.beginWave(ready)
		outcomes := e.dispatchWave(ctx, waveNum, ready)

		if err := ctx.Err(); err != nil {
			return e.finishFailed(&RunError{Code: CodeRunCancelled, Message: "run context cancelled", Cause: err})
		}

		var runErr *RunError
		pausedID := ""
		completedCount, failedCount := 0, 0
		for i, oc := range outcomes {
			n := ready[i]
			switch {
			case oc.err != nil:
				failedCount++
				if runErr == nil {
					runErr = runErrorFromNode(n.ID, oc.err)
				}
			case oc.paused:
				if pausedID == "" {
					pausedID = n.ID
				}
			default:
				completedCount++
				if oc.nextNode != "" {
					e.skipSiblings(waveNum, n, oc.nextNode)
				}
			}
		}
		e.emitWave(waveNum, emit.MsgWaveComplete, map[string]interface{}{
			"completed": completedCount,
			"failed":    failedCount,
		})
		if runErr != nil {
			return e.finishFailed(runErr)
		}
		if pausedID != "" {
			return e.pauseRun(pausedID)
		}
	}
}

// nextWave applies cascade skipping, then collects ready nodes in
// declaration order. A node is ready when it is pending and every
// dependency has completed or been skipped; a pending node whose
// dependencies were all skipped is itself skipped, transitively.
func (e *Executor) nextWave() (ready []*ExecutionNode, pending int, cascaded []*ExecutionNode) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for changed := true; changed; {
		changed = false
		for _, id := range e.declared {
			n := e.nodes[id]
			if n.Status != NodePending || len(n.Dependencies) == 0 {
				continue
			}
			allSkipped := true
			for _, dep := range n.Dependencies {
				if d, ok := e.nodes[dep]; !ok || d.Status != NodeSkipped {
					allSkipped = false
					break
				}
			}
			if allSkipped {
				n.Status = NodeSkipped
				cascaded = append(cascaded, n)
				changed = true
			}
		}
	}

	for _, id := range e.declared {
		n := e.nodes[id]
		if n.Status != NodePending {
			continue
		}
		pending++
		satisfied := true
		for _, dep := range n.Dependencies {
			d, ok := e.nodes[dep]
			if !ok || (d.Status != NodeCompleted && d.Status != NodeSkipped) {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, n)
		}
	}
	return ready, pending, cascaded
}

// beginWave transitions the wave's nodes to running and announces every
// start before any handler is dispatched, so sibling start events are
// never interleaved with sibling completions.
func (e *Executor) beginWave(wave []*ExecutionNode) int {
	ids := make([]string, len(wave))
	e.mu.Lock()
	e.wave++
	num := e.wave
	for i, n := range wave {
		n.Status = NodeRunning
		ids[i] = n.ID
	}
	e.inflight = len(wave)
	e.mu.Unlock()

	e.cfg.metrics.IncrementWaves()
	e.cfg.metrics.UpdateInflightNodes(len(wave))
	e.emitWave(num, emit.MsgWaveStart, map[string]interface{}{"nodes": ids})
	for _, n := range wave {
		e.emitNode(num, n.ID, emit.MsgNodeStart, map[string]interface{}{
			"node_type": n.Node.Type,
			"label":     n.Node.Label(),
		})
		e.cfg.callbacks.nodeStart(n.ID, n.Node)
	}
	return num
}

// nodeOutcome is what the driver needs to know about one settled dispatch;
// the node's own record is updated as the dispatch finishes.
type nodeOutcome struct {
	err      error
	paused   bool
	nextNode string
}

func (e *Executor) dispatchWave(ctx context.Context, wave int, nodes []*ExecutionNode) []nodeOutcome {
	outcomes := make([]nodeOutcome, len(nodes))
	var wg sync.WaitGroup
	for i, n := range nodes {
		input := e.nodeInput(n)
		wg.Add(1)
		go func(i int, n *ExecutionNode, input map[string]any) {
			defer wg.Done()
			outcomes[i] = e.runNode(ctx, wave, n, input)
		}(i, n, input)
	}
	wg.Wait()
	return outcomes
}

// runNode invokes the node's handler under its timeout budget and settles
// the node record. A timed-out handler goroutine is left to drain into its
// buffered channel; the context it received is already cancelled.
func (e *Executor) runNode(ctx context.Context, wave int, n *ExecutionNode, input map[string]any) nodeOutcome {
	var outcome nodeOutcome
	handler := e.cfg.registry.Resolve(n.Node.Type)
	budget := e.timeoutFor(n.Node)

	nodeCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	type handlerReturn struct {
		result *HandlerResult
		err    error
	}
	done := make(chan handlerReturn, 1)
	started := time.Now().UTC()
	go func() {
		res, err := handler.Run(nodeCtx, n.Node, input, e.runtime)
		done <- handlerReturn{result: res, err: err}
	}()

	var ret handlerReturn
	timedOut := false
	select {
	case ret = <-done:
	case <-nodeCtx.Done():
		if ctx.Err() != nil {
			ret = handlerReturn{err: ctx.Err()}
		} else {
			timedOut = true
			ret = handlerReturn{err: newNodeError(n.ID, CodeNodeTimeout,
				fmt.Sprintf("execution exceeded the %s budget", budget), context.DeadlineExceeded)}
		}
	}
	ended := time.Now().UTC()

	switch {
	case ret.err != nil:
		e.failNode(wave, n, input, started, ended, ret.err, timedOut)
		outcome.err = ret.err
	case ret.result != nil && ret.result.ShouldPause:
		e.pauseNode(n, ret.result.Output)
		outcome.paused = true
	default:
		var output map[string]any
		if ret.result != nil {
			output = ret.result.Output
			outcome.nextNode = ret.result.NextNodeID
		}
		e.completeNode(wave, n, input, output, started, ended)
	}
	return outcome
}

// timeoutFor resolves the node's wall-clock budget: a positive
// config.timeoutMs overrides the executor default.
func (e *Executor) timeoutFor(n Node) time.Duration {
	if ms := n.ConfigInt("timeoutMs", 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return e.cfg.nodeTimeout
}

// nodeInput shallow-merges the outputs of the node's completed
// dependencies in dependency order; later outputs win colliding keys.
// Skipped dependencies contribute nothing.
func (e *Executor) nodeInput(n *ExecutionNode) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	outputs := make([]map[string]any, 0, len(n.Dependencies))
	for _, dep := range n.Dependencies {
		if d, ok := e.nodes[dep]; ok && d.Status == NodeCompleted && d.Output != nil {
			outputs = append(outputs, d.Output)
		}
	}
	return mergeOutputs(outputs)
}

func (e *Executor) completeNode(wave int, n *ExecutionNode, input, output map[string]any, started, ended time.Time) {
	if output == nil {
		output = map[string]any{}
	}

	e.mu.Lock()
	n.Status = NodeCompleted
	n.Output = output
	n.Error = ""
	e.execution.CurrentNodeID = n.ID
	e.execution.NodeExecutions = append(e.execution.NodeExecutions, NodeExecution{
		NodeID:      n.ID,
		NodeType:    n.Node.Type,
		StartedAt:   started,
		CompletedAt: ended,
		Status:      NodeCompleted,
		Input:       auditCopy(input),
		Output:      auditCopy(output),
	})
	inflight := e.decInflightLocked()
	total := len(e.nodes)
	completed := 0
	for _, en := range e.nodes {
		if en.Status == NodeCompleted {
			completed++
		}
	}
	e.mu.Unlock()

	duration := ended.Sub(started)
	e.cfg.metrics.RecordNodeLatency(n.Node.Type, duration, string(NodeCompleted))
	e.cfg.metrics.UpdateInflightNodes(inflight)

	percent := 0
	if total > 0 {
		percent = completed * 100 / total
	}
	e.emitNode(wave, n.ID, emit.MsgNodeComplete, map[string]interface{}{
		"node_type":   n.Node.Type,
		"label":       n.Node.Label(),
		"duration_ms": duration.Milliseconds(),
		"progress":    percent,
		"completed":   completed,
		"total":       total,
	})
	e.cfg.callbacks.nodeComplete(n.ID, output)
	e.cfg.callbacks.progress(percent, total, completed)
}

func (e *Executor) failNode(wave int, n *ExecutionNode, input map[string]any, started, ended time.Time, nodeErr error, timedOut bool) {
	e.mu.Lock()
	n.Status = NodeFailed
	n.Error = nodeErr.Error()
	e.execution.CurrentNodeID = n.ID
	e.execution.NodeExecutions = append(e.execution.NodeExecutions, NodeExecution{
		NodeID:      n.ID,
		NodeType:    n.Node.Type,
		StartedAt:   started,
		CompletedAt: ended,
		Status:      NodeFailed,
		Input:       auditCopy(input),
		Error:       nodeErr.Error(),
	})
	inflight := e.decInflightLocked()
	e.mu.Unlock()

	duration := ended.Sub(started)
	e.cfg.metrics.RecordNodeLatency(n.Node.Type, duration, string(NodeFailed))
	e.cfg.metrics.UpdateInflightNodes(inflight)
	msg := emit.MsgNodeError
	if timedOut {
		msg = emit.MsgNodeTimeout
		e.cfg.metrics.IncrementTimeouts(n.Node.Type)
	}
	e.emitNode(wave, n.ID, msg, map[string]interface{}{
		"node_type":   n.Node.Type,
		"label":       n.Node.Label(),
		"error":       nodeErr.Error(),
		"duration_ms": duration.Milliseconds(),
	})
	e.cfg.callbacks.nodeError(n.ID, nodeErr)
}

// pauseNode reverts a pausing node to pending and keeps its rendering
// contract as a provisional output. Resume either overwrites the output
// with caller input or re-dispatches the node, which regenerates it.
func (e *Executor) pauseNode(n *ExecutionNode, contract map[string]any) {
	if contract == nil {
		contract = map[string]any{}
	}
	e.mu.Lock()
	n.Status = NodePending
	n.Output = contract
	inflight := e.decInflightLocked()
	e.mu.Unlock()

	e.cfg.metrics.UpdateInflightNodes(inflight)
	e.cfg.metrics.IncrementPauses(n.Node.Type)
}

// skipSiblings marks every pending direct dependent except the routed-to
// node as skipped. Routing never reaches past direct dependents; the
// cascade in nextWave handles everything downstream.
func (e *Executor) skipSiblings(wave int, n *ExecutionNode, next string) {
	var marks []*ExecutionNode
	e.mu.Lock()
	for _, depID := range n.Dependents {
		if depID == next {
			continue
		}
		if d, ok := e.nodes[depID]; ok && d.Status == NodePending {
			d.Status = NodeSkipped
			marks = append(marks, d)
		}
	}
	e.mu.Unlock()

	for _, d := range marks {
		e.emitNode(wave, d.ID, emit.MsgNodeSkipped, map[string]interface{}{
			"node_type": d.Node.Type,
			"label":     d.Node.Label(),
			"routed_to": next,
			"routed_by": n.ID,
		})
	}
}

func (e *Executor) pauseRun(nodeID string) (*WorkflowExecution, error) {
	e.mu.Lock()
	e.execution.Status = RunPaused
	e.pausedNode = nodeID
	var contract map[string]any
	if nodeID != "" {
		e.execution.CurrentNodeID = nodeID
		if n, ok := e.nodes[nodeID]; ok {
			contract = n.Output
		}
	}
	exec := e.execution
	e.mu.Unlock()

	meta := map[string]interface{}{}
	if nodeID != "" {
		meta["node_id"] = nodeID
		if contract != nil {
			meta["awaiting"] = contract
		}
	}
	e.emitRun(emit.MsgRunPaused, meta)
	return exec, nil
}

func (e *Executor) finishCompleted() (*WorkflowExecution, error) {
	e.mu.Lock()
	now := time.Now().UTC()
	e.execution.Status = RunCompleted
	e.execution.CompletedAt = &now
	if e.runtime.Usage != nil {
		summary := e.runtime.Usage.Summary()
		e.execution.Usage = &summary
	}
	exec := e.execution
	e.mu.Unlock()

	e.teardown()
	e.cfg.metrics.RunFinished(string(RunCompleted))
	e.emitRun(emit.MsgRunComplete, map[string]interface{}{
		"duration_ms": now.Sub(exec.StartedAt).Milliseconds(),
	})
	e.cfg.callbacks.executionComplete(exec)
	return exec, nil
}

func (e *Executor) finishFailed(rerr *RunError) (*WorkflowExecution, error) {
	e.mu.Lock()
	exec, changed := e.markFailedLocked(rerr)
	e.mu.Unlock()

	if !changed {
		if exec.Error != nil {
			return exec, exec.Error
		}
		return exec, nil
	}
	e.cfg.relay.CancelAll()
	e.announceFailed(exec, rerr)
	return exec, rerr
}

// markFailedLocked transitions a live run to failed. It reports false when
// the run already reached a terminal status, which happens when Cancel
// finalizes a paused run concurrently with a finishing drive loop.
func (e *Executor) markFailedLocked(rerr *RunError) (*WorkflowExecution, bool) {
	if e.execution.Status == RunCompleted || e.execution.Status == RunFailed {
		return e.execution, false
	}
	now := time.Now().UTC()
	e.execution.Status = RunFailed
	e.execution.CompletedAt = &now
	e.execution.Error = rerr
	if e.runtime.Usage != nil {
		summary := e.runtime.Usage.Summary()
		e.execution.Usage = &summary
	}
	return e.execution, true
}

func (e *Executor) announceFailed(exec *WorkflowExecution, rerr *RunError) {
	e.teardown()
	e.cfg.metrics.RunFinished(string(RunFailed))
	msg := emit.MsgRunError
	if rerr.Code == CodeRunCancelled {
		msg = emit.MsgRunCancelled
	}
	e.emitRun(msg, map[string]interface{}{
		"code":  rerr.Code,
		"error": rerr.Error(),
	})
	e.cfg.callbacks.executionComplete(exec)
}

func (e *Executor) teardown() {
	e.mu.Lock()
	subs := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	for _, off := range subs {
		off()
	}
}

func (e *Executor) takeCancel() *RunError {
	e.mu.Lock()
	defer e.mu.Unlock()
	rerr := e.cancelReq
	e.cancelReq = nil
	return rerr
}

func (e *Executor) takePause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	req := e.pauseReq
	e.pauseReq = false
	return req
}

func (e *Executor) node(id string) (*ExecutionNode, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.nodes[id]
	return n, ok
}

func (e *Executor) currentWave() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wave
}

func (e *Executor) decInflightLocked() int {
	e.inflight--
	if e.inflight < 0 {
		e.inflight = 0
	}
	return e.inflight
}

func (e *Executor) emitRun(msg string, meta map[string]interface{}) {
	e.cfg.emitter.Emit(emit.Event{RunID: e.runID, Msg: msg, Meta: meta})
}

func (e *Executor) emitWave(wave int, msg string, meta map[string]interface{}) {
	e.cfg.emitter.Emit(emit.Event{RunID: e.runID, Wave: wave, Msg: msg, Meta: meta})
}

func (e *Executor) emitNode(wave int, nodeID, msg string, meta map[string]interface{}) {
	e.cfg.emitter.Emit(emit.Event{RunID: e.runID, Wave: wave, NodeID: nodeID, Msg: msg, Meta: meta})
}

// runErrorFromNode lifts a node failure to the run-level error descriptor.
// Coded node errors keep their code; only timeouts are marked recoverable,
// since retrying the same run may succeed when the backend recovers.
func runErrorFromNode(nodeID string, err error) *RunError {
	var ne *NodeError
	if errors.As(err, &ne) {
		return &RunError{
			Code:        ne.Code,
			Message:     fmt.Sprintf("node %q failed: %s", nodeID, ne.Message),
			Recoverable: ne.Code == CodeNodeTimeout,
			Cause:       err,
		}
	}
	return &RunError{
		Code:    CodeNodeFailed,
		Message: fmt.Sprintf("node %q failed", nodeID),
		Cause:   err,
	}
}

// auditCopy deep-copies a map for the audit trail, falling back to the
// original reference if the value is not JSON-shaped.
func auditCopy(m map[string]any) map[string]any {
	copied, err := deepCopyMap(m)
	if err != nil {
		return m
	}
	return copied
}
