package server

import (
	"context"
	"sync"
	"time"

	"github.com/ellflow/ellflow-go/flow"
	"github.com/ellflow/ellflow-go/flow/relay"
)

// Event is one message on an execution's event stream. Type doubles as the
// SSE event name, so browser clients can addEventListener per type.
type Event struct {
	Type   string         `json:"type"`
	NodeID string         `json:"nodeId,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Event types on the wire.
const (
	EventNodeStart    = "node-start"
	EventNodeComplete = "node-complete"
	EventNodeError    = "node-error"
	EventProgress     = "progress"
	EventStreamToken  = "stream-token"
	EventPaused       = "paused"
	EventResumed      = "resumed"
	EventComplete     = "complete"
	EventError        = "error"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// stops draining (slow client) loses events rather than stalling the run.
const subscriberBuffer = 256

// runHandle tracks one live run: its engine instance, the node types and
// start times needed to build audit entries from callbacks, and the event
// history fanned out to SSE subscribers.
type runHandle struct {
	id  string
	srv *Server

	executor *flow.Executor

	mu           sync.Mutex
	history      []Event
	subs         map[chan Event]struct{}
	finished     bool
	savedInitial bool
	starts       map[string]time.Time
	types        map[string]string
}

func newRunHandle(id string, srv *Server, wf *flow.WorkflowGraph) *runHandle {
	types := make(map[string]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		types[n.ID] = n.Type
	}
	return &runHandle{
		id:     id,
		srv:    srv,
		subs:   make(map[chan Event]struct{}),
		starts: make(map[string]time.Time),
		types:  types,
	}
}

// callbacks bridges engine lifecycle callbacks onto the event stream and
// the incremental audit trail.
func (h *runHandle) callbacks() flow.Callbacks {
	return flow.Callbacks{
		OnNodeStart: func(nodeID string, node flow.Node) {
			h.mu.Lock()
			h.starts[nodeID] = time.Now().UTC()
			first := !h.savedInitial
			h.savedInitial = true
			h.mu.Unlock()
			// The first node start means the record exists; persist it so
			// the run is listable while still in flight.
			if first {
				if snap := h.executor.Snapshot(); snap != nil {
					h.save(snap)
				}
			}
			h.publish(Event{Type: EventNodeStart, NodeID: nodeID, Data: map[string]any{
				"nodeType": node.Type,
				"label":    node.Label(),
			}})
		},
		OnNodeComplete: func(nodeID string, output map[string]any) {
			h.appendAudit(nodeID, flow.NodeCompleted, output, "")
			h.publish(Event{Type: EventNodeComplete, NodeID: nodeID, Data: map[string]any{
				"output": output,
			}})
		},
		OnNodeError: func(nodeID string, err error) {
			h.appendAudit(nodeID, flow.NodeFailed, nil, err.Error())
			h.publish(Event{Type: EventNodeError, NodeID: nodeID, Data: map[string]any{
				"error": err.Error(),
			}})
		},
		OnProgress: func(percent, total, completed int) {
			h.publish(Event{Type: EventProgress, Data: map[string]any{
				"percent":   percent,
				"total":     total,
				"completed": completed,
			}})
		},
		OnStreamToken: func(ev relay.TokenEvent) {
			h.publish(Event{Type: EventStreamToken, NodeID: ev.NodeID, Data: map[string]any{
				"token":     ev.Token,
				"index":     ev.Index,
				"done":      ev.Done,
				"cancelled": ev.Cancelled,
			}})
		},
	}
}

// appendAudit persists one incremental audit row. The authoritative trail
// is saved with the execution record at run boundaries; these rows exist
// so operators can follow a live run in the database.
func (h *runHandle) appendAudit(nodeID string, status flow.NodeStatus, output map[string]any, errText string) {
	h.mu.Lock()
	started := h.starts[nodeID]
	nodeType := h.types[nodeID]
	h.mu.Unlock()
	if started.IsZero() {
		started = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry := flow.NodeExecution{
		NodeID:      nodeID,
		NodeType:    nodeType,
		StartedAt:   started,
		CompletedAt: time.Now().UTC(),
		Status:      status,
		Output:      output,
		Error:       errText,
	}
	if err := h.srv.opts.Store.AppendNodeExecution(ctx, h.id, entry); err != nil {
		h.srv.log.Warn("failed to append audit entry", "run_id", h.id, "node_id", nodeID, "error", err)
	}
}

// settle handles the engine returning control: persist the record, tell
// subscribers what happened, and close the stream on terminal states.
func (h *runHandle) settle(exec *flow.WorkflowExecution, err error) {
	if exec != nil {
		h.save(exec)
	}

	switch {
	case exec != nil && exec.Status == flow.RunPaused:
		data := map[string]any{"status": string(exec.Status)}
		if exec.CurrentNodeID != "" {
			data["nodeId"] = exec.CurrentNodeID
		}
		if _, contract, ok := h.executor.AwaitingInput(); ok {
			data["awaiting"] = contract
		}
		h.publish(Event{Type: EventPaused, NodeID: exec.CurrentNodeID, Data: data})
	case err != nil:
		data := map[string]any{"error": err.Error()}
		var rerr *flow.RunError
		if exec != nil && exec.Error != nil {
			rerr = exec.Error
		}
		if rerr != nil {
			data["code"] = rerr.Code
			data["recoverable"] = rerr.Recoverable
		}
		h.finish(Event{Type: EventError, Data: data})
	case exec != nil:
		data := map[string]any{"status": string(exec.Status)}
		if exec.Usage != nil {
			data["usage"] = exec.Usage
		}
		h.finish(Event{Type: EventComplete, Data: data})
	}
}

// save persists the execution record, best effort.
func (h *runHandle) save(exec *flow.WorkflowExecution) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.srv.opts.Store.SaveExecution(ctx, exec); err != nil {
		h.srv.log.Warn("failed to save execution", "run_id", h.id, "error", err)
	}
}

// publish appends the event to the replay history and fans it out. A full
// subscriber buffer drops the event for that subscriber only.
func (h *runHandle) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.history = append(h.history, ev)
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish publishes a terminal event and closes every subscriber channel.
// Later subscribers replay the full history and see a closed stream.
func (h *runHandle) finish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.history = append(h.history, ev)
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
		close(ch)
	}
	h.subs = make(map[chan Event]struct{})
	h.finished = true
}

// subscribe returns a channel carrying the full history followed by live
// events. The channel is closed when the run finishes. Call unsubscribe
// when the client goes away.
func (h *runHandle) subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, len(h.history)+subscriberBuffer)
	for _, ev := range h.history {
		ch <- ev
	}
	if h.finished {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *runHandle) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
	}
}
