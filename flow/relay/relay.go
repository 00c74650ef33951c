// Package relay provides per-node token streaming between handlers and
// live clients.
//
// A handler producing tokens publishes them under its node id; UI
// subscribers receive them without the executor needing stream awareness
// beyond forwarding. Each run owns its own Relay instance, so concurrent
// runs never share stream state.
package relay

import (
	"sync"
	"sync/atomic"
)

// TokenEvent is one streaming update for a node.
type TokenEvent struct {
	NodeID string `json:"nodeId"`
	Token  string `json:"token,omitempty"`
	Index  int    `json:"index"`

	// Done marks the final event of a stream. Cancelled distinguishes a
	// cancelled stream's final event from a completed one.
	Done      bool `json:"done,omitempty"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// Subscriber receives token events. Callbacks run synchronously on the
// publishing goroutine; slow consumers should hand off internally.
type Subscriber func(TokenEvent)

// stream tracks one active token stream for a node.
type stream struct {
	nextIndex int
	cancelled bool
}

// Relay is a per-node publish/subscribe channel for token streams.
//
// Invariant: at most one active stream per node id. StartStream on a node
// with a live stream cancels the old stream first, so a re-dispatched node
// never interleaves tokens with its previous attempt.
type Relay struct {
	mu      sync.Mutex
	nextSub atomic.Uint64
	subs    map[string]map[uint64]Subscriber
	streams map[string]*stream
}

// New creates an empty relay.
func New() *Relay {
	return &Relay{
		subs:    make(map[string]map[uint64]Subscriber),
		streams: make(map[string]*stream),
	}
}

// Subscribe registers a callback for a node's token events and returns an
// unsubscribe function. Subscribing to a node with no active stream is
// fine; events arrive once a stream starts.
func (r *Relay) Subscribe(nodeID string, sub Subscriber) func() {
	id := r.nextSub.Add(1)

	r.mu.Lock()
	if r.subs[nodeID] == nil {
		r.subs[nodeID] = make(map[uint64]Subscriber)
	}
	r.subs[nodeID][id] = sub
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if m := r.subs[nodeID]; m != nil {
			delete(m, id)
			if len(m) == 0 {
				delete(r.subs, nodeID)
			}
		}
	}
}

// StartStream opens a stream for the node, cancelling and replacing any
// prior stream for the same id. The returned cancel function is equivalent
// to CancelStream for this stream only.
func (r *Relay) StartStream(nodeID string) (cancel func()) {
	r.mu.Lock()
	if old, ok := r.streams[nodeID]; ok && !old.cancelled {
		old.cancelled = true
		r.dispatchLocked(nodeID, TokenEvent{NodeID: nodeID, Index: old.nextIndex, Done: true, Cancelled: true})
	}
	s := &stream{}
	r.streams[nodeID] = s
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.streams[nodeID] == s && !s.cancelled {
			s.cancelled = true
			r.dispatchLocked(nodeID, TokenEvent{NodeID: nodeID, Index: s.nextIndex, Done: true, Cancelled: true})
			delete(r.streams, nodeID)
		}
	}
}

// SendToken publishes one token on the node's active stream. Tokens sent
// with no active stream or after cancellation are dropped.
func (r *Relay) SendToken(nodeID, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[nodeID]
	if !ok || s.cancelled {
		return
	}
	r.dispatchLocked(nodeID, TokenEvent{NodeID: nodeID, Token: token, Index: s.nextIndex})
	s.nextIndex++
}

// CompleteStream finishes the node's stream normally, delivering a final
// Done event.
func (r *Relay) CompleteStream(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[nodeID]
	if !ok || s.cancelled {
		return
	}
	r.dispatchLocked(nodeID, TokenEvent{NodeID: nodeID, Index: s.nextIndex, Done: true})
	delete(r.streams, nodeID)
}

// CancelStream aborts the node's stream, delivering a final Cancelled
// event.
func (r *Relay) CancelStream(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[nodeID]
	if !ok || s.cancelled {
		return
	}
	s.cancelled = true
	r.dispatchLocked(nodeID, TokenEvent{NodeID: nodeID, Index: s.nextIndex, Done: true, Cancelled: true})
	delete(r.streams, nodeID)
}

// CancelAll aborts every active stream; used when a run is cancelled.
func (r *Relay) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for nodeID, s := range r.streams {
		if !s.cancelled {
			s.cancelled = true
			r.dispatchLocked(nodeID, TokenEvent{NodeID: nodeID, Index: s.nextIndex, Done: true, Cancelled: true})
		}
		delete(r.streams, nodeID)
	}
}

// IsStreaming reports whether the node has an active stream.
func (r *Relay) IsStreaming(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[nodeID]
	return ok && !s.cancelled
}

// dispatchLocked delivers an event to the node's subscribers. Caller holds
// r.mu; subscriber callbacks must not call back into the relay.
func (r *Relay) dispatchLocked(nodeID string, event TokenEvent) {
	for _, sub := range r.subs[nodeID] {
		sub(event)
	}
}
