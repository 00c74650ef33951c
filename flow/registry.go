package flow

import (
	"context"
	"sort"

	"github.com/ellflow/ellflow-go/flow/assessment"
	"github.com/ellflow/ellflow-go/flow/completion"
	"github.com/ellflow/ellflow-go/flow/emit"
	"github.com/ellflow/ellflow-go/flow/relay"
)

// HandlerResult is what a node handler returns on success.
type HandlerResult struct {
	// Output is stored as the node's output and shallow-merged into the
	// input of every dependent.
	Output map[string]any

	// ShouldPause suspends the whole run pending external input. The node
	// reverts to pending and becomes the run's current node; Resume
	// continues it.
	ShouldPause bool

	// NextNodeID names the single direct dependent allowed to run. Every
	// other direct dependent is skipped. Empty means no routing decision.
	NextNodeID string

	// StreamContent is the full text that was relayed token-by-token
	// while the handler ran, when the node streamed.
	StreamContent string
}

// Runtime carries the per-run collaborators a handler may touch. Handlers
// are otherwise side-effect free: they may write Context variables, call
// the completion client, publish to the relay, and post to the assessment
// sink, nothing else.
type Runtime struct {
	RunID       string
	WorkflowID  string
	Context     *ExecutionContext
	Completion  completion.Client
	Relay       *relay.Relay
	Assessments assessment.Sink
	Emitter     emit.Emitter
	Usage       *UsageTracker
	Metrics     *PrometheusMetrics
}

// emitEvent sends an observability event tagged with the run id.
func (rt *Runtime) emitEvent(nodeID, msg string, meta map[string]any) {
	if rt.Emitter == nil {
		return
	}
	rt.Emitter.Emit(emit.Event{RunID: rt.RunID, NodeID: nodeID, Msg: msg, Meta: meta})
}

// recordUsage adds a completion call to the run's usage totals.
func (rt *Runtime) recordUsage(nodeID string, resp completion.Response) {
	if rt.Usage == nil || resp.Fallback {
		return
	}
	rt.Usage.Record(resp.Model, resp.Usage, nodeID)
}

// recordFallback notes a handler-level degradation to deterministic
// content after the completion backend failed or was absent.
func (rt *Runtime) recordFallback(node Node, reason string) {
	rt.emitEvent(node.ID, emit.MsgCompletionFallback, map[string]any{
		"node_type": node.Type,
		"reason":    reason,
	})
	rt.Metrics.IncrementFallbacks(node.Type)
}

// Handler executes one node type. Implementations must be safe for
// concurrent use: the executor dispatches wave siblings in parallel and a
// single handler instance serves every node of its type.
type Handler interface {
	// Type returns the node-type tag this handler serves.
	Type() string

	// Run executes the node. input is the shallow merge of all dependency
	// outputs; node carries the author's config bag.
	Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	TypeTag string
	Fn      func(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error)
}

// Type returns the handler's node-type tag.
func (h HandlerFunc) Type() string { return h.TypeTag }

// Run invokes the wrapped function.
func (h HandlerFunc) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	return h.Fn(ctx, node, input, rt)
}

// Registry maps node-type tags to handlers. Unknown types resolve to the
// passthrough handler so unrecognized or experimental node types never
// hard-fail a run.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler keyed by its Type tag, replacing any previous
// handler for that tag.
func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

// Get returns the handler for a type tag, or nil if none is registered.
func (r *Registry) Get(typeTag string) Handler {
	return r.handlers[typeTag]
}

// Resolve returns the handler for a type tag, falling back to passthrough.
func (r *Registry) Resolve(typeTag string) Handler {
	if h, ok := r.handlers[typeTag]; ok {
		return h
	}
	return passthroughHandler{}
}

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DefaultRegistry returns a registry with every built-in handler family
// registered: content and inference, structured output, human input,
// comprehension checks, scaffolding, flow control, outputs, variables, and
// the student profile source.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Content / inference family.
	r.Register(contentHandler{typeTag: TypeContentGenerator})
	r.Register(contentHandler{typeTag: TypeAIModel})
	r.Register(promptTemplateHandler{})
	r.Register(structuredOutputHandler{})

	// Human input family.
	for _, t := range humanInputTypes {
		r.Register(humanInputHandler{typeTag: t})
	}

	// Assessment.
	r.Register(comprehensionCheckHandler{})

	// Scaffolding family.
	r.Register(scaffoldedContentHandler{})
	r.Register(l1BridgeHandler{})
	r.Register(visualSupportHandler{})
	r.Register(vocabularyBuilderHandler{})

	// Flow control family.
	r.Register(routerHandler{typeTag: TypeRouter})
	r.Register(routerHandler{typeTag: TypeProficiencyRouter})
	r.Register(conditionalHandler{})
	r.Register(loopHandler{})
	r.Register(mergeHandler{})
	r.Register(parallelHandler{})

	// Output family.
	r.Register(progressTrackerHandler{})
	r.Register(feedbackHandler{})
	r.Register(celebrationHandler{})

	// Context plumbing.
	r.Register(variableHandler{})
	r.Register(studentProfileHandler{})

	return r
}

// passthroughHandler forwards merged input unchanged, tagged with the
// node's type and label, for node types with no registered handler.
type passthroughHandler struct{}

func (passthroughHandler) Type() string { return "passthrough" }

func (passthroughHandler) Run(_ context.Context, node Node, input map[string]any, _ *Runtime) (*HandlerResult, error) {
	out := make(map[string]any, len(input)+2)
	for k, v := range input {
		out[k] = v
	}
	out["_nodeType"] = node.Type
	out["_nodeLabel"] = node.Label()
	return &HandlerResult{Output: out}, nil
}
