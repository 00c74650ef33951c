package flow

import (
	"time"

	"github.com/ellflow/ellflow-go/flow/assessment"
	"github.com/ellflow/ellflow-go/flow/completion"
	"github.com/ellflow/ellflow-go/flow/emit"
	"github.com/ellflow/ellflow-go/flow/relay"
)

// Option is a functional option for configuring an Executor.
//
// Functional options provide a clean, extensible API for configuration:
//   - Chainable: NewExecutor(WithMaxConcurrentNodes(5), WithEmitter(em))
//   - Self-documenting: option names describe their purpose
//   - Optional: only specify the configuration you need
//
// Example:
//
//	exec, err := flow.NewExecutor(
//	    flow.WithCompletion(anthropic.New(apiKey, "")),
//	    flow.WithMaxConcurrentNodes(5),
//	    flow.WithNodeTimeout(20*time.Second),
//	    flow.WithEmitter(emit.NewLogEmitter(os.Stderr, true)),
//	)
type Option func(*executorConfig) error

// executorConfig collects options before they are applied to an Executor.
// This indirection allows validation and composition of options.
type executorConfig struct {
	maxConcurrentNodes int
	nodeTimeout        time.Duration
	registry           *Registry
	client             completion.Client
	relay              *relay.Relay
	sink               assessment.Sink
	emitter            emit.Emitter
	metrics            *PrometheusMetrics
	callbacks          Callbacks
	trackUsage         bool
	runID              string
}

func defaultConfig() executorConfig {
	return executorConfig{
		maxConcurrentNodes: DefaultMaxConcurrentNodes,
		nodeTimeout:        DefaultNodeTimeout,
		trackUsage:         true,
	}
}

// Configuration defaults.
const (
	// DefaultMaxConcurrentNodes limits how many nodes of one readiness
	// wave run at once.
	DefaultMaxConcurrentNodes = 3

	// DefaultNodeTimeout is the wall-clock budget for a single node
	// dispatch.
	DefaultNodeTimeout = 30 * time.Second
)

// WithMaxConcurrentNodes sets the maximum number of nodes executing
// concurrently within one readiness wave.
//
// Default: 3. Authors compose small per-student graphs, so modest
// parallelism keeps completion-backend pressure predictable. Raise it for
// wide fan-out workflows whose branches are mostly format-only nodes.
func WithMaxConcurrentNodes(n int) Option {
	return func(cfg *executorConfig) error {
		if n < 1 {
			return &RunError{Code: CodeInvalidWorkflow, Message: "maxConcurrentNodes must be at least 1"}
		}
		cfg.maxConcurrentNodes = n
		return nil
	}
}

// WithNodeTimeout sets the wall-clock budget for a single node dispatch.
//
// Default: 30s. When exceeded, the node is marked failed with a timeout
// error and the run fails; sibling nodes already dispatched in the same
// wave still finish.
func WithNodeTimeout(d time.Duration) Option {
	return func(cfg *executorConfig) error {
		if d <= 0 {
			return &RunError{Code: CodeInvalidWorkflow, Message: "node timeout must be positive"}
		}
		cfg.nodeTimeout = d
		return nil
	}
}

// WithRegistry replaces the default handler registry. Use this to add
// custom node types or override built-in handlers.
//
// Example:
//
//	reg := flow.DefaultRegistry()
//	reg.Register(myCustomHandler{})
//	exec, err := flow.NewExecutor(flow.WithRegistry(reg))
func WithRegistry(registry *Registry) Option {
	return func(cfg *executorConfig) error {
		if registry == nil {
			return &RunError{Code: CodeInvalidWorkflow, Message: "registry must not be nil"}
		}
		cfg.registry = registry
		return nil
	}
}

// WithCompletion sets the completion client handlers call for content
// generation, structured output, and image generation.
//
// Default: completion.NewFallback(), which produces deterministic
// placeholder output with no backend.
func WithCompletion(client completion.Client) Option {
	return func(cfg *executorConfig) error {
		if client == nil {
			return &RunError{Code: CodeInvalidWorkflow, Message: "completion client must not be nil"}
		}
		cfg.client = client
		return nil
	}
}

// WithRelay sets the stream relay that carries tokens from streaming
// handlers to subscribers. Supply a shared relay when an external
// transport (such as an SSE server) subscribes before runs start.
//
// Default: a fresh relay per executor.
func WithRelay(r *relay.Relay) Option {
	return func(cfg *executorConfig) error {
		if r == nil {
			return &RunError{Code: CodeInvalidWorkflow, Message: "relay must not be nil"}
		}
		cfg.relay = r
		return nil
	}
}

// WithAssessmentSink sets the sink receiving comprehension-check scores.
// Persistence is best-effort: sink failures are logged, never propagated.
//
// Default: assessment.NewNullSink().
func WithAssessmentSink(sink assessment.Sink) Option {
	return func(cfg *executorConfig) error {
		if sink == nil {
			return &RunError{Code: CodeInvalidWorkflow, Message: "assessment sink must not be nil"}
		}
		cfg.sink = sink
		return nil
	}
}

// WithEmitter sets the observability emitter receiving lifecycle events
// (run/wave/node transitions, fallbacks, stream boundaries).
//
// Default: emit.NewNullEmitter().
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *executorConfig) error {
		if emitter == nil {
			return &RunError{Code: CodeInvalidWorkflow, Message: "emitter must not be nil"}
		}
		cfg.emitter = emitter
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	registry := prometheus.NewRegistry()
//	metrics := flow.NewPrometheusMetrics(registry)
//	exec, err := flow.NewExecutor(flow.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *executorConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithCallbacks sets the lifecycle callbacks invoked as the run
// progresses: node starts and completions, stream tokens, progress, and
// final settlement.
func WithCallbacks(callbacks Callbacks) Option {
	return func(cfg *executorConfig) error {
		cfg.callbacks = callbacks
		return nil
	}
}

// WithUsageTracking controls whether completion token usage is
// accumulated per run and attached to the execution.
//
// Default: enabled.
func WithUsageTracking(enabled bool) Option {
	return func(cfg *executorConfig) error {
		cfg.trackUsage = enabled
		return nil
	}
}

// WithRunID fixes the execution id instead of generating one. Servers use
// this to hand the client a resource id before the run starts.
func WithRunID(id string) Option {
	return func(cfg *executorConfig) error {
		if id == "" {
			return &RunError{Code: CodeInvalidWorkflow, Message: "run id must not be empty"}
		}
		cfg.runID = id
		return nil
	}
}
