package flow

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics collection for
// workflow execution monitoring.
//
// Metrics exposed (all namespaced with "ellflow_"):
//
//  1. active_runs (gauge): Workflow runs currently executing or paused.
//  2. inflight_nodes (gauge): Nodes executing concurrently across runs.
//  3. node_latency_ms (histogram): Node execution duration in milliseconds.
//     Labels: node_type, status (completed/failed).
//  4. waves_total (counter): Readiness waves dispatched.
//  5. runs_total (counter): Finished runs. Labels: status (completed/failed).
//  6. pauses_total (counter): Runs suspended for human input. Labels: node_type.
//  7. node_timeouts_total (counter): Nodes killed by the per-node timeout.
//     Labels: node_type.
//  8. completion_fallbacks_total (counter): Handler-level degradations to
//     mock content after a completion failure. Labels: node_type.
//  9. stream_tokens_total (counter): Tokens relayed to stream subscribers.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := NewPrometheusMetrics(registry)
//
//	exec := NewExecutor(WithMetrics(metrics))
//
//	// Expose via HTTP for Prometheus scraping:
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: all methods may be called from concurrent node dispatches.
type PrometheusMetrics struct {
	activeRuns    prometheus.Gauge
	inflightNodes prometheus.Gauge

	nodeLatency *prometheus.HistogramVec

	waves               prometheus.Counter
	runs                *prometheus.CounterVec
	pauses              *prometheus.CounterVec
	nodeTimeouts        *prometheus.CounterVec
	completionFallbacks *prometheus.CounterVec
	streamTokens        prometheus.Counter

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all workflow execution
// metrics with the provided registry. A nil registry uses the global
// default.
//
// Histogram buckets are sized for typical node execution times: format-only
// nodes finish in microseconds, completion-backed nodes in seconds.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.activeRuns = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ellflow",
		Name:      "active_runs",
		Help:      "Workflow runs currently executing or paused for input",
	})

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "ellflow",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing concurrently",
	})

	pm.nodeLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ellflow",
		Name:      "node_latency_ms",
		Help:      "Node execution duration in milliseconds (from dispatch to completion)",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"node_type", "status"})

	pm.waves = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "ellflow",
		Name:      "waves_total",
		Help:      "Readiness waves dispatched across all runs",
	})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ellflow",
		Name:      "runs_total",
		Help:      "Workflow runs finished, by terminal status",
	}, []string{"status"})

	pm.pauses = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ellflow",
		Name:      "pauses_total",
		Help:      "Runs suspended waiting for human input, by pausing node type",
	}, []string{"node_type"})

	pm.nodeTimeouts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ellflow",
		Name:      "node_timeouts_total",
		Help:      "Nodes that exceeded the per-node execution timeout",
	}, []string{"node_type"})

	pm.completionFallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ellflow",
		Name:      "completion_fallbacks_total",
		Help:      "Handler degradations to deterministic mock content after completion failures",
	}, []string{"node_type"})

	pm.streamTokens = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "ellflow",
		Name:      "stream_tokens_total",
		Help:      "Tokens relayed to stream subscribers",
	})

	return pm
}

// RecordNodeLatency records the execution duration of one node dispatch.
// Status is "completed" or "failed".
func (pm *PrometheusMetrics) RecordNodeLatency(nodeType string, latency time.Duration, status string) {
	if pm == nil || !pm.recording() {
		return
	}
	pm.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(latency.Milliseconds()))
}

// UpdateInflightNodes sets the current number of concurrently executing
// nodes.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if pm == nil || !pm.recording() {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// RunStarted increments the active run gauge.
func (pm *PrometheusMetrics) RunStarted() {
	if pm == nil || !pm.recording() {
		return
	}
	pm.activeRuns.Inc()
}

// RunFinished decrements the active run gauge and counts the terminal
// status.
func (pm *PrometheusMetrics) RunFinished(status string) {
	if pm == nil || !pm.recording() {
		return
	}
	pm.activeRuns.Dec()
	pm.runs.WithLabelValues(status).Inc()
}

// IncrementWaves counts one dispatched readiness wave.
func (pm *PrometheusMetrics) IncrementWaves() {
	if pm == nil || !pm.recording() {
		return
	}
	pm.waves.Inc()
}

// IncrementPauses counts one run suspension for human input.
func (pm *PrometheusMetrics) IncrementPauses(nodeType string) {
	if pm == nil || !pm.recording() {
		return
	}
	pm.pauses.WithLabelValues(nodeType).Inc()
}

// IncrementTimeouts counts one node timeout.
func (pm *PrometheusMetrics) IncrementTimeouts(nodeType string) {
	if pm == nil || !pm.recording() {
		return
	}
	pm.nodeTimeouts.WithLabelValues(nodeType).Inc()
}

// IncrementFallbacks counts one degradation to mock content.
func (pm *PrometheusMetrics) IncrementFallbacks(nodeType string) {
	if pm == nil || !pm.recording() {
		return
	}
	pm.completionFallbacks.WithLabelValues(nodeType).Inc()
}

// AddStreamTokens counts tokens relayed to subscribers.
func (pm *PrometheusMetrics) AddStreamTokens(n int) {
	if pm == nil || !pm.recording() || n <= 0 {
		return
	}
	pm.streamTokens.Add(float64(n))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative and
// cannot be reset without re-registering.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.activeRuns.Set(0)
	pm.inflightNodes.Set(0)
}

func (pm *PrometheusMetrics) recording() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
