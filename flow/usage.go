package flow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ellflow/ellflow-go/flow/completion"
)

// ModelPricing defines input and output token costs for completion models.
// Prices are in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Static pricing for the models the provider adapters default to.
// Prices subject to change; update as providers adjust pricing.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o": {
		InputPer1M:  2.50,
		OutputPer1M: 10.00,
	},
	"gpt-4o-mini": {
		InputPer1M:  0.15,
		OutputPer1M: 0.60,
	},
	"claude-3-5-sonnet-20241022": {
		InputPer1M:  3.00,
		OutputPer1M: 15.00,
	},
	"claude-3-haiku-20240307": {
		InputPer1M:  0.25,
		OutputPer1M: 1.25,
	},
	"gemini-2.5-flash": {
		InputPer1M:  0.075,
		OutputPer1M: 0.30,
	},
	"gemini-1.5-pro": {
		InputPer1M:  1.25,
		OutputPer1M: 5.00,
	},
}

// CompletionCall records a single completion invocation with token usage.
type CompletionCall struct {
	Model        string    `json:"model"`
	NodeID       string    `json:"nodeId"`
	InputTokens  int64     `json:"inputTokens"`
	OutputTokens int64     `json:"outputTokens"`
	CostUSD      float64   `json:"costUsd"`
	Timestamp    time.Time `json:"timestamp"`
}

// ModelUsage aggregates calls per model.
type ModelUsage struct {
	Calls        int     `json:"calls"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// UsageSummary totals completion usage for one run. It is attached to the
// WorkflowExecution so callers can bill or budget per student session.
type UsageSummary struct {
	Calls        int                   `json:"calls"`
	InputTokens  int64                 `json:"inputTokens"`
	OutputTokens int64                 `json:"outputTokens"`
	CostUSD      float64               `json:"costUsd"`
	ByModel      map[string]ModelUsage `json:"byModel,omitempty"`
}

// UsageTracker accumulates completion usage across a run.
//
// Handlers record through the Runtime after every completion call; the
// executor snapshots a summary onto the execution when the run finishes.
// Models missing from the pricing table are recorded with zero cost.
//
// Usage:
//
//	tracker := NewUsageTracker("run-123")
//	tracker.Record("gpt-4o-mini", completion.Usage{InputTokens: 1000, OutputTokens: 500}, "intro-content")
//	summary := tracker.Summary()
//
// Thread-safe: nodes in the same wave record concurrently.
type UsageTracker struct {
	runID   string
	pricing map[string]ModelPricing

	mu      sync.RWMutex
	calls   []CompletionCall
	byModel map[string]ModelUsage
	totals  ModelUsage
	enabled bool
}

// NewUsageTracker creates a tracker with the default pricing table.
func NewUsageTracker(runID string) *UsageTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for model, p := range defaultModelPricing {
		pricing[model] = p
	}
	return &UsageTracker{
		runID:   runID,
		pricing: pricing,
		byModel: make(map[string]ModelUsage),
		enabled: true,
	}
}

// Record adds one completion call to the run totals.
func (t *UsageTracker) Record(model string, usage completion.Usage, nodeID string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		return
	}

	pricing := t.pricing[model]
	cost := (float64(usage.InputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(usage.OutputTokens)/1_000_000.0)*pricing.OutputPer1M

	t.calls = append(t.calls, CompletionCall{
		Model:        model,
		NodeID:       nodeID,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})

	m := t.byModel[model]
	m.Calls++
	m.InputTokens += usage.InputTokens
	m.OutputTokens += usage.OutputTokens
	m.CostUSD += cost
	t.byModel[model] = m

	t.totals.Calls++
	t.totals.InputTokens += usage.InputTokens
	t.totals.OutputTokens += usage.OutputTokens
	t.totals.CostUSD += cost
}

// Summary returns a snapshot of accumulated usage.
func (t *UsageTracker) Summary() UsageSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byModel := make(map[string]ModelUsage, len(t.byModel))
	for model, usage := range t.byModel {
		byModel[model] = usage
	}
	return UsageSummary{
		Calls:        t.totals.Calls,
		InputTokens:  t.totals.InputTokens,
		OutputTokens: t.totals.OutputTokens,
		CostUSD:      t.totals.CostUSD,
		ByModel:      byModel,
	}
}

// Calls returns the recorded call history in chronological order.
func (t *UsageTracker) Calls() []CompletionCall {
	t.mu.RLock()
	defer t.mu.RUnlock()

	calls := make([]CompletionCall, len(t.calls))
	copy(calls, t.calls)
	return calls
}

// SetCustomPricing overrides pricing for one model. Useful for enterprise
// rates or newly released models.
func (t *UsageTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops recording. Useful in tests that exercise handlers without
// asserting on usage.
func (t *UsageTracker) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// Enable resumes recording after Disable.
func (t *UsageTracker) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
}

// Reset clears recorded calls and totals. Pricing overrides survive.
func (t *UsageTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = nil
	t.byModel = make(map[string]ModelUsage)
	t.totals = ModelUsage{}
}

// String returns a human-readable summary.
func (t *UsageTracker) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return fmt.Sprintf(
		"UsageTracker{RunID: %s, Calls: %d, CostUSD: $%.4f, InputTokens: %d, OutputTokens: %d}",
		t.runID,
		t.totals.Calls,
		t.totals.CostUSD,
		t.totals.InputTokens,
		t.totals.OutputTokens,
	)
}
