package emit

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordedSpans builds an emitter whose spans land in an in-memory exporter.
func recordedSpans(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewOTelEmitter(tp.Tracer("test"))
}

// attrMap flattens span attributes for assertions.
func attrMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

// TestOTelEmitterEmit verifies each event becomes one finished span.
func TestOTelEmitterEmit(t *testing.T) {
	exporter, emitter := recordedSpans(t)

	emitter.Emit(Event{
		RunID:  "run-pathway-1",
		Wave:   2,
		NodeID: "passage",
		Msg:    MsgNodeComplete,
		Meta: map[string]interface{}{
			"node_type":   "content-generator",
			"duration_ms": 41,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "node_complete" {
		t.Errorf("span name = %q, want node_complete", span.Name)
	}

	attrs := attrMap(span.Attributes)
	if got := attrs["ellflow.run_id"]; got != "run-pathway-1" {
		t.Errorf("run_id = %v, want run-pathway-1", got)
	}
	if got := attrs["ellflow.wave"]; got != int64(2) {
		t.Errorf("wave = %v, want 2", got)
	}
	if got := attrs["ellflow.node_id"]; got != "passage" {
		t.Errorf("node_id = %v, want passage", got)
	}
	if got := attrs["ellflow.node.type"]; got != "content-generator" {
		t.Errorf("node type = %v, want content-generator", got)
	}
	if got := attrs["ellflow.node.duration_ms"]; got != int64(41) {
		t.Errorf("duration = %v, want 41", got)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

// TestOTelEmitterUsageAttributes verifies completion usage lands in the llm
// namespace while other meta keys keep their names.
func TestOTelEmitterUsageAttributes(t *testing.T) {
	exporter, emitter := recordedSpans(t)

	emitter.Emit(Event{
		RunID:  "run-pathway-1",
		Wave:   2,
		NodeID: "passage",
		Msg:    MsgNodeComplete,
		Meta: map[string]interface{}{
			"tokens_in":  120,
			"tokens_out": 330,
			"model":      "mock",
			"progress":   20,
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attrMap(spans[0].Attributes)

	if got := attrs["ellflow.llm.tokens_in"]; got != int64(120) {
		t.Errorf("tokens_in = %v, want 120", got)
	}
	if got := attrs["ellflow.llm.tokens_out"]; got != int64(330) {
		t.Errorf("tokens_out = %v, want 330", got)
	}
	if got := attrs["ellflow.llm.model"]; got != "mock" {
		t.Errorf("model = %v, want mock", got)
	}
	if got := attrs["progress"]; got != int64(20) {
		t.Errorf("progress = %v, want 20", got)
	}
	if _, ok := attrs["tokens_in"]; ok {
		t.Error("raw tokens_in key should have been remapped")
	}
}

// TestOTelEmitterErrorStatus verifies error meta marks the span failed.
func TestOTelEmitterErrorStatus(t *testing.T) {
	exporter, emitter := recordedSpans(t)

	emitter.Emit(Event{
		RunID:  "run-pathway-1",
		Wave:   3,
		NodeID: "check",
		Msg:    MsgNodeError,
		Meta:   map[string]interface{}{"error": "node handler failed"},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status.Code != codes.Error {
		t.Errorf("status = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "node handler failed" {
		t.Errorf("description = %q, want the error text", span.Status.Description)
	}
	if got := attrMap(span.Attributes)["error"]; got != "node handler failed" {
		t.Errorf("error attribute = %v, want the error text", got)
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event")
	}
}

// TestOTelEmitterMetaTypes verifies attribute conversion per meta value type.
func TestOTelEmitterMetaTypes(t *testing.T) {
	exporter, emitter := recordedSpans(t)

	emitter.Emit(Event{
		RunID: "run-pathway-1",
		Msg:   MsgNodeComplete,
		Meta: map[string]interface{}{
			"label":    "Reading passage",
			"attempts": 2,
			"total":    int64(9),
			"score":    86.5,
			"fallback": true,
			"latency":  250 * time.Millisecond,
			"tags":     []string{"reading", "level-2"},
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attrMap(spans[0].Attributes)

	if got := attrs["label"]; got != "Reading passage" {
		t.Errorf("label = %v, want Reading passage", got)
	}
	if got := attrs["attempts"]; got != int64(2) {
		t.Errorf("attempts = %v, want 2", got)
	}
	if got := attrs["total"]; got != int64(9) {
		t.Errorf("total = %v, want 9", got)
	}
	if got := attrs["score"]; got != 86.5 {
		t.Errorf("score = %v, want 86.5", got)
	}
	if got := attrs["fallback"]; got != true {
		t.Errorf("fallback = %v, want true", got)
	}
	if got := attrs["latency"]; got != int64(250) {
		t.Errorf("latency = %v, want 250 ms", got)
	}
	if got := attrs["tags"]; got != "[reading level-2]" {
		t.Errorf("tags = %v, want stringified slice", got)
	}
}

// TestOTelEmitterNilMeta verifies events without meta still produce spans.
func TestOTelEmitterNilMeta(t *testing.T) {
	exporter, emitter := recordedSpans(t)

	emitter.Emit(Event{RunID: "run-pathway-1", Msg: MsgRunStart})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := attrMap(spans[0].Attributes)
	if got := attrs["ellflow.run_id"]; got != "run-pathway-1" {
		t.Errorf("run_id = %v, want run-pathway-1", got)
	}
	if got := attrs["ellflow.wave"]; got != int64(0) {
		t.Errorf("wave = %v, want 0", got)
	}
}

// TestOTelEmitterFlush verifies flushing against the global provider.
func TestOTelEmitterFlush(t *testing.T) {
	t.Run("nil without a flushable provider", func(t *testing.T) {
		_, emitter := recordedSpans(t)
		if err := emitter.Flush(context.Background()); err != nil {
			t.Errorf("Flush() = %v, want nil", err)
		}
	})

	t.Run("forces export of batched spans", func(t *testing.T) {
		exporter := tracetest.NewInMemoryExporter()
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() { _ = tp.Shutdown(context.Background()) }()

		emitter := NewOTelEmitter(tp.Tracer("test"))
		emitter.Emit(Event{RunID: "run-pathway-1", Wave: 1, NodeID: "profile", Msg: MsgNodeStart})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := emitter.Flush(ctx); err != nil {
			t.Fatalf("Flush() = %v", err)
		}

		if got := len(exporter.GetSpans()); got != 1 {
			t.Errorf("expected 1 span after flush, got %d", got)
		}
	})
}

// TestOTelEmitterInterfaceContract verifies OTelEmitter implements Emitter.
func TestOTelEmitterInterfaceContract(_ *testing.T) {
	var _ Emitter = NewOTelEmitter(otel.Tracer("contract"))
}
