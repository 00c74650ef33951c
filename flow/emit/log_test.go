package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

// TestLogEmitterTextFormat verifies the human-readable output mode.
func TestLogEmitterTextFormat(t *testing.T) {
	t.Run("formats a complete line", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{
			RunID:  "run-pathway-1",
			Wave:   2,
			NodeID: "passage",
			Msg:    MsgNodeComplete,
			Meta:   map[string]interface{}{"duration_ms": 41},
		})

		got := buf.String()
		want := `[node_complete] runID=run-pathway-1 wave=2 nodeID=passage meta={"duration_ms":41}` + "\n"
		if got != want {
			t.Errorf("line = %q, want %q", got, want)
		}
		t.Logf("text output: %s", strings.TrimRight(got, "\n"))
	})

	t.Run("omits the meta section when empty", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{RunID: "run-pathway-1", Wave: 1, NodeID: "profile", Msg: MsgNodeStart})

		got := buf.String()
		if strings.Contains(got, "meta=") {
			t.Errorf("expected no meta section, got %q", got)
		}
		if !strings.HasSuffix(got, "\n") {
			t.Errorf("expected trailing newline, got %q", got)
		}
	})

	t.Run("run level events carry wave zero and no node", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{RunID: "run-pathway-1", Msg: MsgRunStart})

		got := buf.String()
		if !strings.HasPrefix(got, "[run_start]") {
			t.Errorf("expected run_start tag, got %q", got)
		}
		if !strings.Contains(got, "wave=0") {
			t.Errorf("expected wave=0, got %q", got)
		}
		if !strings.HasSuffix(got, "nodeID=\n") {
			t.Errorf("expected empty nodeID, got %q", got)
		}
	})

	t.Run("writes one line per event", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, false)

		emitter.Emit(Event{RunID: "run-pathway-1", Msg: MsgRunStart})
		emitter.Emit(Event{RunID: "run-pathway-1", Wave: 1, Msg: MsgWaveStart})
		emitter.Emit(Event{RunID: "run-pathway-1", Wave: 1, NodeID: "profile", Msg: MsgNodeStart})

		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 lines, got %d", len(lines))
		}
		for i, line := range lines {
			if !strings.HasPrefix(line, "[") {
				t.Errorf("line %d does not start with a msg tag: %q", i, line)
			}
		}
	})
}

// TestLogEmitterJSONFormat verifies the structured output mode.
func TestLogEmitterJSONFormat(t *testing.T) {
	t.Run("emits one JSON object per line", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)

		emitter.Emit(Event{
			RunID:  "run-pathway-1",
			Wave:   3,
			NodeID: "check",
			Msg:    MsgNodeComplete,
			Meta:   map[string]interface{}{"node_type": "comprehension-check", "progress": 40},
		})

		line := strings.TrimRight(buf.String(), "\n")
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}

		if parsed["runID"] != "run-pathway-1" {
			t.Errorf("runID = %v, want run-pathway-1", parsed["runID"])
		}
		if parsed["wave"] != float64(3) {
			t.Errorf("wave = %v, want 3", parsed["wave"])
		}
		if parsed["nodeID"] != "check" {
			t.Errorf("nodeID = %v, want check", parsed["nodeID"])
		}
		if parsed["msg"] != "node_complete" {
			t.Errorf("msg = %v, want node_complete", parsed["msg"])
		}

		meta, ok := parsed["meta"].(map[string]interface{})
		if !ok {
			t.Fatalf("meta = %T, want object", parsed["meta"])
		}
		if meta["node_type"] != "comprehension-check" {
			t.Errorf("meta.node_type = %v, want comprehension-check", meta["node_type"])
		}
		if meta["progress"] != float64(40) {
			t.Errorf("meta.progress = %v, want 40", meta["progress"])
		}
		t.Logf("json output: %s", line)
	})

	t.Run("nil meta marshals as null", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)

		emitter.Emit(Event{RunID: "run-pathway-1", Msg: MsgRunComplete})

		var parsed map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if parsed["meta"] != nil {
			t.Errorf("meta = %v, want null", parsed["meta"])
		}
	})

	t.Run("every line parses independently", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)

		emitter.Emit(Event{RunID: "run-pathway-1", Msg: MsgRunStart})
		emitter.Emit(Event{RunID: "run-pathway-1", Wave: 1, Msg: MsgWaveStart})
		emitter.Emit(Event{RunID: "run-pathway-1", Wave: 1, NodeID: "profile", Msg: MsgNodeStart})

		lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected 3 lines, got %d", len(lines))
		}

		wantMsgs := []string{"run_start", "wave_start", "node_start"}
		for i, line := range lines {
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				t.Fatalf("line %d is not valid JSON: %v", i, err)
			}
			if parsed["msg"] != wantMsgs[i] {
				t.Errorf("line %d msg = %v, want %q", i, parsed["msg"], wantMsgs[i])
			}
		}
	})

	t.Run("unmarshalable meta reports the failure", func(t *testing.T) {
		var buf bytes.Buffer
		emitter := NewLogEmitter(&buf, true)

		emitter.Emit(Event{
			RunID: "run-pathway-1",
			Msg:   MsgNodeError,
			Meta:  map[string]interface{}{"bad": make(chan int)},
		})

		if !strings.Contains(buf.String(), "failed to marshal event") {
			t.Errorf("expected marshal error line, got %q", buf.String())
		}
	})
}

// TestLogEmitterConcurrentEmit verifies lines stay whole under concurrent use.
func TestLogEmitterConcurrentEmit(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				emitter.Emit(Event{RunID: "run-pathway-1", Wave: j, NodeID: "vocab", Msg: MsgNodeStart})
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 200 {
		t.Fatalf("expected 200 lines, got %d", len(lines))
	}
	for i, line := range lines {
		if !strings.HasPrefix(line, "[node_start]") {
			t.Fatalf("line %d is garbled: %q", i, line)
		}
	}
}

// TestLogEmitterNilWriter verifies a nil writer falls back to stdout.
func TestLogEmitterNilWriter(t *testing.T) {
	emitter := NewLogEmitter(nil, false)
	emitter.Emit(Event{RunID: "run-pathway-1", Msg: MsgRunComplete})
}

// TestLogEmitterInterfaceContract verifies LogEmitter implements Emitter.
func TestLogEmitterInterfaceContract(_ *testing.T) {
	var buf bytes.Buffer
	var _ Emitter = NewLogEmitter(&buf, false)
	var _ Emitter = NewLogEmitter(&buf, true)
}
