package completion

import (
	"errors"
	"strings"
	"testing"
)

// TestDecodeJSON verifies model output decoding with fences and repair.
func TestDecodeJSON(t *testing.T) {
	t.Run("decodes a plain object", func(t *testing.T) {
		v, err := DecodeJSON(`{"score": 85, "route": "on-track"}`)
		if err != nil {
			t.Fatalf("DecodeJSON() error = %v", err)
		}
		m, ok := v.(map[string]interface{})
		if !ok {
			t.Fatalf("decoded value = %T, want map", v)
		}
		if m["score"] != float64(85) {
			t.Errorf("score = %v, want 85", m["score"])
		}
		if m["route"] != "on-track" {
			t.Errorf("route = %v, want on-track", m["route"])
		}
	})

	t.Run("strips markdown fences", func(t *testing.T) {
		inputs := []string{
			"```json\n{\"level\": 2}\n```",
			"```\n{\"level\": 2}\n```",
			"  {\"level\": 2}  ",
		}
		for _, input := range inputs {
			v, err := DecodeJSON(input)
			if err != nil {
				t.Fatalf("DecodeJSON(%q) error = %v", input, err)
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				t.Fatalf("DecodeJSON(%q) = %T, want map", input, v)
			}
			if m["level"] != float64(2) {
				t.Errorf("DecodeJSON(%q) level = %v, want 2", input, m["level"])
			}
		}
	})

	t.Run("repairs near miss JSON", func(t *testing.T) {
		tests := []struct {
			name  string
			input string
		}{
			{"trailing comma", `{"words": ["morning", "practice",]}`},
			{"single quotes", `{'feedback': 'Good job'}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				v, err := DecodeJSON(tt.input)
				if err != nil {
					t.Fatalf("DecodeJSON() error = %v", err)
				}
				if _, ok := v.(map[string]interface{}); !ok {
					t.Errorf("decoded value = %T, want map", v)
				}
			})
		}
	})

	t.Run("decodes arrays", func(t *testing.T) {
		v, err := DecodeJSON(`[{"word": "morning"}, {"word": "practice"}]`)
		if err != nil {
			t.Fatalf("DecodeJSON() error = %v", err)
		}
		items, ok := v.([]interface{})
		if !ok {
			t.Fatalf("decoded value = %T, want slice", v)
		}
		if len(items) != 2 {
			t.Errorf("decoded %d items, want 2", len(items))
		}
	})

	t.Run("empty response fails with DecodeError", func(t *testing.T) {
		for _, input := range []string{"", "   \n"} {
			_, err := DecodeJSON(input)
			if err == nil {
				t.Fatalf("DecodeJSON(%q) error = nil, want *DecodeError", input)
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("error type = %T, want *DecodeError", err)
			}
			if decErr.Raw != input {
				t.Errorf("Raw = %q, want original input %q", decErr.Raw, input)
			}
			if errors.Unwrap(decErr) == nil {
				t.Error("expected a wrapped cause")
			}
		}
	})
}

// TestStreamText verifies chunking reproduces the text exactly.
func TestStreamText(t *testing.T) {
	t.Run("chunks carry their separators", func(t *testing.T) {
		var tokens []string
		err := StreamText("The cat sits.", func(token string) error {
			tokens = append(tokens, token)
			return nil
		})
		if err != nil {
			t.Fatalf("StreamText() error = %v", err)
		}

		want := []string{"The ", "cat ", "sits."}
		if len(tokens) != len(want) {
			t.Fatalf("got %d tokens, want %d: %q", len(tokens), len(want), tokens)
		}
		for i := range want {
			if tokens[i] != want[i] {
				t.Errorf("token %d = %q, want %q", i, tokens[i], want[i])
			}
		}
	})

	t.Run("reassembly is lossless", func(t *testing.T) {
		inputs := []string{
			"The big cat sits on a soft mat.",
			"line one\nline two",
			"trailing space ",
			"one",
			"",
		}
		for _, input := range inputs {
			var sb strings.Builder
			err := StreamText(input, func(token string) error {
				sb.WriteString(token)
				return nil
			})
			if err != nil {
				t.Fatalf("StreamText(%q) error = %v", input, err)
			}
			if sb.String() != input {
				t.Errorf("reassembled %q, want %q", sb.String(), input)
			}
		}
	})

	t.Run("onToken error stops delivery", func(t *testing.T) {
		stop := errors.New("consumer gone")
		calls := 0
		err := StreamText("one two three", func(string) error {
			calls++
			return stop
		})
		if !errors.Is(err, stop) {
			t.Errorf("StreamText() error = %v, want %v", err, stop)
		}
		if calls != 1 {
			t.Errorf("onToken called %d times, want 1", calls)
		}
	})
}

// TestStructuredPrompt verifies the shared JSON instruction suffix.
func TestStructuredPrompt(t *testing.T) {
	t.Run("appends the schema", func(t *testing.T) {
		req := Request{System: "You are a scorer.", Prompt: "Score the responses."}
		schema := map[string]interface{}{"type": "object"}

		out := StructuredPrompt(req, schema)

		if !strings.HasPrefix(out.Prompt, "Score the responses.") {
			t.Errorf("prompt lost its original text: %q", out.Prompt)
		}
		if !strings.Contains(out.Prompt, "Respond ONLY with valid JSON") {
			t.Error("expected the JSON instruction")
		}
		if !strings.Contains(out.Prompt, `{"type":"object"}`) {
			t.Error("expected the marshaled schema")
		}
		if !strings.Contains(out.Prompt, "No markdown, no explanation") {
			t.Error("expected the closing instruction")
		}
		if out.System != "You are a scorer." {
			t.Errorf("System = %q, want unchanged", out.System)
		}
		if req.Prompt != "Score the responses." {
			t.Errorf("original request mutated: %q", req.Prompt)
		}
	})

	t.Run("nil schema skips the schema section", func(t *testing.T) {
		out := StructuredPrompt(Request{Prompt: "Score this."}, nil)

		if !strings.Contains(out.Prompt, "Respond ONLY with valid JSON") {
			t.Error("expected the JSON instruction")
		}
		if strings.Contains(out.Prompt, "conforming to this JSON Schema") {
			t.Error("expected no schema section")
		}
	})
}
