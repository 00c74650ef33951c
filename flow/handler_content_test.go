package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ellflow/ellflow-go/flow/completion"
	"github.com/ellflow/ellflow-go/flow/emit"
	"github.com/ellflow/ellflow-go/flow/relay"
)

// newTestRuntime builds a Runtime for invoking handlers directly, wired
// to the given completion client.
func newTestRuntime(client completion.Client) *Runtime {
	return &Runtime{
		RunID:      "run-test",
		WorkflowID: "wf-test",
		Context:    NewExecutionContext(testStudent()),
		Completion: client,
		Relay:      relay.New(),
	}
}

func configNode(id, typeTag string, config map[string]any) Node {
	return Node{ID: id, Type: typeTag, Data: NodeData{Label: id, Config: config}}
}

// TestContentHandler_GeneratesContent verifies the success path: a
// level-aware prompt, the model's text as output, and usage recorded.
func TestContentHandler_GeneratesContent(t *testing.T) {
	mock := &completion.Mock{Responses: []completion.Response{
		{Text: "A passage about whales.", Model: "gpt-4o-mini", Usage: completion.Usage{InputTokens: 12, OutputTokens: 30}},
	}}
	rt := newTestRuntime(mock)
	rt.Usage = NewUsageTracker("run-test")

	h := contentHandler{typeTag: TypeContentGenerator}
	node := configNode("gen", TypeContentGenerator, map[string]any{"topic": "whales", "model": "gpt-4o-mini"})

	result, err := h.Run(context.Background(), node, map[string]any{}, rt)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := result.Output
	if out["content"] != "A passage about whales." {
		t.Errorf("expected the model text, got %v", out["content"])
	}
	if out["generatedByAI"] != true {
		t.Error("expected generatedByAI true on the success path")
	}
	if out["level"] != 2 {
		t.Errorf("expected the student's level, got %v", out["level"])
	}
	if out["topic"] != "whales" || out["model"] != "gpt-4o-mini" {
		t.Errorf("expected topic and model echoed, got %v", out)
	}

	if len(mock.Calls) != 1 {
		t.Fatalf("expected one completion call, got %d", len(mock.Calls))
	}
	req := mock.Calls[0].Request
	if !strings.Contains(req.System, "grade 3") || !strings.Contains(req.System, "animals, soccer") {
		t.Errorf("system prompt should carry the profile, got %q", req.System)
	}
	if !strings.Contains(req.Prompt, "about whales") {
		t.Errorf("prompt should name the topic, got %q", req.Prompt)
	}
	if !strings.Contains(req.Prompt, "level 2 of 5") || !strings.Contains(req.Prompt, "short, simple sentences") {
		t.Errorf("prompt should carry the level guidance, got %q", req.Prompt)
	}

	if got := rt.Context.ContentSoFar(); len(got) != 1 || got[0] != "A passage about whales." {
		t.Errorf("expected the content recorded in the run context, got %v", got)
	}
	hist := rt.Context.History()
	if len(hist) != 1 || hist[0].Role != completion.RoleAssistant {
		t.Errorf("expected one assistant turn in the history, got %v", hist)
	}
	if len(rt.Usage.Calls()) != 1 {
		t.Errorf("expected usage recorded once, got %d", len(rt.Usage.Calls()))
	}
}

// TestContentHandler_FallbackPassage verifies the node completes with the
// level's mock passage when the backend errors or has no backend at all.
func TestContentHandler_FallbackPassage(t *testing.T) {
	h := contentHandler{typeTag: TypeContentGenerator}
	node := configNode("gen", TypeContentGenerator, map[string]any{"topic": "cats"})

	t.Run("backend error", func(t *testing.T) {
		rt := newTestRuntime(&completion.Mock{Err: errors.New("backend down")})
		emitter := &mockEmitter{}
		rt.Emitter = emitter

		result, err := h.Run(context.Background(), node, map[string]any{}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Output["content"] != mockPassage(2) {
			t.Errorf("expected the level 2 mock passage, got %v", result.Output["content"])
		}
		if result.Output["generatedByAI"] != false {
			t.Error("expected generatedByAI false on fallback")
		}
		if _, ok := result.Output["model"]; ok {
			t.Error("fallback output should not name a model")
		}
		evs := emitter.byMsg(emit.MsgCompletionFallback)
		if len(evs) != 1 || evs[0].Meta["reason"] != "backend down" {
			t.Errorf("expected one fallback event with the reason, got %v", evs)
		}
	})

	t.Run("no backend configured", func(t *testing.T) {
		rt := newTestRuntime(completion.NewFallback())
		rt.Usage = NewUsageTracker("run-test")

		result, err := h.Run(context.Background(), node, map[string]any{}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Output["content"] != mockPassage(2) || result.Output["generatedByAI"] != false {
			t.Errorf("expected the mock passage ungenerated, got %v", result.Output)
		}
		if len(rt.Usage.Calls()) != 0 {
			t.Errorf("fallback responses must not count as usage, got %d calls", len(rt.Usage.Calls()))
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		rt := newTestRuntime(&completion.Mock{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := h.Run(ctx, node, map[string]any{}, rt); !errors.Is(err, context.Canceled) {
			t.Errorf("expected the context error, got %v", err)
		}
	})
}

// TestContentHandler_Streaming verifies tokens flow through the relay and
// the fallback path restreams the substituted passage.
func TestContentHandler_Streaming(t *testing.T) {
	h := contentHandler{typeTag: TypeAIModel}
	node := configNode("gen", TypeAIModel, map[string]any{"streaming": true, "prompt": "Tell a story."})

	t.Run("model tokens", func(t *testing.T) {
		mock := &completion.Mock{Responses: []completion.Response{{Text: "The dog ran far."}}}
		rt := newTestRuntime(mock)

		var tokens []string
		doneSeen := false
		unsubscribe := rt.Relay.Subscribe("gen", func(ev relay.TokenEvent) {
			if ev.Done {
				doneSeen = true
				return
			}
			tokens = append(tokens, ev.Token)
		})
		defer unsubscribe()

		result, err := h.Run(context.Background(), node, map[string]any{}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := strings.Join(tokens, ""); got != "The dog ran far." {
			t.Errorf("expected the full text streamed, got %q", got)
		}
		if !doneSeen {
			t.Error("expected a done event after the stream")
		}
		if result.StreamContent != "The dog ran far." {
			t.Errorf("expected StreamContent set, got %q", result.StreamContent)
		}
	})

	t.Run("fallback restream", func(t *testing.T) {
		rt := newTestRuntime(&completion.Mock{Err: errors.New("backend down")})

		var tokens []string
		cancelledSeen := false
		unsubscribe := rt.Relay.Subscribe("gen", func(ev relay.TokenEvent) {
			if ev.Cancelled {
				cancelledSeen = true
			}
			if ev.Done {
				return
			}
			tokens = append(tokens, ev.Token)
		})
		defer unsubscribe()

		result, err := h.Run(context.Background(), node, map[string]any{}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := strings.Join(tokens, ""); got != mockPassage(2) {
			t.Errorf("expected the mock passage streamed, got %q", got)
		}
		if !cancelledSeen {
			t.Error("expected the dead stream cancelled before the restream")
		}
		if result.StreamContent != mockPassage(2) {
			t.Errorf("expected StreamContent to match the output, got %q", result.StreamContent)
		}
	})
}

// TestContentHandler_PromptPrecedence verifies where the prompt comes
// from: author config, then upstream prompt, then the topic template.
func TestContentHandler_PromptPrecedence(t *testing.T) {
	h := contentHandler{typeTag: TypeContentGenerator}

	tests := []struct {
		name   string
		config map[string]any
		input  map[string]any
		want   string
	}{
		{
			name:   "config prompt wins",
			config: map[string]any{"prompt": "Write about volcanoes."},
			input:  map[string]any{"prompt": "Write about rivers.", "topic": "cats"},
			want:   "Write about volcanoes.",
		},
		{
			name:  "upstream prompt next",
			input: map[string]any{"prompt": "Write about rivers.", "topic": "cats"},
			want:  "Write about rivers.",
		},
		{
			name:  "topic template",
			input: map[string]any{"topic": "soccer"},
			want:  "Write a short reading passage about soccer.",
		},
		{
			name: "generic default",
			want: "Write a short reading passage for an English language learner.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &completion.Mock{Responses: []completion.Response{{Text: "ok"}}}
			rt := newTestRuntime(mock)
			node := configNode("gen", TypeContentGenerator, tt.config)

			if _, err := h.Run(context.Background(), node, tt.input, rt); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := mock.Calls[0].Request.Prompt; !strings.HasPrefix(got, tt.want) {
				t.Errorf("expected prompt to start with %q, got %q", tt.want, got)
			}
		})
	}

	t.Run("prior content appended", func(t *testing.T) {
		mock := &completion.Mock{Responses: []completion.Response{{Text: "ok"}}}
		rt := newTestRuntime(mock)
		node := configNode("gen", TypeContentGenerator, nil)

		input := map[string]any{"content": "The cat sat."}
		if _, err := h.Run(context.Background(), node, input, rt); err != nil {
			t.Fatalf("Run: %v", err)
		}
		got := mock.Calls[0].Request.Prompt
		if !strings.Contains(got, "Build on this prior content:") || !strings.Contains(got, "The cat sat.") {
			t.Errorf("expected the prior content in the prompt, got %q", got)
		}
	})
}

// TestPromptTemplateHandler verifies {{placeholder}} substitution against
// input, variables, and the student profile.
func TestPromptTemplateHandler(t *testing.T) {
	h := promptTemplateHandler{}

	t.Run("renders known markers", func(t *testing.T) {
		rt := newTestRuntime(&completion.Mock{})
		rt.Context.SetVariable("classroom", "3B")
		node := configNode("tpl", TypePromptTemplate, map[string]any{
			"template": "Hi {{studentName}} from {{classroom}}, write about {{topic}} at level {{level}}. {{missing}}",
		})

		result, err := h.Run(context.Background(), node, map[string]any{"topic": "whales"}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		want := "Hi Amara from 3B, write about whales at level 2. {{missing}}"
		if result.Output["prompt"] != want {
			t.Errorf("expected %q, got %q", want, result.Output["prompt"])
		}
	})

	t.Run("input shadows variables", func(t *testing.T) {
		rt := newTestRuntime(&completion.Mock{})
		rt.Context.SetVariable("topic", "rivers")
		node := configNode("tpl", TypePromptTemplate, map[string]any{"template": "{{topic}}"})

		result, err := h.Run(context.Background(), node, map[string]any{"topic": "whales"}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Output["prompt"] != "whales" {
			t.Errorf("expected the input value to win, got %q", result.Output["prompt"])
		}
	})

	t.Run("template from input", func(t *testing.T) {
		rt := newTestRuntime(&completion.Mock{})
		node := configNode("tpl", TypePromptTemplate, nil)

		result, err := h.Run(context.Background(), node, map[string]any{"template": "Level {{level}}."}, rt)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if result.Output["prompt"] != "Level 2." {
			t.Errorf("expected the upstream template rendered, got %q", result.Output["prompt"])
		}
	})
}
