package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/ellflow/ellflow-go/flow/completion"
)

// Fallback behaviors for the structured-output node when the model cannot
// produce schema-valid JSON.
const (
	FallbackError   = "error"
	FallbackRawText = "raw-text"
	FallbackRetry   = "retry"
)

// DefaultMaxRetries bounds structured-output regeneration attempts under
// the retry fallback behavior.
const DefaultMaxRetries = 3

// structuredOutputHandler asks the model for JSON conforming to the
// node's schema and validates the result. The author's schema is reduced
// to the supported subset (object, array, string with enum, number,
// integer, boolean; anything else accepts any value), compiled once, and
// cached. What happens when no attempt validates is the author's choice
// via config.fallbackBehavior: error surfaces a node failure, raw-text
// completes with the ungraded response text, retry re-asks up to
// config.maxRetries times with a schema hint appended to the prompt each
// time, then completes with retriesExhausted set.
type structuredOutputHandler struct{}

func (structuredOutputHandler) Type() string { return TypeStructuredOutput }

func (structuredOutputHandler) Run(ctx context.Context, node Node, input map[string]any, rt *Runtime) (*HandlerResult, error) {
	schema := normalizeSchema(rawSchema(node))
	validator, err := compileSchema(schema)
	if err != nil {
		return nil, newNodeError(node.ID, CodeSchemaInvalid, "schema does not compile", err)
	}

	behavior := node.ConfigString("fallbackBehavior", FallbackRetry)
	attempts := 1
	if behavior == FallbackRetry {
		attempts = node.ConfigInt("maxRetries", DefaultMaxRetries)
		if attempts < 1 {
			attempts = 1
		}
	}

	req := completion.Request{
		Model:       node.ConfigString("model", ""),
		Prompt:      structuredPrompt(node, input),
		Temperature: node.ConfigFloat("temperature", 0),
	}

	var lastRaw string
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			req.Prompt += "\n\n" + schemaHint(lastErr)
		}

		resp, err := rt.Completion.CompleteStructured(ctx, req, schema)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastRaw, lastErr = resp.Text, err
			continue
		}
		rt.recordUsage(node.ID, resp)

		doc, err := schemaDocValue(resp.Data)
		if err != nil {
			lastRaw, lastErr = resp.Text, err
			continue
		}
		if err := validator.Validate(doc); err != nil {
			lastRaw, lastErr = resp.Text, err
			continue
		}

		if resp.Fallback {
			rt.recordFallback(node, "no completion backend")
		}
		return &HandlerResult{Output: map[string]any{
			"data":     resp.Data,
			"valid":    true,
			"attempts": attempt + 1,
		}}, nil
	}

	switch behavior {
	case FallbackError:
		return nil, newNodeError(node.ID, CodeSchemaInvalid, "structured output failed validation", lastErr)
	case FallbackRawText:
		return &HandlerResult{Output: map[string]any{
			"rawText":  lastRaw,
			"valid":    false,
			"ungraded": true,
		}}, nil
	default:
		out := map[string]any{
			"valid":            false,
			"retriesExhausted": true,
			"attempts":         attempts,
		}
		if lastRaw != "" {
			out["rawText"] = lastRaw
		}
		if lastErr != nil {
			out["error"] = lastErr.Error()
		}
		return &HandlerResult{Output: out}, nil
	}
}

// rawSchema extracts the author's schema from node config. The canvas
// tool stores schemas as JSON text; built objects are accepted too.
func rawSchema(node Node) map[string]any {
	if m := node.ConfigMap("schema"); m != nil {
		return m
	}
	if s := node.ConfigString("schema", ""); s != "" {
		var v map[string]any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return nil
}

// normalizeSchema reduces an author-supplied schema to the supported
// JSON Schema subset. Unrecognized shapes become accept-anything rather
// than failing the node over a config detail.
func normalizeSchema(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}

	typ, _ := raw["type"].(string)
	switch typ {
	case "object":
		out := map[string]any{"type": "object"}
		if props, ok := raw["properties"].(map[string]any); ok {
			normalized := make(map[string]any, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					normalized[name] = normalizeSchema(pm)
				} else {
					normalized[name] = map[string]any{}
				}
			}
			out["properties"] = normalized
		}
		if required, ok := raw["required"].([]any); ok && len(required) > 0 {
			out["required"] = required
		}
		return out
	case "array":
		out := map[string]any{"type": "array"}
		if items, ok := raw["items"].(map[string]any); ok {
			out["items"] = normalizeSchema(items)
		}
		return out
	case "string":
		out := map[string]any{"type": "string"}
		if enum, ok := raw["enum"].([]any); ok && len(enum) > 0 {
			out["enum"] = enum
		}
		return out
	case "number", "integer", "boolean":
		return map[string]any{"type": typ}
	default:
		if _, ok := raw["properties"]; ok {
			withType := make(map[string]any, len(raw)+1)
			for k, v := range raw {
				withType[k] = v
			}
			withType["type"] = "object"
			return normalizeSchema(withType)
		}
		return map[string]any{}
	}
}

// schemaCache holds compiled validators keyed by the normalized schema's
// JSON encoding. Workflow nodes reuse the same few schemas across runs,
// so compilation happens once per shape.
var schemaCache = struct {
	sync.RWMutex
	compiled map[string]*jsonschema.Schema
}{compiled: make(map[string]*jsonschema.Schema)}

func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	schemaCache.RLock()
	cached := schemaCache.compiled[key]
	schemaCache.RUnlock()
	if cached != nil {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// A fresh compiler per schema avoids resource collisions under one URL.
	c := jsonschema.NewCompiler()
	const url = "ellflow://node-schema.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	schemaCache.Lock()
	schemaCache.compiled[key] = compiled
	schemaCache.Unlock()
	return compiled, nil
}

// schemaDocValue round-trips a value through JSON so numbers become
// json.Number, the representation the jsonschema library validates.
func schemaDocValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func schemaHint(err error) string {
	if err == nil {
		return "The previous response was not valid JSON for the schema. Follow the schema exactly."
	}
	return fmt.Sprintf("The previous response did not satisfy the schema: %v. Follow the schema exactly.", err)
}

func structuredPrompt(node Node, input map[string]any) string {
	prompt := node.ConfigString("prompt", "")
	if prompt == "" {
		prompt = inputString(input, "prompt")
	}
	if prompt == "" {
		prompt = "Extract the requested structured data."
	}
	if content := inputString(input, "content"); content != "" {
		prompt += "\n\nSource content:\n" + content
	}
	return prompt
}
