package completion

import (
	"context"
	"encoding/json"
	"strings"
)

// Fallback is a Client with no backend. Every method succeeds with
// deterministic placeholder output, so workflows remain runnable in
// development and in tests without API keys.
//
// Responses carry Fallback: true; content handlers substitute their own
// level-appropriate mock material when they see it.
type Fallback struct{}

// NewFallback returns the no-backend client.
func NewFallback() *Fallback {
	return &Fallback{}
}

// Complete returns placeholder text derived from the request.
func (f *Fallback) Complete(ctx context.Context, req Request) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	return Response{
		Text:     placeholderText(req),
		Model:    "fallback",
		Fallback: true,
	}, nil
}

// Stream chunks the placeholder text through onToken.
func (f *Fallback) Stream(ctx context.Context, req Request, onToken func(token string) error) (Response, error) {
	resp, err := f.Complete(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if err := StreamText(resp.Text, onToken); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// CompleteStructured returns a placeholder value synthesized from the
// schema: sample values for every declared property, first enum choice
// for enumerated strings, zero values elsewhere.
func (f *Fallback) CompleteStructured(ctx context.Context, req Request, schema map[string]interface{}) (Response, error) {
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	value := placeholderValue(schema)
	raw, _ := json.Marshal(value)
	return Response{
		Text:     string(raw),
		Data:     value,
		Model:    "fallback",
		Fallback: true,
	}, nil
}

// GenerateImage returns a placeholder asset describing the prompt.
// GeneratedByAI is false so renderers can show an illustration slot
// instead of a broken image.
func (f *Fallback) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	if ctx.Err() != nil {
		return Image{}, ctx.Err()
	}
	return PlaceholderImage(req), nil
}

// PlaceholderImage builds the deterministic stand-in asset used when no
// image backend is available. Provider adapters without image support
// share it.
func PlaceholderImage(req ImageRequest) Image {
	alt := strings.TrimSpace(req.Prompt)
	if alt == "" {
		alt = "illustration"
	}
	return Image{
		AltText:       "Illustration: " + alt,
		GeneratedByAI: false,
	}
}

// placeholderText produces stable stand-in prose for a request. The first
// line of the prompt is echoed so the output stays recognizable in a
// rendered lesson.
func placeholderText(req Request) string {
	topic := strings.TrimSpace(req.Prompt)
	if i := strings.IndexByte(topic, '\n'); i >= 0 {
		topic = strings.TrimSpace(topic[:i])
	}
	if runes := []rune(topic); len(runes) > 80 {
		topic = string(runes[:80])
	}
	if topic == "" {
		return "Placeholder content. No completion backend is configured."
	}
	return "Placeholder content for: " + topic + ". No completion backend is configured."
}

// placeholderValue synthesizes a sample JSON value for a schema shape.
func placeholderValue(schema map[string]interface{}) interface{} {
	if schema == nil {
		return map[string]interface{}{}
	}

	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		out := map[string]interface{}{}
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			for name, raw := range props {
				if prop, ok := raw.(map[string]interface{}); ok {
					out[name] = placeholderValue(prop)
				} else {
					out[name] = nil
				}
			}
		}
		return out
	case "array":
		if items, ok := schema["items"].(map[string]interface{}); ok {
			return []interface{}{placeholderValue(items)}
		}
		return []interface{}{}
	case "string":
		if enum, ok := schema["enum"].([]interface{}); ok && len(enum) > 0 {
			return enum[0]
		}
		return "sample text"
	case "number":
		return 0.0
	case "integer":
		return 0
	case "boolean":
		return false
	default:
		return map[string]interface{}{}
	}
}
