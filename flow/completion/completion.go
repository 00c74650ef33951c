// Package completion provides a uniform client surface over AI completion
// backends.
//
// Handlers in the workflow engine consume the Client interface for four
// operations: plain text completion, token streaming, structured (JSON)
// completion, and image generation. Provider adapters live in the
// subpackages anthropic, openai, and google; Fallback produces
// deterministic placeholder output with no backend at all, and Mock is the
// test double.
//
// All implementations must degrade rather than panic: a misconfigured or
// unreachable backend surfaces as an error return (or, for Fallback, as
// placeholder output), and the calling handler decides how to recover.
package completion

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// Standard role constants for conversation history.
const (
	// RoleSystem indicates a system message that sets context or instructions.
	RoleSystem = "system"

	// RoleUser indicates a message from the student or calling application.
	RoleUser = "user"

	// RoleAssistant indicates a prior model response.
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
//
// Prompt is the current instruction; System and History are optional.
// Providers fold History between the system prompt and the final user turn.
type Request struct {
	// Model overrides the client's default model name. Optional.
	Model string `json:"model,omitempty"`

	// System sets behavior and context. Optional.
	System string `json:"system,omitempty"`

	// Prompt is the user-turn text sent to the model.
	Prompt string `json:"prompt"`

	// History is prior conversation turns, oldest first. Optional.
	History []Message `json:"history,omitempty"`

	// Temperature controls sampling randomness. Zero means provider default.
	Temperature float64 `json:"temperature,omitempty"`

	// MaxTokens caps the response length. Zero means provider default.
	MaxTokens int `json:"maxTokens,omitempty"`
}

// Usage reports token consumption for a single call.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Response is the result of a completion call.
type Response struct {
	// Text is the generated content.
	Text string `json:"text"`

	// Data is the decoded JSON value of a structured completion: a map
	// for object schemas, a slice for array schemas. Nil for plain text
	// completions.
	Data interface{} `json:"data,omitempty"`

	// Model is the model that produced the response.
	Model string `json:"model,omitempty"`

	// Usage reports token counts when the backend provides them.
	Usage Usage `json:"usage"`

	// Fallback is true when the response is deterministic placeholder
	// output rather than model output. Handlers use this to substitute
	// their own level-appropriate mock content.
	Fallback bool `json:"fallback,omitempty"`
}

// ImageRequest describes one image generation call.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Size   string `json:"size,omitempty"`
}

// Image is the result of an image generation call.
type Image struct {
	// URL locates the generated asset. Empty for placeholder images.
	URL string `json:"url,omitempty"`

	// AltText describes the image for accessibility and for rendering
	// placeholders.
	AltText string `json:"altText"`

	// GeneratedByAI is false for placeholder images.
	GeneratedByAI bool `json:"generatedByAI"`
}

// Client is the completion surface handlers call.
//
// Implementations must be safe for concurrent use: nodes in the same
// readiness wave share one client. Every method respects context
// cancellation.
//
// Example usage:
//
//	client := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "")
//	resp, err := client.Complete(ctx, completion.Request{
//	    System: "You are a patient reading tutor.",
//	    Prompt: "Write a short passage about whales.",
//	})
//	if err != nil {
//	    // fall back to canned content
//	}
//	fmt.Println(resp.Text)
type Client interface {
	// Complete sends the request and returns the full response text.
	Complete(ctx context.Context, req Request) (Response, error)

	// Stream sends the request and delivers the response incrementally
	// through onToken, then returns the assembled response. A non-nil
	// error from onToken aborts the stream and is returned.
	//
	// Providers without native token streaming deliver the completed
	// text in word-sized chunks.
	Stream(ctx context.Context, req Request, onToken func(token string) error) (Response, error)

	// CompleteStructured asks the model for JSON conforming to schema.
	// The decoded value arrives in Response.Data with the raw text in
	// Response.Text. Schema compliance is the caller's concern; this
	// method only guarantees the result decoded as JSON. When decoding
	// fails, the returned Response still carries the raw text and the
	// error is a *DecodeError.
	CompleteStructured(ctx context.Context, req Request, schema map[string]interface{}) (Response, error)

	// GenerateImage produces an image asset for the prompt. Backends
	// without image support return a deterministic placeholder with
	// GeneratedByAI false.
	GenerateImage(ctx context.Context, req ImageRequest) (Image, error)
}

// DecodeError reports that a model response could not be decoded as JSON,
// even after repair. Raw preserves the original response text so callers
// can fall back to it.
//
// Use errors.As to recover the raw text:
//
//	var decErr *completion.DecodeError
//	if errors.As(err, &decErr) {
//	    return decErr.Raw
//	}
type DecodeError struct {
	Raw string
	err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return "completion: response is not valid JSON: " + e.err.Error()
}

// Unwrap returns the underlying decode failure.
func (e *DecodeError) Unwrap() error {
	return e.err
}

// DecodeJSON decodes model output as a JSON value.
//
// Models wrap JSON in markdown fences or emit slightly malformed syntax
// (trailing commas, single quotes) often enough that strict parsing alone
// is not workable. DecodeJSON strips fences, tries strict parsing, then
// attempts repair before giving up. Failures return a *DecodeError that
// preserves the original text.
func DecodeJSON(text string) (interface{}, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var v interface{}
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		return v, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, &DecodeError{Raw: text, err: err}
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, &DecodeError{Raw: text, err: err}
	}
	return v, nil
}

// StreamText delivers text through onToken in word-sized chunks.
//
// Chunks include their trailing separator so concatenating every token
// reproduces text exactly. A non-nil error from onToken stops delivery
// and is returned.
func StreamText(text string, onToken func(token string) error) error {
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == ' ' || text[i] == '\n' {
			if err := onToken(text[start : i+1]); err != nil {
				return err
			}
			start = i + 1
		}
	}
	if start < len(text) {
		return onToken(text[start:])
	}
	return nil
}

// StructuredPrompt appends a schema-compliance instruction to the request
// prompt. Provider adapters share this so retry hints accumulate the same
// way regardless of backend.
func StructuredPrompt(req Request, schema map[string]interface{}) Request {
	var sb strings.Builder
	sb.WriteString(req.Prompt)
	sb.WriteString("\n\nRespond ONLY with valid JSON")
	if schema != nil {
		if raw, err := json.Marshal(schema); err == nil {
			sb.WriteString(" conforming to this JSON Schema:\n")
			sb.Write(raw)
		}
	}
	sb.WriteString("\nNo markdown, no explanation, just the JSON.")

	out := req
	out.Prompt = sb.String()
	return out
}
