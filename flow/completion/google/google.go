// Package google adapts Google's Gemini API to the completion.Client
// interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ellflow/ellflow-go/flow/completion"
)

const defaultModel = "gemini-2.5-flash"

// Client implements completion.Client for Google's Gemini API.
//
// Provides text and structured completion over Gemini models with:
//   - System instruction support
//   - Context cancellation
//   - Placeholder image generation
//
// Example usage:
//
//	apiKey := os.Getenv("GOOGLE_API_KEY")
//	client := google.New(apiKey, "gemini-2.5-flash")
//
//	resp, err := client.Complete(ctx, completion.Request{
//	    Prompt: "Write a short passage about tide pools.",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Text)
type Client struct {
	modelName string
	client    googleClient
}

// googleClient defines the interface for Gemini API operations.
// This allows for easy mocking in tests.
type googleClient interface {
	generateContent(ctx context.Context, req completion.Request) (completion.Response, error)
}

// New creates a Gemini-backed completion client.
//
// Parameters:
//   - apiKey: Google API key (get from https://makersuite.google.com/app/apikey)
//   - modelName: Model to use. Empty string uses the default.
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

// Complete implements completion.Client.
func (c *Client) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	if ctx.Err() != nil {
		return completion.Response{}, ctx.Err()
	}
	return c.client.generateContent(ctx, req)
}

// Stream implements completion.Client. The completed response is delivered
// through onToken in word-sized chunks.
func (c *Client) Stream(ctx context.Context, req completion.Request, onToken func(token string) error) (completion.Response, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return completion.Response{}, err
	}
	if err := completion.StreamText(resp.Text, onToken); err != nil {
		return completion.Response{}, err
	}
	return resp, nil
}

// CompleteStructured implements completion.Client. The schema is embedded
// in the prompt and the response decoded as JSON.
func (c *Client) CompleteStructured(ctx context.Context, req completion.Request, schema map[string]interface{}) (completion.Response, error) {
	resp, err := c.Complete(ctx, completion.StructuredPrompt(req, schema))
	if err != nil {
		return completion.Response{}, err
	}
	value, err := completion.DecodeJSON(resp.Text)
	if err != nil {
		return resp, err
	}
	resp.Data = value
	return resp, nil
}

// GenerateImage implements completion.Client. Image generation is not
// wired to a backend, so a deterministic placeholder is returned.
func (c *Client) GenerateImage(ctx context.Context, req completion.ImageRequest) (completion.Image, error) {
	if ctx.Err() != nil {
		return completion.Image{}, ctx.Err()
	}
	return completion.PlaceholderImage(req), nil
}

// defaultClient wraps the official Google Gemini SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) generateContent(ctx context.Context, req completion.Request) (completion.Response, error) {
	if c.apiKey == "" {
		return completion.Response{}, errors.New("google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return completion.Response{}, fmt.Errorf("failed to create Google client: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	modelName := c.modelName
	if req.Model != "" {
		modelName = req.Model
	}

	genModel := client.GenerativeModel(modelName)
	if req.System != "" {
		genModel.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.Temperature > 0 {
		genModel.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		genModel.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	resp, err := genModel.GenerateContent(ctx, buildParts(req)...)
	if err != nil {
		return completion.Response{}, fmt.Errorf("google API error: %w", err)
	}

	out := completion.Response{Model: modelName}
	if resp.UsageMetadata != nil {
		out.Usage = completion.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(string(t))
		}
	}
	out.Text = text.String()
	return out, nil
}

// buildParts flattens the conversation into text parts. Gemini combines
// all content into one part sequence; history turns are prefixed with
// their role so the model keeps the dialogue straight.
func buildParts(req completion.Request) []genai.Part {
	var parts []genai.Part
	for _, msg := range req.History {
		if msg.Content == "" {
			continue
		}
		parts = append(parts, genai.Text(msg.Role+": "+msg.Content))
	}
	return append(parts, genai.Text(req.Prompt))
}
