// Package anthropic adapts Anthropic's Claude API to the completion.Client
// interface.
package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ellflow/ellflow-go/flow/completion"
)

const defaultModel = "claude-3-5-sonnet-20241022"

// Client implements completion.Client for Anthropic's Claude API.
//
// Provides text and structured completion over Claude models with:
//   - System prompt extraction (Anthropic uses a separate system parameter)
//   - Context cancellation
//   - Placeholder image generation (Claude has no image endpoint)
//
// Example usage:
//
//	apiKey := os.Getenv("ANTHROPIC_API_KEY")
//	client := anthropic.New(apiKey, "claude-3-5-sonnet-20241022")
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
	client    anthropicClient
}

// anthropicClient defines the interface for Anthropic API operations.
// This allows for easy mocking in tests.
type anthropicClient interface {
	createMessage(ctx context.Context, req completion.Request) (completion.Response, error)
}

// New creates an Anthropic-backed completion client.
//
// Parameters:
//   - apiKey: Anthropic API key (get from https://console.anthropic.com/)
//   - modelName: Model to use. Empty string uses the default.
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{
		modelName: modelName,
		client:    newDefaultClient(apiKey, modelName),
	}
}

// Complete implements completion.Client.
func (c *Client) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	if ctx.Err() != nil {
		return completion.Response{}, ctx.Err()
	}
	return c.client.createMessage(ctx, req)
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
// in the prompt and the response decoded as JSON; Claude has no native
// JSON mode.
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

// GenerateImage implements completion.Client. Anthropic has no image
// endpoint, so a deterministic placeholder is returned.
func (c *Client) GenerateImage(ctx context.Context, req completion.ImageRequest) (completion.Image, error) {
	if ctx.Err() != nil {
		return completion.Image{}, ctx.Err()
	}
	return completion.PlaceholderImage(req), nil
}

// defaultClient wraps the official anthropic-sdk-go client.
type defaultClient struct {
	client    *anthropicsdk.Client
	modelName string
	apiKey    string
}

func newDefaultClient(apiKey, modelName string) *defaultClient {
	sdk := anthropicsdk.NewClient(option.WithAPIKey(apiKey))
	return &defaultClient{
		client:    &sdk,
		modelName: modelName,
		apiKey:    apiKey,
	}
}

func (c *defaultClient) createMessage(ctx context.Context, req completion.Request) (completion.Response, error) {
	if c.apiKey == "" {
		return completion.Response{}, errors.New("anthropic API key is required")
	}

	modelName := c.modelName
	if req.Model != "" {
		modelName = req.Model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	systemPrompt, messages := buildMessages(req)

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropicsdk.Float(req.Temperature)
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return completion.Response{}, err
	}

	var text strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return completion.Response{
		Text:  text.String(),
		Model: modelName,
		Usage: completion.Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}, nil
}

// buildMessages separates system content from conversation turns.
// Anthropic's API expects system prompts as a separate parameter, not in
// the messages array.
func buildMessages(req completion.Request) (string, []anthropicsdk.MessageParam) {
	systemPrompt := req.System

	var messages []anthropicsdk.MessageParam
	for _, msg := range req.History {
		switch msg.Role {
		case completion.RoleSystem:
			// Concatenate stray system turns into the system parameter.
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		case completion.RoleAssistant:
			messages = append(messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt)))

	return systemPrompt, messages
}
