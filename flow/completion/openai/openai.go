// Package openai adapts OpenAI's chat API to the completion.Client
// interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ellflow/ellflow-go/flow/completion"
)

const defaultModel = "gpt-4o-mini"

// Client implements completion.Client for OpenAI's API.
//
// Provides text and structured completion over GPT models with:
//   - Automatic retry for transient errors
//   - Rate limit backoff
//   - Native JSON mode for structured completion
//   - Context cancellation
//
// Example usage:
//
//	apiKey := os.Getenv("OPENAI_API_KEY")
//	client := openai.New(apiKey, "gpt-4o-mini")
//
//	resp, err := client.Complete(ctx, completion.Request{
//	    Prompt: "Write a short passage about tide pools.",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(resp.Text)
type Client struct {
	modelName  string
	client     openaiClient
	maxRetries int
	retryDelay time.Duration
}

// openaiClient defines the interface for OpenAI API operations.
// This allows for easy mocking in tests.
type openaiClient interface {
	createChatCompletion(ctx context.Context, req completion.Request, jsonMode bool) (completion.Response, error)
}

// New creates an OpenAI-backed completion client.
//
// Parameters:
//   - apiKey: OpenAI API key (get from https://platform.openai.com/api-keys)
//   - modelName: Model to use. Empty string uses the default.
//
// The client retries transient failures up to 3 times with a one second
// base delay, scaling the delay on rate limit errors.
func New(apiKey, modelName string) *Client {
	if modelName == "" {
		modelName = defaultModel
	}
	return &Client{
		modelName:  modelName,
		client:     newDefaultClient(apiKey, modelName),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Complete implements completion.Client. Transient errors (network
// failures, rate limits, 5xx responses) are retried automatically.
func (c *Client) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	return c.completeWithRetry(ctx, req, false)
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

// CompleteStructured implements completion.Client using OpenAI's JSON
// response mode plus a schema instruction in the prompt.
func (c *Client) CompleteStructured(ctx context.Context, req completion.Request, schema map[string]interface{}) (completion.Response, error) {
	resp, err := c.completeWithRetry(ctx, completion.StructuredPrompt(req, schema), true)
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

func (c *Client) completeWithRetry(ctx context.Context, req completion.Request, jsonMode bool) (completion.Response, error) {
	if ctx.Err() != nil {
		return completion.Response{}, ctx.Err()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.client.createChatCompletion(ctx, req, jsonMode)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Don't retry on non-transient errors.
		if !isTransientError(err) {
			return completion.Response{}, err
		}
		if attempt >= c.maxRetries {
			break
		}

		// Rate limits back off harder than plain network blips.
		delay := c.retryDelay
		if isRateLimitError(err) {
			delay = c.retryDelay * time.Duration(attempt+1)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return completion.Response{}, ctx.Err()
		}
	}

	return completion.Response{}, fmt.Errorf("openai: failed after %d retries: %w", c.maxRetries, lastErr)
}

// isTransientError determines if an error should trigger a retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if isRateLimitError(err) {
		return true
	}

	msgLower := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"network",
		"connection",
		"temporary",
		"503",
		"502",
		"500",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(msgLower, pattern) {
			return true
		}
	}
	return false
}

// isRateLimitError checks if error is a rate limit error.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msgLower := strings.ToLower(err.Error())
	return strings.Contains(msgLower, "429") || strings.Contains(msgLower, "rate limit")
}

// defaultClient wraps the official openai-go client.
type defaultClient struct {
	client    *openaisdk.Client
	modelName string
	apiKey    string
}

func newDefaultClient(apiKey, modelName string) *defaultClient {
	sdk := openaisdk.NewClient(option.WithAPIKey(apiKey))
	return &defaultClient{
		client:    &sdk,
		modelName: modelName,
		apiKey:    apiKey,
	}
}

func (c *defaultClient) createChatCompletion(ctx context.Context, req completion.Request, jsonMode bool) (completion.Response, error) {
	if c.apiKey == "" {
		return completion.Response{}, errors.New("openai API key is required")
	}

	modelName := c.modelName
	if req.Model != "" {
		modelName = req.Model
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelName),
		Messages: buildMessages(req),
	}
	if req.Temperature > 0 {
		params.Temperature = openaisdk.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	if jsonMode {
		params.ResponseFormat = openaisdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openaisdk.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}

	chatResp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return completion.Response{}, err
	}
	if len(chatResp.Choices) == 0 {
		return completion.Response{}, errors.New("openai: empty response")
	}

	return completion.Response{
		Text:  chatResp.Choices[0].Message.Content,
		Model: modelName,
		Usage: completion.Usage{
			InputTokens:  chatResp.Usage.PromptTokens,
			OutputTokens: chatResp.Usage.CompletionTokens,
		},
	}, nil
}

func buildMessages(req completion.Request) []openaisdk.ChatCompletionMessageParamUnion {
	var messages []openaisdk.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, systemMessage(req.System))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case completion.RoleSystem:
			messages = append(messages, systemMessage(msg.Content))
		case completion.RoleAssistant:
			messages = append(messages, openaisdk.ChatCompletionMessageParamUnion{
				OfAssistant: &openaisdk.ChatCompletionAssistantMessageParam{
					Content: openaisdk.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openaisdk.String(msg.Content),
					},
				},
			})
		default:
			messages = append(messages, userMessage(msg.Content))
		}
	}
	return append(messages, userMessage(req.Prompt))
}

func systemMessage(content string) openaisdk.ChatCompletionMessageParamUnion {
	return openaisdk.ChatCompletionMessageParamUnion{
		OfSystem: &openaisdk.ChatCompletionSystemMessageParam{
			Content: openaisdk.ChatCompletionSystemMessageParamContentUnion{
				OfString: openaisdk.String(content),
			},
		},
	}
}

func userMessage(content string) openaisdk.ChatCompletionMessageParamUnion {
	return openaisdk.ChatCompletionMessageParamUnion{
		OfUser: &openaisdk.ChatCompletionUserMessageParam{
			Content: openaisdk.ChatCompletionUserMessageParamContentUnion{
				OfString: openaisdk.String(content),
			},
		},
	}
}
