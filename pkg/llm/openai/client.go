package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/user/shadowshift/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	api    *goopenai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
// An empty BaseURL uses the public OpenAI endpoint.
func New(config *llm.Config) *Client {
	cfg := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	return &Client{
		config: config,
		api:    goopenai.NewClientWithConfig(cfg),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.config.Model }

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	req := goopenai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: make([]goopenai.ChatCompletionMessage, len(messages)),
	}
	for i, msg := range messages {
		req.Messages[i] = goopenai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	if c.config.Temperature != 0 {
		req.Temperature = c.config.Temperature
	}
	if c.config.JSONMode {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	model := resp.Model
	if model == "" {
		model = c.config.Model
	}
	return &llm.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// classify wraps rate limits and server errors as transient.
func classify(err error) error {
	status := 0
	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	wrapped := fmt.Errorf("chat completion: %w", err)
	if status == http.StatusTooManyRequests || status >= 500 {
		return &llm.TransientError{StatusCode: status, Err: wrapped}
	}
	return wrapped
}
