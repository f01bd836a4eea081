package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/user/shadowshift/pkg/llm"
)

// Client implements the llm.Provider interface for the Gemini API.
type Client struct {
	config *llm.Config
	api    *genai.Client
}

// New creates a Gemini client. BaseURL overrides the API endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}
	api, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{config: config, api: api}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.config.Model }

// Complete sends the conversation to GenerateContent. System messages become
// the system instruction; assistant messages map to the model role.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	var (
		system   []string
		contents []*genai.Content
	)
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if c.config.Temperature != 0 {
		t := c.config.Temperature
		cfg.Temperature = &t
	}
	if c.config.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.api.Models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return nil, classify(err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("empty response from gemini")
	}
	out := &llm.Response{Content: text, Model: c.config.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}

func classify(err error) error {
	wrapped := fmt.Errorf("generate content: %w", err)
	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}
	if code == http.StatusTooManyRequests || code >= 500 {
		return &llm.TransientError{StatusCode: code, Err: wrapped}
	}
	return wrapped
}
