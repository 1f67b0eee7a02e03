// Package ai wraps the chat-completions backend that turns a mention's
// text into reply text.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tools.zach/dev/mentionbot/internal/types"
)

// Prompt suffixes appended to the configured system prompt per reply mode.
const (
	textModeInstructions  = "Reply in plain text without Markdown formatting."
	imageModeInstructions = "Your reply will be rendered as an image, so it may be long and use simple Markdown such as lists."
)

// Config configures the backend.
type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	MaxTokens    int
	// HTTPClient overrides the transport; nil uses the library default.
	HTTPClient *http.Client
}

// Client exchanges prompts for generated replies.
type Client struct {
	client       *openai.Client
	model        string
	systemPrompt string
	maxTokens    int
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &Client{
		client:       openai.NewClientWithConfig(oc),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
	}
}

// Verify checks that the configured credentials are accepted. It is called
// once at startup; an auth failure here is fatal.
func (c *Client) Verify(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return classify(fmt.Errorf("verifying ai credentials: %w", err))
	}
	return nil
}

// Reply returns the generated response to prompt, shaped for mode.
func (c *Client) Reply(ctx context.Context, prompt string, mode types.ReplyMode) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemMessage(mode)},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if c.maxTokens > 0 {
		req.MaxCompletionTokens = c.maxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	slog.Debug("ai reply received", "model", resp.Model, "finish_reason", resp.Choices[0].FinishReason, "tokens", resp.Usage.TotalTokens)

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return text, nil
}

func (c *Client) systemMessage(mode types.ReplyMode) string {
	suffix := textModeInstructions
	if mode == types.ReplyModeImage {
		suffix = imageModeInstructions
	}
	if c.systemPrompt == "" {
		return suffix
	}
	return c.systemPrompt + "\n\n" + suffix
}

// classify maps backend status codes onto signals.
func classify(err error) error {
	switch statusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewSignalError(types.ServiceAI, types.SignalAuthExpired, err)
	case http.StatusTooManyRequests:
		return types.NewSignalError(types.ServiceAI, types.SignalRateLimited, err)
	default:
		return err
	}
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
