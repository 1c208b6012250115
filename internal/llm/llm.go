package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// GenerateRequest is the request shape of the generate collaborator
// contract. Prompt takes precedence over Content when both are set;
// Model optionally overrides the client default; Context becomes the
// system message.
type GenerateRequest struct {
	Prompt  string `json:"prompt,omitempty"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
	Context string `json:"context,omitempty"`
}

// GenerateResponse is the response shape of the generate contract.
type GenerateResponse struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("LLM endpoint unreachable: %w", err)
	}
	return nil
}

// Generate sends one completion request and returns the raw text content.
// A transport or API failure is returned as an error; an empty completion
// is reported as an unsuccessful response.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = req.Content
	}
	if strings.TrimSpace(prompt) == "" {
		return GenerateResponse{}, fmt.Errorf("generate: empty prompt")
	}

	modelName := c.model
	if req.Model != "" {
		modelName = req.Model
	}

	var msgs []openai.ChatCompletionMessage
	if req.Context != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Context,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    msgs,
		Temperature: 0.2,
	})
	if err != nil {
		return GenerateResponse{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return GenerateResponse{}, fmt.Errorf("LLM returned no choices")
	}

	content := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "model", modelName, "raw", content)

	return GenerateResponse{
		Success: strings.TrimSpace(content) != "",
		Content: content,
	}, nil
}
