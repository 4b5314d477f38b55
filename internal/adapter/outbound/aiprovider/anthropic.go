package aiprovider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chatrelay/server/internal/model"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicAdapter implements the Adapter interface for Anthropic.
// Anthropic has no image generation endpoint; image requests fail with
// a typed unsupported error before any provider call.
type AnthropicAdapter struct {
	*BaseAdapter
	baseURL string
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(client *http.Client, baseURL string) *AnthropicAdapter {
	return &AnthropicAdapter{
		BaseAdapter: NewBaseAdapter("anthropic", client,
			CapabilityChat,
			CapabilityKeyCheck,
		),
		baseURL: baseURL,
	}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() model.ProviderName {
	return model.ProviderAnthropic
}

// StreamText starts a streaming message completion.
func (a *AnthropicAdapter) StreamText(ctx context.Context, req *TextRequest, apiKey string) (model.TextStream, error) {
	body := a.buildRequest(req)
	body["stream"] = true

	respBody, err := a.doRequest(ctx, http.MethodPost, a.baseURL+"/messages", a.headers(apiKey), body)
	if err != nil {
		return nil, err
	}

	return pumpSSE(ctx, respBody, func(event *SSEEvent) (string, error) {
		return parseAnthropicEvent(event.Data)
	}), nil
}

// GenerateImage is not supported by Anthropic.
func (a *AnthropicAdapter) GenerateImage(ctx context.Context, req *ImageRequest, apiKey string) ([]model.ImagePayload, error) {
	return nil, fmt.Errorf("%w: anthropic has no image generation", ErrUnsupportedCapability)
}

// ValidateKey checks the key with a minimal message call.
func (a *AnthropicAdapter) ValidateKey(ctx context.Context, apiKey string) error {
	body := map[string]any{
		"model":      "claude-3-5-haiku-latest",
		"max_tokens": 1,
		"messages": []map[string]string{
			{"role": "user", "content": "hi"},
		},
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, a.baseURL+"/messages", a.headers(apiKey), body)
	if err != nil {
		return fmt.Errorf("key validation failed: %w", err)
	}
	return respBody.Close()
}

// buildRequest converts the normalized request to the Anthropic shape.
// System messages move to the top-level system field.
func (a *AnthropicAdapter) buildRequest(req *TextRequest) map[string]any {
	var system string
	messages := make([]model.ChatMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		messages = append(messages, msg)
	}

	body := map[string]any{
		"model":      req.Model,
		"messages":   messages,
		"max_tokens": 4096,
	}
	if system != "" {
		body["system"] = system
	}
	return body
}

func (a *AnthropicAdapter) headers(apiKey string) map[string]string {
	return map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
}

// Compile-time interface assertion
var _ Adapter = (*AnthropicAdapter)(nil)
