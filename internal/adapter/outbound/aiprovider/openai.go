package aiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chatrelay/server/internal/model"
)

// OpenAIAdapter implements the Adapter interface for OpenAI.
type OpenAIAdapter struct {
	*BaseAdapter
	baseURL string
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(client *http.Client, baseURL string) *OpenAIAdapter {
	return &OpenAIAdapter{
		BaseAdapter: NewBaseAdapter("openai", client,
			CapabilityChat,
			CapabilityImage,
			CapabilityKeyCheck,
		),
		baseURL: baseURL,
	}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() model.ProviderName {
	return model.ProviderOpenAI
}

// StreamText starts a streaming chat completion. The returned stream is
// live once the provider has accepted the call.
func (a *OpenAIAdapter) StreamText(ctx context.Context, req *TextRequest, apiKey string) (model.TextStream, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   true,
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, a.baseURL+"/chat/completions", a.headers(apiKey), body)
	if err != nil {
		return nil, err
	}

	return pumpSSE(ctx, respBody, func(event *SSEEvent) (string, error) {
		return parseOpenAIChunk(event.Data)
	}), nil
}

// GenerateImage calls the native image endpoint.
func (a *OpenAIAdapter) GenerateImage(ctx context.Context, req *ImageRequest, apiKey string) ([]model.ImagePayload, error) {
	n := req.N
	if n <= 0 {
		n = 1
	}
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}

	body := map[string]any{
		"model":           req.Model,
		"prompt":          req.Prompt,
		"n":               n,
		"size":            size,
		"response_format": "b64_json",
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, a.baseURL+"/images/generations", a.headers(apiKey), body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp struct {
		Data []struct {
			B64JSON string `json:"b64_json"`
		} `json:"data"`
	}
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, ErrNoImageReturned
	}

	images := make([]model.ImagePayload, 0, len(resp.Data))
	for _, d := range resp.Data {
		images = append(images, model.ImagePayload{
			Base64:   d.B64JSON,
			MimeType: "image/png",
		})
	}
	return images, nil
}

// ValidateKey checks the key against the models endpoint.
func (a *OpenAIAdapter) ValidateKey(ctx context.Context, apiKey string) error {
	respBody, err := a.doRequest(ctx, http.MethodGet, a.baseURL+"/models", a.headers(apiKey), nil)
	if err != nil {
		return fmt.Errorf("key validation failed: %w", err)
	}
	return respBody.Close()
}

func (a *OpenAIAdapter) headers(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

// Compile-time interface assertion
var _ Adapter = (*OpenAIAdapter)(nil)
