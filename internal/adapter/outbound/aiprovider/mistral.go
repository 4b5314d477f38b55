package aiprovider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chatrelay/server/internal/model"
)

// MistralAdapter implements the Adapter interface for Mistral. Only key
// validation is exposed in this service; generation requests return a
// typed unsupported error.
type MistralAdapter struct {
	*BaseAdapter
	baseURL string
}

// NewMistralAdapter creates a new Mistral adapter.
func NewMistralAdapter(client *http.Client, baseURL string) *MistralAdapter {
	return &MistralAdapter{
		BaseAdapter: NewBaseAdapter("mistral", client, CapabilityKeyCheck),
		baseURL:     baseURL,
	}
}

// Name returns the provider name.
func (a *MistralAdapter) Name() model.ProviderName {
	return model.ProviderMistral
}

// StreamText is not exposed for Mistral.
func (a *MistralAdapter) StreamText(ctx context.Context, req *TextRequest, apiKey string) (model.TextStream, error) {
	return nil, fmt.Errorf("%w: mistral chat is not exposed", ErrUnsupportedCapability)
}

// GenerateImage is not exposed for Mistral.
func (a *MistralAdapter) GenerateImage(ctx context.Context, req *ImageRequest, apiKey string) ([]model.ImagePayload, error) {
	return nil, fmt.Errorf("%w: mistral image generation is not exposed", ErrUnsupportedCapability)
}

// ValidateKey checks the key against the models endpoint.
func (a *MistralAdapter) ValidateKey(ctx context.Context, apiKey string) error {
	respBody, err := a.doRequest(ctx, http.MethodGet, a.baseURL+"/models", map[string]string{
		"Authorization": "Bearer " + apiKey,
	}, nil)
	if err != nil {
		return fmt.Errorf("key validation failed: %w", err)
	}
	return respBody.Close()
}

// Compile-time interface assertion
var _ Adapter = (*MistralAdapter)(nil)
