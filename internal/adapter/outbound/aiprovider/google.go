package aiprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chatrelay/server/internal/model"
)

// GoogleAdapter implements the Adapter interface for Google Gemini.
// Image generation rides on the text-generation endpoint constrained to
// return image parts; only the image parts are extracted.
type GoogleAdapter struct {
	*BaseAdapter
	baseURL string
}

// NewGoogleAdapter creates a new Google adapter.
func NewGoogleAdapter(client *http.Client, baseURL string) *GoogleAdapter {
	return &GoogleAdapter{
		BaseAdapter: NewBaseAdapter("google", client,
			CapabilityChat,
			CapabilityImage,
			CapabilityKeyCheck,
		),
		baseURL: baseURL,
	}
}

// Name returns the provider name.
func (a *GoogleAdapter) Name() model.ProviderName {
	return model.ProviderGoogle
}

// StreamText starts a streaming content generation.
func (a *GoogleAdapter) StreamText(ctx context.Context, req *TextRequest, apiKey string) (model.TextStream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, req.Model)
	body := map[string]any{
		"contents": toGeminiContents(req.Messages),
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, url, a.headers(apiKey), body)
	if err != nil {
		return nil, err
	}

	return pumpSSE(ctx, respBody, func(event *SSEEvent) (string, error) {
		return parseGoogleChunk(event.Data)
	}), nil
}

// GenerateImage calls generateContent constrained to image+text output
// and extracts the inline image parts, first image part per candidate.
// Zero image parts is ErrNoImageReturned, distinct from a failed call.
func (a *GoogleAdapter) GenerateImage(ctx context.Context, req *ImageRequest, apiKey string) ([]model.ImagePayload, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, req.Model)
	body := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": req.Prompt}},
			},
		},
		"generationConfig": map[string]any{
			"responseModalities": []string{"TEXT", "IMAGE"},
		},
	}

	respBody, err := a.doRequest(ctx, http.MethodPost, url, a.headers(apiKey), body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var images []model.ImagePayload
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			images = append(images, model.ImagePayload{
				Base64:   part.InlineData.Data,
				MimeType: part.InlineData.MimeType,
			})
			// First image part wins per candidate.
			break
		}
	}
	if len(images) == 0 {
		return nil, ErrNoImageReturned
	}
	return images, nil
}

// ValidateKey checks the key against the models endpoint.
func (a *GoogleAdapter) ValidateKey(ctx context.Context, apiKey string) error {
	respBody, err := a.doRequest(ctx, http.MethodGet, a.baseURL+"/models", a.headers(apiKey), nil)
	if err != nil {
		return fmt.Errorf("key validation failed: %w", err)
	}
	return respBody.Close()
}

func (a *GoogleAdapter) headers(apiKey string) map[string]string {
	return map[string]string{"x-goog-api-key": apiKey}
}

// toGeminiContents maps chat messages to the Gemini content shape.
// Gemini uses "model" for assistant turns and has no system role.
func toGeminiContents(messages []model.ChatMessage) []map[string]any {
	contents := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		switch role {
		case "assistant":
			role = "model"
		case "system":
			role = "user"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": msg.Content}},
		})
	}
	return contents
}

// Compile-time interface assertion
var _ Adapter = (*GoogleAdapter)(nil)
