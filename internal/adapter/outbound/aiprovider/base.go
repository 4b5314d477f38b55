package aiprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/chatrelay/server/internal/model"
)

// Typed adapter failures. Callers map these to the HTTP taxonomy;
// ErrNoImageReturned is deliberately distinct from a failed call.
var (
	ErrUnsupportedCapability = errors.New("capability not supported by provider")
	ErrNoImageReturned       = errors.New("no image part returned")
)

// Capability identifies one generation capability of a provider.
type Capability string

const (
	CapabilityChat     Capability = "chat"
	CapabilityImage    Capability = "image"
	CapabilityKeyCheck Capability = "keycheck"
)

// TextRequest is a normalized streaming text generation request.
type TextRequest struct {
	Model    string
	Messages []model.ChatMessage
}

// ImageRequest is a normalized image generation request.
type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
	N      int
}

// Adapter is one provider's generation capability set. Unsupported
// operations return ErrUnsupportedCapability rather than reaching the
// provider.
type Adapter interface {
	Name() model.ProviderName
	SupportsCapability(cap Capability) bool
	StreamText(ctx context.Context, req *TextRequest, apiKey string) (model.TextStream, error)
	GenerateImage(ctx context.Context, req *ImageRequest, apiKey string) ([]model.ImagePayload, error)
	ValidateKey(ctx context.Context, apiKey string) error
}

// BaseAdapter provides capability bookkeeping, the shared HTTP path and
// a per-provider circuit breaker for all vendor adapters.
type BaseAdapter struct {
	capabilities map[Capability]bool
	client       *http.Client
	breaker      *gobreaker.CircuitBreaker[io.ReadCloser]
}

// NewBaseAdapter creates a base adapter with the given capabilities.
func NewBaseAdapter(name string, client *http.Client, caps ...Capability) *BaseAdapter {
	capMap := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		capMap[c] = true
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &BaseAdapter{
		capabilities: capMap,
		client:       client,
		breaker:      gobreaker.NewCircuitBreaker[io.ReadCloser](settings),
	}
}

// SupportsCapability checks if the adapter supports a capability.
func (b *BaseAdapter) SupportsCapability(cap Capability) bool {
	return b.capabilities[cap]
}

// Capabilities returns all supported capabilities.
func (b *BaseAdapter) Capabilities() []Capability {
	caps := make([]Capability, 0, len(b.capabilities))
	for c := range b.capabilities {
		caps = append(caps, c)
	}
	return caps
}

// doRequest performs one provider HTTP round trip through the circuit
// breaker and returns the response body for the caller to consume.
// A non-2xx status is a failure; its body is included in the error for
// server-side logging only.
func (b *BaseAdapter) doRequest(ctx context.Context, method, url string, headers map[string]string, body any) (io.ReadCloser, error) {
	return b.breaker.Execute(func() (io.ReadCloser, error) {
		var reader io.Reader
		if body != nil {
			jsonBody, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode >= 400 {
			defer resp.Body.Close()
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}

		return resp.Body, nil
	})
}
