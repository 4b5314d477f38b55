package aiprovider

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/model"
	"github.com/chatrelay/server/internal/shared/config"
)

// Registry manages the closed set of vendor adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[model.ProviderName]Adapter
	fallback model.ProviderName
	logger   *zap.Logger
}

// NewRegistry creates an empty registry. The fallback provider serves
// unknown provider names.
func NewRegistry(fallback model.ProviderName, logger *zap.Logger) *Registry {
	return &Registry{
		adapters: make(map[model.ProviderName]Adapter),
		fallback: fallback,
		logger:   logger,
	}
}

// NewDefaultRegistry creates a registry with all supported providers
// registered, openai serving as the fallback.
func NewDefaultRegistry(cfg *config.ProvidersConfig, client *http.Client, logger *zap.Logger) *Registry {
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	r := NewRegistry(model.ProviderOpenAI, logger)
	r.Register(NewOpenAIAdapter(client, cfg.OpenAIBaseURL))
	r.Register(NewAnthropicAdapter(client, cfg.AnthropicBaseURL))
	r.Register(NewGoogleAdapter(client, cfg.GoogleBaseURL))
	r.Register(NewMistralAdapter(client, cfg.MistralBaseURL))
	return r
}

// Register registers an adapter.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Resolve returns the adapter for a provider name. An unknown name
// resolves to the fallback adapter, matching the historical behavior of
// this service; the substitution is logged. Returns nil when neither
// the name nor the fallback is registered.
func (r *Registry) Resolve(name model.ProviderName) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if adapter, ok := r.adapters[name]; ok {
		return adapter
	}

	fallback, ok := r.adapters[r.fallback]
	if !ok {
		r.logger.Error("fallback provider not registered",
			zap.String("requested", string(name)),
			zap.String("fallback", string(r.fallback)))
		return nil
	}

	r.logger.Warn("unknown provider, falling back",
		zap.String("requested", string(name)),
		zap.String("fallback", string(r.fallback)))
	return fallback
}

// Has reports whether an adapter is registered for the name.
func (r *Registry) Has(name model.ProviderName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[name]
	return ok
}

// Names returns all registered provider names.
func (r *Registry) Names() []model.ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]model.ProviderName, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	return names
}
