package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/aiprovider"
	"github.com/chatrelay/server/internal/adapter/outbound/docstore"
	"github.com/chatrelay/server/internal/model"
	"github.com/chatrelay/server/internal/module/ai"
	"github.com/chatrelay/server/internal/module/billing/quota"
	"github.com/chatrelay/server/internal/utils/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeStore backs both the quota ledger and the credential resolver.
type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]*model.UserAccount
	limits   map[string]*model.PlanLimits
	getErr   error
	written  map[string]model.UsageStats
}

func (f *fakeStore) GetProfile(_ context.Context, userID string) (*model.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	account, ok := f.accounts[userID]
	if !ok {
		return nil, docstore.ErrDocumentNotFound
	}
	copied := *account
	return &copied, nil
}

func (f *fakeStore) UpdateUsageStats(_ context.Context, userID string, stats model.UsageStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.written == nil {
		f.written = make(map[string]model.UsageStats)
	}
	f.written[userID] = stats
	if account, ok := f.accounts[userID]; ok {
		account.UsageStats = stats.Encode()
	}
	return nil
}

func (f *fakeStore) GetPlanLimits(_ context.Context, plan string) (*model.PlanLimits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	limits, ok := f.limits[plan]
	if !ok {
		return nil, docstore.ErrDocumentNotFound
	}
	return limits, nil
}

func (f *fakeStore) writtenStats(userID string) (model.UsageStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats, ok := f.written[userID]
	return stats, ok
}

// fakeAdapter is a scriptable provider adapter.
type fakeAdapter struct {
	name model.ProviderName
	caps map[aiprovider.Capability]bool

	mu         sync.Mutex
	imageCalls int
	imageOut   []model.ImagePayload
	imageErr   error
	fragments  []string
	streamErr  error
}

func (a *fakeAdapter) Name() model.ProviderName { return a.name }

func (a *fakeAdapter) SupportsCapability(cap aiprovider.Capability) bool { return a.caps[cap] }

func (a *fakeAdapter) StreamText(context.Context, *aiprovider.TextRequest, string) (model.TextStream, error) {
	ch := make(chan model.StreamChunk, len(a.fragments)+1)
	for _, f := range a.fragments {
		ch <- model.StreamChunk{Content: []byte(f)}
	}
	if a.streamErr != nil {
		ch <- model.StreamChunk{Err: a.streamErr}
	}
	close(ch)
	return ch, nil
}

func (a *fakeAdapter) GenerateImage(context.Context, *aiprovider.ImageRequest, string) ([]model.ImagePayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.imageCalls++
	return a.imageOut, a.imageErr
}

func (a *fakeAdapter) ValidateKey(context.Context, string) error { return nil }

func (a *fakeAdapter) imageCallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.imageCalls
}

func enabledKeyPrefs(provider model.ProviderName) string {
	return model.EncodePreferences([]model.ProviderPreference{
		{Provider: provider, Enabled: true, APIKey: "sk-test"},
	})
}

func newTestStore() *fakeStore {
	return &fakeStore{
		accounts: map[string]*model.UserAccount{
			"u1": {
				ID:          "u1",
				Plan:        "free",
				UsageStats:  model.UsageStats{TextQueries: 2, ImageQueries: 4}.Encode(),
				Preferences: enabledKeyPrefs(model.ProviderOpenAI),
			},
		},
		limits: map[string]*model.PlanLimits{
			"free": {Plan: "free", TextLimit: 100, ImageLimit: 10, VideoLimit: 2},
		},
	}
}

// fakeThreads records messages the dispatcher persists.
type fakeThreads struct {
	mu        sync.Mutex
	userMsgs  []string
	imageMsgs [][]model.ImagePayload
}

func (f *fakeThreads) AppendUserMessage(_ context.Context, _, _, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userMsgs = append(f.userMsgs, content)
	return nil
}

func (f *fakeThreads) AppendImageResult(_ context.Context, _, _ string, images []model.ImagePayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageMsgs = append(f.imageMsgs, images)
	return nil
}

func newTestHandler(store *fakeStore, threads ai.ThreadAppender, adapters ...aiprovider.Adapter) *ChatHandler {
	log := zap.NewNop()
	registry := aiprovider.NewRegistry(model.ProviderOpenAI, log)
	for _, a := range adapters {
		registry.Register(a)
	}

	service := ai.NewService(
		quota.NewLedger(store, store, log),
		ai.NewCredentialResolver(store, log),
		registry,
		threads,
		log,
	)
	return NewChatHandler(service, ai.NewRelay(log), log)
}

func newTestRouter(store *fakeStore, adapters ...aiprovider.Adapter) *gin.Engine {
	r := gin.New()
	newTestHandler(store, nil, adapters...).RegisterRoutes(r.Group("/api/v1"))
	return r
}

// newAuthedTestRouter mounts the handler behind a stub that sets the
// authenticated caller the way the auth middleware does.
func newAuthedTestRouter(store *fakeStore, callerID string, adapters ...aiprovider.Adapter) *gin.Engine {
	r := gin.New()
	group := r.Group("/api/v1")
	group.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, callerID)
		c.Next()
	})
	newTestHandler(store, nil, adapters...).RegisterRoutes(group)
	return r
}

func postChat(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"]
}

func TestChatValidation(t *testing.T) {
	router := newTestRouter(newTestStore())

	t.Run("missing user ID", func(t *testing.T) {
		w := postChat(t, router, map[string]any{
			"provider": "openai",
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "User ID is required.", errorBody(t, w))
	})

	t.Run("chat without messages", func(t *testing.T) {
		w := postChat(t, router, map[string]any{
			"userId":   "u1",
			"provider": "openai",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Messages are required.", errorBody(t, w))
	})

	t.Run("image without prompt", func(t *testing.T) {
		w := postChat(t, router, map[string]any{
			"userId":   "u1",
			"provider": "openai",
			"intent":   "image",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Prompt is required for image generation.", errorBody(t, w))
	})
}

func TestChatCallerIdentity(t *testing.T) {
	adapter := func() *fakeAdapter {
		return &fakeAdapter{
			name:      model.ProviderOpenAI,
			caps:      map[aiprovider.Capability]bool{aiprovider.CapabilityChat: true},
			fragments: []string{"ok"},
		}
	}

	t.Run("body user ID must match the caller", func(t *testing.T) {
		store := newTestStore()
		router := newAuthedTestRouter(store, "intruder", adapter())

		w := postChat(t, router, map[string]any{
			"userId":   "u1",
			"provider": "openai",
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		})

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "You can only generate for your own account.", errorBody(t, w))

		// The spoofed account is never billed.
		_, written := store.writtenStats("u1")
		assert.False(t, written)
	})

	t.Run("missing body user ID defaults to the caller", func(t *testing.T) {
		store := newTestStore()
		router := newAuthedTestRouter(store, "u1", adapter())

		w := postChat(t, router, map[string]any{
			"provider": "openai",
			"messages": []map[string]string{{"role": "user", "content": "hi"}},
		})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", w.Body.String())
	})
}

func TestChatQuotaDenied(t *testing.T) {
	store := newTestStore()
	store.accounts["u1"].UsageStats = model.UsageStats{TextQueries: 100}.Encode()
	router := newTestRouter(store)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, errorBody(t, w), "reached your text generation limit")
}

func TestChatNoAPIKey(t *testing.T) {
	store := newTestStore()
	store.accounts["u1"].Preferences = "[]"
	router := newTestRouter(store)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "No API key found for openai. Please add one in settings.", errorBody(t, w))
}

func TestChatStoreFailure(t *testing.T) {
	store := newTestStore()
	store.getErr = docstore.ErrTransport
	router := newTestRouter(store)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", errorBody(t, w))
}

func TestChatStreamSuccess(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{
		name:      model.ProviderOpenAI,
		caps:      map[aiprovider.Capability]bool{aiprovider.CapabilityChat: true},
		fragments: []string{"Hel", "lo"},
	}
	router := newTestRouter(store, adapter)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"model":    "gpt-test",
		"messages": []map[string]string{{"role": "user", "content": "say hello"}},
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello", w.Body.String())

	var usage model.UsageSummary
	require.NoError(t, json.Unmarshal([]byte(w.Header().Get("X-Usage")), &usage))
	assert.Equal(t, 3, usage.Current)
	assert.Equal(t, 100, usage.Limit)

	// The increment lands off the request path.
	require.Eventually(t, func() bool {
		stats, ok := store.writtenStats("u1")
		return ok && stats.TextQueries == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChatStreamUpstreamAbort(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{
		name:      model.ProviderOpenAI,
		caps:      map[aiprovider.Capability]bool{aiprovider.CapabilityChat: true},
		fragments: []string{"par"},
		streamErr: assert.AnError,
	}
	router := newTestRouter(store, adapter)

	data, err := json.Marshal(map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	// A mid-stream failure aborts the connection so the client sees a
	// truncated body instead of a clean end.
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		router.ServeHTTP(w, req)
	})
	assert.Equal(t, "par", w.Body.String())
}

func TestImageSuccess(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{
		name:     model.ProviderOpenAI,
		caps:     map[aiprovider.Capability]bool{aiprovider.CapabilityImage: true},
		imageOut: []model.ImagePayload{{Base64: "aW1n", MimeType: "image/png"}},
	}
	router := newTestRouter(store, adapter)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"intent":   "image",
		"prompt":   "a lighthouse",
	})

	require.Equal(t, http.StatusOK, w.Code)

	var resp model.ImageResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "aW1n", resp.Images[0].Base64)
	assert.Equal(t, "image/png", resp.Images[0].MimeType)
	assert.Equal(t, 5, resp.Usage.Current)
	assert.Equal(t, 10, resp.Usage.Limit)

	stats, ok := store.writtenStats("u1")
	require.True(t, ok)
	assert.Equal(t, 5, stats.ImageQueries)
}

func TestImagePersistsResultToThread(t *testing.T) {
	store := newTestStore()
	threads := &fakeThreads{}
	adapter := &fakeAdapter{
		name:     model.ProviderOpenAI,
		caps:     map[aiprovider.Capability]bool{aiprovider.CapabilityImage: true},
		imageOut: []model.ImagePayload{{Base64: "aW1n", MimeType: "image/png"}},
	}

	r := gin.New()
	newTestHandler(store, threads, adapter).RegisterRoutes(r.Group("/api/v1"))

	w := postChat(t, r, map[string]any{
		"userId":   "u1",
		"threadId": "t1",
		"provider": "openai",
		"intent":   "image",
		"prompt":   "a lighthouse",
	})

	require.Equal(t, http.StatusOK, w.Code)

	threads.mu.Lock()
	defer threads.mu.Unlock()
	assert.Equal(t, []string{"a lighthouse"}, threads.userMsgs)
	require.Len(t, threads.imageMsgs, 1)
	assert.Equal(t, adapter.imageOut, threads.imageMsgs[0])
}

func TestImageUnsupportedProvider(t *testing.T) {
	store := newTestStore()
	store.accounts["u1"].Preferences = enabledKeyPrefs(model.ProviderAnthropic)
	adapter := &fakeAdapter{
		name: model.ProviderAnthropic,
		caps: map[aiprovider.Capability]bool{aiprovider.CapabilityChat: true},
	}
	router := newTestRouter(store, adapter)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "anthropic",
		"intent":   "image",
		"prompt":   "a lighthouse",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorBody(t, w), "does not support image generation")
	assert.Zero(t, adapter.imageCallCount())

	// A rejected request is never billed.
	_, written := store.writtenStats("u1")
	assert.False(t, written)
}

func TestImageNoImageReturned(t *testing.T) {
	store := newTestStore()
	store.accounts["u1"].Preferences = enabledKeyPrefs(model.ProviderGoogle)
	adapter := &fakeAdapter{
		name:     model.ProviderGoogle,
		caps:     map[aiprovider.Capability]bool{aiprovider.CapabilityImage: true},
		imageErr: aiprovider.ErrNoImageReturned,
	}
	router := newTestRouter(store, adapter)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "google",
		"intent":   "image",
		"prompt":   "a lighthouse",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "The AI model did not return an image.", errorBody(t, w))

	_, written := store.writtenStats("u1")
	assert.False(t, written)
}

func TestImageUpstreamFailure(t *testing.T) {
	store := newTestStore()
	adapter := &fakeAdapter{
		name:     model.ProviderOpenAI,
		caps:     map[aiprovider.Capability]bool{aiprovider.CapabilityImage: true},
		imageErr: assert.AnError,
	}
	router := newTestRouter(store, adapter)

	w := postChat(t, router, map[string]any{
		"userId":   "u1",
		"provider": "openai",
		"intent":   "image",
		"prompt":   "a lighthouse",
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	// Raw provider detail never reaches the client.
	assert.Equal(t, "Generation failed. Please try again.", errorBody(t, w))
}
