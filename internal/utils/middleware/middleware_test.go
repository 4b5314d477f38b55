package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/adapter/outbound/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeVerifier struct {
	identity *identity.Identity
	err      error
	seen     string
}

func (f *fakeVerifier) VerifyToken(_ context.Context, token string) (*identity.Identity, error) {
	f.seen = token
	if f.err != nil {
		return nil, f.err
	}
	return f.identity, nil
}

func TestRequestID(t *testing.T) {
	t.Run("generates new request ID when not provided", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		req := httptest.NewRequest("GET", "/test", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		headerID := w.Header().Get(RequestIDHeader)
		assert.NotEmpty(t, headerID)
		assert.Equal(t, headerID, w.Body.String())
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, RequestIDFromContext(c.Request.Context()))
		})

		existingID := "existing-request-id-123"
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(RequestIDHeader, existingID)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, existingID, w.Header().Get(RequestIDHeader))
		assert.Equal(t, existingID, w.Body.String())
	})
}

func TestAuth(t *testing.T) {
	t.Run("valid token sets caller identity", func(t *testing.T) {
		verifier := &fakeVerifier{identity: &identity.Identity{
			UserID: "u1", Name: "Ada", Email: "ada@example.com",
		}}

		router := gin.New()
		router.Use(RequireAuth(verifier))
		router.GET("/test", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"userId": GetUserID(c),
				"name":   GetUserName(c),
				"email":  GetUserEmail(c),
			})
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(AuthorizationHeader, "Bearer session-token")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "session-token", verifier.seen)
		assert.Contains(t, w.Body.String(), `"userId":"u1"`)
		assert.Contains(t, w.Body.String(), `"name":"Ada"`)
	})

	t.Run("missing header aborts with 401", func(t *testing.T) {
		router := gin.New()
		router.Use(RequireAuth(&fakeVerifier{}))
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("invalid token aborts with 401", func(t *testing.T) {
		router := gin.New()
		router.Use(RequireAuth(&fakeVerifier{err: errors.New("expired")}))
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(AuthorizationHeader, "Bearer bad")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("optional auth passes through without token", func(t *testing.T) {
		router := gin.New()
		router.Use(OptionalAuth(&fakeVerifier{}))
		router.GET("/test", func(c *gin.Context) {
			assert.False(t, IsAuthenticated(c))
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("non-bearer header is treated as missing", func(t *testing.T) {
		router := gin.New()
		router.Use(RequireAuth(&fakeVerifier{}))
		router.GET("/test", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set(AuthorizationHeader, "Basic dXNlcjpwYXNz")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panics with a generic body", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(zap.NewNop()))
		router.GET("/test", func(c *gin.Context) {
			panic("boom")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "internal server error")
		assert.NotContains(t, w.Body.String(), "boom")
	})

	t.Run("nil logger does not panic", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(nil))
		router.GET("/test", func(c *gin.Context) {
			panic("boom")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("connection aborts pass through", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(zap.NewNop()))
		router.GET("/test", func(c *gin.Context) {
			panic(http.ErrAbortHandler)
		})

		// net/http must see the abort itself to drop the connection.
		assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))
		})
	})
}

func TestBodyLimit(t *testing.T) {
	newRouter := func(limit int64) *gin.Engine {
		router := gin.New()
		router.Use(BodyLimit(limit))
		router.POST("/test", func(c *gin.Context) {
			if _, err := io.ReadAll(c.Request.Body); err != nil {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("undersized body passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/test", strings.NewReader("small"))
		newRouter(64).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("oversized body fails to read", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("x", 128)))
		newRouter(64).ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("non-positive limit disables the cap", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/test", strings.NewReader(strings.Repeat("x", 128)))
		newRouter(0).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-Usage")
}
