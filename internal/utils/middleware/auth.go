package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/server/internal/adapter/outbound/identity"
)

const (
	// AuthorizationHeader is the header key for authorization.
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the prefix for bearer tokens.
	BearerPrefix = "Bearer "
	// UserIDKey is the context key for user ID.
	UserIDKey = "user_id"
	// UserNameKey is the context key for the display name.
	UserNameKey = "user_name"
	// UserEmailKey is the context key for email.
	UserEmailKey = "user_email"
)

// TokenVerifier resolves a session token to a caller identity.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*identity.Identity, error)
}

// Auth returns a middleware that verifies session tokens.
// On success it sets user_id, user_name and user_email in the context.
// If optional is true, the middleware does not abort on missing or
// invalid tokens.
func Auth(verifier TokenVerifier, optional bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			if !optional {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Authorization header required",
				})
				return
			}
			c.Next()
			return
		}

		ident, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			if !optional {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid or expired token",
				})
				return
			}
			c.Next()
			return
		}

		c.Set(UserIDKey, ident.UserID)
		c.Set(UserNameKey, ident.Name)
		c.Set(UserEmailKey, ident.Email)

		c.Next()
	}
}

// RequireAuth returns a middleware that requires a valid session token.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return Auth(verifier, false)
}

// OptionalAuth returns a middleware that verifies tokens when present.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return Auth(verifier, true)
}

// extractBearerToken extracts the bearer token from the Authorization header.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return ""
	}
	if strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	return ""
}

// GetUserID returns the user ID from context, or "" if not set.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUserName returns the display name from context, or "" if not set.
func GetUserName(c *gin.Context) string {
	return c.GetString(UserNameKey)
}

// GetUserEmail returns the email from context, or "" if not set.
func GetUserEmail(c *gin.Context) string {
	return c.GetString(UserEmailKey)
}

// IsAuthenticated returns true if the caller presented a valid token.
func IsAuthenticated(c *gin.Context) bool {
	return GetUserID(c) != ""
}
