package user

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/server/internal/model"
	apperrors "github.com/chatrelay/server/internal/shared/errors"
	"github.com/chatrelay/server/internal/utils/middleware"
)

// Handler exposes user profile operations over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a user handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers user routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/users/profile", h.EnsureProfile)
	r.PUT("/users/preferences", h.UpdatePreferences)
	r.PUT("/users/name", h.UpdateName)
}

// EnsureProfile returns the caller's profile, creating it on first use.
//
//	@Summary	Get or create profile
//	@Tags		Users
//	@Security	BearerAuth
//	@Router		/users/profile [post]
func (h *Handler) EnsureProfile(c *gin.Context) {
	account, err := h.service.EnsureProfile(
		c.Request.Context(),
		middleware.GetUserID(c),
		middleware.GetUserName(c),
		middleware.GetUserEmail(c),
	)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

type preferencesRequest struct {
	Preferences []model.ProviderPreference `json:"preferences"`
}

// UpdatePreferences replaces the caller's provider preferences.
//
//	@Summary	Update provider preferences
//	@Tags		Users
//	@Security	BearerAuth
//	@Router		/users/preferences [put]
func (h *Handler) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	if err := h.service.UpdatePreferences(c.Request.Context(), middleware.GetUserID(c), req.Preferences); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type nameRequest struct {
	Name string `json:"name"`
}

// UpdateName updates the caller's display name.
//
//	@Summary	Update display name
//	@Tags		Users
//	@Security	BearerAuth
//	@Router		/users/name [put]
func (h *Handler) UpdateName(c *gin.Context) {
	var req nameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	if err := h.service.UpdateName(c.Request.Context(), middleware.GetUserID(c), req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondError maps service errors to the stable error body.
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
