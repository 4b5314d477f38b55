package thread

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay/server/internal/model"
	apperrors "github.com/chatrelay/server/internal/shared/errors"
	"github.com/chatrelay/server/internal/utils/middleware"
)

// Handler exposes thread CRUD and sharing over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a thread handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers thread routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/threads", h.Create)
	r.GET("/threads", h.List)
	r.GET("/threads/:id", h.Get)
	r.DELETE("/threads/:id", h.Delete)
	r.POST("/threads/:id/share", h.Share)
	r.DELETE("/threads/:id/share/:userId", h.Unshare)
}

type createThreadRequest struct {
	Title string `json:"title"`
}

// Create creates a new thread.
//
//	@Summary	Create thread
//	@Tags		Threads
//	@Security	BearerAuth
//	@Router		/threads [post]
func (h *Handler) Create(c *gin.Context) {
	var req createThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	thread, err := h.service.Create(c.Request.Context(), middleware.GetUserID(c), req.Title)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

// List lists the caller's threads.
//
//	@Summary	List threads
//	@Tags		Threads
//	@Security	BearerAuth
//	@Router		/threads [get]
func (h *Handler) List(c *gin.Context) {
	threads, err := h.service.List(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": threads})
}

// Get fetches one thread with its messages.
//
//	@Summary	Get thread
//	@Tags		Threads
//	@Security	BearerAuth
//	@Router		/threads/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	thread, messages, err := h.service.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thread": thread, "messages": messages})
}

// Delete removes a thread and its messages.
//
//	@Summary	Delete thread
//	@Tags		Threads
//	@Security	BearerAuth
//	@Router		/threads/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type shareRequest struct {
	UserID string `json:"userId"`
	Access string `json:"access"`
}

// Share grants a user access to a thread.
//
//	@Summary	Share thread
//	@Tags		Threads
//	@Security	BearerAuth
//	@Router		/threads/{id}/share [post]
func (h *Handler) Share(c *gin.Context) {
	var req shareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	access := model.ShareAccess(req.Access)
	if req.Access == "" {
		access = model.ShareAccessRead
	}

	thread, err := h.service.Share(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.UserID, access)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

// Unshare revokes a user's access to a thread.
//
//	@Summary	Revoke thread sharing
//	@Tags		Threads
//	@Security	BearerAuth
//	@Router		/threads/{id}/share/{userId} [delete]
func (h *Handler) Unshare(c *gin.Context) {
	err := h.service.Unshare(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Param("userId"))
	if err != nil {
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
