package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chatrelay/server/internal/model"
	"github.com/chatrelay/server/internal/module/ai"
	"github.com/chatrelay/server/internal/utils/middleware"
)

// ChatHandler handles generation dispatch requests.
type ChatHandler struct {
	service *ai.Service
	relay   *ai.Relay
	logger  *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(service *ai.Service, relay *ai.Relay, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		service: service,
		relay:   relay,
		logger:  logger,
	}
}

// RegisterRoutes registers generation routes.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
}

// Chat dispatches a generation request.
//
//	@Summary		Dispatch a generation request
//	@Description	Routes a chat or image generation request to the selected provider. Chat intents answer with a chunked token stream; image intents answer with a JSON payload list.
//	@Tags			AI
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body	model.GenerationRequest	true	"Generation request"
//	@Success		200		{object}	model.ImageResponse	"Image intent result; chat intent streams raw token bytes"
//	@Failure		400		{object}	map[string]string	"Invalid request"
//	@Failure		401		{object}	map[string]string	"No API key configured"
//	@Failure		403		{object}	map[string]string	"Quota exceeded"
//	@Failure		500		{object}	map[string]string	"Internal server error"
//	@Router			/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	// Catch-all: nothing below may leak internals into a client body.
	// Connection aborts must reach net/http untouched.
	defer func() {
		if rec := recover(); rec != nil {
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			h.logger.Error("chat dispatch panic", zap.Any("panic", rec))
			if !c.Writer.Written() {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
			c.Abort()
		}
	}()

	var req model.GenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}

	// The quota ledger and credential resolver key off req.UserID, so
	// it must be the authenticated caller and nobody else.
	callerID := middleware.GetUserID(c)
	if req.UserID == "" {
		req.UserID = callerID
	}
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required."})
		return
	}
	if callerID != "" && req.UserID != callerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only generate for your own account."})
		return
	}

	if req.Intent == model.IntentImage {
		h.image(c, &req)
		return
	}
	h.stream(c, &req)
}

func (h *ChatHandler) image(c *gin.Context, req *model.GenerationRequest) {
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt is required for image generation."})
		return
	}

	resp, appErr := h.service.GenerateImage(c.Request.Context(), req)
	if appErr != nil {
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) stream(c *gin.Context, req *model.GenerationRequest) {
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Messages are required."})
		return
	}

	stream, usage, appErr := h.service.StreamChat(c.Request.Context(), req)
	if appErr != nil {
		c.JSON(appErr.StatusCode, gin.H{"error": appErr.Message})
		return
	}

	h.relay.Pump(c.Request.Context(), c.Writer, stream, usage)
}
