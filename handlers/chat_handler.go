package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"legalchat-backend/middleware"
	"legalchat-backend/models"
	"legalchat-backend/service"

	"github.com/gin-gonic/gin"
)

// ChatStreamer runs one chat turn and writes its frames
type ChatStreamer interface {
	Stream(ctx context.Context, req service.ChatRequest, w *service.FrameWriter) error
}

// ChatHandler handles the streaming chat endpoint
type ChatHandler struct {
	chat   ChatStreamer
	logger *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chat ChatStreamer, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{chat: chat, logger: logger}
}

// ChatMessage is one client message as sent by the chat UI
type ChatMessage struct {
	Role                    string                 `json:"role"`
	Content                 string                 `json:"content"`
	ExperimentalAttachments []models.AttachmentRef `json:"experimental_attachments"`
}

// ChatData carries request level extras
type ChatData struct {
	Attachments []models.AttachmentRef `json:"attachments"`
	ChatID      string                 `json:"chatId"`
}

// ChatRequest represents the request body of POST /api/chat
type ChatRequest struct {
	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`
	Data     *ChatData     `json:"data"`
}

// Chat handles POST /api/chat?protocol=data&chat_mode=default|lawyer|plaintiff
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	chatReq := service.ChatRequest{
		Mode:  models.ParseChatMode(c.Query("chat_mode")),
		Turns: make([]models.ConversationTurn, 0, len(req.Messages)),
		Admin: middleware.IsAdmin(c),
	}
	for _, m := range req.Messages {
		chatReq.Turns = append(chatReq.Turns, models.NewConversationTurn(m.Role, m.Content, m.ExperimentalAttachments))
	}
	if req.Data != nil {
		chatReq.ChatID = req.Data.ChatID
		chatReq.Attachments = req.Data.Attachments
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header(service.DataStreamHeader, "v1")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := h.chat.Stream(c.Request.Context(), chatReq, service.NewFrameWriter(c.Writer)); err != nil {
		h.logger.Warn("Chat stream ended early", "chat_id", chatReq.ChatID, "error", err)
	}
}
