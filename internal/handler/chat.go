// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/middleware"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// ChatHandler handles chat messages.
type ChatHandler struct {
	chat   *service.ChatService
	logger *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chat *service.ChatService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:   chat,
		logger: log,
	}
}

// Chat handles POST /api/v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A verified token outranks any user id in the body.
	if userID := middleware.GetUserID(ctx); userID != "" {
		meta := req.Meta()
		meta.UserID = userID
		req.Metadata = &meta
	}

	if err := middleware.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.chat.Handle(ctx, &req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if !out.Persistence.OK() {
		h.logger.Warn("chat response served without full persistence",
			zap.String("correlation_id", logger.CorrelationID(ctx)),
			zap.String("conversation_id", out.Response.ConversationID),
			zap.Bool("turn_persisted", out.Persistence.TurnErr == nil),
		)
	}

	writeJSON(w, http.StatusOK, out.Response)
}
