package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/guarded-chat/internal/middleware"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// ConversationHandler serves conversation transcripts.
type ConversationHandler struct {
	history *service.HistoryService
	logger  *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(history *service.HistoryService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		history: history,
		logger:  log,
	}
}

// TranscriptResponse is the body of a transcript read.
type TranscriptResponse struct {
	ConversationID string                   `json:"conversationId"`
	Turns          []model.ConversationTurn `json:"turns"`
}

// Turns handles GET /api/v1/conversations/{id}/turns
func (h *ConversationHandler) Turns(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= service.MaxTranscriptTurns {
			limit = parsed
		}
	}

	turns, err := h.history.LoadWindow(r.Context(), conversationID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}

	writeJSON(w, http.StatusOK, TranscriptResponse{
		ConversationID: conversationID,
		Turns:          turns,
	})
}
