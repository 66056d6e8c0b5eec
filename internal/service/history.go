package service

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
	"github.com/capitalize-ai/guarded-chat/pkg/metrics"
)

// DefaultHistoryWindow is the number of prior turns given to the model.
const DefaultHistoryWindow = 5

// MaxTranscriptTurns caps a transcript read.
const MaxTranscriptTurns = 100

// HistoryService appends turns and loads recent windows of a conversation.
type HistoryService struct {
	turns  store.TurnStore
	window int
	logger *logger.Logger
}

// NewHistoryService creates a history service. A non-positive window uses
// DefaultHistoryWindow.
func NewHistoryService(turns store.TurnStore, window int, log *logger.Logger) *HistoryService {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &HistoryService{turns: turns, window: window, logger: log}
}

// Window returns the configured window size.
func (s *HistoryService) Window() int {
	return s.window
}

// Append persists a turn.
func (s *HistoryService) Append(ctx context.Context, turn *model.ConversationTurn) error {
	if err := s.turns.AppendTurn(ctx, turn); err != nil {
		metrics.RecordTurnPersisted("error")
		return fmt.Errorf("append turn %s: %w", turn.ID, err)
	}
	metrics.RecordTurnPersisted("ok")
	return nil
}

// LoadWindow returns the maxTurns most recent turns of a conversation,
// oldest first. A non-positive maxTurns uses the configured window.
func (s *HistoryService) LoadWindow(ctx context.Context, conversationID string, maxTurns int) ([]model.ConversationTurn, error) {
	if maxTurns <= 0 {
		maxTurns = s.window
	}

	recent, err := s.turns.RecentTurns(ctx, conversationID, maxTurns)
	if err != nil {
		return nil, fmt.Errorf("load history of %s: %w", conversationID, err)
	}
	if len(recent) > maxTurns {
		store.SortNewestFirst(recent)
		recent = recent[:maxTurns]
	}

	// Stores return newest first; reversing keeps ties in arrival order.
	slices.Reverse(recent)
	slices.SortStableFunc(recent, func(a, b model.ConversationTurn) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	s.logger.Debug("loaded history window",
		zap.String("conversation_id", conversationID),
		zap.Int("turns", len(recent)),
	)
	return recent, nil
}
