package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
)

const (
	// TurnStream holds every conversation turn.
	TurnStream = "CHAT_TURNS"
	// TurnSubjectPrefix is followed by the encoded conversation id.
	TurnSubjectPrefix = "chat.turns"

	// GuardrailStream holds blocked and redirected message events.
	GuardrailStream = "CHAT_GUARDRAIL"
	// GuardrailSubjectPrefix is followed by the lower-cased action.
	GuardrailSubjectPrefix = "chat.guardrail"

	fetchBatch = 256
)

// StreamManager stores turns on JetStream and publishes guardrail events.
type StreamManager struct {
	client *Client
	maxAge time.Duration
}

// NewStreamManager creates a new stream manager. A zero maxAge keeps turns
// forever.
func NewStreamManager(client *Client, maxAge time.Duration) *StreamManager {
	return &StreamManager{client: client, maxAge: maxAge}
}

// EnsureStreams creates the turn and guardrail streams when missing.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	configs := []jetstream.StreamConfig{
		{
			Name:        TurnStream,
			Subjects:    []string{TurnSubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      m.maxAge,
			Storage:     jetstream.FileStorage,
			Compression: jetstream.S2Compression,
			Duplicates:  2 * time.Minute,
			DenyDelete:  true,
			DenyPurge:   true,
			Description: "Conversation turns",
		},
		{
			Name:        GuardrailStream,
			Subjects:    []string{GuardrailSubjectPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Description: "Blocked and redirected chat messages",
		},
	}

	js := m.client.JetStream()
	for _, cfg := range configs {
		if _, err := js.Stream(ctx, cfg.Name); err == nil {
			continue
		} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("lookup stream %s: %w", cfg.Name, err)
		}

		cfg.Replicas = m.client.replicas
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		m.client.logger.Info("created stream", zap.String("stream", cfg.Name))
	}
	return nil
}

// TurnSubject returns the subject of a conversation's turns. Conversation
// ids are encoded so that dots and wildcards cannot leak into the subject.
func TurnSubject(conversationID string) string {
	return TurnSubjectPrefix + "." + base64.RawURLEncoding.EncodeToString([]byte(conversationID))
}

// GuardrailSubject returns the subject a guardrail event is published on.
func GuardrailSubject(action model.GuardrailAction) string {
	return GuardrailSubjectPrefix + "." + strings.ToLower(string(action))
}

// AppendTurn implements store.TurnStore. The turn id doubles as the
// message id, so a retried publish is deduplicated by the server.
func (m *StreamManager) AppendTurn(ctx context.Context, turn *model.ConversationTurn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	_, err = m.client.JetStream().Publish(ctx, TurnSubject(turn.ConversationID), data, jetstream.WithMsgID(turn.ID))
	if err != nil {
		return fmt.Errorf("%w: publish turn: %w", model.ErrPersistence, err)
	}
	return nil
}

// RecentTurns implements store.TurnStore. It replays the conversation
// subject through an ephemeral consumer.
func (m *StreamManager) RecentTurns(ctx context.Context, conversationID string, limit int) ([]model.ConversationTurn, error) {
	js := m.client.JetStream()

	consumer, err := js.CreateConsumer(ctx, TurnStream, jetstream.ConsumerConfig{
		FilterSubject:     TurnSubject(conversationID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create consumer: %w", model.ErrPersistence, err)
	}
	defer func() {
		name := consumer.CachedInfo().Name
		if err := js.DeleteConsumer(context.WithoutCancel(ctx), TurnStream, name); err != nil {
			m.client.logger.Debug("failed to delete ephemeral consumer", zap.String("consumer", name), zap.Error(err))
		}
	}()

	info, err := consumer.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: consumer info: %w", model.ErrPersistence, err)
	}
	pending := int(info.NumPending)

	turns := make([]model.ConversationTurn, 0, pending)
	for len(turns) < pending {
		batch, err := consumer.Fetch(min(fetchBatch, pending-len(turns)), jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			return nil, fmt.Errorf("%w: fetch turns: %w", model.ErrPersistence, err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var turn model.ConversationTurn
			if err := json.Unmarshal(msg.Data(), &turn); err != nil {
				m.client.logger.Warn("skipping undecodable turn",
					zap.String("subject", msg.Subject()), zap.Error(err))
				pending--
				continue
			}
			turns = append(turns, turn)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: batch error: %w", model.ErrPersistence, err)
		}
		if received == 0 {
			break
		}
	}

	slices.Reverse(turns)
	store.SortNewestFirst(turns)
	if limit > 0 && len(turns) > limit {
		turns = turns[:limit]
	}
	return turns, nil
}

// PublishGuardrailEvent records a blocked or redirected message.
func (m *StreamManager) PublishGuardrailEvent(ctx context.Context, event *model.GuardrailEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := m.client.JetStream().Publish(ctx, GuardrailSubject(event.Action), data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("failed to publish guardrail event: %w", err)
	}
	return nil
}
