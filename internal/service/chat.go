// Package service composes the guardrail, profile, prompt and model
// components into the chat request pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/guardrail"
	"github.com/capitalize-ai/guarded-chat/internal/inference"
	"github.com/capitalize-ai/guarded-chat/internal/llm"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/prompt"
	"github.com/capitalize-ai/guarded-chat/internal/quickreply"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
	"github.com/capitalize-ai/guarded-chat/pkg/metrics"
)

var tracer = otel.Tracer("github.com/capitalize-ai/guarded-chat/internal/service")

// EventPublisher receives guardrail rejections for downstream moderation.
type EventPublisher interface {
	PublishGuardrailEvent(ctx context.Context, event *model.GuardrailEvent) error
}

// ChatConfig holds model call defaults. Request overrides win.
type ChatConfig struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// ChatDeps are the collaborators of a ChatService. Events may be nil.
type ChatDeps struct {
	History    *HistoryService
	Profiles   *ProfileService
	Guardrail  *guardrail.Engine
	Inference  *inference.Engine
	Prompts    *prompt.Assembler
	QuickReply *quickreply.Generator
	LLM        llm.Client
	Events     EventPublisher
	Config     ChatConfig
	Logger     *logger.Logger
}

// Persistence reports the side effects of a handled request. A failure here
// never invalidates the response.
type Persistence struct {
	TurnErr        error
	ProfileErr     error
	ProfileUpdated bool
}

// OK reports whether every side effect succeeded.
func (p Persistence) OK() bool {
	return p.TurnErr == nil && p.ProfileErr == nil
}

// Outcome is the result of one chat request: the response, which is always
// complete, and the persistence report.
type Outcome struct {
	Response    *model.ChatResponse
	Persistence Persistence
}

// ChatService runs one chat message through identity resolution, context
// loading, guardrails, the model call, persistence and profile inference.
type ChatService struct {
	history    *HistoryService
	profiles   *ProfileService
	guardrail  *guardrail.Engine
	inference  *inference.Engine
	prompts    *prompt.Assembler
	quickReply *quickreply.Generator
	llm        llm.Client
	events     EventPublisher
	cfg        ChatConfig
	logger     *logger.Logger
	now        func() time.Time
}

// NewChatService creates a chat service.
func NewChatService(deps ChatDeps) *ChatService {
	return &ChatService{
		history:    deps.History,
		profiles:   deps.Profiles,
		guardrail:  deps.Guardrail,
		inference:  deps.Inference,
		prompts:    deps.Prompts,
		quickReply: deps.QuickReply,
		llm:        deps.LLM,
		events:     deps.Events,
		cfg:        deps.Config,
		logger:     deps.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one message. The returned error is either
// model.ErrValidation (nothing happened) or model.ErrModelInvocation (the
// model failed after the guardrails passed; nothing was persisted).
// Guardrail rejections are successful outcomes.
func (s *ChatService) Handle(ctx context.Context, req *model.ChatRequest) (*Outcome, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", model.ErrValidation)
	}

	ctx, span := tracer.Start(ctx, "chat.handle")
	defer span.End()

	meta := req.Meta()
	userID := ResolveUserID(meta.UserID)
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.Must(uuid.NewV7()).String()
	}
	log := s.logger.WithContext(logger.CorrelationID(ctx), userID, conversationID)
	span.SetAttributes(
		attribute.String("chat.conversation_id", conversationID),
		attribute.Bool("chat.anonymous", IsAnonymous(userID)),
	)

	var outcome Outcome

	profile, err := s.profiles.GetOrCreate(ctx, userID)
	profileStored := err == nil
	if err != nil {
		log.Warn("profile unavailable, using defaults", zap.Error(err))
		outcome.Persistence.ProfileErr = err
		profile = model.NewDefaultProfile(userID, s.now())
	}

	history, err := s.history.LoadWindow(ctx, conversationID, 0)
	if err != nil {
		log.Warn("history unavailable, continuing without context", zap.Error(err))
		history = nil
	}

	result := s.evaluate(ctx, guardrail.Input{
		Message:  req.Message,
		Profile:  profile,
		History:  history,
		Metadata: meta,
	})
	span.SetAttributes(
		attribute.String("guardrail.action", string(result.Action)),
		attribute.String("guardrail.reason", string(result.Reason)),
	)

	turn := &model.ConversationTurn{
		ID:              uuid.Must(uuid.NewV7()).String(),
		ConversationID:  conversationID,
		UserID:          userID,
		DomainID:        meta.DomainID,
		EventID:         meta.EventID,
		UserMessage:     req.Message,
		GuardrailAction: result.Action,
		GuardrailReason: result.Reason,
	}

	if !result.Allowed() {
		log.Info("message rejected by guardrail",
			zap.String("action", string(result.Action)),
			zap.String("reason", string(result.Reason)),
		)
		turn.AssistantResponse = result.Message
		turn.QuickReplies = quickreply.Limit(result.QuickReplies)
		turn.CreatedAt = s.now()

		outcome.Persistence.TurnErr = s.persist(ctx, log, turn)
		s.publishRejection(ctx, log, turn)
		outcome.Response = respond(turn, profile)
		return &outcome, nil
	}

	completion, temperature, err := s.complete(ctx, req, profile, history, meta.DomainID)
	if err != nil {
		log.Error("model call failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "model call failed")
		return nil, err
	}

	turn.AssistantResponse = completion.Content
	turn.Model = completion.Model
	turn.Temperature = temperature
	turn.Usage = completion.Usage
	turn.QuickReplies = quickreply.Limit(s.quickReply.Generate(profile, history, meta.DomainID))
	turn.CreatedAt = s.now()

	outcome.Persistence.TurnErr = s.persist(ctx, log, turn)

	if profileStored {
		updated, err := s.inferProfile(ctx, log, profile, req.Message, len(history)+1)
		outcome.Persistence.ProfileErr = err
		outcome.Persistence.ProfileUpdated = updated
	}

	// The summary reflects the profile the answer was generated with.
	outcome.Response = respond(turn, profile)
	return &outcome, nil
}

func (s *ChatService) evaluate(ctx context.Context, in guardrail.Input) model.GuardrailResult {
	ctx, span := tracer.Start(ctx, "chat.guardrail")
	defer span.End()

	result := s.guardrail.Evaluate(ctx, in)
	metrics.RecordGuardrail(string(result.Action), string(result.Reason))
	return result
}

func (s *ChatService) complete(
	ctx context.Context,
	req *model.ChatRequest,
	profile *model.UserProfile,
	history []model.ConversationTurn,
	domainID string,
) (*llm.CompletionResponse, *float64, error) {
	ctx, span := tracer.Start(ctx, "chat.model_call",
		trace.WithAttributes(attribute.String("llm.provider", s.llm.Name())),
	)
	defer span.End()

	system := s.prompts.BuildSystemPrompt(profile, domainID)
	messages := s.prompts.BuildMessageSequence(system, history, req.Message)

	temperature := s.cfg.Temperature
	if req.Temperature != nil {
		temperature = req.Temperature
	}
	maxTokens := s.cfg.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordLLMCall(s.llm.Name(), s.cfg.Model, "error", elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, fmt.Errorf("%w: %s: %w", model.ErrModelInvocation, s.llm.Name(), err)
	}

	var tokensIn, tokensOut int
	if resp.Usage != nil {
		tokensIn, tokensOut = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	metrics.RecordLLMCall(s.llm.Name(), resp.Model, "success", elapsed, tokensIn, tokensOut)
	span.SetAttributes(attribute.String("llm.model", resp.Model))

	return resp, temperature, nil
}

// persist appends the turn and reports, but never propagates, a failure.
func (s *ChatService) persist(ctx context.Context, log *logger.Logger, turn *model.ConversationTurn) error {
	if err := s.history.Append(ctx, turn); err != nil {
		log.Error("failed to persist turn", zap.String("turn_id", turn.ID), zap.Error(err))
		return err
	}
	return nil
}

func (s *ChatService) publishRejection(ctx context.Context, log *logger.Logger, turn *model.ConversationTurn) {
	if s.events == nil {
		return
	}
	event := &model.GuardrailEvent{
		ID:             turn.ID,
		ConversationID: turn.ConversationID,
		UserID:         turn.UserID,
		DomainID:       turn.DomainID,
		Action:         turn.GuardrailAction,
		Reason:         turn.GuardrailReason,
		CreatedAt:      turn.CreatedAt,
	}
	if err := s.events.PublishGuardrailEvent(ctx, event); err != nil {
		log.Warn("failed to publish guardrail event", zap.Error(err))
	}
}

// inferProfile applies explicit preference commands found in message. A
// version conflict is retried once against the fresh profile.
func (s *ChatService) inferProfile(
	ctx context.Context,
	log *logger.Logger,
	profile *model.UserProfile,
	message string,
	messageCount int,
) (bool, error) {
	patch := s.inference.Infer(profile.UserID, message, messageCount)
	if !patch.HasChanges() {
		return false, nil
	}

	updated, err := s.profiles.Update(ctx, profile.UserID, patch)
	if errors.Is(err, model.ErrConcurrencyConflict) {
		log.Info("profile changed concurrently, retrying update")
		updated, err = s.profiles.Update(ctx, profile.UserID, patch)
	}
	if err != nil {
		log.Warn("failed to update profile", zap.Error(err))
		return false, err
	}
	return updated.Version != profile.Version, nil
}

func respond(turn *model.ConversationTurn, profile *model.UserProfile) *model.ChatResponse {
	replies := turn.QuickReplies
	if replies == nil {
		replies = []string{}
	}
	return &model.ChatResponse{
		Text:            turn.AssistantResponse,
		ConversationID:  turn.ConversationID,
		Timestamp:       turn.CreatedAt,
		TokenUsage:      turn.Usage,
		UserID:          turn.UserID,
		GuardrailAction: turn.GuardrailAction,
		GuardrailReason: turn.GuardrailReason,
		QuickReplies:    replies,
		ProfileSummary:  profile.Summary(),
	}
}
