package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/guarded-chat/internal/guardrail"
	"github.com/capitalize-ai/guarded-chat/internal/inference"
	"github.com/capitalize-ai/guarded-chat/internal/llm"
	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/prompt"
	"github.com/capitalize-ai/guarded-chat/internal/quickreply"
	"github.com/capitalize-ai/guarded-chat/internal/rules"
	"github.com/capitalize-ai/guarded-chat/internal/scope"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

type fakeLLM struct {
	mu       sync.Mutex
	content  string
	err      error
	requests []*llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{
		Content: f.content,
		Model:   "fake-model",
		Usage:   &model.TokenUsage{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20},
	}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// failingTurns rejects every append.
type failingTurns struct {
	store.TurnStore
}

func (failingTurns) AppendTurn(context.Context, *model.ConversationTurn) error {
	return errors.New("disk full")
}

// countingProfiles counts writes and can fail the first N updates with a
// version conflict.
type countingProfiles struct {
	store.ProfileStore
	updates   int
	conflicts int
}

func (c *countingProfiles) UpdateProfile(ctx context.Context, p *model.UserProfile) error {
	c.updates++
	if c.conflicts > 0 {
		c.conflicts--
		return model.ErrConcurrencyConflict
	}
	return c.ProfileStore.UpdateProfile(ctx, p)
}

type recordingEvents struct {
	events []*model.GuardrailEvent
}

func (r *recordingEvents) PublishGuardrailEvent(_ context.Context, e *model.GuardrailEvent) error {
	r.events = append(r.events, e)
	return nil
}

type harness struct {
	mem      *store.Memory
	profiles *countingProfiles
	llm      *fakeLLM
	events   *recordingEvents
	chat     *service.ChatService
}

func newHarness(t *testing.T, failTurns bool) *harness {
	t.Helper()
	log := logger.NewNop()

	set, err := rules.Default()
	require.NoError(t, err)

	mem := store.NewMemory()
	profiles := &countingProfiles{ProfileStore: mem}
	var turns store.TurnStore = mem
	if failTurns {
		turns = failingTurns{TurnStore: mem}
	}

	registry := scope.NewRegistry(mem, nil, log)
	guard, err := guardrail.New(set.Guardrail, registry, log)
	require.NoError(t, err)
	infer, err := inference.New(set.Inference)
	require.NoError(t, err)

	fake := &fakeLLM{content: "¡Claro! Aquí tienes algunas ideas."}
	events := &recordingEvents{}

	chat := service.NewChatService(service.ChatDeps{
		History:    service.NewHistoryService(turns, 0, log),
		Profiles:   service.NewProfileService(profiles, log),
		Guardrail:  guard,
		Inference:  infer,
		Prompts:    prompt.NewAssembler(log),
		QuickReply: quickreply.New(set.QuickReplies),
		LLM:        fake,
		Events:     events,
		Config:     service.ChatConfig{Model: "fake-model", MaxTokens: 512},
		Logger:     log,
	})

	return &harness{mem: mem, profiles: profiles, llm: fake, events: events, chat: chat}
}
