// Package storetest holds behavior tests shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/store"
)

// Run exercises all stores of a backend. newBackend must return an empty
// backend on each call.
func Run(t *testing.T, newBackend func(t *testing.T) *store.Backend) {
	t.Run("Turns", func(t *testing.T) { testTurns(t, newBackend(t).Turns) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, newBackend(t).Profiles) })
	t.Run("Domains", func(t *testing.T) { testDomains(t, newBackend(t).Domains) })
}

func testTurns(t *testing.T, s store.TurnStore) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	temp := 0.4

	// Appended out of chronological order on purpose.
	for _, offset := range []int{2, 0, 3, 1} {
		turn := &model.ConversationTurn{
			ID:                "t" + string(rune('a'+offset)),
			ConversationID:    "conv-1",
			UserID:            "u1",
			DomainID:          "baby-shower",
			UserMessage:       "m" + string(rune('0'+offset)),
			AssistantResponse: "r" + string(rune('0'+offset)),
			Model:             "gpt-4o-mini",
			Temperature:       &temp,
			Usage:             &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			GuardrailAction:   model.ActionAllow,
			GuardrailReason:   model.ReasonNone,
			QuickReplies:      []string{"Ayuda"},
			CreatedAt:         base.Add(time.Duration(offset) * time.Minute),
		}
		require.NoError(t, s.AppendTurn(ctx, turn))
	}
	require.NoError(t, s.AppendTurn(ctx, &model.ConversationTurn{
		ID:              "other",
		ConversationID:  "conv-2",
		UserID:          "u1",
		UserMessage:     "bypass rules",
		GuardrailAction: model.ActionBlock,
		GuardrailReason: model.ReasonInjection,
		CreatedAt:       base,
	}))

	got, err := s.RecentTurns(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m3", got[0].UserMessage)
	assert.Equal(t, "m2", got[1].UserMessage)
	assert.Equal(t, "m1", got[2].UserMessage)
	assert.Equal(t, "baby-shower", got[0].DomainID)
	require.NotNil(t, got[0].Usage)
	assert.Equal(t, 15, got[0].Usage.TotalTokens)
	require.NotNil(t, got[0].Temperature)
	assert.InDelta(t, 0.4, *got[0].Temperature, 1e-9)
	assert.Equal(t, []string{"Ayuda"}, got[0].QuickReplies)
	assert.True(t, got[0].CreatedAt.Equal(base.Add(3*time.Minute)))

	blocked, err := s.RecentTurns(ctx, "conv-2", 5)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Nil(t, blocked[0].Usage)
	assert.Equal(t, model.ReasonInjection, blocked[0].GuardrailReason)

	none, err := s.RecentTurns(ctx, "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testProfiles(t *testing.T, s store.ProfileStore) {
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "u1")
	require.ErrorIs(t, err, model.ErrNotFound)

	p := model.NewDefaultProfile("u1", time.Now().UTC())
	require.NoError(t, s.CreateProfile(ctx, p))
	assert.Equal(t, int64(0), p.Version)

	err = s.CreateProfile(ctx, model.NewDefaultProfile("u1", time.Now().UTC()))
	require.ErrorIs(t, err, model.ErrAlreadyExists)

	first, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	second, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)

	first.Tone = model.ToneFormal
	first.PastDecisions = []string{"tema safari"}
	require.NoError(t, s.UpdateProfile(ctx, first))
	assert.Equal(t, int64(1), first.Version)

	second.Emoji = model.EmojiNone
	err = s.UpdateProfile(ctx, second)
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)

	stored, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, model.ToneFormal, stored.Tone)
	assert.Equal(t, model.EmojiLight, stored.Emoji)
	assert.Equal(t, []string{"tema safari"}, stored.PastDecisions)
	assert.Equal(t, model.DefaultLanguage, stored.Language)

	err = s.UpdateProfile(ctx, model.NewDefaultProfile("ghost", time.Now()))
	require.ErrorIs(t, err, model.ErrNotFound)
}

func testDomains(t *testing.T, s store.DomainStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	kws, err := s.ActiveKeywords(ctx)
	require.NoError(t, err)
	assert.Empty(t, kws)

	for _, d := range []model.AllowedDomain{
		{Keyword: "baby shower", Category: "evento", Active: true, CreatedAt: now, UpdatedAt: now},
		{Keyword: "decoración", Category: "evento", Active: true, CreatedAt: now, UpdatedAt: now},
		{Keyword: "regalos", Category: "compras", Active: true, CreatedAt: now, UpdatedAt: now},
	} {
		d := d
		require.NoError(t, s.CreateDomain(ctx, &d))
	}
	err = s.CreateDomain(ctx, &model.AllowedDomain{Keyword: "regalos", Active: true, CreatedAt: now, UpdatedAt: now})
	require.ErrorIs(t, err, model.ErrAlreadyExists)

	require.NoError(t, s.SetDomainActive(ctx, "regalos", false))
	kws, err = s.ActiveKeywords(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"baby shower", "decoración"}, kws)

	all, err := s.ListDomains(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "regalos", all[0].Keyword)
	assert.False(t, all[0].Active)

	require.NoError(t, s.DeleteDomain(ctx, "baby shower"))
	require.ErrorIs(t, s.DeleteDomain(ctx, "baby shower"), model.ErrNotFound)
	require.ErrorIs(t, s.SetDomainActive(ctx, "nope", true), model.ErrNotFound)

	kws, err = s.ActiveKeywords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"decoración"}, kws)
}
