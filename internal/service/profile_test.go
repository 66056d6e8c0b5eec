package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/guarded-chat/internal/model"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

func newProfileService(t *testing.T) (*service.ProfileService, *countingProfiles) {
	t.Helper()
	profiles := &countingProfiles{ProfileStore: store.NewMemory()}
	return service.NewProfileService(profiles, logger.NewNop()), profiles
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	svc, _ := newProfileService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*model.UserProfile, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := svc.GetOrCreate(ctx, "user-1")
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, int64(0), p.Version)
		assert.Equal(t, model.DefaultLanguage, p.Language)
		assert.Equal(t, model.ToneWarm, p.Tone)
		assert.Equal(t, model.VerbosityMedium, p.Verbosity)
		assert.Equal(t, model.EmojiLight, p.Emoji)
	}
}

func TestUpdateEmptyPatchNeverWrites(t *testing.T) {
	svc, profiles := newProfileService(t)
	ctx := context.Background()
	_, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	got, err := svc.Update(ctx, "user-1", model.ProfilePatch{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
	assert.Zero(t, profiles.updates)
}

func TestUpdateEqualFieldIsNoop(t *testing.T) {
	svc, profiles := newProfileService(t)
	ctx := context.Background()
	_, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	warm := model.ToneWarm
	got, err := svc.Update(ctx, "user-1", model.ProfilePatch{Tone: &warm})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
	assert.Zero(t, profiles.updates)
}

func TestUpdateAppliesDifferingFields(t *testing.T) {
	svc, _ := newProfileService(t)
	ctx := context.Background()
	_, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	short := model.VerbosityShort
	warm := model.ToneWarm
	got, err := svc.Update(ctx, "user-1", model.ProfilePatch{Verbosity: &short, Tone: &warm})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, model.VerbosityShort, got.Verbosity)
	assert.Equal(t, model.ToneWarm, got.Tone)
	assert.Equal(t, model.EmojiLight, got.Emoji, "unset fields never regress")
}

func TestUpdateTruncatesStyleNotes(t *testing.T) {
	svc, _ := newProfileService(t)
	ctx := context.Background()
	_, err := svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)

	notes := strings.Repeat("ñ", 700)
	got, err := svc.Update(ctx, "user-1", model.ProfilePatch{StyleNotes: &notes})
	require.NoError(t, err)
	assert.Equal(t, model.MaxStyleNotesLength, utf8.RuneCountInString(got.StyleNotes))

	stored, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.MaxStyleNotesLength, utf8.RuneCountInString(stored.StyleNotes))
}

func TestUpdateErrors(t *testing.T) {
	svc, profiles := newProfileService(t)
	ctx := context.Background()

	formal := model.ToneFormal
	_, err := svc.Update(ctx, "ghost", model.ProfilePatch{Tone: &formal})
	require.ErrorIs(t, err, model.ErrNotFound)

	bogus := model.Tone("SARCASTIC")
	_, err = svc.Update(ctx, "ghost", model.ProfilePatch{Tone: &bogus})
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.GetOrCreate(ctx, "user-1")
	require.NoError(t, err)
	profiles.conflicts = 1
	_, err = svc.Update(ctx, "user-1", model.ProfilePatch{Tone: &formal})
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "user-9", service.ResolveUserID("  user-9 "))

	anon := service.ResolveUserID("")
	assert.True(t, strings.HasPrefix(anon, service.AnonymousPrefix))
	assert.True(t, service.IsAnonymous(anon))
	assert.False(t, service.IsAnonymous("user-9"))
	assert.NotEqual(t, anon, service.ResolveUserID("   "))
}
