package scope

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

type fakeSource struct {
	mu       sync.Mutex
	keywords []string
	calls    int
	err      error
}

func (f *fakeSource) ActiveKeywords(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.keywords...), nil
}

func (f *fakeSource) set(kws ...string) {
	f.mu.Lock()
	f.keywords = kws
	f.mu.Unlock()
}

type fakeShared struct {
	keywords []string
	present  bool
	purged   int
}

func (f *fakeShared) Load(context.Context) ([]string, bool, error) {
	return f.keywords, f.present, nil
}

func (f *fakeShared) Store(_ context.Context, kws []string) error {
	f.keywords, f.present = kws, true
	return nil
}

func (f *fakeShared) Purge(context.Context) error {
	f.keywords, f.present = nil, false
	f.purged++
	return nil
}

func TestRegistryNormalizesAndCaches(t *testing.T) {
	src := &fakeSource{keywords: []string{"Baby Shower", "DECORACIÓN", "baby shower", " "}}
	reg := NewRegistry(src, nil, logger.NewNop())

	kws, err := reg.ActiveKeywords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"baby shower", "decoración"}, kws)

	_, err = reg.ActiveKeywords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestRegistryInvalidateReloads(t *testing.T) {
	src := &fakeSource{keywords: []string{"regalos"}}
	shared := &fakeShared{}
	reg := NewRegistry(src, shared, logger.NewNop())
	ctx := context.Background()

	_, err := reg.ActiveKeywords(ctx)
	require.NoError(t, err)

	src.set("invitados")
	require.NoError(t, reg.Invalidate(ctx))
	assert.Equal(t, 1, shared.purged)

	kws, err := reg.ActiveKeywords(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"invitados"}, kws)
	assert.Equal(t, 2, src.calls)
}

func TestRegistryPrefersSharedCache(t *testing.T) {
	src := &fakeSource{keywords: []string{"regalos"}}
	shared := &fakeShared{keywords: []string{"juegos"}, present: true}
	reg := NewRegistry(src, shared, logger.NewNop())

	kws, err := reg.ActiveKeywords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"juegos"}, kws)
	assert.Zero(t, src.calls)
}

func TestRegistryEmptyIsValid(t *testing.T) {
	reg := NewRegistry(&fakeSource{}, nil, logger.NewNop())

	kws, err := reg.ActiveKeywords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, kws)
}

func TestRegistrySourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	reg := NewRegistry(src, nil, logger.NewNop())

	_, err := reg.ActiveKeywords(context.Background())
	require.Error(t, err)

	src.err = nil
	src.set("regalos")
	kws, err := reg.ActiveKeywords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"regalos"}, kws)
}

func TestContains(t *testing.T) {
	kws := []string{"baby shower", "decoración"}

	assert.True(t, Contains("Ideas de DECORACIÓN para la fiesta", kws))
	assert.True(t, Contains("ideas para el Baby Shower", kws))
	assert.False(t, Contains("ideas de decoracion", kws))
	assert.False(t, Contains("¿Cuál es la capital de Francia?", kws))
}
