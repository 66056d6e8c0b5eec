// Package scope provides the allowed-topic keyword registry used by the
// guardrail scope rule.
package scope

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/guarded-chat/pkg/logger"
	"github.com/capitalize-ai/guarded-chat/pkg/metrics"
)

// Source is the persistence collaborator holding the keyword allowlist.
type Source interface {
	ActiveKeywords(ctx context.Context) ([]string, error)
}

// SharedCache is an optional cache shared between instances.
type SharedCache interface {
	Load(ctx context.Context) ([]string, bool, error)
	Store(ctx context.Context, keywords []string) error
	Purge(ctx context.Context) error
}

// Registry is a read-through cache of active keywords in front of a Source.
type Registry struct {
	source Source
	shared SharedCache
	logger *logger.Logger

	group singleflight.Group

	mu         sync.RWMutex
	keywords   []string
	loaded     bool
	generation uint64
}

// NewRegistry creates a registry. shared may be nil.
func NewRegistry(source Source, shared SharedCache, log *logger.Logger) *Registry {
	return &Registry{
		source: source,
		shared: shared,
		logger: log,
	}
}

// ActiveKeywords returns the normalized, de-duplicated active keywords.
// An empty result is valid and means the scope rule is permissive.
func (r *Registry) ActiveKeywords(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	if r.loaded {
		kws := slices.Clone(r.keywords)
		r.mu.RUnlock()
		metrics.RecordScopeLookup("local", "hit")
		return kws, nil
	}
	gen := r.generation
	r.mu.RUnlock()
	metrics.RecordScopeLookup("local", "miss")

	v, err, _ := r.group.Do("keywords", func() (interface{}, error) {
		return r.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	kws := v.([]string)

	r.mu.Lock()
	if r.generation == gen {
		r.keywords = kws
		r.loaded = true
	}
	r.mu.Unlock()

	return slices.Clone(kws), nil
}

func (r *Registry) load(ctx context.Context) ([]string, error) {
	if r.shared != nil {
		kws, ok, err := r.shared.Load(ctx)
		switch {
		case err != nil:
			r.logger.Warn("shared scope cache read failed", zap.Error(err))
		case ok:
			metrics.RecordScopeLookup("shared", "hit")
			return kws, nil
		default:
			metrics.RecordScopeLookup("shared", "miss")
		}
	}

	raw, err := r.source.ActiveKeywords(ctx)
	if err != nil {
		return nil, err
	}
	kws := normalizeAll(raw)

	if r.shared != nil {
		if err := r.shared.Store(ctx, kws); err != nil {
			r.logger.Warn("shared scope cache write failed", zap.Error(err))
		}
	}
	return kws, nil
}

// Invalidate drops the local and shared caches. Call it after every
// allowlist mutation.
func (r *Registry) Invalidate(ctx context.Context) error {
	r.InvalidateLocal()
	if r.shared != nil {
		return r.shared.Purge(ctx)
	}
	return nil
}

// InvalidateLocal drops only this instance's cache, e.g. when another
// instance announced a change.
func (r *Registry) InvalidateLocal() {
	r.mu.Lock()
	r.keywords = nil
	r.loaded = false
	r.generation++
	r.mu.Unlock()
	r.group.Forget("keywords")
}

func normalizeAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, kw := range raw {
		if n := Normalize(kw); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
