// Package bootstrap opens the storage backend and shared caches selected by
// configuration. Both the API server and scopectl use it.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/config"
	natsclient "github.com/capitalize-ai/guarded-chat/internal/nats"
	"github.com/capitalize-ai/guarded-chat/internal/redis"
	"github.com/capitalize-ai/guarded-chat/internal/scope"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/internal/storage"
	"github.com/capitalize-ai/guarded-chat/internal/store"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

// Backend is an opened storage backend plus the optional capabilities only
// some engines provide.
type Backend struct {
	*store.Backend

	// Events receives guardrail events; nil unless the engine publishes them.
	Events service.EventPublisher
	// WatchDomains blocks, calling onChange whenever another process edits
	// the allowlist. Nil when the engine cannot watch.
	WatchDomains func(ctx context.Context, onChange func()) error

	closers []func()
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// OpenBackend connects to the engine named by cfg.StoreBackend and prepares
// its schema, streams or buckets.
func OpenBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return &Backend{Backend: store.NewMemory().Backend()}, nil

	case config.BackendSQLite, config.BackendMySQL:
		db, err := storage.Open(ctx, cfg.StoreBackend, cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		if err := storage.Migrate(ctx, db, cfg.StoreBackend); err != nil {
			db.Close()
			return nil, err
		}
		return &Backend{
			Backend: storage.NewSQLStore(db).Backend(cfg.StoreBackend),
			closers: []func(){func() { db.Close() }},
		}, nil

	case config.BackendNATS:
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Replicas: cfg.NATSReplicas,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}

		streams := natsclient.NewStreamManager(client, cfg.TurnMaxAge)
		if err := streams.EnsureStreams(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("ensure streams: %w", err)
		}
		kv, err := natsclient.NewKVStore(ctx, client)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("open key-value buckets: %w", err)
		}

		return &Backend{
			Backend:      natsclient.Backend(client, streams, kv),
			Events:       streams,
			WatchDomains: kv.WatchDomains,
			closers:      []func(){client.Close},
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// SharedCache is the optional cross-instance keyword cache.
type SharedCache struct {
	*scope.RedisCache
	client *redis.Client
}

// Close disconnects from Redis.
func (c *SharedCache) Close() {
	c.client.Close()
}

// OpenSharedCache connects to Redis. It returns nil, nil when REDIS_ADDR is
// unset.
func OpenSharedCache(ctx context.Context, cfg *config.Config, log *logger.Logger) (*SharedCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client, err := redis.Connect(ctx, redis.Config{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info("shared keyword cache enabled", zap.String("addr", cfg.RedisAddr))
	return &SharedCache{
		RedisCache: scope.NewRedisCache(client, cfg.ScopeCacheTTL, log),
		client:     client,
	}, nil
}

// NewRegistry builds the keyword registry over the backend's domains,
// sharing through cache when it is non-nil.
func NewRegistry(backend *Backend, cache *SharedCache, log *logger.Logger) *scope.Registry {
	if cache == nil {
		return scope.NewRegistry(backend.Domains, nil, log)
	}
	return scope.NewRegistry(backend.Domains, cache, log)
}
