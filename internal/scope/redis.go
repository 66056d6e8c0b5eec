package scope

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/guarded-chat/internal/redis"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
)

const (
	redisKeywordsKey       = "scope:keywords"
	redisInvalidateChannel = "scope:invalidate"
)

// RedisCache shares the keyword snapshot between instances and broadcasts
// invalidations over pub/sub.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// NewRedisCache creates a shared cache. A zero ttl keeps entries until purged.
func NewRedisCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: log}
}

// Load returns the cached keywords and whether they were present.
func (c *RedisCache) Load(ctx context.Context) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, redisKeywordsKey)
	if errors.Is(err, redis.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read keywords: %w", err)
	}

	var kws []string
	if err := json.Unmarshal([]byte(raw), &kws); err != nil {
		return nil, false, fmt.Errorf("decode keywords: %w", err)
	}
	return kws, true, nil
}

// Store caches keywords.
func (c *RedisCache) Store(ctx context.Context, keywords []string) error {
	if keywords == nil {
		keywords = []string{}
	}
	payload, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("encode keywords: %w", err)
	}
	return c.client.Set(ctx, redisKeywordsKey, payload, c.ttl)
}

// Purge deletes the shared snapshot and tells other instances to drop theirs.
func (c *RedisCache) Purge(ctx context.Context) error {
	if err := c.client.Del(ctx, redisKeywordsKey); err != nil {
		return fmt.Errorf("purge keywords: %w", err)
	}
	if err := c.client.Publish(ctx, redisInvalidateChannel, "keywords"); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Listen calls onInvalidate for every invalidation broadcast until ctx is done.
func (c *RedisCache) Listen(ctx context.Context, onInvalidate func()) error {
	pubsub := c.client.Subscribe(ctx, redisInvalidateChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", redisInvalidateChannel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			c.logger.Debug("scope invalidation received", zap.String("payload", msg.Payload))
			onInvalidate()
		}
	}
}
