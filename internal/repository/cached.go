package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/timeline"
)

const (
	listKey   = "whitenoise:compositions"
	itemKeyNS = "whitenoise:composition:"
)

// Cached is a read-through Redis cache in front of another repository.
// Redis trouble never fails a request; it only costs a trip to the
// underlying repository.
type Cached struct {
	next Repository
	rdb  *redis.Client
	ttl  time.Duration
	log  *zap.Logger
}

// RedisConfig locates the cache server.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewCached wraps next with a cache at cfg.Addr.
func NewCached(next Repository, cfg RedisConfig, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cached{
		next: next,
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ttl: ttl,
		log: log,
	}
}

// Ping checks the connection.
func (c *Cached) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection pool.
func (c *Cached) Close() error {
	return c.rdb.Close()
}

func (c *Cached) List(ctx context.Context) ([]timeline.Summary, error) {
	var list []timeline.Summary
	if c.lookup(ctx, listKey, &list) {
		return list, nil
	}
	list, err := c.next.List(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, listKey, list)
	return list, nil
}

func (c *Cached) Get(ctx context.Context, id string) (*timeline.Composition, error) {
	key := itemKeyNS + id
	var doc timeline.Document
	if c.lookup(ctx, key, &doc) {
		// Every field was written explicitly, so no defaults apply.
		comp := doc.Composition(timeline.DecodeOptions{})
		comp.ID = id
		return comp, nil
	}
	comp, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, timeline.NewDocument(comp))
	return comp, nil
}

// Invalidate drops the cached list and the cached document for id.
func (c *Cached) Invalidate(ctx context.Context, id string) {
	if err := c.rdb.Del(ctx, listKey, itemKeyNS+id).Err(); err != nil {
		c.log.Warn("cache invalidate failed", zap.String("id", id), zap.Error(err))
	}
}

func (c *Cached) lookup(ctx context.Context, key string, v any) bool {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal([]byte(val), v); err != nil {
		c.log.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Cached) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
