package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/mbd888/vigil/internal/logging"
	"github.com/mbd888/vigil/internal/retry"
)

const (
	DefaultProfileTTL = 10 * time.Minute
	profileKeyPrefix  = "vigil:fraud:profile:"
)

// RedisClient is the subset of *redis.Client the cache uses.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisProfileCache is a cache-aside ProfileStore in front of a durable
// store. Redis failures are logged and fall through to the backing store.
type RedisProfileCache struct {
	client  RedisClient
	backing ProfileStore
	ttl     time.Duration
	logger  *slog.Logger
}

var _ ProfileStore = (*RedisProfileCache)(nil)

// NewRedisProfileCache wraps backing with a Redis cache. A ttl <= 0 uses
// DefaultProfileTTL.
func NewRedisProfileCache(client RedisClient, backing ProfileStore, ttl time.Duration, logger *slog.Logger) *RedisProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileTTL
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &RedisProfileCache{client: client, backing: backing, ttl: ttl, logger: logger}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     50,
		MinIdleConns: 5,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func profileKey(tenantID string) string {
	return profileKeyPrefix + tenantID
}

func (c *RedisProfileCache) Get(ctx context.Context, tenantID string) (*Profile, error) {
	key := profileKey(tenantID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p Profile
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			return &p, nil
		}
		c.logger.Warn("discarding undecodable cached profile", "tenant", tenantID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("profile cache read failed", "tenant", tenantID, "error", err)
	}

	p, err := c.backing.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, p)
	return p, nil
}

func (c *RedisProfileCache) Save(ctx context.Context, profile *Profile) error {
	if err := c.backing.Save(ctx, profile); err != nil {
		return err
	}
	key := profileKey(profile.TenantID)
	err := retry.Do(ctx, 3, 20*time.Millisecond, func() error {
		return c.client.Del(ctx, key).Err()
	})
	if err != nil {
		c.logger.Warn("profile cache invalidation failed", "tenant", profile.TenantID, "error", err)
	}
	return nil
}

func (c *RedisProfileCache) fill(ctx context.Context, key string, p *Profile) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	err = retry.Do(ctx, 3, 20*time.Millisecond, func() error {
		return c.client.Set(ctx, key, raw, c.ttl).Err()
	})
	if err != nil {
		c.logger.Warn("profile cache fill failed", "key", key, "error", err)
	}
}
