package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gatelist/internal/whitelist/models"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefixIdentifier = "gatelist:entry:id:"
	keyPrefixName       = "gatelist:entry:name:"
)

// RedisCache is an alternative EntryCache for deployments running several
// manager instances against one store. It is strictly look-aside: keys carry
// a TTL and a peer may mutate the keyspace at any time, so the complete-view
// guarantee behind Loaded never holds here. Read misses and transport errors
// are equivalent, and the manager falls through to the store on both.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis wraps an existing go-redis client. Entries expire after ttl so a
// crashed evictor cannot leave stale admissions behind forever; zero ttl means
// no expiry.
func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisCache) GetByIdentifier(ctx context.Context, identifier string) (*models.WhitelistEntry, bool) {
	if identifier == "" {
		return nil, false
	}
	return c.get(ctx, keyPrefixIdentifier+identifier)
}

func (c *RedisCache) GetByName(ctx context.Context, name string) (*models.WhitelistEntry, bool) {
	if name == "" {
		return nil, false
	}
	return c.get(ctx, keyPrefixName+models.NormalizeName(name))
}

func (c *RedisCache) get(ctx context.Context, key string) (*models.WhitelistEntry, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.WarnContext(ctx, "redis cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var entry models.WhitelistEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		if c.logger != nil {
			c.logger.WarnContext(ctx, "redis cache entry corrupt", "key", key, "error", err)
		}
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Put(ctx context.Context, entry *models.WhitelistEntry) {
	if entry == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, keyPrefixName+models.NormalizeName(entry.Name), raw, c.ttl)
	if entry.HasIdentifier() {
		pipe.Set(ctx, keyPrefixIdentifier+*entry.Identifier, raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "redis cache write failed", "name", entry.Name, "error", err)
	}
}

func (c *RedisCache) Evict(ctx context.Context, name, identifier string) {
	keys := make([]string, 0, 2)
	if name != "" {
		keys = append(keys, keyPrefixName+models.NormalizeName(name))
	}
	if identifier != "" {
		keys = append(keys, keyPrefixIdentifier+identifier)
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "redis cache evict failed", "keys", keys, "error", err)
	}
}

func (c *RedisCache) ReplaceAll(ctx context.Context, entries []*models.WhitelistEntry) {
	c.Invalidate(ctx)
	pipe := c.client.Pipeline()
	for _, entry := range entries {
		if entry == nil || !entry.Active {
			continue
		}
		raw, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		pipe.Set(ctx, keyPrefixName+models.NormalizeName(entry.Name), raw, c.ttl)
		if entry.HasIdentifier() {
			pipe.Set(ctx, keyPrefixIdentifier+*entry.Identifier, raw, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "redis cache reload failed", "error", err)
	}
}

// Loaded is constant false: expiring keys mean a miss can never prove
// absence, so this cache must not be treated as the source of truth.
func (c *RedisCache) Loaded() bool {
	return false
}

func (c *RedisCache) Invalidate(ctx context.Context) {
	var cursor uint64
	for _, prefix := range []string{keyPrefixIdentifier, keyPrefixName} {
		cursor = 0
		for {
			keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 200).Result()
			if err != nil {
				if c.logger != nil {
					c.logger.WarnContext(ctx, "redis cache invalidate scan failed", "error", err)
				}
				return
			}
			if len(keys) > 0 {
				if err := c.client.Del(ctx, keys...).Err(); err != nil && c.logger != nil {
					c.logger.WarnContext(ctx, "redis cache invalidate delete failed", "error", err)
				}
			}
			if next == 0 {
				break
			}
			cursor = next
		}
	}
}
