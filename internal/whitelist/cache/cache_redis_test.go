package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"gatelist/internal/whitelist/models"
)

// unreachableClient stands in for a redis outage: every command errors.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRedisCacheIsNeverAuthoritative(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	c := NewRedis(client, time.Hour, nil)
	ctx := context.Background()

	id := uuid.NewString()
	c.ReplaceAll(ctx, []*models.WhitelistEntry{
		{Name: "Someone", Identifier: &id, Active: true, Source: models.SourceAdmin},
	})

	// keys expire and peers share the keyspace, so a reload must not grant
	// the complete-view authority; misses always route back to the store
	assert.False(t, c.Loaded())

	_, ok := c.GetByIdentifier(ctx, id)
	assert.False(t, ok, "a transport error reads as a miss, never as absence")
	_, ok = c.GetByName(ctx, "Someone")
	assert.False(t, ok)
}
