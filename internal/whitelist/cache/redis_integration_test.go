//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatelist/internal/whitelist/cache"
	"gatelist/internal/whitelist/models"
	"gatelist/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *cache.RedisCache
	ctx   context.Context
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.ctx = context.Background()
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
	s.cache = cache.NewRedis(s.redis.Client, time.Minute, nil)
}

func (s *RedisCacheSuite) entry(name, identifier string) *models.WhitelistEntry {
	e := &models.WhitelistEntry{Name: name, Active: true, Source: models.SourceAdmin}
	if identifier != "" {
		e.Identifier = &identifier
	}
	return e
}

func (s *RedisCacheSuite) TestPutAndGet() {
	id := uuid.NewString()
	s.cache.Put(s.ctx, s.entry("Notch", id))

	got, ok := s.cache.GetByIdentifier(s.ctx, id)
	s.Require().True(ok)
	s.Equal("Notch", got.Name)

	got, ok = s.cache.GetByName(s.ctx, "NOTCH")
	s.Require().True(ok)
	s.Equal(id, got.IdentifierOrEmpty())
}

func (s *RedisCacheSuite) TestNameOnlyEntry() {
	s.cache.Put(s.ctx, s.entry("Pending", ""))

	_, ok := s.cache.GetByName(s.ctx, "pending")
	s.True(ok)

	// completion promotes into the identifier keyspace
	id := uuid.NewString()
	s.cache.Put(s.ctx, s.entry("Pending", id))
	_, ok = s.cache.GetByIdentifier(s.ctx, id)
	s.True(ok)
}

func (s *RedisCacheSuite) TestEvict() {
	id := uuid.NewString()
	s.cache.Put(s.ctx, s.entry("Gone", id))

	s.cache.Evict(s.ctx, "Gone", id)

	_, ok := s.cache.GetByIdentifier(s.ctx, id)
	s.False(ok)
	_, ok = s.cache.GetByName(s.ctx, "Gone")
	s.False(ok)
}

func (s *RedisCacheSuite) TestReplaceAll() {
	s.cache.Put(s.ctx, s.entry("Stale", uuid.NewString()))

	s.cache.ReplaceAll(s.ctx, []*models.WhitelistEntry{s.entry("Fresh", uuid.NewString())})

	// a reload refreshes the keyspace but never grants authority: keys
	// expire, so a miss here can never prove absence
	s.False(s.cache.Loaded())
	_, ok := s.cache.GetByName(s.ctx, "Stale")
	s.False(ok)
	_, ok = s.cache.GetByName(s.ctx, "Fresh")
	s.True(ok)
}

func (s *RedisCacheSuite) TestInvalidate() {
	s.cache.ReplaceAll(s.ctx, []*models.WhitelistEntry{s.entry("Someone", uuid.NewString())})

	s.cache.Invalidate(s.ctx)

	_, ok := s.cache.GetByName(s.ctx, "Someone")
	s.False(ok)
}

func (s *RedisCacheSuite) TestExpiredEntryBecomesAMiss() {
	expiring := cache.NewRedis(s.redis.Client, 50*time.Millisecond, nil)
	id := uuid.NewString()
	expiring.Put(s.ctx, s.entry("ShortLived", id))

	_, ok := expiring.GetByIdentifier(s.ctx, id)
	s.Require().True(ok)

	s.Require().Eventually(func() bool {
		_, ok := expiring.GetByIdentifier(s.ctx, id)
		return !ok
	}, 2*time.Second, 20*time.Millisecond)

	// the expired miss must route callers back to the store
	s.False(expiring.Loaded())
}
