package cache

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"gatelist/internal/whitelist/models"
)

type IdentityCacheSuite struct {
	suite.Suite
	cache *IdentityCache
	ctx   context.Context
}

func TestIdentityCacheSuite(t *testing.T) {
	suite.Run(t, new(IdentityCacheSuite))
}

func (s *IdentityCacheSuite) SetupTest() {
	s.cache = New()
	s.ctx = context.Background()
}

func (s *IdentityCacheSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *IdentityCacheSuite) entry(name, identifier string) *models.WhitelistEntry {
	e := &models.WhitelistEntry{Name: name, Active: true, Source: models.SourceAdmin}
	if identifier != "" {
		e.Identifier = &identifier
	}
	return e
}

func (s *IdentityCacheSuite) TestPut() {
	s.Run("entry with identifier lands in both tables", func() {
		id := uuid.NewString()
		s.cache.Put(s.ctx, s.entry("Notch", id))

		_, ok := s.cache.GetByIdentifier(s.ctx, id)
		s.True(ok)
		_, ok = s.cache.GetByName(s.ctx, "Notch")
		s.True(ok)
	})

	s.Run("name lookup is case-insensitive", func() {
		s.cache.Put(s.ctx, s.entry("Herobrine", uuid.NewString()))

		_, ok := s.cache.GetByName(s.ctx, "HEROBRINE")
		s.True(ok)
		_, ok = s.cache.GetByName(s.ctx, "herobrine")
		s.True(ok)
	})

	s.Run("name-only entry lives only in the name table", func() {
		s.cache.Put(s.ctx, s.entry("Pending", ""))

		_, ok := s.cache.GetByName(s.ctx, "Pending")
		s.True(ok)
		identifiers, _ := s.cache.Len()
		s.Zero(identifiers)
	})

	s.Run("completion promotes into the identifier table", func() {
		s.cache.Put(s.ctx, s.entry("Late", ""))

		id := uuid.NewString()
		s.cache.Put(s.ctx, s.entry("Late", id))

		_, ok := s.cache.GetByIdentifier(s.ctx, id)
		s.True(ok)
		_, ok = s.cache.GetByName(s.ctx, "Late")
		s.True(ok)
	})
}

func (s *IdentityCacheSuite) TestEvict() {
	id := uuid.NewString()
	s.cache.Put(s.ctx, s.entry("Gone", id))

	s.cache.Evict(s.ctx, "Gone", id)

	_, ok := s.cache.GetByIdentifier(s.ctx, id)
	s.False(ok)
	_, ok = s.cache.GetByName(s.ctx, "Gone")
	s.False(ok)
}

func (s *IdentityCacheSuite) TestReplaceAll() {
	s.Run("marks the cache loaded", func() {
		s.False(s.cache.Loaded())
		s.cache.ReplaceAll(s.ctx, []*models.WhitelistEntry{s.entry("One", uuid.NewString())})
		s.True(s.cache.Loaded())
	})

	s.Run("drops entries not in the new set", func() {
		s.cache.Put(s.ctx, s.entry("Stale", uuid.NewString()))
		s.cache.ReplaceAll(s.ctx, []*models.WhitelistEntry{s.entry("Fresh", uuid.NewString())})

		_, ok := s.cache.GetByName(s.ctx, "Stale")
		s.False(ok)
		_, ok = s.cache.GetByName(s.ctx, "Fresh")
		s.True(ok)
	})

	s.Run("skips inactive rows", func() {
		inactive := s.entry("Inactive", uuid.NewString())
		inactive.Active = false
		s.cache.ReplaceAll(s.ctx, []*models.WhitelistEntry{inactive})

		_, ok := s.cache.GetByName(s.ctx, "Inactive")
		s.False(ok)
	})
}

func (s *IdentityCacheSuite) TestInvalidate() {
	s.cache.ReplaceAll(s.ctx, []*models.WhitelistEntry{s.entry("Someone", uuid.NewString())})
	s.Require().True(s.cache.Loaded())

	s.cache.Invalidate(s.ctx)

	s.False(s.cache.Loaded())
	_, ok := s.cache.GetByName(s.ctx, "Someone")
	s.False(ok)
}
