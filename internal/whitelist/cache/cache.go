// Package cache holds the in-memory subset view of active whitelist rows.
//
// Two independently-owned lookup tables back it: one keyed by identifier, one
// by normalized name. A name-only entry lives solely under the name table;
// completing its identifier promotes it into the identifier table without ever
// replacing the name entry, so forward lookups by name keep working.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"gatelist/internal/whitelist/models"
)

// tables bundles both lookup maps so ReplaceAll can swap them atomically.
type tables struct {
	byIdentifier sync.Map // identifier -> *models.WhitelistEntry
	byName       sync.Map // normalized name -> *models.WhitelistEntry
}

// IdentityCache is a write-through cache over the entry store. Per-key reads
// and writes are lock-free; only full rebuilds swap the table pointer.
type IdentityCache struct {
	current atomic.Pointer[tables]
	loaded  atomic.Bool
}

func New() *IdentityCache {
	c := &IdentityCache{}
	c.current.Store(&tables{})
	return c
}

func (c *IdentityCache) GetByIdentifier(_ context.Context, identifier string) (*models.WhitelistEntry, bool) {
	if identifier == "" {
		return nil, false
	}
	value, ok := c.current.Load().byIdentifier.Load(identifier)
	if !ok {
		return nil, false
	}
	return value.(*models.WhitelistEntry), true
}

func (c *IdentityCache) GetByName(_ context.Context, name string) (*models.WhitelistEntry, bool) {
	if name == "" {
		return nil, false
	}
	value, ok := c.current.Load().byName.Load(models.NormalizeName(name))
	if !ok {
		return nil, false
	}
	return value.(*models.WhitelistEntry), true
}

// Put stores the entry under its name key and, once the identifier is known,
// under the identifier key as well.
func (c *IdentityCache) Put(_ context.Context, entry *models.WhitelistEntry) {
	if entry == nil {
		return
	}
	t := c.current.Load()
	t.byName.Store(models.NormalizeName(entry.Name), entry)
	if entry.HasIdentifier() {
		t.byIdentifier.Store(*entry.Identifier, entry)
	}
}

// Evict removes the entry from both tables.
func (c *IdentityCache) Evict(_ context.Context, name, identifier string) {
	t := c.current.Load()
	if name != "" {
		t.byName.Delete(models.NormalizeName(name))
	}
	if identifier != "" {
		t.byIdentifier.Delete(identifier)
	}
}

// ReplaceAll rebuilds both tables from the given rows and marks the cache
// loaded. Readers observe either the old or the new view, never a mix.
func (c *IdentityCache) ReplaceAll(ctx context.Context, entries []*models.WhitelistEntry) {
	fresh := &tables{}
	for _, entry := range entries {
		if entry == nil || !entry.Active {
			continue
		}
		fresh.byName.Store(models.NormalizeName(entry.Name), entry)
		if entry.HasIdentifier() {
			fresh.byIdentifier.Store(*entry.Identifier, entry)
		}
	}
	c.current.Store(fresh)
	c.loaded.Store(true)
}

func (c *IdentityCache) Loaded() bool {
	return c.loaded.Load()
}

// Invalidate clears both tables and drops the loaded flag, forcing reads back
// to the store until the next reload.
func (c *IdentityCache) Invalidate(_ context.Context) {
	c.current.Store(&tables{})
	c.loaded.Store(false)
}

// Len counts identifier-keyed and name-keyed entries, for stats endpoints.
func (c *IdentityCache) Len() (identifiers, names int) {
	t := c.current.Load()
	t.byIdentifier.Range(func(_, _ any) bool {
		identifiers++
		return true
	})
	t.byName.Range(func(_, _ any) bool {
		names++
		return true
	})
	return identifiers, names
}
