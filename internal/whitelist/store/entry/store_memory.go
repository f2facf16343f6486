package entry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatelist/internal/whitelist/models"
	"gatelist/pkg/requestcontext"
)

// InMemoryStore keeps whitelist entries in process memory. It mirrors the
// PostgreSQL store's semantics (case-insensitive names, deferred-completion
// matching, batched conflict skipping) and intentionally favors clarity over
// performance. It backs unit tests and degraded-mode fallbacks.
type InMemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64]*models.WhitelistEntry
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		nextID:  1,
		entries: make(map[int64]*models.WhitelistEntry),
	}
}

func (s *InMemoryStore) Insert(ctx context.Context, entry *models.WhitelistEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := requestcontext.Now(ctx)
	stored := cloneEntry(entry)
	stored.ID = s.nextID
	stored.Active = true
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.nextID++
	s.entries[stored.ID] = stored

	entry.ID = stored.ID
	entry.CreatedAt = stored.CreatedAt
	entry.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

func (s *InMemoryStore) GetByIdentifier(_ context.Context, identifier string) (*models.WhitelistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry := s.findByIdentifier(identifier); entry != nil {
		return cloneEntry(entry), nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetByName(_ context.Context, name string) (*models.WhitelistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry := s.findByName(name); entry != nil {
		return cloneEntry(entry), nil
	}
	return nil, nil
}

func (s *InMemoryStore) CompleteIdentifier(ctx context.Context, name, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.entries {
		if entry.Active && !entry.HasIdentifier() && strings.EqualFold(entry.Name, name) {
			value := identifier
			entry.Identifier = &value
			entry.UpdatedAt = requestcontext.Now(ctx)
			return true, nil
		}
	}
	return false, nil
}

func (s *InMemoryStore) DeleteByIdentifier(_ context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.findByIdentifier(identifier); entry != nil {
		delete(s.entries, entry.ID)
		return true, nil
	}
	return false, nil
}

func (s *InMemoryStore) DeleteByName(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.findByName(name); entry != nil {
		delete(s.entries, entry.ID)
		return true, nil
	}
	return false, nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]*models.WhitelistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []*models.WhitelistEntry
	for _, entry := range s.entries {
		if entry.Active {
			entries = append(entries, cloneEntry(entry))
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

func (s *InMemoryStore) ListPaginated(_ context.Context, filter models.EntryFilter, sortBy models.EntrySort, limit, offset int) ([]*models.WhitelistEntry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*models.WhitelistEntry
	for _, entry := range s.entries {
		if entry.Active && matchesFilter(entry, filter) {
			matched = append(matched, cloneEntry(entry))
		}
	}
	sortEntries(matched, sortBy)

	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (s *InMemoryStore) ApplyBatchAdd(ctx context.Context, entries []*models.WhitelistEntry) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := requestcontext.Now(ctx)
	applied := make([]bool, len(entries))
	for i, entry := range entries {
		if entry == nil {
			continue
		}
		if s.findByName(entry.Name) != nil {
			continue
		}
		if entry.HasIdentifier() && s.findByIdentifier(*entry.Identifier) != nil {
			continue
		}
		stored := cloneEntry(entry)
		stored.ID = s.nextID
		stored.Active = true
		stored.CreatedAt = now
		stored.UpdatedAt = now
		s.nextID++
		s.entries[stored.ID] = stored

		entry.ID = stored.ID
		entry.CreatedAt = now
		entry.UpdatedAt = now
		applied[i] = true
	}
	return applied, nil
}

func (s *InMemoryStore) ApplyBatchRemove(_ context.Context, entries []models.BatchEntry) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := make([]bool, len(entries))
	for i, request := range entries {
		var match *models.WhitelistEntry
		if request.Identifier != "" {
			match = s.findByIdentifier(request.Identifier)
		} else {
			match = s.findByName(request.Name)
		}
		if match != nil {
			delete(s.entries, match.ID)
			removed[i] = true
		}
	}
	return removed, nil
}

// findByIdentifier must be called while holding s.mu.
func (s *InMemoryStore) findByIdentifier(identifier string) *models.WhitelistEntry {
	if identifier == "" {
		return nil
	}
	for _, entry := range s.entries {
		if entry.Active && entry.HasIdentifier() && *entry.Identifier == identifier {
			return entry
		}
	}
	return nil
}

// findByName must be called while holding s.mu.
func (s *InMemoryStore) findByName(name string) *models.WhitelistEntry {
	for _, entry := range s.entries {
		if entry.Active && strings.EqualFold(entry.Name, name) {
			return entry
		}
	}
	return nil
}

func matchesFilter(entry *models.WhitelistEntry, filter models.EntryFilter) bool {
	if filter.NameContains != "" && !strings.Contains(strings.ToLower(entry.Name), strings.ToLower(filter.NameContains)) {
		return false
	}
	if filter.Source != "" && entry.Source != filter.Source {
		return false
	}
	if filter.AddedByContains != "" && !strings.Contains(strings.ToLower(entry.AddedByName), strings.ToLower(filter.AddedByContains)) {
		return false
	}
	if !filter.AddedAfter.IsZero() && entry.AddedAt.Before(filter.AddedAfter) {
		return false
	}
	if !filter.AddedBefore.IsZero() && entry.AddedAt.After(filter.AddedBefore) {
		return false
	}
	return true
}

func sortEntries(entries []*models.WhitelistEntry, sortBy models.EntrySort) {
	field := sortBy.Field
	ascending := sortBy.Ascending
	if !field.IsValid() {
		field = models.SortByCreatedAt
		ascending = false
	}
	key := func(e *models.WhitelistEntry) (time.Time, string) {
		switch field {
		case models.SortByAddedAt:
			return e.AddedAt, ""
		case models.SortByName:
			return time.Time{}, strings.ToLower(e.Name)
		case models.SortByUpdatedAt:
			return e.UpdatedAt, ""
		default:
			return e.CreatedAt, ""
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		ti, si := key(entries[i])
		tj, sj := key(entries[j])
		var less bool
		if field == models.SortByName {
			less = si < sj
		} else if ti.Equal(tj) {
			less = entries[i].ID < entries[j].ID
		} else {
			less = ti.Before(tj)
		}
		if ascending {
			return less
		}
		return !less
	})
}

func cloneEntry(entry *models.WhitelistEntry) *models.WhitelistEntry {
	clone := *entry
	if entry.Identifier != nil {
		value := *entry.Identifier
		clone.Identifier = &value
	}
	return &clone
}
