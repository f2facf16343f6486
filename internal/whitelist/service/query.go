package service

import (
	"context"

	"gatelist/internal/whitelist/models"
	dErrors "gatelist/pkg/domain-errors"
)

// GetPaginated returns one window of the filtered, sorted whitelist plus the
// full filtered count. Filters compose conjunctively; the page size is clamped
// to [1, PageSizeMax]; sort fields outside the whitelist fall back to creation
// time descending.
func (m *Manager) GetPaginated(ctx context.Context, page, pageSize int, filter models.EntryFilter, sort models.EntrySort) (*models.PaginatedResult[*models.WhitelistEntry], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > m.config.PageSizeMax {
		pageSize = m.config.PageSizeMax
	}

	offset := (page - 1) * pageSize
	items, total, err := m.store.ListPaginated(ctx, filter, sort, pageSize, offset)
	if err != nil {
		m.log().ErrorContext(ctx, "paginated scan failed", "page", page, "error", err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list entries")
	}
	return models.NewPaginatedResult(items, page, pageSize, total), nil
}

// ReloadCache eagerly rebuilds the cache from all active store rows and marks
// it loaded. Until the first successful reload, reads keep falling through to
// the store and populating lazily per key.
func (m *Manager) ReloadCache(ctx context.Context) error {
	entries, err := m.store.ListActive(ctx)
	if err != nil {
		m.log().ErrorContext(ctx, "cache reload failed", "error", err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reload cache")
	}
	m.cache.ReplaceAll(ctx, entries)
	m.log().InfoContext(ctx, "whitelist cache reloaded", "entries", len(entries))
	return nil
}

// ListActive returns every active entry, for reconciliation snapshots.
func (m *Manager) ListActive(ctx context.Context) ([]*models.WhitelistEntry, error) {
	entries, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list active entries")
	}
	return entries, nil
}
