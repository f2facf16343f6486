// Package ports defines shared interfaces for the whitelist module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"
	"log/slog"

	"gatelist/internal/audit"
	"gatelist/internal/whitelist/models"
	"gatelist/pkg/requestcontext"
)

// AuditPublisher emits audit events for whitelist mutations and gate decisions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// EntryStore is the durable table of whitelist entries. Stores are pure I/O;
// all domain rules (format validation, cache ownership, dedup) belong in the
// manager service.
type EntryStore interface {
	// Insert persists a new entry and returns the store-assigned key.
	Insert(ctx context.Context, entry *models.WhitelistEntry) (int64, error)

	// GetByIdentifier returns the active entry for the identifier, or nil when absent.
	GetByIdentifier(ctx context.Context, identifier string) (*models.WhitelistEntry, error)

	// GetByName returns the active entry matching the name case-insensitively, or nil.
	GetByName(ctx context.Context, name string) (*models.WhitelistEntry, error)

	// CompleteIdentifier sets the identifier on the active row whose name matches
	// case-insensitively and whose identifier is still null. Returns false when no
	// such row exists.
	CompleteIdentifier(ctx context.Context, name, identifier string) (bool, error)

	// DeleteByIdentifier hard-deletes the entry; false when nothing matched.
	DeleteByIdentifier(ctx context.Context, identifier string) (bool, error)

	// DeleteByName hard-deletes the entry matched case-insensitively; false when nothing matched.
	DeleteByName(ctx context.Context, name string) (bool, error)

	// ListActive returns every active row, for cache reloads and reconciliation.
	ListActive(ctx context.Context) ([]*models.WhitelistEntry, error)

	// ListPaginated returns one window of the conjunctively filtered scan plus the
	// full filtered count.
	ListPaginated(ctx context.Context, filter models.EntryFilter, sort models.EntrySort, limit, offset int) ([]*models.WhitelistEntry, int64, error)

	// ApplyBatchAdd inserts entries inside one transaction. Rows colliding with an
	// active entry are skipped, not fatal; the returned slice flags applied rows
	// positionally. IDs are written back into applied entries.
	ApplyBatchAdd(ctx context.Context, entries []*models.WhitelistEntry) ([]bool, error)

	// ApplyBatchRemove deletes entries inside one transaction, matching by
	// identifier when present and by name otherwise. The returned slice flags
	// removed rows positionally.
	ApplyBatchRemove(ctx context.Context, entries []models.BatchEntry) ([]bool, error)
}

// EntryCache is the in-memory subset view of active store rows. It owns two
// independent lookup tables: one keyed by identifier, one by normalized name.
// Name-only entries live solely under the name table until completion promotes
// them into the identifier table as well.
type EntryCache interface {
	// GetByIdentifier returns the cached entry for the identifier, if present.
	GetByIdentifier(ctx context.Context, identifier string) (*models.WhitelistEntry, bool)

	// GetByName returns the cached entry for the normalized name, if present.
	GetByName(ctx context.Context, name string) (*models.WhitelistEntry, bool)

	// Put stores the entry under its name key, and under its identifier key too
	// once the identifier is known. The name key is always retained.
	Put(ctx context.Context, entry *models.WhitelistEntry)

	// Evict removes the entry from both tables.
	Evict(ctx context.Context, name, identifier string)

	// ReplaceAll atomically rebuilds both tables from the given rows and marks
	// the cache loaded.
	ReplaceAll(ctx context.Context, entries []*models.WhitelistEntry)

	// Loaded reports whether reads may be served from cache alone. While false,
	// every read must fall through to the store.
	Loaded() bool

	// Invalidate clears both tables and drops the loaded flag.
	Invalidate(ctx context.Context)
}

// MirrorSource is an optional second copy of the whitelist (an external mirror).
// The conflict resolver and sync coordinator consume it; a nil mirror degrades
// the coordinator to store-only application.
type MirrorSource interface {
	// Snapshot returns the mirror's full entry set.
	Snapshot(ctx context.Context) ([]*models.WhitelistEntry, error)

	// Push applies additions and removals to the mirror.
	Push(ctx context.Context, add []*models.WhitelistEntry, removeIdentifiers []string) error
}

// LogAudit is a shared helper for logging audit events across whitelist services.
// It logs to both the structured logger and the audit publisher if available.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event string, attrs ...any) {
	// Add request ID for traceability
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	args := append(attrs, "event", event, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, audit.Event{
		Action:    event,
		Actor:     requestcontext.Actor(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}
