// Package service implements the whitelist manager: the CRUD façade that owns
// cache mutation, resolves deferred identifiers, and serves cache-first reads
// with store fallback.
//
// The manager converts expected business failures (duplicate entry, not-found)
// into boolean results; only validation and infrastructure failures surface as
// errors, and raw store errors never escape unwrapped.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gatelist/internal/whitelist/config"
	"gatelist/internal/whitelist/metrics"
	"gatelist/internal/whitelist/models"
	"gatelist/internal/whitelist/ports"
	dErrors "gatelist/pkg/domain-errors"
)

// Type aliases for interfaces from ports package.
// This allows external packages to use these types without importing ports directly.
type (
	EntryStore     = ports.EntryStore
	EntryCache     = ports.EntryCache
	AuditPublisher = ports.AuditPublisher
)

// TaskScheduler receives propagation tasks after successful mutations. The
// queue implements it; tests may capture tasks instead.
type TaskScheduler interface {
	Add(ctx context.Context, task *models.SyncTask) bool
}

// AddedBy is the provenance of the admitting actor.
type AddedBy struct {
	Name       string
	Identifier string
}

type Manager struct {
	store          EntryStore
	cache          EntryCache
	scheduler      TaskScheduler
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	config         *config.Config
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Manager) {
		m.auditPublisher = publisher
	}
}

func WithScheduler(scheduler TaskScheduler) Option {
	return func(m *Manager) {
		m.scheduler = scheduler
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) {
		m.config = cfg
	}
}

func New(store EntryStore, cache EntryCache, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("entry store is required")
	}
	if cache == nil {
		return nil, errors.New("entry cache is required")
	}

	m := &Manager{
		store:  store,
		cache:  cache,
		config: config.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddByIdentifier admits an identity with a known identifier. Returns false
// without error when an active entry with that identifier or name already
// exists; the cache is written through before returning.
func (m *Manager) AddByIdentifier(ctx context.Context, name, identifier string, addedBy AddedBy, source models.Source, addedAt time.Time) (bool, error) {
	if err := models.ValidateIdentifier(identifier); err != nil {
		return false, err
	}
	entry, err := models.NewEntry(name, identifier, addedBy.Name, addedBy.Identifier, source, addedAt)
	if err != nil {
		return false, err
	}

	existing, err := m.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing identifier")
	}
	if existing != nil {
		m.recordMutation("add", false)
		return false, nil
	}
	if taken, err := m.nameTaken(ctx, name); err != nil {
		return false, err
	} else if taken {
		m.recordMutation("add", false)
		return false, nil
	}

	if _, err := m.store.Insert(ctx, entry); err != nil {
		m.log().ErrorContext(ctx, "whitelist insert failed", "name", name, "error", err)
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert entry")
	}

	m.cache.Put(ctx, entry)
	m.recordMutation("add", true)
	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_entry_added",
		"name", name,
		"identifier", identifier,
		"source", source,
	)
	return true, nil
}

// AddByNameOnly admits an identity whose identifier has not been observed yet.
// The entry lives solely under the name lookup path until completion.
func (m *Manager) AddByNameOnly(ctx context.Context, name string, addedBy AddedBy, source models.Source, addedAt time.Time) (bool, error) {
	entry, err := models.NewEntry(name, "", addedBy.Name, addedBy.Identifier, source, addedAt)
	if err != nil {
		return false, err
	}

	if taken, err := m.nameTaken(ctx, name); err != nil {
		return false, err
	} else if taken {
		m.recordMutation("add_name_only", false)
		return false, nil
	}

	if _, err := m.store.Insert(ctx, entry); err != nil {
		m.log().ErrorContext(ctx, "whitelist insert failed", "name", name, "error", err)
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert entry")
	}

	m.cache.Put(ctx, entry)
	m.recordMutation("add_name_only", true)
	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_entry_added",
		"name", name,
		"source", source,
		"pending_completion", true,
	)
	return true, nil
}

// CompleteIdentifier fills in the identifier of a name-only entry on first
// sight. It is idempotent: once completed (or when no matching row exists) it
// returns false, so callers may invoke it on every first-sight event.
func (m *Manager) CompleteIdentifier(ctx context.Context, name, identifier string) (bool, error) {
	if err := models.ValidateName(name); err != nil {
		return false, err
	}
	if err := models.ValidateIdentifier(identifier); err != nil {
		return false, err
	}

	completed, err := m.store.CompleteIdentifier(ctx, name, identifier)
	if err != nil {
		m.log().ErrorContext(ctx, "identifier completion failed", "name", name, "error", err)
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete identifier")
	}
	if !completed {
		return false, nil
	}

	// Promote the entry into the identifier-keyed cache slot; the name slot
	// is retained for forward lookups.
	entry, err := m.store.GetByIdentifier(ctx, identifier)
	if err == nil && entry != nil {
		m.cache.Put(ctx, entry)
	} else if cached, ok := m.cache.GetByName(ctx, name); ok {
		// The completion committed but the refetch did not; patch the cached
		// copy so the new identifier is admitted before the next reload.
		patched := *cached
		patched.Identifier = &identifier
		m.cache.Put(ctx, &patched)
	}
	m.recordMutation("complete_identifier", true)
	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_identifier_completed",
		"name", name,
		"identifier", identifier,
	)
	return true, nil
}

// Remove deletes the entry for the identifier. Returns false when nothing matched.
func (m *Manager) Remove(ctx context.Context, identifier string) (bool, error) {
	if err := models.ValidateIdentifier(identifier); err != nil {
		return false, err
	}

	entry, err := m.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up entry")
	}

	removed, err := m.store.DeleteByIdentifier(ctx, identifier)
	if err != nil {
		m.log().ErrorContext(ctx, "whitelist delete failed", "identifier", identifier, "error", err)
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete entry")
	}
	if !removed {
		m.recordMutation("remove", false)
		return false, nil
	}

	name := ""
	if entry != nil {
		name = entry.Name
	}
	m.cache.Evict(ctx, name, identifier)
	m.recordMutation("remove", true)
	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_entry_removed",
		"name", name,
		"identifier", identifier,
	)
	return true, nil
}

// RemoveByName deletes the entry matched case-insensitively by name.
func (m *Manager) RemoveByName(ctx context.Context, name string) (bool, error) {
	if err := models.ValidateName(name); err != nil {
		return false, err
	}

	entry, err := m.store.GetByName(ctx, name)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up entry")
	}

	removed, err := m.store.DeleteByName(ctx, name)
	if err != nil {
		m.log().ErrorContext(ctx, "whitelist delete failed", "name", name, "error", err)
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete entry")
	}
	if !removed {
		m.recordMutation("remove", false)
		return false, nil
	}

	identifier := ""
	if entry != nil {
		identifier = entry.IdentifierOrEmpty()
	}
	m.cache.Evict(ctx, name, identifier)
	m.recordMutation("remove", true)
	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_entry_removed",
		"name", name,
		"identifier", identifier,
	)
	return true, nil
}

// nameTaken checks the active-name uniqueness rule, cache first.
func (m *Manager) nameTaken(ctx context.Context, name string) (bool, error) {
	if _, ok := m.cache.GetByName(ctx, name); ok {
		return true, nil
	}
	existing, err := m.store.GetByName(ctx, name)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing name")
	}
	return existing != nil, nil
}

func (m *Manager) recordMutation(operation string, ok bool) {
	if m.metrics != nil {
		m.metrics.RecordMutation(operation, ok)
	}
}

// log returns the configured logger or the process default so call sites
// stay unconditional.
func (m *Manager) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}
