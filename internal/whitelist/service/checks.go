package service

import (
	"context"

	"gatelist/internal/whitelist/config"
	"gatelist/internal/whitelist/models"
	"gatelist/internal/whitelist/ports"
	dErrors "gatelist/pkg/domain-errors"
)

// IsWhitelisted reports whether an active entry exists for the identifier.
// Reads are cache-first; a store fallback hit repopulates the cache.
func (m *Manager) IsWhitelisted(ctx context.Context, identifier string) (bool, error) {
	if identifier == "" {
		return false, nil
	}
	if _, ok := m.cache.GetByIdentifier(ctx, identifier); ok {
		m.recordCheck("identifier", true, true)
		return true, nil
	}
	// While the cache is unloaded a miss proves nothing; afterwards it is
	// authoritative for active rows, so only fall through when unloaded.
	if m.cache.Loaded() {
		m.recordCheck("identifier", false, true)
		return false, nil
	}

	entry, err := m.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check identifier")
	}
	if entry == nil {
		m.recordCheck("identifier", false, false)
		return false, nil
	}
	m.cache.Put(ctx, entry)
	m.recordCheck("identifier", true, false)
	return true, nil
}

// IsWhitelistedByName reports whether an active entry exists for the name,
// matched case-insensitively.
func (m *Manager) IsWhitelistedByName(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	if _, ok := m.cache.GetByName(ctx, name); ok {
		m.recordCheck("name", true, true)
		return true, nil
	}
	if m.cache.Loaded() {
		m.recordCheck("name", false, true)
		return false, nil
	}

	entry, err := m.store.GetByName(ctx, name)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check name")
	}
	if entry == nil {
		m.recordCheck("name", false, false)
		return false, nil
	}
	m.cache.Put(ctx, entry)
	m.recordCheck("name", true, false)
	return true, nil
}

// IsWhitelistedEither admits on name OR identifier. A connecting subject may
// present an identifier that was never recorded (name-only entry still
// pending completion), or a name whose identifier is known; either path is
// sufficient.
func (m *Manager) IsWhitelistedEither(ctx context.Context, name, identifier string) (bool, error) {
	byIdentifier, err := m.IsWhitelisted(ctx, identifier)
	if err != nil {
		return false, err
	}
	if byIdentifier {
		return true, nil
	}
	return m.IsWhitelistedByName(ctx, name)
}

// CheckGate is the gating admission decision for a connecting subject. The
// check is bounded by the configured gate timeout; when it cannot be resolved
// the configured fallback policy decides, and the fallback is always recorded
// and never silently defaulted.
func (m *Manager) CheckGate(ctx context.Context, name, identifier string) bool {
	ctx, cancel := context.WithTimeout(ctx, m.config.GateTimeout)
	defer cancel()

	allowed, err := m.IsWhitelistedEither(ctx, name, identifier)
	if err == nil {
		return allowed
	}

	policy := m.config.GatePolicy
	if !policy.IsValid() {
		policy = config.GateStrict
	}
	if m.metrics != nil {
		m.metrics.RecordGateFallback(string(policy))
	}
	ports.LogAudit(ctx, m.logger, m.auditPublisher, "gate_fallback_applied",
		"name", name,
		"identifier", identifier,
		"policy", policy,
		"error", err.Error(),
	)
	return policy == config.GateLenient
}

// GetEntry returns the active entry for an identifier, cache-first.
func (m *Manager) GetEntry(ctx context.Context, identifier string) (*models.WhitelistEntry, error) {
	if entry, ok := m.cache.GetByIdentifier(ctx, identifier); ok {
		return entry, nil
	}
	entry, err := m.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to get entry")
	}
	if entry != nil {
		m.cache.Put(ctx, entry)
	}
	return entry, nil
}

func (m *Manager) recordCheck(kind string, allowed, cacheHit bool) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordCheck(kind, allowed)
	if cacheHit {
		m.metrics.RecordCacheHit()
	} else {
		m.metrics.RecordCacheMiss()
	}
}
