package service

import (
	"context"

	"gatelist/internal/whitelist/models"
	"gatelist/internal/whitelist/ports"
	dErrors "gatelist/pkg/domain-errors"
)

// ExecuteBatch applies a batch operation inside one store transaction.
// Per-entry validation failures and conflicts are collected as partial
// failures without aborting the batch; only a store-level failure reports
// every entry failed and returns an error.
func (m *Manager) ExecuteBatch(ctx context.Context, op *models.BatchOperation) (*models.BatchResult, error) {
	result := &models.BatchResult{}
	if op == nil {
		return result, dErrors.New(dErrors.CodeInvalidInput, "batch operation is required")
	}
	result.Total = len(op.Entries)
	if err := op.Validate(); err != nil {
		return result, err
	}

	switch op.Op {
	case models.BatchAdd:
		return m.executeBatchAdd(ctx, op, result)
	case models.BatchRemove:
		return m.executeBatchRemove(ctx, op, result)
	}
	return result, dErrors.New(dErrors.CodeInvalidInput, "unsupported batch op")
}

func (m *Manager) executeBatchAdd(ctx context.Context, op *models.BatchOperation, result *models.BatchResult) (*models.BatchResult, error) {
	// Validate every entry first; invalid rows become partial failures and
	// never reach the transaction.
	valid := make([]*models.WhitelistEntry, 0, len(op.Entries))
	validRequests := make([]models.BatchEntry, 0, len(op.Entries))
	for _, request := range op.Entries {
		entry, err := models.NewEntry(request.Name, request.Identifier, op.AddedByName, op.AddedByIdentifier, op.Source, op.AddedAt)
		if err != nil {
			result.RecordFailure(request, err.Error())
			continue
		}
		valid = append(valid, entry)
		validRequests = append(validRequests, request)
	}
	if len(valid) == 0 {
		return result, nil
	}

	applied, err := m.store.ApplyBatchAdd(ctx, valid)
	if err != nil {
		// Infrastructure failure: the transaction rolled back, every entry failed.
		m.log().ErrorContext(ctx, "batch add failed", "entries", len(valid), "error", err)
		for _, request := range validRequests {
			result.RecordFailure(request, "store transaction failed")
		}
		return result, dErrors.Wrap(err, dErrors.CodeInternal, "batch add transaction failed")
	}

	for i, ok := range applied {
		if !ok {
			result.RecordFailure(validRequests[i], "duplicate active entry")
			continue
		}
		m.cache.Put(ctx, valid[i])
		result.RecordSuccess(valid[i].IdentifierOrEmpty())
	}

	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_batch_applied",
		"op", op.Op,
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}

func (m *Manager) executeBatchRemove(ctx context.Context, op *models.BatchOperation, result *models.BatchResult) (*models.BatchResult, error) {
	removed, err := m.store.ApplyBatchRemove(ctx, op.Entries)
	if err != nil {
		m.log().ErrorContext(ctx, "batch remove failed", "entries", len(op.Entries), "error", err)
		for _, request := range op.Entries {
			result.RecordFailure(request, "store transaction failed")
		}
		return result, dErrors.Wrap(err, dErrors.CodeInternal, "batch remove transaction failed")
	}

	for i, ok := range removed {
		request := op.Entries[i]
		if !ok {
			result.RecordFailure(request, "no matching active entry")
			continue
		}
		m.cache.Evict(ctx, request.Name, request.Identifier)
		result.RecordSuccess(request.Identifier)
	}

	ports.LogAudit(ctx, m.logger, m.auditPublisher, "whitelist_batch_applied",
		"op", op.Op,
		"total", result.Total,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
	)
	return result, nil
}
