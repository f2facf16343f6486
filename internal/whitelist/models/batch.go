package models

import (
	"time"

	dErrors "gatelist/pkg/domain-errors"
)

// BatchOp is the operation kind applied to every entry of a batch.
type BatchOp string

const (
	BatchAdd    BatchOp = "ADD"
	BatchRemove BatchOp = "REMOVE"
)

// IsValid checks if the batch op is one of the supported values.
func (o BatchOp) IsValid() bool {
	return o == BatchAdd || o == BatchRemove
}

// BatchEntry is one requested mutation inside a batch.
type BatchEntry struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
}

// BatchOperation is a caller-constructed set of entries consumed atomically by
// the manager. Per-entry validation failures are partial failures; only
// infrastructure failures abort the whole batch.
type BatchOperation struct {
	Op                BatchOp      `json:"op"`
	Entries           []BatchEntry `json:"entries"`
	AddedByName       string       `json:"added_by_name"`
	AddedByIdentifier string       `json:"added_by_identifier"`
	Source            Source       `json:"source"`
	AddedAt           time.Time    `json:"added_at"`
}

// Validate checks the batch envelope, not the individual entries.
func (b *BatchOperation) Validate() error {
	if !b.Op.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "batch op must be ADD or REMOVE")
	}
	if len(b.Entries) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "batch cannot be empty")
	}
	if !b.Source.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid batch source")
	}
	return nil
}

// BatchError records one failed entry of a batch.
type BatchError struct {
	Name       string `json:"name"`
	Identifier string `json:"identifier,omitempty"`
	Reason     string `json:"reason"`
}

// BatchResult summarizes a batch application. It is always returned for
// partial failure; the accompanying error is non-nil only when the whole
// transaction failed for infrastructure reasons.
type BatchResult struct {
	Total                int          `json:"total"`
	Succeeded            int          `json:"succeeded"`
	Failed               int          `json:"failed"`
	Errors               []BatchError `json:"errors,omitempty"`
	SucceededIdentifiers []string     `json:"succeeded_identifiers,omitempty"`
	FailedIdentifiers    []string     `json:"failed_identifiers,omitempty"`
}

// RecordSuccess accumulates one applied entry.
func (r *BatchResult) RecordSuccess(identifier string) {
	r.Succeeded++
	if identifier != "" {
		r.SucceededIdentifiers = append(r.SucceededIdentifiers, identifier)
	}
}

// RecordFailure accumulates one rejected entry.
func (r *BatchResult) RecordFailure(entry BatchEntry, reason string) {
	r.Failed++
	r.Errors = append(r.Errors, BatchError{Name: entry.Name, Identifier: entry.Identifier, Reason: reason})
	if entry.Identifier != "" {
		r.FailedIdentifiers = append(r.FailedIdentifiers, entry.Identifier)
	}
}

// PaginatedResult is the stable response shape for windowed queries.
type PaginatedResult[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
	Pages    int   `json:"pages"`
}

// NewPaginatedResult computes the derived page count.
func NewPaginatedResult[T any](items []T, page, pageSize int, total int64) *PaginatedResult[T] {
	pages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &PaginatedResult[T]{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		Pages:    pages,
	}
}

// SortField is the closed set of sortable columns. Sorting is whitelisted
// against this set so caller input never reaches SQL directly.
type SortField string

const (
	SortByCreatedAt SortField = "created_at"
	SortByAddedAt   SortField = "added_at"
	SortByName      SortField = "name"
	SortByUpdatedAt SortField = "updated_at"
)

// IsValid checks if the sort field is one of the allowed columns.
func (f SortField) IsValid() bool {
	switch f {
	case SortByCreatedAt, SortByAddedAt, SortByName, SortByUpdatedAt:
		return true
	}
	return false
}

// EntryFilter composes conjunctive predicates for paginated scans.
// Zero values mean "no constraint".
type EntryFilter struct {
	NameContains    string
	Source          Source
	AddedByContains string
	AddedAfter      time.Time
	AddedBefore     time.Time
}

// EntrySort describes the requested ordering; invalid fields fall back to
// creation time descending.
type EntrySort struct {
	Field     SortField
	Ascending bool
}
