package handler

import (
	"time"

	"gatelist/internal/whitelist/models"
)

// AddEntryRequest is the wire form of an add. Identifier may be empty for a
// deferred-completion entry.
type AddEntryRequest struct {
	Name              string `json:"name"`
	Identifier        string `json:"identifier,omitempty"`
	AddedByName       string `json:"added_by_name"`
	AddedByIdentifier string `json:"added_by_identifier,omitempty"`
	Source            string `json:"source"`
}

// CompleteIdentifierRequest fills in the identifier of a name-only entry.
type CompleteIdentifierRequest struct {
	Identifier string `json:"identifier"`
}

// BatchRequest is the wire form of a batch operation.
type BatchRequest struct {
	Op                string              `json:"op"`
	Entries           []models.BatchEntry `json:"entries"`
	AddedByName       string              `json:"added_by_name"`
	AddedByIdentifier string              `json:"added_by_identifier,omitempty"`
	Source            string              `json:"source"`
	Deferred          bool                `json:"deferred,omitempty"`
}

// ToOperation converts the request into the domain batch operation.
func (r BatchRequest) ToOperation(now time.Time) (*models.BatchOperation, error) {
	source, err := models.ParseSource(r.Source)
	if err != nil {
		return nil, err
	}
	return &models.BatchOperation{
		Op:                models.BatchOp(r.Op),
		Entries:           r.Entries,
		AddedByName:       r.AddedByName,
		AddedByIdentifier: r.AddedByIdentifier,
		Source:            source,
		AddedAt:           now,
	}, nil
}
