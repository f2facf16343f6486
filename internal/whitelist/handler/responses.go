package handler

import (
	"time"

	"gatelist/internal/whitelist/models"
)

// EntryResponse is the wire form of a whitelist entry.
type EntryResponse struct {
	Name              string `json:"name"`
	Identifier        string `json:"identifier,omitempty"`
	AddedByName       string `json:"added_by_name"`
	AddedByIdentifier string `json:"added_by_identifier,omitempty"`
	AddedAt           string `json:"added_at"`
	Source            string `json:"source"`
	Active            bool   `json:"active"`
}

// FromEntry converts a domain entry to its response shape.
func FromEntry(entry *models.WhitelistEntry) EntryResponse {
	return EntryResponse{
		Name:              entry.Name,
		Identifier:        entry.IdentifierOrEmpty(),
		AddedByName:       entry.AddedByName,
		AddedByIdentifier: entry.AddedByIdentifier,
		AddedAt:           entry.AddedAt.UTC().Format(time.RFC3339),
		Source:            string(entry.Source),
		Active:            entry.Active,
	}
}

// MutationResponse reports whether a single-entry mutation took effect.
type MutationResponse struct {
	Applied bool `json:"applied"`
}

// CheckResponse is the membership check result.
type CheckResponse struct {
	Whitelisted bool `json:"whitelisted"`
}

// ScheduleResponse reports whether a task was enqueued or absorbed.
type ScheduleResponse struct {
	Enqueued bool `json:"enqueued"`
}

// ListResponse is one window of the filtered whitelist.
type ListResponse struct {
	Items    []EntryResponse `json:"items"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int64           `json:"total"`
	Pages    int             `json:"pages"`
}

// FromPage converts a paginated result to its response shape.
func FromPage(page *models.PaginatedResult[*models.WhitelistEntry]) ListResponse {
	items := make([]EntryResponse, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, FromEntry(entry))
	}
	return ListResponse{
		Items:    items,
		Page:     page.Page,
		PageSize: page.PageSize,
		Total:    page.Total,
		Pages:    page.Pages,
	}
}
