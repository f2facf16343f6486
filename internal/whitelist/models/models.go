package models

import (
	"regexp"
	"strings"
	"time"

	dErrors "gatelist/pkg/domain-errors"

	"github.com/google/uuid"
)

// Source records which kind of actor admitted an entry. It doubles as a
// tie-break priority during conflict resolution: SYSTEM > ADMIN > PLAYER.
type Source string

const (
	SourcePlayer Source = "PLAYER"
	SourceAdmin  Source = "ADMIN"
	SourceSystem Source = "SYSTEM"
)

// IsValid checks if the source is one of the supported enum values.
func (s Source) IsValid() bool {
	switch s {
	case SourcePlayer, SourceAdmin, SourceSystem:
		return true
	}
	return false
}

// Priority returns the conflict-resolution rank of the source (higher wins).
func (s Source) Priority() int {
	switch s {
	case SourceSystem:
		return 3
	case SourceAdmin:
		return 2
	case SourcePlayer:
		return 1
	}
	return 0
}

// ParseSource creates a Source from a string, validating it.
func ParseSource(raw string) (Source, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "source cannot be empty")
	}
	s := Source(strings.ToUpper(raw))
	if !s.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid source: must be PLAYER, ADMIN or SYSTEM")
	}
	return s, nil
}

// namePattern constrains display names to 3-16 word characters.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,16}$`)

// ValidateName checks the display name format rule.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return dErrors.New(dErrors.CodeInvalidInput, "name must be 3-16 characters of [a-zA-Z0-9_]")
	}
	return nil
}

// ValidateIdentifier checks that the identifier is a 36-character canonical UUID string.
func ValidateIdentifier(identifier string) error {
	if len(identifier) != 36 {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier must be a 36-character UUID string")
	}
	if _, err := uuid.Parse(identifier); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "identifier is not a valid UUID")
	}
	return nil
}

// NormalizeName lowercases a display name for case-insensitive matching.
func NormalizeName(name string) string {
	return strings.ToLower(name)
}

// WhitelistEntry is one approved identity.
//
// Identifier is nullable: an entry may be admitted by name only and completed
// once the subject is first observed. The identifier transitions from nil to a
// concrete value exactly once and never changes afterwards.
type WhitelistEntry struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Identifier        *string   `json:"identifier,omitempty"`
	AddedByName       string    `json:"added_by_name"`
	AddedByIdentifier string    `json:"added_by_identifier"`
	AddedAt           time.Time `json:"added_at"`
	Source            Source    `json:"source"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewEntry creates a WhitelistEntry with domain invariant validation.
// identifier may be empty to create a name-only entry pending completion.
func NewEntry(name, identifier, addedByName, addedByIdentifier string, source Source, addedAt time.Time) (*WhitelistEntry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if !source.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid source")
	}
	if addedAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "added_at cannot be zero")
	}

	entry := &WhitelistEntry{
		Name:              name,
		AddedByName:       addedByName,
		AddedByIdentifier: addedByIdentifier,
		AddedAt:           addedAt,
		Source:            source,
		Active:            true,
	}
	if identifier != "" {
		if err := ValidateIdentifier(identifier); err != nil {
			return nil, err
		}
		entry.Identifier = &identifier
	}
	return entry, nil
}

// HasIdentifier reports whether the entry's identifier has been completed.
func (e *WhitelistEntry) HasIdentifier() bool {
	return e.Identifier != nil && *e.Identifier != ""
}

// IdentifierOrEmpty returns the identifier value, or "" while pending completion.
func (e *WhitelistEntry) IdentifierOrEmpty() string {
	if e.Identifier == nil {
		return ""
	}
	return *e.Identifier
}

// Timestamp returns the entry's resolution timestamp: UpdatedAt when set,
// falling back to CreatedAt. The zero time means no usable timestamp.
func (e *WhitelistEntry) Timestamp() time.Time {
	if !e.UpdatedAt.IsZero() {
		return e.UpdatedAt
	}
	return e.CreatedAt
}

// Equivalent reports whether two copies of the same logical record carry no
// conflicting field values: name, identifier, active flag and source must all
// match exactly.
func (e *WhitelistEntry) Equivalent(other *WhitelistEntry) bool {
	if other == nil {
		return false
	}
	return e.Name == other.Name &&
		e.IdentifierOrEmpty() == other.IdentifierOrEmpty() &&
		e.Active == other.Active &&
		e.Source == other.Source
}
