// Package resolver reconciles two copies of the whitelist.
//
// Entries are matched across sources by identifier. Name-only entries cannot
// be matched yet; they are reported as pending completion, never as conflicts.
package resolver

import (
	"gatelist/internal/whitelist/models"
)

// Side names the origin of a winning entry.
type Side string

const (
	SidePrimary Side = "primary"
	SideMirror  Side = "mirror"
)

// DataConflict records one identifier present on both sides with diverging
// field values, together with the resolved winner.
type DataConflict struct {
	Identifier string                 `json:"identifier"`
	Primary    *models.WhitelistEntry `json:"primary"`
	Mirror     *models.WhitelistEntry `json:"mirror"`
	Winner     Side                   `json:"winner"`
	Reason     string                 `json:"reason"`
}

// Resolution bundles the three reconciliation outcomes plus the entries that
// cannot be reconciled yet.
type Resolution struct {
	// OnlyInPrimary holds entries to propagate to the mirror.
	OnlyInPrimary []*models.WhitelistEntry
	// OnlyInMirror holds entries to propagate to the primary.
	OnlyInMirror []*models.WhitelistEntry
	// Conflicts holds per-identifier divergences with their resolved winners.
	Conflicts []DataConflict
	// PendingCompletion holds entries without an identifier on either side.
	PendingCompletion []*models.WhitelistEntry
}

// Resolve compares two full entry sets representing the same logical
// collection. The primary side is the durable store; the mirror is the
// external copy. The decision procedure is deterministic: same inputs always
// produce the same winners.
func Resolve(primary, mirror []*models.WhitelistEntry) Resolution {
	var res Resolution

	primaryByID := make(map[string]*models.WhitelistEntry, len(primary))
	for _, entry := range primary {
		if entry == nil {
			continue
		}
		if !entry.HasIdentifier() {
			res.PendingCompletion = append(res.PendingCompletion, entry)
			continue
		}
		primaryByID[*entry.Identifier] = entry
	}

	mirrorByID := make(map[string]*models.WhitelistEntry, len(mirror))
	for _, entry := range mirror {
		if entry == nil {
			continue
		}
		if !entry.HasIdentifier() {
			res.PendingCompletion = append(res.PendingCompletion, entry)
			continue
		}
		mirrorByID[*entry.Identifier] = entry
	}

	for _, entry := range primary {
		if entry == nil || !entry.HasIdentifier() {
			continue
		}
		other, ok := mirrorByID[*entry.Identifier]
		if !ok {
			res.OnlyInPrimary = append(res.OnlyInPrimary, entry)
			continue
		}
		if entry.Equivalent(other) {
			continue
		}
		winner, reason := pickWinner(entry, other)
		res.Conflicts = append(res.Conflicts, DataConflict{
			Identifier: *entry.Identifier,
			Primary:    entry,
			Mirror:     other,
			Winner:     winner,
			Reason:     reason,
		})
	}

	for _, entry := range mirror {
		if entry == nil || !entry.HasIdentifier() {
			continue
		}
		if _, ok := primaryByID[*entry.Identifier]; !ok {
			res.OnlyInMirror = append(res.OnlyInMirror, entry)
		}
	}

	return res
}

// pickWinner applies the resolution rules in order:
//  1. a strictly later usable timestamp wins;
//  2. on a tie or absence, an inactive variant beats an active one, so
//     removals are never resurrected;
//  3. higher source priority wins (SYSTEM > ADMIN > PLAYER);
//  4. the primary copy wins, guaranteeing determinism.
func pickWinner(primary, mirror *models.WhitelistEntry) (Side, string) {
	pt, mt := primary.Timestamp(), mirror.Timestamp()
	if !pt.IsZero() && !mt.IsZero() {
		if pt.After(mt) {
			return SidePrimary, "newer timestamp"
		}
		if mt.After(pt) {
			return SideMirror, "newer timestamp"
		}
	}

	if primary.Active != mirror.Active {
		if !primary.Active {
			return SidePrimary, "removal precedence"
		}
		return SideMirror, "removal precedence"
	}

	if primary.Source.Priority() != mirror.Source.Priority() {
		if primary.Source.Priority() > mirror.Source.Priority() {
			return SidePrimary, "source priority"
		}
		return SideMirror, "source priority"
	}

	return SidePrimary, "primary fallback"
}

// Entry returns the resolved winning entry for a conflict.
func (c DataConflict) Entry() *models.WhitelistEntry {
	if c.Winner == SideMirror {
		return c.Mirror
	}
	return c.Primary
}
