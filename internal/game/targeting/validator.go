package targeting

import (
	"fmt"
)

// RosterAccessor provides the combatant lookups the validator needs. The
// match roster implements it.
type RosterAccessor interface {
	// Exists reports whether the combatant is part of the match.
	Exists(combatantID string) bool
	// IsAlive reports whether the combatant is still standing.
	IsAlive(combatantID string) bool
}

// Validator checks target selections against a card's targeting rule at
// queue time. Targets that disappear between queueing and resolution are
// caught later by the resolution validity check, not here.
type Validator struct {
	roster RosterAccessor
}

// NewValidator creates a validator backed by the given roster.
func NewValidator(roster RosterAccessor) *Validator {
	return &Validator{roster: roster}
}

// ValidateSelection verifies that the selected targets satisfy the
// requirement: the count matches the rule, every target is a distinct
// living member of the roster, and self-rule plays carry no targets.
func (v *Validator) ValidateSelection(targetIDs []string, req Requirement) error {
	if err := req.checkCount(len(targetIDs)); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(targetIDs))
	for _, targetID := range targetIDs {
		if _, dup := seen[targetID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, targetID)
		}
		seen[targetID] = struct{}{}

		if v.roster == nil || !v.roster.Exists(targetID) {
			return fmt.Errorf("%w: %s", ErrUnknownTarget, targetID)
		}
		if !v.roster.IsAlive(targetID) {
			return fmt.Errorf("%w: %s", ErrTargetDown, targetID)
		}
	}
	return nil
}
