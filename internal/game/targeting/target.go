package targeting

import (
	"errors"
	"fmt"
)

// Rule describes how many targets a card expects when played.
type Rule string

const (
	// RuleSelf takes no targets, the play applies to its source.
	RuleSelf Rule = "SELF"
	// RuleSingle takes exactly one target.
	RuleSingle Rule = "SINGLE"
	// RuleMulti takes one or more distinct targets, bounded by the
	// requirement's MaxTargets.
	RuleMulti Rule = "MULTI"
)

// Requirement is a card's targeting contract. MaxTargets only applies to
// RuleMulti; zero means unbounded.
type Requirement struct {
	Rule       Rule
	MaxTargets int
}

var (
	// ErrTargetCount is returned when the number of selected targets does
	// not satisfy the card's rule.
	ErrTargetCount = errors.New("target count does not satisfy rule")
	// ErrDuplicateTarget is returned when the same target id appears twice.
	ErrDuplicateTarget = errors.New("duplicate target")
	// ErrUnknownTarget is returned when a selected target is not in the
	// match roster.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrTargetDown is returned when a selected target is already defeated.
	ErrTargetDown = errors.New("target is down")
)

// checkCount verifies the selection size against the rule.
func (r Requirement) checkCount(count int) error {
	switch r.Rule {
	case RuleSelf:
		if count != 0 {
			return fmt.Errorf("%w: rule %s takes no targets, got %d", ErrTargetCount, r.Rule, count)
		}
	case RuleSingle:
		if count != 1 {
			return fmt.Errorf("%w: rule %s takes exactly one target, got %d", ErrTargetCount, r.Rule, count)
		}
	case RuleMulti:
		if count < 1 {
			return fmt.Errorf("%w: rule %s takes at least one target", ErrTargetCount, r.Rule)
		}
		if r.MaxTargets > 0 && count > r.MaxTargets {
			return fmt.Errorf("%w: rule %s takes at most %d targets, got %d", ErrTargetCount, r.Rule, r.MaxTargets, count)
		}
	default:
		return fmt.Errorf("unknown target rule %q", r.Rule)
	}
	return nil
}
