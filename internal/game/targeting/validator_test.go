package targeting

import (
	"errors"
	"testing"
)

type fakeRoster struct {
	members map[string]bool
}

func (r *fakeRoster) Exists(combatantID string) bool {
	_, ok := r.members[combatantID]
	return ok
}

func (r *fakeRoster) IsAlive(combatantID string) bool {
	return r.members[combatantID]
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{members: map[string]bool{
		"hero":   true,
		"rival":  true,
		"minion": true,
		"fallen": false,
	}}
}

func TestValidateSelectionSelfRule(t *testing.T) {
	v := NewValidator(newFakeRoster())

	if err := v.ValidateSelection(nil, Requirement{Rule: RuleSelf}); err != nil {
		t.Fatalf("self rule with no targets should pass: %v", err)
	}
	err := v.ValidateSelection([]string{"rival"}, Requirement{Rule: RuleSelf})
	if !errors.Is(err, ErrTargetCount) {
		t.Fatalf("self rule with a target should fail with ErrTargetCount, got %v", err)
	}
}

func TestValidateSelectionSingleRule(t *testing.T) {
	v := NewValidator(newFakeRoster())
	req := Requirement{Rule: RuleSingle}

	if err := v.ValidateSelection([]string{"rival"}, req); err != nil {
		t.Fatalf("single living target should pass: %v", err)
	}
	if err := v.ValidateSelection(nil, req); !errors.Is(err, ErrTargetCount) {
		t.Fatalf("no targets should fail with ErrTargetCount, got %v", err)
	}
	if err := v.ValidateSelection([]string{"rival", "minion"}, req); !errors.Is(err, ErrTargetCount) {
		t.Fatalf("two targets should fail with ErrTargetCount, got %v", err)
	}
}

func TestValidateSelectionMultiRule(t *testing.T) {
	v := NewValidator(newFakeRoster())
	req := Requirement{Rule: RuleMulti, MaxTargets: 2}

	if err := v.ValidateSelection([]string{"rival", "minion"}, req); err != nil {
		t.Fatalf("two distinct living targets should pass: %v", err)
	}
	if err := v.ValidateSelection(nil, req); !errors.Is(err, ErrTargetCount) {
		t.Fatalf("multi rule needs at least one target, got %v", err)
	}
	err := v.ValidateSelection([]string{"hero", "rival", "minion"}, req)
	if !errors.Is(err, ErrTargetCount) {
		t.Fatalf("three targets exceed MaxTargets 2, got %v", err)
	}
}

func TestValidateSelectionUnboundedMulti(t *testing.T) {
	v := NewValidator(newFakeRoster())
	req := Requirement{Rule: RuleMulti}

	if err := v.ValidateSelection([]string{"hero", "rival", "minion"}, req); err != nil {
		t.Fatalf("MaxTargets zero means unbounded: %v", err)
	}
}

func TestValidateSelectionRejectsDuplicates(t *testing.T) {
	v := NewValidator(newFakeRoster())
	req := Requirement{Rule: RuleMulti, MaxTargets: 3}

	err := v.ValidateSelection([]string{"rival", "rival"}, req)
	if !errors.Is(err, ErrDuplicateTarget) {
		t.Fatalf("expected ErrDuplicateTarget, got %v", err)
	}
}

func TestValidateSelectionRejectsUnknownTarget(t *testing.T) {
	v := NewValidator(newFakeRoster())

	err := v.ValidateSelection([]string{"ghost"}, Requirement{Rule: RuleSingle})
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestValidateSelectionRejectsDownedTarget(t *testing.T) {
	v := NewValidator(newFakeRoster())

	err := v.ValidateSelection([]string{"fallen"}, Requirement{Rule: RuleSingle})
	if !errors.Is(err, ErrTargetDown) {
		t.Fatalf("expected ErrTargetDown, got %v", err)
	}
}

func TestValidateSelectionUnknownRule(t *testing.T) {
	v := NewValidator(newFakeRoster())

	if err := v.ValidateSelection(nil, Requirement{Rule: Rule("WILD")}); err == nil {
		t.Fatal("unknown rule should fail")
	}
}
