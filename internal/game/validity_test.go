package game

import (
	"testing"

	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

func newValidityFixture(t *testing.T) (*Roster, *Encounters, *playValidity) {
	t.Helper()
	roster := NewRoster()
	for _, id := range []string{"hero", "rival", "minion"} {
		if err := roster.Add(id, id, 10); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	enc := NewEncounters()
	enc.Pair("hero", "rival")
	enc.Pair("hero", "minion")
	return roster, enc, newPlayValidity(roster, enc)
}

func TestValidityHoldsForLivePairedTargets(t *testing.T) {
	_, _, validity := newValidityFixture(t)

	action := resolve.NewAction("hero", []string{"rival", "minion"}, 5, "cleave")
	if !validity.IsStillValid(action) {
		t.Fatal("live paired targets should be valid")
	}
}

func TestValidityFailsWhenSourceIsDown(t *testing.T) {
	roster, _, validity := newValidityFixture(t)
	roster.Damage("hero", 10)

	action := resolve.NewAction("hero", []string{"rival"}, 5, "strike")
	if validity.IsStillValid(action) {
		t.Fatal("a downed source cannot act")
	}
}

func TestValidityFailsWhenTargetIsDown(t *testing.T) {
	roster, _, validity := newValidityFixture(t)
	roster.Damage("rival", 10)

	action := resolve.NewAction("hero", []string{"rival"}, 5, "strike")
	if validity.IsStillValid(action) {
		t.Fatal("a downed target invalidates the play")
	}
}

func TestValidityFailsWhenEncounterEnded(t *testing.T) {
	_, enc, validity := newValidityFixture(t)
	enc.EndFor("rival")

	action := resolve.NewAction("hero", []string{"rival"}, 5, "strike")
	if validity.IsStillValid(action) {
		t.Fatal("an ended encounter invalidates the play")
	}
}

func TestValiditySelfPlayNeedsOnlyLivingSource(t *testing.T) {
	_, enc, validity := newValidityFixture(t)
	enc.EndFor("hero")

	if !validity.IsStillValid(resolve.NewAction("hero", nil, 5, "mend")) {
		t.Fatal("untargeted self play should stay valid without encounters")
	}
	if !validity.IsStillValid(resolve.NewAction("hero", []string{"hero"}, 5, "ward")) {
		t.Fatal("self-targeted play should stay valid without encounters")
	}
}

func TestValidityNilAction(t *testing.T) {
	_, _, validity := newValidityFixture(t)
	if validity.IsStillValid(nil) {
		t.Fatal("nil action is never valid")
	}
}
