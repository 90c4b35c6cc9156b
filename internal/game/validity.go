package game

import (
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

// playValidity decides at resolution time whether a queued play can still
// happen: the source must be standing, and every target must be standing
// and still engaged with the source. Plays on the source itself only need
// the source alive.
type playValidity struct {
	roster     *Roster
	encounters *Encounters
}

func newPlayValidity(roster *Roster, encounters *Encounters) *playValidity {
	return &playValidity{
		roster:     roster,
		encounters: encounters,
	}
}

// IsStillValid implements resolve.ValidityChecker.
func (v *playValidity) IsStillValid(action *resolve.Action) bool {
	if action == nil {
		return false
	}
	if !v.roster.IsAlive(action.SourceID) {
		return false
	}
	for _, targetID := range action.TargetIDs {
		if targetID == action.SourceID {
			continue
		}
		if !v.roster.IsAlive(targetID) {
			return false
		}
		if !v.encounters.IsActive(action.SourceID, targetID) {
			return false
		}
	}
	return true
}
