package effects

import (
	"fmt"

	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
	"github.com/openskirmish/skirmish-server-go/internal/game/status"
)

// Roster is the subset of match roster operations effects need.
type Roster interface {
	// IsAlive reports whether the combatant is still standing.
	IsAlive(combatantID string) bool
	// Damage applies damage and reports how much landed and whether the
	// combatant was defeated by it.
	Damage(combatantID string, amount int) (applied int, defeated bool)
	// Heal restores health up to the combatant's maximum.
	Heal(combatantID string, amount int) int
}

// Executor applies card effects when the resolver executes a play. A play's
// payload ref is the card id it was queued with.
type Executor struct {
	catalog  *content.Catalog
	roster   Roster
	board    *status.Board
	onDefeat func(combatantID string)
}

// NewExecutor creates an executor over the match's roster and status board.
// onDefeat runs for each combatant a play brings down; the engine uses it
// to tear down the combatant's encounters.
func NewExecutor(catalog *content.Catalog, roster Roster, board *status.Board, onDefeat func(combatantID string)) *Executor {
	return &Executor{
		catalog:  catalog,
		roster:   roster,
		board:    board,
		onDefeat: onDefeat,
	}
}

// Execute implements resolve.Executor.
func (x *Executor) Execute(action *resolve.Action) error {
	if action == nil {
		return fmt.Errorf("action is nil")
	}
	card, ok := x.catalog.Card(action.PayloadRef)
	if !ok {
		return fmt.Errorf("unknown card %q", action.PayloadRef)
	}

	targets := action.TargetIDs
	if len(targets) == 0 {
		targets = []string{action.SourceID}
	}

	switch card.Effect.Kind {
	case content.EffectDamage:
		x.dealDamage(action.SourceID, targets, card.Effect.Magnitude)
	case content.EffectHeal:
		for _, targetID := range targets {
			x.roster.Heal(targetID, card.Effect.Magnitude)
		}
	case content.EffectShield:
		for _, targetID := range targets {
			x.board.Add(targetID, status.KindGuard, card.Effect.Magnitude)
		}
	case content.EffectStatus:
		for _, targetID := range targets {
			x.board.Add(targetID, card.StatusKind(), card.Effect.Stacks)
		}
	default:
		return fmt.Errorf("card %s: unknown effect kind %q", card.ID, card.Effect.Kind)
	}
	return nil
}

// dealDamage applies damage to each target, reduced by the source's weaken
// stacks and absorbed by the target's guard stacks first.
func (x *Executor) dealDamage(sourceID string, targets []string, magnitude int) {
	effective := magnitude - x.board.Count(sourceID, status.KindWeaken)
	if effective <= 0 {
		return
	}
	for _, targetID := range targets {
		absorbed := x.board.Consume(targetID, status.KindGuard, effective)
		remaining := effective - absorbed
		if remaining <= 0 {
			continue
		}
		_, defeated := x.roster.Damage(targetID, remaining)
		if defeated && x.onDefeat != nil {
			x.onDefeat(targetID)
		}
	}
}
