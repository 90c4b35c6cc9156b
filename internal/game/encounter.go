package game

import (
	"fmt"
	"sort"
	"sync"
)

// Encounters tracks which combatants are engaged with each other. A play
// against a target is only resolvable while the source shares an active
// encounter with it; defeat tears all of a combatant's encounters down,
// which is what invalidates plays still waiting on the queue.
type Encounters struct {
	mu     sync.RWMutex
	active map[string]map[string]struct{}
}

// NewEncounters creates an empty encounter registry.
func NewEncounters() *Encounters {
	return &Encounters{
		active: make(map[string]map[string]struct{}),
	}
}

// Pair opens an encounter between two combatants. Pairing is symmetric and
// idempotent.
func (e *Encounters) Pair(a, b string) error {
	if a == "" || b == "" {
		return fmt.Errorf("encounter needs two combatant ids")
	}
	if a == b {
		return fmt.Errorf("combatant %s cannot encounter itself", a)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.link(a, b)
	e.link(b, a)
	return nil
}

func (e *Encounters) link(from, to string) {
	partners, ok := e.active[from]
	if !ok {
		partners = make(map[string]struct{})
		e.active[from] = partners
	}
	partners[to] = struct{}{}
}

// Unpair ends the encounter between two combatants. Unknown pairs are
// no-ops.
func (e *Encounters) Unpair(a, b string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unlink(a, b)
	e.unlink(b, a)
}

func (e *Encounters) unlink(from, to string) {
	partners, ok := e.active[from]
	if !ok {
		return
	}
	delete(partners, to)
	if len(partners) == 0 {
		delete(e.active, from)
	}
}

// EndFor ends every encounter the combatant is part of, used on defeat or
// when it leaves the match.
func (e *Encounters) EndFor(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	partners, ok := e.active[id]
	if !ok {
		return
	}
	for partner := range partners {
		e.unlink(partner, id)
	}
	delete(e.active, id)
}

// IsActive reports whether the two combatants share an active encounter.
func (e *Encounters) IsActive(a, b string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	partners, ok := e.active[a]
	if !ok {
		return false
	}
	_, active := partners[b]
	return active
}

// Partners returns the ids the combatant is currently engaged with, sorted.
func (e *Encounters) Partners(id string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	partners := make([]string, 0, len(e.active[id]))
	for partner := range e.active[id] {
		partners = append(partners, partner)
	}
	sort.Strings(partners)
	return partners
}
