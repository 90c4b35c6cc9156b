package game

import (
	"fmt"
	"sync"
)

// Combatant is one participant in a match.
type Combatant struct {
	ID        string
	Name      string
	MaxHealth int
	Health    int
	Alive     bool
}

// CombatantView is the externally visible state of a combatant.
type CombatantView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MaxHealth int    `json:"maxHealth"`
	Health    int    `json:"health"`
	Alive     bool   `json:"alive"`
}

// Roster holds the combatants of one match, keyed by id.
type Roster struct {
	mu         sync.RWMutex
	combatants map[string]*Combatant
	order      []string
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{
		combatants: make(map[string]*Combatant),
		order:      make([]string, 0, 4),
	}
}

// Add registers a combatant at full health. Duplicate ids are rejected.
func (r *Roster) Add(id, name string, maxHealth int) error {
	if id == "" {
		return fmt.Errorf("combatant id is required")
	}
	if maxHealth <= 0 {
		return fmt.Errorf("combatant %s: max health must be positive", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.combatants[id]; exists {
		return fmt.Errorf("combatant %s already in roster", id)
	}
	if name == "" {
		name = id
	}
	r.combatants[id] = &Combatant{
		ID:        id,
		Name:      name,
		MaxHealth: maxHealth,
		Health:    maxHealth,
		Alive:     true,
	}
	r.order = append(r.order, id)
	return nil
}

// Get returns a copy of the combatant.
func (r *Roster) Get(id string) (Combatant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	combatant, ok := r.combatants[id]
	if !ok {
		return Combatant{}, false
	}
	return *combatant, true
}

// Exists reports whether the combatant is part of the match.
func (r *Roster) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.combatants[id]
	return ok
}

// IsAlive reports whether the combatant is still standing.
func (r *Roster) IsAlive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	combatant, ok := r.combatants[id]
	return ok && combatant.Alive
}

// Damage applies damage to a combatant and reports how much landed and
// whether it was defeated by this hit. Dead or unknown combatants take
// nothing.
func (r *Roster) Damage(id string, amount int) (applied int, defeated bool) {
	if amount <= 0 {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	combatant, ok := r.combatants[id]
	if !ok || !combatant.Alive {
		return 0, false
	}
	applied = amount
	if applied > combatant.Health {
		applied = combatant.Health
	}
	combatant.Health -= applied
	if combatant.Health <= 0 {
		combatant.Health = 0
		combatant.Alive = false
		defeated = true
	}
	return applied, defeated
}

// Heal restores health up to the combatant's maximum and reports how much
// was actually restored. The dead stay dead.
func (r *Roster) Heal(id string, amount int) int {
	if amount <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	combatant, ok := r.combatants[id]
	if !ok || !combatant.Alive {
		return 0
	}
	healed := amount
	if combatant.Health+healed > combatant.MaxHealth {
		healed = combatant.MaxHealth - combatant.Health
	}
	combatant.Health += healed
	return healed
}

// Remove drops a combatant from the roster.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.combatants[id]; !ok {
		return
	}
	delete(r.combatants, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// IDs returns every combatant id in join order.
func (r *Roster) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Living returns the ids of combatants still standing, in join order.
func (r *Roster) Living() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	living := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.combatants[id].Alive {
			living = append(living, id)
		}
	}
	return living
}

// Len returns the roster size.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.combatants)
}

// Views returns a snapshot of every combatant in join order.
func (r *Roster) Views() []CombatantView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	views := make([]CombatantView, 0, len(r.order))
	for _, id := range r.order {
		combatant := r.combatants[id]
		views = append(views, CombatantView{
			ID:        combatant.ID,
			Name:      combatant.Name,
			MaxHealth: combatant.MaxHealth,
			Health:    combatant.Health,
			Alive:     combatant.Alive,
		})
	}
	return views
}
