package status

import (
	"sort"
	"sync"
)

// Kind identifies a stackable status applied to a combatant.
type Kind string

const (
	// KindBurn deals its stack count in damage when a play window opens,
	// then loses one stack.
	KindBurn Kind = "BURN"
	// KindGuard absorbs incoming damage one point per stack and persists
	// until consumed.
	KindGuard Kind = "GUARD"
	// KindWeaken reduces the bearer's outgoing damage by its stack count
	// and loses one stack per window.
	KindWeaken Kind = "WEAKEN"
)

// decays reports whether the kind sheds one stack at each window tick.
func (k Kind) decays() bool {
	switch k {
	case KindBurn, KindWeaken:
		return true
	}
	return false
}

// Stack is the externally visible state of one applied status.
type Stack struct {
	CombatantID string `json:"combatantId"`
	Kind        Kind   `json:"kind"`
	Count       int    `json:"count"`
}

// Board tracks the status stacks of every combatant in a match. Effects add
// stacks during resolution and the engine ticks them when a play window
// opens.
type Board struct {
	mu      sync.RWMutex
	applied map[string]map[Kind]int
}

// NewBoard creates an empty status board.
func NewBoard() *Board {
	return &Board{
		applied: make(map[string]map[Kind]int),
	}
}

// Add applies count stacks of the kind, merging with any existing stacks.
// Non-positive counts are ignored.
func (b *Board) Add(combatantID string, kind Kind, count int) {
	if count <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stacks, ok := b.applied[combatantID]
	if !ok {
		stacks = make(map[Kind]int)
		b.applied[combatantID] = stacks
	}
	stacks[kind] += count
}

// Remove takes count stacks of the kind away. It returns false when the
// combatant has no stacks of that kind. Dropping to zero removes the entry.
func (b *Board) Remove(combatantID string, kind Kind, count int) bool {
	if count <= 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stacks, ok := b.applied[combatantID]
	if !ok || stacks[kind] == 0 {
		return false
	}
	stacks[kind] -= count
	if stacks[kind] <= 0 {
		delete(stacks, kind)
	}
	if len(stacks) == 0 {
		delete(b.applied, combatantID)
	}
	return true
}

// Consume removes up to upTo stacks of the kind and returns how many were
// actually taken. Guard absorption uses this to burn shield stacks against
// incoming damage.
func (b *Board) Consume(combatantID string, kind Kind, upTo int) int {
	if upTo <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	stacks, ok := b.applied[combatantID]
	if !ok {
		return 0
	}
	have := stacks[kind]
	if have == 0 {
		return 0
	}
	taken := upTo
	if taken > have {
		taken = have
	}
	stacks[kind] -= taken
	if stacks[kind] <= 0 {
		delete(stacks, kind)
	}
	if len(stacks) == 0 {
		delete(b.applied, combatantID)
	}
	return taken
}

// Count returns the stack count of the kind on the combatant.
func (b *Board) Count(combatantID string, kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	stacks, ok := b.applied[combatantID]
	if !ok {
		return 0
	}
	return stacks[kind]
}

// Has reports whether the combatant carries any stacks of the kind.
func (b *Board) Has(combatantID string, kind Kind) bool {
	return b.Count(combatantID, kind) > 0
}

// ClearFor removes every status from a combatant, used when it leaves the
// match or is defeated.
func (b *Board) ClearFor(combatantID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.applied, combatantID)
}

// TickAll advances every status by one window: burn stacks deal their count
// in damage, decaying kinds lose one stack. The returned map carries the
// burn damage owed per combatant.
func (b *Board) TickAll() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	damage := make(map[string]int)
	for combatantID, stacks := range b.applied {
		if burn := stacks[KindBurn]; burn > 0 {
			damage[combatantID] = burn
		}
		for kind := range stacks {
			if !kind.decays() {
				continue
			}
			stacks[kind]--
			if stacks[kind] <= 0 {
				delete(stacks, kind)
			}
		}
		if len(stacks) == 0 {
			delete(b.applied, combatantID)
		}
	}
	return damage
}

// Snapshot returns every applied status in a stable order.
func (b *Board) Snapshot() []Stack {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snapshot := make([]Stack, 0, len(b.applied))
	for combatantID, stacks := range b.applied {
		for kind, count := range stacks {
			snapshot = append(snapshot, Stack{
				CombatantID: combatantID,
				Kind:        kind,
				Count:       count,
			})
		}
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].CombatantID != snapshot[j].CombatantID {
			return snapshot[i].CombatantID < snapshot[j].CombatantID
		}
		return snapshot[i].Kind < snapshot[j].Kind
	})
	return snapshot
}
