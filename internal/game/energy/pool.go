package energy

import (
	"sync"
)

// Pool tracks one combatant's energy. Plays cost energy when queued and
// refund it when retracted; the pool regenerates when a new play window
// opens.
type Pool struct {
	mu       sync.RWMutex
	capacity int
	current  int
	regen    int
}

// NewPool creates a pool filled to capacity.
func NewPool(capacity, regen int) *Pool {
	if capacity < 0 {
		capacity = 0
	}
	return &Pool{
		capacity: capacity,
		current:  capacity,
		regen:    regen,
	}
}

// Current returns the energy available right now.
func (p *Pool) Current() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Capacity returns the pool's maximum.
func (p *Pool) Capacity() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.capacity
}

// CanPay reports whether the pool covers the cost.
func (p *Pool) CanPay(cost int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cost <= p.current
}

// Pay deducts the cost. It returns false and leaves the pool untouched when
// the cost exceeds the available energy. Non-positive costs always succeed.
func (p *Pool) Pay(cost int) bool {
	if cost <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cost > p.current {
		return false
	}
	p.current -= cost
	return true
}

// Refund returns energy to the pool, capped at capacity. Used when a queued
// play is retracted before resolution.
func (p *Pool) Refund(amount int) {
	if amount <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += amount
	if p.current > p.capacity {
		p.current = p.capacity
	}
}

// Regen applies the per-window regeneration, capped at capacity.
func (p *Pool) Regen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += p.regen
	if p.current > p.capacity {
		p.current = p.capacity
	}
}

// View is the externally visible state of a pool.
type View struct {
	CombatantID string `json:"combatantId"`
	Current     int    `json:"current"`
	Capacity    int    `json:"capacity"`
}

// Ledger owns the energy pools of one match, keyed by combatant id.
type Ledger struct {
	mu       sync.RWMutex
	pools    map[string]*Pool
	capacity int
	regen    int
}

// NewLedger creates a ledger whose pools start with the given capacity and
// per-window regeneration.
func NewLedger(capacity, regen int) *Ledger {
	return &Ledger{
		pools:    make(map[string]*Pool),
		capacity: capacity,
		regen:    regen,
	}
}

// Register creates the combatant's pool if it does not exist and returns it.
func (l *Ledger) Register(combatantID string) *Pool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pool, ok := l.pools[combatantID]; ok {
		return pool
	}
	pool := NewPool(l.capacity, l.regen)
	l.pools[combatantID] = pool
	return pool
}

// Pool looks up a combatant's pool.
func (l *Ledger) Pool(combatantID string) (*Pool, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pool, ok := l.pools[combatantID]
	return pool, ok
}

// CanPay reports whether the combatant can cover the cost. Unknown
// combatants cannot pay anything but a zero cost.
func (l *Ledger) CanPay(combatantID string, cost int) bool {
	pool, ok := l.Pool(combatantID)
	if !ok {
		return cost <= 0
	}
	return pool.CanPay(cost)
}

// Pay deducts the cost from the combatant's pool.
func (l *Ledger) Pay(combatantID string, cost int) bool {
	pool, ok := l.Pool(combatantID)
	if !ok {
		return cost <= 0
	}
	return pool.Pay(cost)
}

// Refund returns energy to the combatant's pool. Unknown ids are no-ops.
func (l *Ledger) Refund(combatantID string, amount int) {
	if pool, ok := l.Pool(combatantID); ok {
		pool.Refund(amount)
	}
}

// RegenAll applies window regeneration to every pool.
func (l *Ledger) RegenAll() {
	l.mu.RLock()
	pools := make([]*Pool, 0, len(l.pools))
	for _, pool := range l.pools {
		pools = append(pools, pool)
	}
	l.mu.RUnlock()

	for _, pool := range pools {
		pool.Regen()
	}
}

// Remove drops a combatant's pool when it leaves the match.
func (l *Ledger) Remove(combatantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pools, combatantID)
}

// Views returns a snapshot of every pool.
func (l *Ledger) Views() []View {
	l.mu.RLock()
	defer l.mu.RUnlock()
	views := make([]View, 0, len(l.pools))
	for combatantID, pool := range l.pools {
		views = append(views, View{
			CombatantID: combatantID,
			Current:     pool.Current(),
			Capacity:    pool.Capacity(),
		})
	}
	return views
}
