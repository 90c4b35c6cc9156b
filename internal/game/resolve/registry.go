package resolve

import (
	"errors"
	"sync"
)

// ErrAlreadyQueued is returned when an action handle is enqueued twice.
var ErrAlreadyQueued = errors.New("action already queued")

// Registry owns every pending play queue for a match. It is the only mutable
// shared state in the resolution core: producers enqueue and retract plays
// through it, and the resolver drains it exactly once per cycle. A single
// mutex serializes producers against the drain, so an enqueue can never be
// lost halfway through a DrainAll.
type Registry struct {
	mu     sync.Mutex
	queues map[string][]*Action // entity id -> pending actions in arrival order
	owners map[string]string    // action id -> entity id holding it
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		queues: make(map[string][]*Action),
		owners: make(map[string]string),
	}
}

// Enqueue appends the action to the entity's queue, creating the queue on
// first use. An action handle may live in at most one queue at a time;
// enqueueing the same handle twice is rejected.
func (r *Registry) Enqueue(entityID string, action *Action) error {
	if action == nil {
		return errors.New("nil action")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.owners[action.ID]; exists {
		return ErrAlreadyQueued
	}
	r.queues[entityID] = append(r.queues[entityID], action)
	r.owners[action.ID] = entityID
	return nil
}

// Remove retracts a single pending action. It returns false when the action
// is not queued under that entity; that is a no-op signal, not an error.
func (r *Registry) Remove(entityID, actionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.queues[entityID]
	for idx, action := range pending {
		if action.ID == actionID {
			r.queues[entityID] = append(pending[:idx], pending[idx+1:]...)
			delete(r.owners, actionID)
			return true
		}
	}
	return false
}

// DrainAll atomically empties every queue and returns the prior contents
// keyed by entity id. Entities with nothing pending do not appear in the
// result. Calling it again immediately yields an empty map.
func (r *Registry) DrainAll() map[string][]*Action {
	r.mu.Lock()
	defer r.mu.Unlock()

	drained := make(map[string][]*Action, len(r.queues))
	for entityID, pending := range r.queues {
		if len(pending) == 0 {
			continue
		}
		drained[entityID] = pending
		r.queues[entityID] = nil
	}
	r.owners = make(map[string]string)
	return drained
}

// Clear empties one entity's queue without returning its contents.
func (r *Registry) Clear(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, action := range r.queues[entityID] {
		delete(r.owners, action.ID)
	}
	r.queues[entityID] = nil
}

// ClearAll empties every queue. Used for administrative resets such as an
// encounter restart.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.queues = make(map[string][]*Action)
	r.owners = make(map[string]string)
}

// Forget clears an entity's queue and drops its mapping entry entirely.
// Used when an entity leaves the match permanently.
func (r *Registry) Forget(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, action := range r.queues[entityID] {
		delete(r.owners, action.ID)
	}
	delete(r.queues, entityID)
}

// Count reports how many plays an entity has pending. Unknown entity ids
// yield zero, never an error.
func (r *Registry) Count(entityID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[entityID])
}

// TotalCount reports the number of pending plays across all entities.
func (r *Registry) TotalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}
