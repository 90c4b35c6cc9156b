package resolve

import (
	"context"
	"sync"
	"time"
)

// WaitResult reports how a completion gate resolved.
type WaitResult struct {
	Signaled bool          // a completion signal arrived before the deadline
	Waited   time.Duration // how long the resolver was held at the gate
}

// GateKeeper tracks one completion gate per in-flight action. The resolver
// opens a gate after executing an action and waits on it; the presentation
// layer signals the gate when the action's visual side effects have played
// out. The gate resolves at max(minDwell, min(timeSignaled, maxWait)), so a
// missing signal can delay an action by at most maxWait and an instant signal
// still holds the minimum dwell. The keeper has no knowledge of any rendering
// or transport layer; it is plain channels and timers.
type GateKeeper struct {
	mu    sync.Mutex
	gates map[string]chan struct{} // action id -> closed on signal
}

// NewGateKeeper creates a keeper with no open gates.
func NewGateKeeper() *GateKeeper {
	return &GateKeeper{
		gates: make(map[string]chan struct{}),
	}
}

// Open registers a gate for the action. Opening an already-open gate resets
// any signal it received.
func (gk *GateKeeper) Open(actionID string) {
	gk.mu.Lock()
	defer gk.mu.Unlock()
	gk.gates[actionID] = make(chan struct{})
}

// Signal reports that the action's presentation finished. It returns false
// when no gate is open for that id; a late or stray signal is a no-op and
// must never disturb the run.
func (gk *GateKeeper) Signal(actionID string) bool {
	gk.mu.Lock()
	defer gk.mu.Unlock()

	ch, ok := gk.gates[actionID]
	if !ok {
		return false
	}
	select {
	case <-ch:
		// already signaled
	default:
		close(ch)
	}
	return true
}

// Wait blocks until the action's gate resolves and then discards the gate.
// A canceled context releases the wait early; the caller decides what that
// means for the run.
func (gk *GateKeeper) Wait(ctx context.Context, actionID string, minDwell, maxWait time.Duration) WaitResult {
	start := time.Now()

	gk.mu.Lock()
	ch := gk.gates[actionID]
	gk.mu.Unlock()

	signaled := false
	if ch != nil {
		timer := time.NewTimer(maxWait)
		select {
		case <-ch:
			signaled = true
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	// Hold the gate until the minimum dwell has passed, even when the signal
	// arrived instantly or no presentation exists at all.
	if remaining := minDwell - time.Since(start); remaining > 0 && ctx.Err() == nil {
		timer := time.NewTimer(remaining)
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	gk.mu.Lock()
	delete(gk.gates, actionID)
	gk.mu.Unlock()

	return WaitResult{Signaled: signaled, Waited: time.Since(start)}
}

// OpenCount reports how many gates are currently open.
func (gk *GateKeeper) OpenCount() int {
	gk.mu.Lock()
	defer gk.mu.Unlock()
	return len(gk.gates)
}

// Reset discards every open gate. Called between runs and on match teardown.
func (gk *GateKeeper) Reset() {
	gk.mu.Lock()
	defer gk.mu.Unlock()
	gk.gates = make(map[string]chan struct{})
}
