package game

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrWindowClosed is returned when a play arrives outside an open play
	// window.
	ErrWindowClosed = errors.New("play window is closed")
	// ErrNotInWindow is returned when a combatant that is not part of the
	// window tries to act in it.
	ErrNotInWindow = errors.New("combatant is not part of the play window")
)

// Window is the phase between resolution runs in which combatants queue
// their plays. It closes when every expected combatant has marked ready or
// when the deadline expires, whichever comes first.
type Window struct {
	mu       sync.Mutex
	open     bool
	epoch    int
	deadline time.Time
	expected map[string]struct{}
	ready    map[string]bool
	timer    *time.Timer
}

// NewWindow creates a closed window.
func NewWindow() *Window {
	return &Window{
		expected: make(map[string]struct{}),
		ready:    make(map[string]bool),
	}
}

// Open starts a fresh window for the given combatants. A non-positive
// duration opens the window without a deadline. onExpire runs once if the
// deadline passes before the window is closed.
func (w *Window) Open(combatantIDs []string, duration time.Duration, onExpire func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}

	w.open = true
	w.epoch++
	w.deadline = time.Time{}
	w.expected = make(map[string]struct{}, len(combatantIDs))
	w.ready = make(map[string]bool, len(combatantIDs))
	for _, id := range combatantIDs {
		w.expected[id] = struct{}{}
	}

	if duration > 0 {
		w.deadline = time.Now().Add(duration)
		epoch := w.epoch
		w.timer = time.AfterFunc(duration, func() {
			w.expire(epoch, onExpire)
		})
	}
}

// expire closes the window if it is still the one the timer was armed for.
func (w *Window) expire(epoch int, onExpire func()) {
	w.mu.Lock()
	if !w.open || w.epoch != epoch {
		w.mu.Unlock()
		return
	}
	w.open = false
	w.timer = nil
	w.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
}

// MarkReady records that the combatant has locked in its plays and reports
// whether every expected combatant is now ready.
func (w *Window) MarkReady(combatantID string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return false, ErrWindowClosed
	}
	if _, ok := w.expected[combatantID]; !ok {
		return false, ErrNotInWindow
	}
	w.ready[combatantID] = true
	return w.allReadyLocked(), nil
}

func (w *Window) allReadyLocked() bool {
	for id := range w.expected {
		if !w.ready[id] {
			return false
		}
	}
	return true
}

// AllReady reports whether every expected combatant has marked ready.
func (w *Window) AllReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open && w.allReadyLocked()
}

// IsOpen reports whether plays are currently accepted.
func (w *Window) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// Includes reports whether the combatant is part of the current window.
func (w *Window) Includes(combatantID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.expected[combatantID]
	return ok
}

// Exclude drops a combatant from the current window, used when it leaves
// the match mid-window. The remaining combatants decide readiness.
func (w *Window) Exclude(combatantID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.expected, combatantID)
	delete(w.ready, combatantID)
}

// Deadline returns the window's deadline. The second result is false when
// the window has no deadline or is closed.
func (w *Window) Deadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open || w.deadline.IsZero() {
		return time.Time{}, false
	}
	return w.deadline, true
}

// ReadyCount returns how many combatants have marked ready and how many
// are expected.
func (w *Window) ReadyCount() (ready, expected int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id := range w.expected {
		if w.ready[id] {
			ready++
		}
	}
	return ready, len(w.expected)
}

// Close shuts the window before its deadline. Closing a closed window is a
// no-op.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.open = false
}
