package game

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWindowStartsClosed(t *testing.T) {
	w := NewWindow()
	if w.IsOpen() {
		t.Fatal("new window should be closed")
	}
	if _, err := w.MarkReady("hero"); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestWindowMarkReadyUntilAll(t *testing.T) {
	w := NewWindow()
	w.Open([]string{"hero", "rival"}, 0, nil)

	if !w.IsOpen() {
		t.Fatal("window should be open")
	}
	all, err := w.MarkReady("hero")
	if err != nil || all {
		t.Fatalf("first ready should not complete the window: %v %v", all, err)
	}
	ready, expected := w.ReadyCount()
	if ready != 1 || expected != 2 {
		t.Fatalf("expected 1/2 ready, got %d/%d", ready, expected)
	}

	all, err = w.MarkReady("rival")
	if err != nil || !all {
		t.Fatalf("second ready should complete the window: %v %v", all, err)
	}
	if !w.AllReady() {
		t.Fatal("AllReady should hold")
	}
}

func TestWindowRejectsOutsiders(t *testing.T) {
	w := NewWindow()
	w.Open([]string{"hero"}, 0, nil)

	if _, err := w.MarkReady("stranger"); !errors.Is(err, ErrNotInWindow) {
		t.Fatalf("expected ErrNotInWindow, got %v", err)
	}
}

func TestWindowDeadlineExpiry(t *testing.T) {
	w := NewWindow()
	var fired atomic.Int32
	w.Open([]string{"hero"}, 20*time.Millisecond, func() {
		fired.Add(1)
	})

	if _, ok := w.Deadline(); !ok {
		t.Fatal("window with duration should report a deadline")
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatalf("expiry callback should fire once, fired %d", fired.Load())
	}
	if w.IsOpen() {
		t.Fatal("expired window should be closed")
	}
}

func TestWindowCloseStopsExpiry(t *testing.T) {
	w := NewWindow()
	var fired atomic.Int32
	w.Open([]string{"hero"}, 30*time.Millisecond, func() {
		fired.Add(1)
	})
	w.Close()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("closing the window must cancel the expiry callback")
	}
}

func TestWindowReopenInvalidatesOldTimer(t *testing.T) {
	w := NewWindow()
	var firstFired atomic.Int32
	w.Open([]string{"hero"}, 25*time.Millisecond, func() {
		firstFired.Add(1)
	})
	w.Open([]string{"hero", "rival"}, 0, nil)

	time.Sleep(60 * time.Millisecond)
	if firstFired.Load() != 0 {
		t.Fatal("reopening must disarm the previous window's expiry")
	}
	if !w.IsOpen() {
		t.Fatal("second window should still be open")
	}
	ready, expected := w.ReadyCount()
	if ready != 0 || expected != 2 {
		t.Fatalf("reopen should reset readiness, got %d/%d", ready, expected)
	}
}

func TestWindowExclude(t *testing.T) {
	w := NewWindow()
	w.Open([]string{"hero", "rival"}, 0, nil)
	w.MarkReady("hero")

	w.Exclude("rival")
	if !w.AllReady() {
		t.Fatal("window should be all ready once the holdout leaves")
	}
	if w.Includes("rival") {
		t.Fatal("excluded combatant is no longer part of the window")
	}
}

func TestWindowNoDeadline(t *testing.T) {
	w := NewWindow()
	w.Open([]string{"hero"}, 0, nil)
	if _, ok := w.Deadline(); ok {
		t.Fatal("window without duration has no deadline")
	}
}
