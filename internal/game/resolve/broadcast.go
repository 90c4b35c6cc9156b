package resolve

import (
	"sync"
)

// Observer consumes resolution lifecycle events. Implementations must be
// tolerant of seeing the same logical stream as every other observer and must
// not block for long: delivery is synchronous from the resolver's goroutine.
type Observer interface {
	OnResolutionEvent(Event)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(Event)

// OnResolutionEvent calls f.
func (f ObserverFunc) OnResolutionEvent(event Event) { f(event) }

// Broadcaster fans resolution lifecycle events out to all registered
// observers. Events for a run are delivered in publish order to each
// observer. The broadcaster retains the active run's announcement so an
// observer that joins mid-run can fetch the running order it missed instead
// of waiting for the next cycle.
type Broadcaster struct {
	mu         sync.Mutex
	observers  map[int]Observer
	nextHandle int
	current    *Event // retained RESOLUTION_STARTED of the active run
}

// NewBroadcaster constructs a broadcaster with no observers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns a handle for Unsubscribe.
func (b *Broadcaster) Subscribe(observer Observer) int {
	if observer == nil {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	handle := b.nextHandle
	b.nextHandle++
	b.observers[handle] = observer
	return handle
}

// Unsubscribe removes the observer identified by the handle. Unknown handles
// are no-ops.
func (b *Broadcaster) Unsubscribe(handle int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.observers, handle)
}

// Publish delivers the event to every observer synchronously. Announcements
// are retained until the run ends; terminal events clear the retention.
// Observers are invoked outside the broadcaster's lock so they may subscribe,
// unsubscribe, or query the current run from inside their callback.
func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	switch event.Type {
	case EventResolutionStarted:
		retained := event
		b.current = &retained
	case EventResolutionEnded, EventResolutionEmpty:
		b.current = nil
	}
	observers := make([]Observer, 0, len(b.observers))
	for _, observer := range b.observers {
		observers = append(observers, observer)
	}
	b.mu.Unlock()

	for _, observer := range observers {
		observer.OnResolutionEvent(event)
	}
}

// CurrentRun returns the retained announcement of the run in progress. The
// second return is false between runs.
func (b *Broadcaster) CurrentRun() (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Event{}, false
	}
	return *b.current, true
}

// ObserverCount reports how many observers are registered.
func (b *Broadcaster) ObserverCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}
