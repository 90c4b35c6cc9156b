package resolve

import (
	"time"
)

// EventType identifies a resolution lifecycle event.
type EventType string

const (
	// EventResolutionStarted announces the full running order before anything executes.
	EventResolutionStarted EventType = "RESOLUTION_STARTED"
	// EventActionSkipped marks one announced slot as skipped.
	EventActionSkipped EventType = "ACTION_SKIPPED"
	// EventActionFinished marks one announced slot as executed and presented.
	EventActionFinished EventType = "ACTION_FINISHED"
	// EventResolutionEnded closes a run that announced at least one action.
	EventResolutionEnded EventType = "RESOLUTION_ENDED"
	// EventResolutionEmpty is the only event of a run that drained nothing.
	EventResolutionEmpty EventType = "RESOLUTION_EMPTY"
)

// Skip reasons carried on ACTION_SKIPPED events.
const (
	// ReasonContextEnded means the validity check rejected the action.
	ReasonContextEnded = "CONTEXT_ENDED"
	// ReasonExecuteFailed means the executor returned an error or panicked.
	ReasonExecuteFailed = "EXECUTE_FAILED"
)

// Event is one entry in a run's lifecycle stream. Events are append-only:
// once published they are never retracted or revised, and within a run they
// arrive in strict index order.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"runId"`
	Index     int       `json:"index"`              // slot within the announced order; -1 when not action-scoped
	ActionID  string    `json:"actionId,omitempty"` // set on per-action events
	Reason    string    `json:"reason,omitempty"`   // set on ACTION_SKIPPED
	Order     []Summary `json:"order,omitempty"`    // set on RESOLUTION_STARTED
	Timestamp time.Time `json:"timestamp"`
}

// NewStartedEvent builds the announcement event carrying the full order.
func NewStartedEvent(runID string, order []Summary) Event {
	return Event{
		Type:      EventResolutionStarted,
		RunID:     runID,
		Index:     -1,
		Order:     order,
		Timestamp: time.Now(),
	}
}

// NewSkippedEvent builds the per-action skip event.
func NewSkippedEvent(runID string, index int, actionID, reason string) Event {
	return Event{
		Type:      EventActionSkipped,
		RunID:     runID,
		Index:     index,
		ActionID:  actionID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// NewFinishedEvent builds the per-action completion event.
func NewFinishedEvent(runID string, index int, actionID string) Event {
	return Event{
		Type:      EventActionFinished,
		RunID:     runID,
		Index:     index,
		ActionID:  actionID,
		Timestamp: time.Now(),
	}
}

// NewEndedEvent builds the terminal event of a non-empty run.
func NewEndedEvent(runID string) Event {
	return Event{
		Type:      EventResolutionEnded,
		RunID:     runID,
		Index:     -1,
		Timestamp: time.Now(),
	}
}

// NewEmptyEvent builds the sole event of a run that found nothing to resolve.
func NewEmptyEvent(runID string) Event {
	return Event{
		Type:      EventResolutionEmpty,
		RunID:     runID,
		Index:     -1,
		Timestamp: time.Now(),
	}
}
