package resolve

import (
	"github.com/google/uuid"
)

// Outcome describes what the resolver ultimately did with a drained action.
type Outcome string

const (
	// OutcomePending means the action has not been processed yet.
	OutcomePending Outcome = "PENDING"
	// OutcomeExecuted means the action ran and finished (possibly via gate timeout).
	OutcomeExecuted Outcome = "EXECUTED"
	// OutcomeSkipped means the action was dropped by the validity check or the failure boundary.
	OutcomeSkipped Outcome = "SKIPPED"
)

// Action is one queued play awaiting resolution. Fields are set once at
// construction and never mutated afterwards; replacing a queued play means
// removing it and enqueueing a fresh Action.
type Action struct {
	ID         string
	SourceID   string
	TargetIDs  []string
	Initiative int
	PayloadRef string
}

// NewAction builds an Action with a fresh unique ID. An empty target list
// means the play targets its own source (or nothing at all).
func NewAction(sourceID string, targetIDs []string, initiative int, payloadRef string) *Action {
	targets := make([]string, len(targetIDs))
	copy(targets, targetIDs)
	return &Action{
		ID:         uuid.NewString(),
		SourceID:   sourceID,
		TargetIDs:  targets,
		Initiative: initiative,
		PayloadRef: payloadRef,
	}
}

// Summary is the externally visible form of an action inside an announced
// running order. It carries identifiers only, never internal handles.
type Summary struct {
	ActionID   string   `json:"actionId"`
	SourceID   string   `json:"sourceId"`
	TargetIDs  []string `json:"targetIds,omitempty"`
	Initiative int      `json:"initiative"`
	PayloadRef string   `json:"payloadRef,omitempty"`
}

// Summarize converts the action into its broadcast form.
func (a *Action) Summarize() Summary {
	targets := make([]string, len(a.TargetIDs))
	copy(targets, a.TargetIDs)
	return Summary{
		ActionID:   a.ID,
		SourceID:   a.SourceID,
		TargetIDs:  targets,
		Initiative: a.Initiative,
		PayloadRef: a.PayloadRef,
	}
}
