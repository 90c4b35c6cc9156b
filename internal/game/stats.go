package game

import (
	"sync"
	"time"

	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
)

// RunStats is a broadcast observer that accumulates resolution counters
// for one match.
type RunStats struct {
	mu          sync.Mutex
	runs        int
	emptyRuns   int
	executed    int
	skipped     int
	skipReasons map[string]int
	lastRunID   string
	lastOrder   int
	lastStarted time.Time
	lastRunTime time.Duration
}

// RunStatsView is a snapshot of the accumulated counters.
type RunStatsView struct {
	Runs            int            `json:"runs"`
	EmptyRuns       int            `json:"emptyRuns"`
	ActionsExecuted int            `json:"actionsExecuted"`
	ActionsSkipped  int            `json:"actionsSkipped"`
	SkipReasons     map[string]int `json:"skipReasons,omitempty"`
	LastRunID       string         `json:"lastRunId,omitempty"`
	LastRunActions  int            `json:"lastRunActions"`
	LastRunDuration time.Duration  `json:"lastRunDuration"`
}

// NewRunStats creates an empty stats collector.
func NewRunStats() *RunStats {
	return &RunStats{
		skipReasons: make(map[string]int),
	}
}

// OnResolutionEvent implements resolve.Observer.
func (s *RunStats) OnResolutionEvent(event resolve.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case resolve.EventResolutionStarted:
		s.runs++
		s.lastRunID = event.RunID
		s.lastOrder = len(event.Order)
		s.lastStarted = event.Timestamp
	case resolve.EventResolutionEmpty:
		s.emptyRuns++
	case resolve.EventActionFinished:
		s.executed++
	case resolve.EventActionSkipped:
		s.skipped++
		if event.Reason != "" {
			s.skipReasons[event.Reason]++
		}
	case resolve.EventResolutionEnded:
		if event.RunID == s.lastRunID && !s.lastStarted.IsZero() {
			s.lastRunTime = event.Timestamp.Sub(s.lastStarted)
		}
	}
}

// Reset clears the accumulated counters.
func (s *RunStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = 0
	s.emptyRuns = 0
	s.executed = 0
	s.skipped = 0
	s.skipReasons = make(map[string]int)
	s.lastRunID = ""
	s.lastOrder = 0
	s.lastStarted = time.Time{}
	s.lastRunTime = 0
}

// Snapshot returns a copy of the counters.
func (s *RunStats) Snapshot() RunStatsView {
	s.mu.Lock()
	defer s.mu.Unlock()

	reasons := make(map[string]int, len(s.skipReasons))
	for reason, count := range s.skipReasons {
		reasons[reason] = count
	}
	return RunStatsView{
		Runs:            s.runs,
		EmptyRuns:       s.emptyRuns,
		ActionsExecuted: s.executed,
		ActionsSkipped:  s.skipped,
		SkipReasons:     reasons,
		LastRunID:       s.lastRunID,
		LastRunActions:  s.lastOrder,
		LastRunDuration: s.lastRunTime,
	}
}
