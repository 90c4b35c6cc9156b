package game

import (
	"sync"
	"time"

	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game/energy"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
	"github.com/openskirmish/skirmish-server-go/internal/game/status"
	"github.com/openskirmish/skirmish-server-go/internal/game/targeting"
)

// MatchState tracks where a match is in its lifecycle.
type MatchState string

const (
	// MatchStateInProgress means play windows keep opening.
	MatchStateInProgress MatchState = "IN_PROGRESS"
	// MatchStateFinished means fewer than two combatants are standing.
	MatchStateFinished MatchState = "FINISHED"
)

// play tracks a queued play so it can be retracted and refunded before
// resolution.
type play struct {
	actionID    string
	combatantID string
	cardID      string
	cost        int
}

// Match bundles everything one skirmish owns: the roster, encounters,
// energy, statuses, the play window, and its own resolution pipeline.
// Matches never share resolution state.
type Match struct {
	ID        string
	Seed      int64
	CreatedAt time.Time

	roster     *Roster
	encounters *Encounters
	energy     *energy.Ledger
	statuses   *status.Board
	window     *Window
	journal    *Journal
	stats      *RunStats
	targets    *targeting.Validator
	catalog    *content.Catalog

	registry    *resolve.Registry
	gates       *resolve.GateKeeper
	broadcaster *resolve.Broadcaster
	resolver    *resolve.Resolver

	mu    sync.Mutex
	state MatchState
	round int
	plays map[string]play
}

// MatchView is the externally visible state of a match.
type MatchView struct {
	MatchID        string          `json:"matchId"`
	State          MatchState      `json:"state"`
	Round          int             `json:"round"`
	Seed           int64           `json:"seed"`
	Combatants     []CombatantView `json:"combatants"`
	Energy         []energy.View   `json:"energy"`
	Statuses       []status.Stack  `json:"statuses,omitempty"`
	WindowOpen     bool            `json:"windowOpen"`
	WindowDeadline *time.Time      `json:"windowDeadline,omitempty"`
	Ready          int             `json:"ready"`
	Expected       int             `json:"expected"`
	PendingPlays   int             `json:"pendingPlays"`
	Stats          RunStatsView    `json:"stats"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (m *Match) trackPlay(p play) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays[p.actionID] = p
}

func (m *Match) lookupPlay(actionID string) (play, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plays[actionID]
	return p, ok
}

func (m *Match) dropPlay(actionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.plays, actionID)
}

// dropPlaysFor discards every tracked play of the combatant.
func (m *Match) dropPlaysFor(combatantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for actionID, p := range m.plays {
		if p.combatantID == combatantID {
			delete(m.plays, actionID)
		}
	}
}

// prunePlays discards the tracked plays a finished run consumed.
func (m *Match) prunePlays(report *resolve.RunReport) {
	if report == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, summary := range report.Order {
		delete(m.plays, summary.ActionID)
	}
}

// State returns the match lifecycle state.
func (m *Match) State() MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Match) setState(state MatchState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// Round returns the current round number.
func (m *Match) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

func (m *Match) nextRound() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.round++
	return m.round
}

// view builds a snapshot of the match.
func (m *Match) view() MatchView {
	m.mu.Lock()
	state := m.state
	round := m.round
	pending := len(m.plays)
	m.mu.Unlock()

	view := MatchView{
		MatchID:      m.ID,
		State:        state,
		Round:        round,
		Seed:         m.Seed,
		Combatants:   m.roster.Views(),
		Energy:       m.energy.Views(),
		Statuses:     m.statuses.Snapshot(),
		WindowOpen:   m.window.IsOpen(),
		PendingPlays: pending,
		Stats:        m.stats.Snapshot(),
		CreatedAt:    m.CreatedAt,
	}
	if deadline, ok := m.window.Deadline(); ok {
		view.WindowDeadline = &deadline
	}
	view.Ready, view.Expected = m.window.ReadyCount()
	return view
}
