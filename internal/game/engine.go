package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openskirmish/skirmish-server-go/internal/content"
	"github.com/openskirmish/skirmish-server-go/internal/game/effects"
	"github.com/openskirmish/skirmish-server-go/internal/game/energy"
	"github.com/openskirmish/skirmish-server-go/internal/game/resolve"
	"github.com/openskirmish/skirmish-server-go/internal/game/status"
	"github.com/openskirmish/skirmish-server-go/internal/game/targeting"
)

var (
	// ErrMatchNotFound is returned for operations on unknown matches.
	ErrMatchNotFound = errors.New("match not found")
	// ErrMatchExists is returned when creating a match whose id is taken.
	ErrMatchExists = errors.New("match already exists")
	// ErrMatchFinished is returned for play operations on finished matches.
	ErrMatchFinished = errors.New("match is finished")
	// ErrCombatantNotFound is returned when the acting combatant is not in
	// the match.
	ErrCombatantNotFound = errors.New("combatant not found")
	// ErrCombatantDown is returned when a defeated combatant tries to act.
	ErrCombatantDown = errors.New("combatant is down")
	// ErrUnknownCard is returned when a play names a card outside the
	// catalog.
	ErrUnknownCard = errors.New("unknown card")
	// ErrInsufficientEnergy is returned when a combatant cannot pay a
	// card's cost.
	ErrInsufficientEnergy = errors.New("not enough energy")
	// ErrNotEngaged is returned when a play targets a combatant the source
	// has no active encounter with.
	ErrNotEngaged = errors.New("target is not engaged with source")
	// ErrPlayNotFound is returned when retracting a play that is not
	// queued.
	ErrPlayNotFound = errors.New("play not found")
	// ErrNotPlayOwner is returned when a combatant retracts someone
	// else's play.
	ErrNotPlayOwner = errors.New("play belongs to another combatant")
)

// Options configure match defaults and resolution pacing.
type Options struct {
	Timing           resolve.Timing
	WindowDuration   time.Duration
	EnergyCapacity   int
	EnergyRegen      int
	DefaultMaxHealth int
	JournalDir       string

	// OnRunComplete, when set, receives every finished run's report
	// regardless of how the run was triggered. Called synchronously
	// after the next window opens.
	OnRunComplete func(matchID string, report resolve.RunReport)
}

// DefaultOptions returns the pacing used when no configuration overrides
// it.
func DefaultOptions() Options {
	return Options{
		Timing: resolve.Timing{
			MinDwell:            250 * time.Millisecond,
			MaxWait:             5 * time.Second,
			InterActionDelay:    150 * time.Millisecond,
			StartDelayBase:      400 * time.Millisecond,
			StartDelayPerAction: 150 * time.Millisecond,
		},
		WindowDuration:   30 * time.Second,
		EnergyCapacity:   10,
		EnergyRegen:      3,
		DefaultMaxHealth: 30,
	}
}

// CombatantSetup describes one entrant of a new match. MaxHealth zero
// falls back to the engine default.
type CombatantSetup struct {
	ID        string
	Name      string
	MaxHealth int
}

// Engine runs skirmish matches. Each match owns its full resolution
// pipeline; the engine only routes operations to the right match.
type Engine struct {
	logger  *zap.Logger
	catalog *content.Catalog
	opts    Options

	mu      sync.RWMutex
	matches map[string]*Match
}

// NewEngine creates an engine over the given card catalog.
func NewEngine(catalog *content.Catalog, opts Options, logger *zap.Logger) *Engine {
	if catalog == nil {
		catalog = content.Default()
	}
	return &Engine{
		logger:  logger,
		catalog: catalog,
		opts:    opts,
		matches: make(map[string]*Match),
	}
}

// CreateMatch sets up a match with the given entrants, pairs everyone into
// encounters, and opens the first play window. Seed zero draws a random
// seed for the tie-break stream.
func (e *Engine) CreateMatch(matchID string, seed int64, lineup []CombatantSetup) error {
	if matchID == "" {
		return fmt.Errorf("match id is required")
	}
	if len(lineup) < 2 {
		return fmt.Errorf("a match needs at least 2 combatants")
	}

	match := &Match{
		ID:          matchID,
		CreatedAt:   time.Now(),
		roster:      NewRoster(),
		encounters:  NewEncounters(),
		energy:      energy.NewLedger(e.opts.EnergyCapacity, e.opts.EnergyRegen),
		statuses:    status.NewBoard(),
		window:      NewWindow(),
		journal:     NewJournal(matchID),
		stats:       NewRunStats(),
		catalog:     e.catalog,
		registry:    resolve.NewRegistry(),
		gates:       resolve.NewGateKeeper(),
		broadcaster: resolve.NewBroadcaster(),
		state:       MatchStateInProgress,
		plays:       make(map[string]play),
	}
	match.targets = targeting.NewValidator(match.roster)

	for _, setup := range lineup {
		maxHealth := setup.MaxHealth
		if maxHealth <= 0 {
			maxHealth = e.opts.DefaultMaxHealth
		}
		if err := match.roster.Add(setup.ID, setup.Name, maxHealth); err != nil {
			return err
		}
		match.energy.Register(setup.ID)
	}
	ids := match.roster.IDs()
	for i := 0; i < len(ids); i++ {
		for k := i + 1; k < len(ids); k++ {
			if err := match.encounters.Pair(ids[i], ids[k]); err != nil {
				return err
			}
		}
	}

	executor := effects.NewExecutor(e.catalog, match.roster, match.statuses, func(combatantID string) {
		e.handleDefeat(match, combatantID)
	})
	validity := newPlayValidity(match.roster, match.encounters)
	match.resolver = resolve.NewResolver(match.registry, match.gates, match.broadcaster,
		executor, validity, e.opts.Timing, seed, e.logger)
	match.Seed = match.resolver.Seed()

	match.broadcaster.Subscribe(match.journal)
	match.broadcaster.Subscribe(match.stats)

	e.mu.Lock()
	if _, exists := e.matches[matchID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatchExists, matchID)
	}
	e.matches[matchID] = match
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info("match created",
			zap.String("match_id", matchID),
			zap.Int64("seed", match.Seed),
			zap.Int("combatants", len(lineup)),
		)
	}

	e.openWindow(match)
	return nil
}

// lookup finds a match by id.
func (e *Engine) lookup(matchID string) (*Match, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	match, ok := e.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	return match, nil
}

// handleDefeat tears down a defeated combatant's encounters and statuses.
// Plays still queued by or against it fail the validity check and are
// skipped by the resolver.
func (e *Engine) handleDefeat(match *Match, combatantID string) {
	match.encounters.EndFor(combatantID)
	match.statuses.ClearFor(combatantID)

	if e.logger != nil {
		e.logger.Info("combatant defeated",
			zap.String("match_id", match.ID),
			zap.String("combatant_id", combatantID),
		)
	}
}

// openWindow starts the next round: statuses tick, energy regenerates, and
// the surviving combatants get a fresh play window. With fewer than two
// survivors the match finishes instead.
func (e *Engine) openWindow(match *Match) {
	for combatantID, damage := range match.statuses.TickAll() {
		_, defeated := match.roster.Damage(combatantID, damage)
		if e.logger != nil {
			e.logger.Debug("burn tick",
				zap.String("match_id", match.ID),
				zap.String("combatant_id", combatantID),
				zap.Int("damage", damage),
			)
		}
		if defeated {
			e.handleDefeat(match, combatantID)
		}
	}
	match.energy.RegenAll()

	living := match.roster.Living()
	if len(living) < 2 {
		match.setState(MatchStateFinished)
		match.window.Close()
		if e.logger != nil {
			winner := ""
			if len(living) == 1 {
				winner = living[0]
			}
			e.logger.Info("match finished",
				zap.String("match_id", match.ID),
				zap.String("winner", winner),
				zap.Int("rounds", match.Round()),
			)
		}
		return
	}

	round := match.nextRound()
	matchID := match.ID
	match.window.Open(living, e.opts.WindowDuration, func() {
		e.onWindowExpired(matchID)
	})

	if e.logger != nil {
		e.logger.Debug("play window opened",
			zap.String("match_id", matchID),
			zap.Int("round", round),
			zap.Strings("combatants", living),
		)
	}
}

// onWindowExpired runs resolution when a play window hits its deadline.
func (e *Engine) onWindowExpired(matchID string) {
	if e.logger != nil {
		e.logger.Info("play window expired, starting resolution",
			zap.String("match_id", matchID),
		)
	}
	if _, err := e.StartResolution(context.Background(), matchID); err != nil {
		if e.logger != nil {
			e.logger.Warn("resolution after window expiry failed",
				zap.String("match_id", matchID),
				zap.Error(err),
			)
		}
	}
}

// QueuePlay validates and queues a card play for the current window. The
// card's cost is paid immediately and the returned action id can be used
// to retract the play while the window stays open.
func (e *Engine) QueuePlay(matchID, combatantID, cardID string, targetIDs []string) (string, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return "", err
	}
	if match.State() == MatchStateFinished {
		return "", ErrMatchFinished
	}
	if !match.window.IsOpen() {
		return "", ErrWindowClosed
	}
	if !match.roster.Exists(combatantID) {
		return "", fmt.Errorf("%w: %s", ErrCombatantNotFound, combatantID)
	}
	if !match.roster.IsAlive(combatantID) {
		return "", fmt.Errorf("%w: %s", ErrCombatantDown, combatantID)
	}
	if !match.window.Includes(combatantID) {
		return "", ErrNotInWindow
	}

	card, ok := e.catalog.Card(cardID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCard, cardID)
	}
	if err := match.targets.ValidateSelection(targetIDs, card.Requirement()); err != nil {
		return "", err
	}
	for _, targetID := range targetIDs {
		if targetID == combatantID {
			continue
		}
		if !match.encounters.IsActive(combatantID, targetID) {
			return "", fmt.Errorf("%w: %s and %s", ErrNotEngaged, combatantID, targetID)
		}
	}

	if !match.energy.Pay(combatantID, card.Cost) {
		return "", fmt.Errorf("%w: card %s costs %d", ErrInsufficientEnergy, cardID, card.Cost)
	}

	action := resolve.NewAction(combatantID, targetIDs, card.Initiative, card.ID)
	if err := match.registry.Enqueue(combatantID, action); err != nil {
		match.energy.Refund(combatantID, card.Cost)
		return "", err
	}
	match.trackPlay(play{
		actionID:    action.ID,
		combatantID: combatantID,
		cardID:      cardID,
		cost:        card.Cost,
	})

	if e.logger != nil {
		e.logger.Debug("play queued",
			zap.String("match_id", matchID),
			zap.String("combatant_id", combatantID),
			zap.String("card_id", cardID),
			zap.String("action_id", action.ID),
		)
	}
	return action.ID, nil
}

// RetractPlay removes a queued play and refunds its cost. Only the
// combatant that queued a play may retract it, and only while the window
// is open.
func (e *Engine) RetractPlay(matchID, combatantID, actionID string) error {
	match, err := e.lookup(matchID)
	if err != nil {
		return err
	}
	if !match.window.IsOpen() {
		return ErrWindowClosed
	}

	p, ok := match.lookupPlay(actionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlayNotFound, actionID)
	}
	if p.combatantID != combatantID {
		return ErrNotPlayOwner
	}
	if !match.registry.Remove(combatantID, actionID) {
		match.dropPlay(actionID)
		return fmt.Errorf("%w: %s", ErrPlayNotFound, actionID)
	}
	match.dropPlay(actionID)
	match.energy.Refund(combatantID, p.cost)

	if e.logger != nil {
		e.logger.Debug("play retracted",
			zap.String("match_id", matchID),
			zap.String("combatant_id", combatantID),
			zap.String("action_id", actionID),
		)
	}
	return nil
}

// PendingCount returns how many plays the combatant has queued.
func (e *Engine) PendingCount(matchID, combatantID string) (int, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return 0, err
	}
	return match.registry.Count(combatantID), nil
}

// MarkReady locks in a combatant's plays for this window. When the last
// expected combatant readies up the window closes and resolution starts in
// the background.
func (e *Engine) MarkReady(matchID, combatantID string) (bool, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return false, err
	}
	allReady, err := match.window.MarkReady(combatantID)
	if err != nil {
		return false, err
	}
	if allReady {
		if e.logger != nil {
			e.logger.Info("all combatants ready, starting resolution",
				zap.String("match_id", matchID),
			)
		}
		match.window.Close()
		go func() {
			if _, err := e.StartResolution(context.Background(), matchID); err != nil {
				if e.logger != nil {
					e.logger.Warn("resolution after ready-up failed",
						zap.String("match_id", matchID),
						zap.Error(err),
					)
				}
			}
		}()
	}
	return allReady, nil
}

// StartResolution closes the play window, runs one resolution cycle, and
// opens the next round's window for the survivors. A run already in
// progress is reported as resolve.ErrRunInProgress.
func (e *Engine) StartResolution(ctx context.Context, matchID string) (*resolve.RunReport, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return nil, err
	}
	if match.State() == MatchStateFinished {
		return nil, ErrMatchFinished
	}

	match.window.Close()
	report, err := match.resolver.Run(ctx)
	if err != nil {
		return nil, err
	}
	match.prunePlays(report)
	e.openWindow(match)
	if e.opts.OnRunComplete != nil {
		e.opts.OnRunComplete(matchID, *report)
	}
	return report, nil
}

// SignalPresentation reports that a client finished presenting the action,
// releasing the resolver's completion gate early.
func (e *Engine) SignalPresentation(matchID, actionID string) (bool, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return false, err
	}
	return match.gates.Signal(actionID), nil
}

// Subscribe attaches an observer to the match's resolution broadcast.
func (e *Engine) Subscribe(matchID string, observer resolve.Observer) (int, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return 0, err
	}
	return match.broadcaster.Subscribe(observer), nil
}

// Unsubscribe detaches a broadcast observer.
func (e *Engine) Unsubscribe(matchID string, handle int) error {
	match, err := e.lookup(matchID)
	if err != nil {
		return err
	}
	match.broadcaster.Unsubscribe(handle)
	return nil
}

// CurrentRun returns the announcement of the resolution run in progress,
// if any, so late joiners can catch up on the order.
func (e *Engine) CurrentRun(matchID string) (resolve.Event, bool, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return resolve.Event{}, false, err
	}
	event, ok := match.broadcaster.CurrentRun()
	return event, ok, nil
}

// RemoveCombatant takes a combatant out of the match: its queued plays are
// discarded without refund, its encounters end, and the window stops
// waiting for it.
func (e *Engine) RemoveCombatant(matchID, combatantID string) error {
	match, err := e.lookup(matchID)
	if err != nil {
		return err
	}
	if !match.roster.Exists(combatantID) {
		return fmt.Errorf("%w: %s", ErrCombatantNotFound, combatantID)
	}

	match.registry.Clear(combatantID)
	match.registry.Forget(combatantID)
	match.dropPlaysFor(combatantID)
	match.encounters.EndFor(combatantID)
	match.statuses.ClearFor(combatantID)
	match.energy.Remove(combatantID)
	match.roster.Remove(combatantID)
	match.window.Exclude(combatantID)

	if e.logger != nil {
		e.logger.Info("combatant removed",
			zap.String("match_id", matchID),
			zap.String("combatant_id", combatantID),
		)
	}

	if len(match.roster.Living()) < 2 {
		match.setState(MatchStateFinished)
		match.window.Close()
		if e.logger != nil {
			e.logger.Info("match finished",
				zap.String("match_id", matchID),
				zap.String("reason", "not enough combatants"),
			)
		}
		return nil
	}
	if match.window.AllReady() {
		match.window.Close()
		go func() {
			if _, err := e.StartResolution(context.Background(), matchID); err != nil {
				if e.logger != nil {
					e.logger.Warn("resolution after combatant removal failed",
						zap.String("match_id", matchID),
						zap.Error(err),
					)
				}
			}
		}()
	}
	return nil
}

// CloseMatch removes the match, saving its journal first when a journal
// directory is configured.
func (e *Engine) CloseMatch(matchID string) error {
	e.mu.Lock()
	match, ok := e.matches[matchID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	delete(e.matches, matchID)
	e.mu.Unlock()

	match.window.Close()
	if e.opts.JournalDir != "" && match.journal.Size() > 0 {
		if err := match.journal.SaveToFile(e.opts.JournalDir); err != nil {
			if e.logger != nil {
				e.logger.Warn("failed to save match journal",
					zap.String("match_id", matchID),
					zap.Error(err),
				)
			}
		}
	}

	if e.logger != nil {
		e.logger.Info("match closed",
			zap.String("match_id", matchID),
			zap.Int("journal_events", match.journal.Size()),
		)
	}
	return nil
}

// MatchView returns a snapshot of the match.
func (e *Engine) MatchView(matchID string) (MatchView, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return MatchView{}, err
	}
	return match.view(), nil
}

// Stats returns the match's resolution counters.
func (e *Engine) Stats(matchID string) (RunStatsView, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return RunStatsView{}, err
	}
	return match.stats.Snapshot(), nil
}

// Journal returns the match's resolution journal.
func (e *Engine) Journal(matchID string) (*Journal, error) {
	match, err := e.lookup(matchID)
	if err != nil {
		return nil, err
	}
	return match.journal, nil
}

// Matches returns the ids of every open match, sorted.
func (e *Engine) Matches() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.matches))
	for id := range e.matches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
