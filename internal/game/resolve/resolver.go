package resolve

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRunInProgress is returned when Run is called while a cycle is active.
// Only one resolution run may exist at a time; callers are expected to treat
// the rejection as "ignore the second request", not as a fatal condition.
var ErrRunInProgress = errors.New("resolution run already in progress")

// State identifies where the resolver is in its cycle.
type State int

const (
	// StateIdle means no run is active.
	StateIdle State = iota
	// StateCollecting means the resolver is draining the registry.
	StateCollecting
	// StateSorting means the drained actions are being ordered.
	StateSorting
	// StateExecuting means actions are being executed one at a time.
	StateExecuting
	// StateDraining means the resolver is clearing residue before going idle.
	StateDraining
)

var stateNames = map[State]string{
	StateIdle:       "IDLE",
	StateCollecting: "COLLECTING",
	StateSorting:    "SORTING",
	StateExecuting:  "EXECUTING",
	StateDraining:   "DRAINING",
}

// String returns a readable state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// ValidityChecker decides whether a drained action may still execute. An
// action whose originating context has ended (its encounter concluded, its
// source defeated) is skipped rather than executed against stale state.
type ValidityChecker interface {
	IsStillValid(action *Action) bool
}

// Executor applies one action's game effect. Implementations must return
// quickly; anything slow or visual belongs in the presentation layer, which
// reports back through the gate keeper. A returned error or a panic skips
// that single action and never aborts the run.
type Executor interface {
	Execute(action *Action) error
}

// Timing groups the pacing knobs for a resolution run.
type Timing struct {
	// MinDwell is the minimum time spent on each executed action, so a run
	// without any presentation does not collapse into an unreadable burst.
	MinDwell time.Duration
	// MaxWait caps how long the resolver waits for a presentation signal.
	MaxWait time.Duration
	// InterActionDelay is extra pacing inserted between executed actions.
	InterActionDelay time.Duration
	// StartDelayBase and StartDelayPerAction delay the first execution after
	// the order is announced, giving observers time to set up their view:
	// base + count*perAction.
	StartDelayBase      time.Duration
	StartDelayPerAction time.Duration
}

// RunReport summarizes one completed resolution cycle.
type RunReport struct {
	RunID    string
	Seed     int64
	Drained  int
	Executed int
	Skipped  int
	Order    []Summary
	Started  time.Time
	Duration time.Duration
}

// Resolver drives resolution cycles for one match: drain the registry, order
// the drained plays, announce the order, execute each play behind a validity
// check and a failure boundary, hold at the completion gate, and emit the
// lifecycle stream. Construct one resolver per match; there is no shared
// global instance.
type Resolver struct {
	registry    *Registry
	gates       *GateKeeper
	broadcaster *Broadcaster
	executor    Executor
	validity    ValidityChecker
	timing      Timing
	logger      *zap.Logger

	mu    sync.Mutex
	state State
	seed  int64
	rng   *rand.Rand
}

// NewResolver wires a resolver to its collaborators. A zero seed picks one
// from the clock; a fixed seed reproduces the same tie-break sequence, which
// replays and tests rely on.
func NewResolver(registry *Registry, gates *GateKeeper, broadcaster *Broadcaster, executor Executor, validity ValidityChecker, timing Timing, seed int64, logger *zap.Logger) *Resolver {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Resolver{
		registry:    registry,
		gates:       gates,
		broadcaster: broadcaster,
		executor:    executor,
		validity:    validity,
		timing:      timing,
		logger:      logger,
		state:       StateIdle,
		seed:        seed,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// State returns the resolver's current cycle state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Seed returns the seed feeding the tie-break source.
func (r *Resolver) Seed() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seed
}

// begin transitions Idle -> Collecting, rejecting concurrent runs.
func (r *Resolver) begin() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return ErrRunInProgress
	}
	r.state = StateCollecting
	return nil
}

func (r *Resolver) setState(next State) {
	r.mu.Lock()
	r.state = next
	r.mu.Unlock()
}

// Run performs one full resolution cycle and blocks until it completes. It
// returns ErrRunInProgress when a cycle is already active. The resolver
// always returns to Idle, whatever happens inside the cycle.
func (r *Resolver) Run(ctx context.Context) (*RunReport, error) {
	if err := r.begin(); err != nil {
		return nil, err
	}
	defer r.setState(StateIdle)

	runID := uuid.NewString()
	started := time.Now()

	drained := r.registry.DrainAll()
	flat := flattenDrained(drained)
	if len(flat) == 0 {
		if r.logger != nil {
			r.logger.Debug("resolution found nothing to do", zap.String("run_id", runID))
		}
		r.broadcaster.Publish(NewEmptyEvent(runID))
		return &RunReport{RunID: runID, Seed: r.seed, Started: started, Duration: time.Since(started)}, nil
	}

	r.setState(StateSorting)
	ordered := r.order(flat)

	summaries := make([]Summary, len(ordered))
	for i, action := range ordered {
		summaries[i] = action.Summarize()
	}

	if r.logger != nil {
		r.logger.Info("resolution run starting",
			zap.String("run_id", runID),
			zap.Int("actions", len(ordered)),
			zap.Int("entities", len(drained)))
	}
	r.broadcaster.Publish(NewStartedEvent(runID, summaries))

	r.setState(StateExecuting)
	pause(ctx, r.startDelay(len(ordered)))

	report := &RunReport{
		RunID:   runID,
		Seed:    r.seed,
		Drained: len(ordered),
		Order:   summaries,
		Started: started,
	}
	for i, action := range ordered {
		outcome := r.resolveOne(ctx, runID, i, action)
		switch outcome {
		case OutcomeExecuted:
			report.Executed++
			if i < len(ordered)-1 {
				pause(ctx, r.timing.InterActionDelay)
			}
		case OutcomeSkipped:
			report.Skipped++
		}
	}

	r.setState(StateDraining)
	for entityID := range drained {
		r.registry.Clear(entityID)
	}
	r.gates.Reset()
	r.broadcaster.Publish(NewEndedEvent(runID))

	report.Duration = time.Since(started)
	if r.logger != nil {
		r.logger.Info("resolution run ended",
			zap.String("run_id", runID),
			zap.Int("executed", report.Executed),
			zap.Int("skipped", report.Skipped),
			zap.Duration("duration", report.Duration))
	}
	return report, nil
}

// resolveOne processes a single announced slot and returns its outcome.
// Every slot produces exactly one ACTION_FINISHED or ACTION_SKIPPED event.
func (r *Resolver) resolveOne(ctx context.Context, runID string, index int, action *Action) Outcome {
	if r.validity != nil && !r.validity.IsStillValid(action) {
		if r.logger != nil {
			r.logger.Info("skipping action, context ended",
				zap.String("run_id", runID),
				zap.Int("index", index),
				zap.String("action_id", action.ID),
				zap.String("source_id", action.SourceID))
		}
		r.broadcaster.Publish(NewSkippedEvent(runID, index, action.ID, ReasonContextEnded))
		return OutcomeSkipped
	}

	if err := r.execute(action); err != nil {
		if r.logger != nil {
			r.logger.Error("action execution failed, skipping",
				zap.String("run_id", runID),
				zap.Int("index", index),
				zap.String("action_id", action.ID),
				zap.String("source_id", action.SourceID),
				zap.Error(err))
		}
		r.broadcaster.Publish(NewSkippedEvent(runID, index, action.ID, ReasonExecuteFailed))
		return OutcomeSkipped
	}

	r.gates.Open(action.ID)
	result := r.gates.Wait(ctx, action.ID, r.timing.MinDwell, r.timing.MaxWait)
	if !result.Signaled && ctx.Err() == nil && r.timing.MaxWait > 0 {
		if r.logger != nil {
			r.logger.Warn("presentation signal timed out",
				zap.String("run_id", runID),
				zap.Int("index", index),
				zap.String("action_id", action.ID),
				zap.Duration("waited", result.Waited))
		}
	}

	r.broadcaster.Publish(NewFinishedEvent(runID, index, action.ID))
	return OutcomeExecuted
}

// execute invokes the executor inside the failure boundary. A panic in the
// executor is converted into an error so one malformed action cannot take
// down the run.
func (r *Resolver) execute(action *Action) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("executor panic: %v", rec)
		}
	}()
	if r.executor == nil {
		return nil
	}
	return r.executor.Execute(action)
}

// order assigns each drained action a fresh tie-break value and sorts by
// initiative descending, tie-break descending. Tie-breaks are drawn once per
// cycle, not per comparison, so the comparator is a consistent total order:
// equal-initiative plays land in fair random positions instead of always
// favoring enqueue order, and a fixed seed reproduces the exact sequence.
func (r *Resolver) order(flat []*Action) []*Action {
	type rankedAction struct {
		action   *Action
		tiebreak int64
	}
	ranked := make([]rankedAction, len(flat))
	for i, action := range flat {
		ranked[i] = rankedAction{action: action, tiebreak: r.rng.Int63()}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].action.Initiative != ranked[j].action.Initiative {
			return ranked[i].action.Initiative > ranked[j].action.Initiative
		}
		return ranked[i].tiebreak > ranked[j].tiebreak
	})
	ordered := make([]*Action, len(ranked))
	for i, entry := range ranked {
		ordered[i] = entry.action
	}
	return ordered
}

func (r *Resolver) startDelay(count int) time.Duration {
	return r.timing.StartDelayBase + time.Duration(count)*r.timing.StartDelayPerAction
}

// flattenDrained concatenates per-entity lists in sorted entity-id order, so
// the pre-sort sequence never depends on map iteration order.
func flattenDrained(drained map[string][]*Action) []*Action {
	entityIDs := make([]string, 0, len(drained))
	for entityID := range drained {
		entityIDs = append(entityIDs, entityID)
	}
	sort.Strings(entityIDs)

	var flat []*Action
	for _, entityID := range entityIDs {
		flat = append(flat, drained[entityID]...)
	}
	return flat
}

// pause sleeps for d unless the context ends first. Zero and negative
// durations return immediately.
func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
