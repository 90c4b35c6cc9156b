package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubExecutor records execution order by payload ref and can be told to
// fail, panic, or run a hook for specific refs.
type stubExecutor struct {
	mu       sync.Mutex
	executed []string
	errFor   map[string]error
	panicFor map[string]bool
	hook     func(*Action)
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{
		errFor:   make(map[string]error),
		panicFor: make(map[string]bool),
	}
}

func (e *stubExecutor) Execute(action *Action) error {
	e.mu.Lock()
	e.executed = append(e.executed, action.PayloadRef)
	hook := e.hook
	err := e.errFor[action.PayloadRef]
	shouldPanic := e.panicFor[action.PayloadRef]
	e.mu.Unlock()

	if hook != nil {
		hook(action)
	}
	if shouldPanic {
		panic("executor blew up on " + action.PayloadRef)
	}
	return err
}

func (e *stubExecutor) Executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	cpy := make([]string, len(e.executed))
	copy(cpy, e.executed)
	return cpy
}

// stubValidity marks actions invalid by payload ref.
type stubValidity struct {
	mu      sync.Mutex
	invalid map[string]bool
}

func newStubValidity() *stubValidity {
	return &stubValidity{invalid: make(map[string]bool)}
}

func (v *stubValidity) IsStillValid(action *Action) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return !v.invalid[action.PayloadRef]
}

func (v *stubValidity) markInvalid(ref string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.invalid[ref] = true
}

type resolverFixture struct {
	registry    *Registry
	gates       *GateKeeper
	broadcaster *Broadcaster
	observer    *recordingObserver
	executor    *stubExecutor
	validity    *stubValidity
	resolver    *Resolver
}

func newResolverFixture(t *testing.T, timing Timing, seed int64) *resolverFixture {
	t.Helper()
	f := &resolverFixture{
		registry:    NewRegistry(),
		gates:       NewGateKeeper(),
		broadcaster: NewBroadcaster(),
		observer:    &recordingObserver{},
		executor:    newStubExecutor(),
		validity:    newStubValidity(),
	}
	f.broadcaster.Subscribe(f.observer)
	f.resolver = NewResolver(f.registry, f.gates, f.broadcaster, f.executor, f.validity, timing, seed, zaptest.NewLogger(t))
	return f
}

func (f *resolverFixture) enqueue(t *testing.T, entityID string, initiative int, ref string) *Action {
	t.Helper()
	action := NewAction(entityID, nil, initiative, ref)
	require.NoError(t, f.registry.Enqueue(entityID, action))
	return action
}

// announcedRefs extracts the payload refs of the first RESOLUTION_STARTED
// event seen by the fixture's observer.
func (f *resolverFixture) announcedRefs(t *testing.T) []string {
	t.Helper()
	for _, event := range f.observer.Events() {
		if event.Type == EventResolutionStarted {
			refs := make([]string, len(event.Order))
			for i, summary := range event.Order {
				refs[i] = summary.PayloadRef
			}
			return refs
		}
	}
	t.Fatalf("no RESOLUTION_STARTED event observed")
	return nil
}

func TestResolverEmptyRegistry(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Drained)

	types := f.observer.Types()
	require.Len(t, types, 1, "an empty drain must emit exactly one event")
	assert.Equal(t, EventResolutionEmpty, types[0])
	assert.Equal(t, StateIdle, f.resolver.State())
}

func TestResolverAnnouncesFullOrderBeforeExecuting(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	var journal []string
	var journalMu sync.Mutex
	appendEntry := func(entry string) {
		journalMu.Lock()
		journal = append(journal, entry)
		journalMu.Unlock()
	}

	f.broadcaster.Subscribe(ObserverFunc(func(event Event) {
		appendEntry("event:" + string(event.Type))
	}))
	f.executor.hook = func(action *Action) {
		appendEntry("exec:" + action.PayloadRef)
	}

	f.enqueue(t, "goblin", 5, "jab")
	targeted := NewAction("troll", []string{"goblin"}, 3, "smash")
	require.NoError(t, f.registry.Enqueue("troll", targeted))

	_, err := f.resolver.Run(context.Background())
	require.NoError(t, err)

	journalMu.Lock()
	defer journalMu.Unlock()
	require.NotEmpty(t, journal)
	assert.Equal(t, "event:"+string(EventResolutionStarted), journal[0],
		"the full order must be announced before any execution")

	// The announcement carries identifiers, including targets.
	events := f.observer.Events()
	require.Equal(t, EventResolutionStarted, events[0].Type)
	require.Len(t, events[0].Order, 2)
	for _, summary := range events[0].Order {
		if summary.PayloadRef == "smash" {
			assert.Equal(t, []string{"goblin"}, summary.TargetIDs)
		}
	}
}

func TestResolverOrdersByInitiativeDescending(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	f.enqueue(t, "e1", 1, "last")
	f.enqueue(t, "e2", 9, "first")
	f.enqueue(t, "e3", 5, "middle")
	f.enqueue(t, "e4", 7, "second")

	_, err := f.resolver.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second", "middle", "last"}, f.announcedRefs(t))
	assert.Equal(t, []string{"first", "second", "middle", "last"}, f.executor.Executed())
}

func TestResolverDeterministicGivenSeed(t *testing.T) {
	const seed = 1234

	runOnce := func() []string {
		f := newResolverFixture(t, Timing{}, seed)
		for i := 1; i <= 6; i++ {
			entity := fmt.Sprintf("e%d", i)
			f.enqueue(t, entity, 10, fmt.Sprintf("p%d", i))
		}
		_, err := f.resolver.Run(context.Background())
		require.NoError(t, err)
		return f.announcedRefs(t)
	}

	first := runOnce()
	second := runOnce()
	require.Len(t, first, 6)
	assert.Equal(t, first, second, "identical inputs and seed must give an identical order")
}

func TestResolverTieBreakFairness(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 99)
	entities := []string{"alpha", "bravo", "charlie", "delta"}

	const cycles = 300
	firstSlot := make(map[string]int)
	for i := 0; i < cycles; i++ {
		for _, entity := range entities {
			f.enqueue(t, entity, 10, entity)
		}
		_, err := f.resolver.Run(context.Background())
		require.NoError(t, err)
		refs := f.announcedRefs(t)
		require.Len(t, refs, len(entities))
		firstSlot[refs[0]]++
		f.observer.Reset()
	}

	// Expected share is cycles/4 = 75. Loose bounds keep the statistical
	// check far away from flakiness while still catching a biased sort.
	for _, entity := range entities {
		count := firstSlot[entity]
		assert.Greater(t, count, 30, "entity %s first-slot share too low: %d", entity, count)
		assert.Less(t, count, 150, "entity %s first-slot share too high: %d", entity, count)
	}
}

func TestResolverFinishedPlusSkippedEqualsDrained(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	f.enqueue(t, "e1", 50, "ok-one")
	f.enqueue(t, "e2", 40, "gone")
	f.enqueue(t, "e3", 30, "broken")
	f.enqueue(t, "e4", 20, "explosive")
	f.enqueue(t, "e5", 10, "ok-two")

	f.validity.markInvalid("gone")
	f.executor.errFor["broken"] = errors.New("bad payload")
	f.executor.panicFor["explosive"] = true

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Drained)
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, report.Drained, report.Executed+report.Skipped)

	events := f.observer.Events()
	require.Equal(t, EventResolutionStarted, events[0].Type)
	require.Equal(t, EventResolutionEnded, events[len(events)-1].Type)

	// Every announced index produces exactly one terminal event, in order.
	var terminal []Event
	for _, event := range events {
		if event.Type == EventActionFinished || event.Type == EventActionSkipped {
			terminal = append(terminal, event)
		}
	}
	require.Len(t, terminal, 5)
	for i, event := range terminal {
		assert.Equal(t, i, event.Index, "terminal events must be index-monotonic")
	}

	skippedReasons := make(map[int]string)
	for _, event := range terminal {
		if event.Type == EventActionSkipped {
			skippedReasons[event.Index] = event.Reason
		}
	}
	assert.Equal(t, ReasonContextEnded, skippedReasons[1])
	assert.Equal(t, ReasonExecuteFailed, skippedReasons[2])
	assert.Equal(t, ReasonExecuteFailed, skippedReasons[3])

	// The run survived an executor panic and still executed the tail.
	assert.Equal(t, []string{"ok-one", "broken", "explosive", "ok-two"}, f.executor.Executed())
	assert.Equal(t, 0, f.registry.TotalCount(), "registry must be clean after the run")
}

func TestResolverRejectsConcurrentRuns(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.executor.hook = func(*Action) {
		once.Do(func() { close(started) })
		<-release
	}

	f.enqueue(t, "goblin", 5, "jab")

	done := make(chan error, 1)
	go func() {
		_, err := f.resolver.Run(context.Background())
		done <- err
	}()

	<-started
	assert.Equal(t, StateExecuting, f.resolver.State())

	_, err := f.resolver.Run(context.Background())
	assert.True(t, errors.Is(err, ErrRunInProgress), "second run must be rejected, got %v", err)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, f.resolver.State())
}

func TestResolverTimeoutSafety(t *testing.T) {
	f := newResolverFixture(t, Timing{MaxWait: 25 * time.Millisecond}, 42)

	f.enqueue(t, "e1", 5, "one")
	f.enqueue(t, "e2", 4, "two")

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)

	// No Signal ever arrives: both actions still finish via timeout.
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, 0, report.Skipped)

	finished := 0
	for _, event := range f.observer.Events() {
		if event.Type == EventActionFinished {
			finished++
		}
	}
	assert.Equal(t, 2, finished)
}

func TestResolverSignalReleasesGateEarly(t *testing.T) {
	f := newResolverFixture(t, Timing{MaxWait: 10 * time.Second}, 42)

	f.executor.hook = func(action *Action) {
		go func(id string) {
			time.Sleep(20 * time.Millisecond)
			f.gates.Signal(id)
		}(action.ID)
	}

	f.enqueue(t, "e1", 5, "one")
	f.enqueue(t, "e2", 4, "two")
	f.enqueue(t, "e3", 3, "three")

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Executed)
	assert.Less(t, report.Duration, 5*time.Second,
		"signaled gates must release well before maxWait")
}

func TestResolverMidRunInvalidation(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	// The fast action's effect ends the slow action's context mid-run,
	// after the order was already announced.
	f.executor.hook = func(action *Action) {
		if action.PayloadRef == "fast" {
			f.validity.markInvalid("slow")
		}
	}

	f.enqueue(t, "e1", 10, "fast")
	f.enqueue(t, "e2", 5, "slow")

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Skipped)

	types := f.observer.Types()
	assert.Equal(t, []EventType{
		EventResolutionStarted,
		EventActionFinished,
		EventActionSkipped,
		EventResolutionEnded,
	}, types)
	assert.Equal(t, []string{"fast"}, f.executor.Executed(),
		"the invalidated action must never reach the executor")
}

func TestResolverThreeActionScenario(t *testing.T) {
	// A(initiative 10, entity 1), B(initiative 10, entity 2),
	// C(initiative 5, entity 1); B's context ends before execution.
	f := newResolverFixture(t, Timing{}, 7)

	f.enqueue(t, "entity-1", 10, "A")
	f.enqueue(t, "entity-2", 10, "B")
	f.enqueue(t, "entity-1", 5, "C")
	f.validity.markInvalid("B")

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Drained)
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, 1, report.Skipped)

	refs := f.announcedRefs(t)
	require.Len(t, refs, 3)
	assert.Equal(t, "C", refs[2], "the low-initiative action must resolve last")
	assert.ElementsMatch(t, []string{"A", "B"}, refs[:2])

	events := f.observer.Events()
	require.Len(t, events, 5)
	assert.Equal(t, EventResolutionStarted, events[0].Type)
	assert.Equal(t, EventResolutionEnded, events[4].Type)

	for i, event := range events[1:4] {
		assert.Equal(t, i, event.Index)
		if refs[i] == "B" {
			assert.Equal(t, EventActionSkipped, event.Type, "B must be skipped")
			assert.Equal(t, ReasonContextEnded, event.Reason)
		} else {
			assert.Equal(t, EventActionFinished, event.Type)
		}
	}
	assert.NotContains(t, f.executor.Executed(), "B")
}

func TestResolverEnqueueDuringRunWaitsForNextCycle(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 42)

	var once sync.Once
	f.executor.hook = func(*Action) {
		once.Do(func() {
			late := NewAction("latecomer", nil, 99, "late-play")
			require.NoError(t, f.registry.Enqueue("latecomer", late))
		})
	}

	f.enqueue(t, "goblin", 5, "jab")

	report, err := f.resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drained, "mid-run enqueues must not join the frozen order")
	assert.Equal(t, 1, f.registry.Count("latecomer"))

	f.observer.Reset()

	report, err = f.resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Drained)
	assert.Equal(t, []string{"late-play"}, f.announcedRefs(t))
}

func TestResolverStartDelayHeuristic(t *testing.T) {
	f := newResolverFixture(t, Timing{
		StartDelayBase:      30 * time.Millisecond,
		StartDelayPerAction: 10 * time.Millisecond,
	}, 42)

	assert.Equal(t, 30*time.Millisecond, f.resolver.startDelay(0))
	assert.Equal(t, 60*time.Millisecond, f.resolver.startDelay(3))
}

func TestResolverToleratesNilCollaborators(t *testing.T) {
	registry := NewRegistry()
	broadcaster := NewBroadcaster()
	observer := &recordingObserver{}
	broadcaster.Subscribe(observer)

	resolver := NewResolver(registry, NewGateKeeper(), broadcaster, nil, nil, Timing{}, 7, nil)
	require.NoError(t, registry.Enqueue("goblin", NewAction("goblin", nil, 5, "jab")))

	report, err := resolver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Executed)

	types := observer.Types()
	assert.Equal(t, []EventType{
		EventResolutionStarted,
		EventActionFinished,
		EventResolutionEnded,
	}, types)
}

func TestResolverSeedAccessor(t *testing.T) {
	f := newResolverFixture(t, Timing{}, 1234)
	assert.Equal(t, int64(1234), f.resolver.Seed())

	// A zero seed picks a real one.
	auto := NewResolver(NewRegistry(), NewGateKeeper(), NewBroadcaster(), nil, nil, Timing{}, 0, nil)
	assert.NotEqual(t, int64(0), auto.Seed())
}
