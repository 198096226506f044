package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longshot-live/longshot/internal/game"
)

// fakeTicker arms ticks in memory and records which games got ticked.
// Each tick disarms the game, like the terminal branch of the real state
// machine.
type fakeTicker struct {
	mu        sync.Mutex
	armed     map[uuid.UUID]time.Time
	processed []uuid.UUID
	fetches   int
	tickGate  chan struct{} // when non-nil, Tick blocks on it
	ticking   bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{armed: make(map[uuid.UUID]time.Time)}
}

func (f *fakeTicker) arm(id uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[id] = at
}

func (f *fakeTicker) Tick(_ context.Context, gameID uuid.UUID) error {
	f.mu.Lock()
	gate := f.tickGate
	f.ticking = true
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticking = false
	delete(f.armed, gameID)
	f.processed = append(f.processed, gameID)
	return nil
}

func (f *fakeTicker) FetchNextTick(_ context.Context) (*game.NextTick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	var next *game.NextTick
	for id, at := range f.armed {
		if next == nil || at.Before(next.At) {
			next = &game.NextTick{GameID: id, At: at}
		}
	}
	return next, nil
}

func (f *fakeTicker) FetchGamesDue(_ context.Context, now time.Time, limit int32) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []uuid.UUID
	for id, at := range f.armed {
		if !at.After(now) && int32(len(ids)) < limit {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeTicker) processedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, len(f.processed))
	copy(out, f.processed)
	return out
}

func (f *fakeTicker) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *fakeTicker) isTicking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticking
}

func newTestScheduler(ticker *fakeTicker) (*Scheduler, *clockwork.FakeClock) {
	s := NewScheduler(ticker, 10)
	clock := clockwork.NewFakeClock()
	s.clock = clock
	return s, clock
}

func runScheduler(t *testing.T, s *Scheduler) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.RunScheduler(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSchedulerDispatchesDueTick(t *testing.T) {
	ticker := newFakeTicker()
	s, clock := newTestScheduler(ticker)

	// Armed before the loop starts, so the first fetch sees it due.
	gameID := uuid.New()
	ticker.arm(gameID, clock.Now())
	runScheduler(t, s)

	require.Eventually(t, func() bool {
		ids := ticker.processedIDs()
		return len(ids) == 1 && ids[0] == gameID
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerWake(t *testing.T) {
	ticker := newFakeTicker()
	s, clock := newTestScheduler(ticker)
	runScheduler(t, s)

	// Let the loop park on the idle timer before arming anything.
	clock.BlockUntil(1)

	gameID := uuid.New()
	ticker.arm(gameID, clock.Now())
	s.Wake()

	require.Eventually(t, func() bool {
		return len(ticker.processedIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerSleepsUntilDeadline(t *testing.T) {
	ticker := newFakeTicker()
	s, clock := newTestScheduler(ticker)
	runScheduler(t, s)

	clock.BlockUntil(1)

	gameID := uuid.New()
	ticker.arm(gameID, clock.Now().Add(2*time.Second))
	s.Wake()

	// The loop re-reads the deadline and parks a fresh timer on it.
	clock.BlockUntil(1)
	assert.Empty(t, ticker.processedIDs(), "nothing due yet")

	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		return len(ticker.processedIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerParksWhileTickInFlight(t *testing.T) {
	ticker := newFakeTicker()
	release := make(chan struct{})
	ticker.tickGate = release
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	s, clock := newTestScheduler(ticker)
	gameID := uuid.New()
	ticker.arm(gameID, clock.Now())
	runScheduler(t, s)
	t.Cleanup(unblock)

	require.Eventually(t, ticker.isTicking, 2*time.Second, 5*time.Millisecond)

	// The deadline stays due while the worker holds the tick; the loop
	// must park on its backoff timer rather than spin on the fetch.
	before := ticker.fetchCount()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, ticker.fetchCount()-before, 2,
		"fetch loop must not spin while the only due game is in flight")

	unblock()
	require.Eventually(t, func() bool {
		return len(ticker.processedIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerSkipsInFlightGames(t *testing.T) {
	ticker := newFakeTicker()
	s := NewScheduler(ticker, 10)

	gameID := uuid.New()
	s.inFlightMu.Lock()
	s.inFlight[gameID] = true
	s.inFlightMu.Unlock()

	ticker.arm(gameID, time.Now().Add(-time.Second))
	s.dispatchDue(context.Background())

	assert.Empty(t, ticker.processedIDs(), "in-flight game must not be re-dispatched")
}
