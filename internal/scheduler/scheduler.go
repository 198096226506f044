// Package scheduler turns the games' durable next_tick_at deadlines into
// Tick invocations. One loop sleeps until the earliest armed tick (or an
// idle poll interval) and dispatches due games to a small worker pool.
// Delivery is at-least-once; the tick state machine absorbs duplicates.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/longshot-live/longshot/internal/game"
)

// idlePollInterval bounds how long the loop sleeps with nothing armed,
// so ticks written by another process instance are still picked up.
const idlePollInterval = 5 * time.Second

// dispatchBackoff is how long the loop parks when every due game is
// already in a worker. Workers wake the loop on completion, so this is
// only a backstop.
const dispatchBackoff = 100 * time.Millisecond

// Ticker defines what the scheduler needs from the game app.
type Ticker interface {
	Tick(ctx context.Context, gameID uuid.UUID) error
	FetchNextTick(ctx context.Context) (*game.NextTick, error)
	FetchGamesDue(ctx context.Context, now time.Time, limit int32) ([]uuid.UUID, error)
}

type Scheduler struct {
	app        Ticker
	batchSize  int32 // how many due games to claim at once
	clock      clockwork.Clock
	wakeCh     chan struct{}
	instanceID string // unique ID for this scheduler instance

	// Worker pool configuration
	numWorkers int
	workCh     chan uuid.UUID

	// Track in-flight work to prevent duplicate processing
	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewScheduler creates a scheduler with a small worker pool.
func NewScheduler(app Ticker, batchSize int32) *Scheduler {
	numWorkers := 10
	return &Scheduler{
		app:        app,
		batchSize:  batchSize,
		clock:      clockwork.NewRealClock(),
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8], // short ID for logging

		numWorkers: numWorkers,
		workCh:     make(chan uuid.UUID, numWorkers*2), // Buffer to prevent blocking
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the loop to re-read the earliest deadline. Handlers call it
// after arming a sooner tick (game start) so it fires without waiting out
// the current sleep.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// RunScheduler runs the dispatch loop until ctx is cancelled.
func (s *Scheduler) RunScheduler(ctx context.Context) error {
	log.Info().
		Str("instance", s.instanceID).
		Int("workers", s.numWorkers).
		Msg("scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}

	defer func() {
		log.Info().Str("instance", s.instanceID).Msg("shutting down workers")
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("all workers shut down")
	}()

	for {
		wait := idlePollInterval

		next, err := s.app.FetchNextTick(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to fetch next tick")
		} else if next != nil {
			until := next.At.Sub(s.clock.Now())
			if until <= 0 {
				if s.dispatchDue(ctx) > 0 {
					continue
				}
				// The deadline stays due until the in-flight tick commits;
				// park instead of spinning on the fetch.
				wait = dispatchBackoff
			} else if until < wait {
				wait = until
			}
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			log.Info().Str("instance", s.instanceID).Msg("scheduler shutdown requested")
			return ctx.Err()
		case <-s.wakeCh:
			stopAndDrainTimer(timer)
		case <-timer.Chan():
		}
	}
}

// dispatchDue claims due games and feeds them to the worker pool,
// skipping games a worker is already processing. It reports how many
// games were actually handed off.
func (s *Scheduler) dispatchDue(ctx context.Context) int {
	ids, err := s.app.FetchGamesDue(ctx, s.clock.Now(), s.batchSize)
	if err != nil {
		log.Error().Err(err).Str("instance", s.instanceID).Msg("failed to fetch due games")
		return 0
	}

	dispatched := 0
	for _, id := range ids {
		s.inFlightMu.Lock()
		if s.inFlight[id] {
			s.inFlightMu.Unlock()
			continue
		}
		s.inFlight[id] = true
		s.inFlightMu.Unlock()

		select {
		case s.workCh <- id:
			dispatched++
		default:
			s.clearInFlight(id)
			log.Warn().
				Str("game_id", id.String()).
				Str("instance", s.instanceID).
				Msg("work channel full, game deferred to next poll")
		}
	}
	return dispatched
}

// worker processes game ticks from the work channel.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Info().
		Str("instance", s.instanceID).
		Int("worker_id", workerID).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Info().
				Str("instance", s.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case gameID, ok := <-s.workCh:
			if !ok {
				return
			}

			if err := s.app.Tick(ctx, gameID); err != nil {
				log.Error().Err(err).
					Str("game_id", gameID.String()).
					Str("instance", s.instanceID).
					Int("worker_id", workerID).
					Msg("tick failed")
			}
			s.clearInFlight(gameID)
			s.Wake()
		}
	}
}

func (s *Scheduler) clearInFlight(gameID uuid.UUID) {
	s.inFlightMu.Lock()
	delete(s.inFlight, gameID)
	s.inFlightMu.Unlock()
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
