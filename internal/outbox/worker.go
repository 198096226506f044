package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/longshot-live/longshot/internal/sqlutil"
)

// Worker drains the outbox table to the publisher on a poll interval.
// Events publish at-least-once: a crash between publish and mark-sent
// replays the event, and the publisher's msg-id dedup absorbs it.
type Worker struct {
	db        *sql.DB
	repo      *Repository
	publisher EventPublisher
	config    Config

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(db *sql.DB, repo *Repository, publisher EventPublisher, cfg Config) *Worker {
	return &Worker{
		db:        db,
		repo:      repo,
		publisher: publisher,
		config:    cfg,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int32("batch_size", w.config.BatchSize).
		Msg("outbox worker started")
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Msg("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Process immediately on start
	w.processOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		}
	}
}

// processOutbox claims a batch under row locks, publishes each event and
// marks the successes sent, all in one transaction. Events that fail to
// publish stay unsent and come back next poll.
func (w *Worker) processOutbox(ctx context.Context) {
	err := sqlutil.Run(ctx, w.db, func(tx *sql.Tx) error {
		events, err := w.repo.FetchUnsentOutbox(ctx, tx, w.config.BatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}

		log.Debug().Int("count", len(events)).Msg("processing outbox events")

		var sent []uuid.UUID
		for _, event := range events {
			if err := w.publishWithRetry(ctx, event); err != nil {
				log.Error().Err(err).
					Str("event_id", event.ID.String()).
					Str("event_type", event.EventType).
					Msg("failed to publish event")
				continue
			}
			sent = append(sent, event.ID)
		}
		return w.repo.MarkOutboxSent(ctx, tx, sent)
	})
	if err != nil {
		log.Error().Err(err).Msg("outbox batch failed")
	}
}

func (w *Worker) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var err error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay):
			}
		}
		if err = w.publisher.Publish(ctx, event); err == nil {
			return nil
		}
	}
	return fmt.Errorf("publish after %d retries: %w", w.config.MaxRetries, err)
}
