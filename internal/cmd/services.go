package main

import (
	"database/sql"
	"fmt"

	"github.com/longshot-live/longshot/internal/game"
	"github.com/longshot-live/longshot/internal/outbox"
	"github.com/longshot-live/longshot/internal/questions"
	"github.com/longshot-live/longshot/internal/scheduler"
)

type Services struct {
	GameApp   *game.App
	Game      *game.Service
	Scheduler *scheduler.Scheduler
	Outbox    *outbox.Worker
}

// setupServices wires the dependency chain: repository -> app -> service,
// plus the scheduler and (when running on Postgres) the outbox relay.
// database is nil in memory mode; events are then disabled.
func setupServices(database *sql.DB, config *Config) (*Services, error) {
	pool, err := questions.Load(config.Questions.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load question pool: %w", err)
	}

	var (
		repo    game.Repository
		emitter game.Emitter
		worker  *outbox.Worker
	)
	if database != nil {
		repo = game.NewPostgresRepository(database)

		outboxRepo := outbox.NewRepository(database)
		emitter = outboxRepo

		publisher, err := outbox.NewJetStreamPublisher(jetStreamConfigFromEnv())
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		worker = outbox.NewWorker(database, outboxRepo, publisher, outbox.Config{
			PollInterval: config.Outbox.PollInterval,
			BatchSize:    config.Outbox.BatchSize,
			MaxRetries:   outbox.DefaultConfig().MaxRetries,
			RetryDelay:   outbox.DefaultConfig().RetryDelay,
		})
	} else {
		repo = game.NewMemoryRepository()
	}

	app := game.NewApp(repo, pool, emitter)
	sched := scheduler.NewScheduler(app, config.Scheduler.BatchSize)
	service := game.NewService(app, sched)

	return &Services{
		GameApp:   app,
		Game:      service,
		Scheduler: sched,
		Outbox:    worker,
	}, nil
}

func jetStreamConfigFromEnv() outbox.JetStreamConfig {
	cfg := outbox.DefaultJetStreamConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	return cfg
}
