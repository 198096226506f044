package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/longshot-live/longshot/internal/gateway"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	setupLogging()

	config, err := loadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	memoryMode := getEnv("STORE", "postgres") == "memory"

	var services *Services
	var wsHandler *gateway.WebSocketHandler
	if memoryMode {
		log.Info().Msg("running with in-memory store, events disabled")
		services, err = setupServices(nil, config)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up services")
		}
	} else {
		database, err := setupDatabase()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up database")
		}
		defer database.Close()

		services, err = setupServices(database, config)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up services")
		}

		if err := services.Outbox.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start outbox worker")
		}
		defer services.Outbox.Stop()

		cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
		go cm.Start(ctx)
		wsHandler = gateway.NewWebSocketHandler(cm)

		consumer, err := gateway.NewEventConsumer(cm, gatewayConsumerConfigFromEnv())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create gateway consumer")
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("gateway consumer stopped")
			}
		}()
	}

	go func() {
		if err := services.Scheduler.RunScheduler(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	server := setupServer(services, wsHandler)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if getEnv("LOG_FORMAT", "console") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

func gatewayConsumerConfigFromEnv() gateway.JetStreamConsumerConfig {
	cfg := gateway.DefaultJetStreamConsumerConfig()
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	return cfg
}
