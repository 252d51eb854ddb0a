package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webshop-labs/orderflow/internal/broker"
	"github.com/webshop-labs/orderflow/internal/config"
	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/outbox"
	"github.com/webshop-labs/orderflow/internal/payments/infrastructure/postgres"
	"github.com/webshop-labs/orderflow/internal/payments/infrastructure/rabbitmq"
	"github.com/webshop-labs/orderflow/internal/payments/service"
	"github.com/webshop-labs/orderflow/internal/payments/transport/rest"
)

func main() {
	cfg, err := config.LoadPayments()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "payments-service").
		Str("env", cfg.AppEnv).
		Str("instance", cfg.InstanceID).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	if err := postgres.EnsureSchema(rootCtx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("schema bootstrap failed")
	}

	repo := postgres.New(dbPool)

	// ---- Application service ----
	svc := service.New(repo)

	// ---- Order created consumer (settlement) ----
	consumer := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.Prefetch, cfg.WorkerPoolSize, svc)
	if err := consumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("consumer start failed")
	}

	// ---- Outbox relay (payment results) ----
	pub, err := broker.NewPublisher(cfg.RabbitURL, event.QueuePaymentResults)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connect failed")
	}
	defer func() { _ = pub.Close() }()

	relay := outbox.NewRelay(outbox.NewPGStore(dbPool, event.QueuePaymentResults), pub, cfg.OutboxBatchSize)
	go relay.Run(rootCtx)

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler: rest.NewHandler(svc, cfg.InstanceID),
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
