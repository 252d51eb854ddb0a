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
	"github.com/redis/go-redis/v9"

	"github.com/webshop-labs/orderflow/internal/broker"
	"github.com/webshop-labs/orderflow/internal/config"
	"github.com/webshop-labs/orderflow/internal/contracts/event"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/orders/infrastructure/postgres"
	"github.com/webshop-labs/orderflow/internal/orders/infrastructure/rabbitmq"
	"github.com/webshop-labs/orderflow/internal/orders/service"
	"github.com/webshop-labs/orderflow/internal/orders/transport/rest"
	"github.com/webshop-labs/orderflow/internal/outbox"
	"github.com/webshop-labs/orderflow/internal/realtime"
)

func main() {
	cfg, err := config.LoadOrders()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "orders-service").
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

	// ---- Redis (realtime bus) ----
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort: without Redis, updates still reach local sockets
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Realtime fan-out ----
	hub := realtime.NewHub()
	bus := realtime.NewBus(rdb, hub, cfg.InstanceID)
	notifier := realtime.NewNotifier(hub, bus)

	go func() {
		if err := bus.Listen(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Warn().Err(err).Msg("realtime bus listener exited")
		}
	}()

	// ---- Application service ----
	svc := service.New(repo, notifier)

	// ---- Payment results consumer ----
	consumer := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.Prefetch, svc)
	if err := consumer.Start(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("consumer start failed")
	}

	// ---- Outbox relay ----
	pub, err := broker.NewPublisher(cfg.RabbitURL, event.QueueOrdersToPay)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connect failed")
	}
	defer func() { _ = pub.Close() }()

	relay := outbox.NewRelay(outbox.NewPGStore(dbPool, event.QueueOrdersToPay), pub, cfg.OutboxBatchSize)
	go relay.Run(rootCtx)

	// ---- Router ----
	ws := &realtime.Handler{
		Hub: hub,
		Greeting: func(userID int64) any {
			return map[string]any{
				"type":    "connection_established",
				"message": fmt.Sprintf("Connected to Orders Service (instance %s)", cfg.InstanceID),
			}
		},
		Pong: func() any { return map[string]any{"type": "pong"} },
	}

	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler: rest.NewHandler(svc, cfg.InstanceID),
		WS:      ws,
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
