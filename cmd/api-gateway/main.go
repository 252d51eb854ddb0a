package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webshop-labs/orderflow/internal/config"
	"github.com/webshop-labs/orderflow/internal/gateway"
	"github.com/webshop-labs/orderflow/internal/logger"
	"github.com/webshop-labs/orderflow/internal/realtime"
)

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "api-gateway").
		Str("env", cfg.AppEnv).
		Str("instance", cfg.InstanceID).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Redis (realtime bus) ----
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	redisUp := false
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()

		// Best-effort: without Redis the gateway still proxies, it just
		// won't relay order updates to its own sockets
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			redisUp = true
			log.Info().Msg("redis connected")
		}
	}

	// ---- Realtime fan-out ----
	hub := realtime.NewHub()
	bus := realtime.NewBus(rdb, hub, cfg.InstanceID)

	go func() {
		if err := bus.Listen(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Warn().Err(err).Msg("realtime bus listener exited")
		}
	}()

	started := time.Now()
	ws := &realtime.Handler{
		Hub: hub,
		Greeting: func(userID int64) any {
			return map[string]any{
				"type":      "gateway_connected",
				"message":   "Connected to API Gateway WebSocket",
				"user_id":   userID,
				"timestamp": time.Since(started).Seconds(),
				"note":      "You will receive real-time order status updates",
			}
		},
		Pong: func() any {
			return map[string]any{
				"type":      "pong",
				"timestamp": time.Since(started).Seconds(),
			}
		},
	}

	// ---- Router ----
	httpHandler := gateway.NewRouter(gateway.RouterDeps{
		Proxy:    gateway.NewProxy(cfg.OrdersURLs, cfg.PaymentsURL, cfg.RequestTimeout),
		Health:   gateway.NewHealthHandler(cfg.OrdersURLs, cfg.PaymentsURL, hub, redisUp, cfg.HealthTimeout),
		WS:       ws,
		RLLimit:  cfg.RLLimit,
		RLWindow: cfg.RLWindow,
	})

	// ---- HTTP server ----
	// WriteTimeout has to outlast proxied upstream calls
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Int("orders_instances", len(cfg.OrdersURLs)).Msg("http server starting")
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
