package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/outbox"
	"github.com/baechuer/outbox/internal/config"
	"github.com/baechuer/outbox/internal/logger"
	"github.com/baechuer/outbox/kafka"
	"github.com/baechuer/outbox/postgres"
	"github.com/baechuer/outbox/rabbitmq"
	redistoken "github.com/baechuer/outbox/redis"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "outbox-worker").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outboxCfg, err := cfg.OutboxConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid outbox config")
	}

	// ---- Postgres ----
	dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
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

	if cfg.EnsureSchema {
		if err := postgres.EnsureSchema(rootCtx, dbPool, outboxCfg.Channel); err != nil {
			log.Fatal().Err(err).Msg("schema bootstrap failed")
		}
		log.Info().Msg("outbox schema ensured")
	}

	storage := postgres.NewStorage(dbPool, outboxCfg)
	defer storage.Close()

	// ---- Transport ----
	var transport outbox.Transport
	switch cfg.Transport {
	case "kafka":
		kt, err := kafka.NewTransport(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Fatal().Err(err).Msg("kafka transport create failed")
		}
		defer kt.Close()
		transport = kt
	default:
		rt, err := rabbitmq.NewTransport(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbitmq transport create failed")
		}
		defer rt.Close()
		transport = rt
	}
	log.Info().Str("transport", cfg.Transport).Msg("transport ready")

	// ---- Redis token cache (producer-side dedup for the ingest endpoint) ----
	var tokenCache outbox.TokenCache = outbox.NoopTokenCache{}
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.RedisAddr, Password: cfg.RedisPass, DB: cfg.RedisDB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Fatal().Err(err).Msg("redis ping failed")
		}
		cancel()
		log.Info().Msg("redis connected")

		tokenCache = redistoken.NewTokenCache(client, redistoken.TokenConfig{
			TTL:                cfg.TokenTTL,
			KeyPrefix:          cfg.TokenKeyPrefix,
			LocalCacheCapacity: cfg.TokenLocalCapacity,
		})
	}

	service, err := outbox.NewServiceWithCache(postgres.NewWriter(dbPool), tokenCache, outboxCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("service create failed")
	}

	// ---- Manager ----
	manager, err := outbox.NewManager(storage, transport, outboxCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("manager create failed")
	}

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		if err := manager.Run(rootCtx); err != nil {
			log.Error().Err(err).Msg("manager exited with error")
		}
	}()
	log.Info().Msg("outbox manager started")

	// ---- HTTP surface: health + event ingest ----
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := dbPool.Ping(pingCtx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/events", ingestHandler(service, log))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
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
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	select {
	case <-managerDone:
	case <-time.After(8 * time.Second):
		log.Warn().Msg("manager did not stop in time")
	}
	log.Info().Msg("shutdown complete")
}

type ingestRequest struct {
	EventType        string          `json:"event_type"`
	Payload          json.RawMessage `json:"payload"`
	IdempotencyToken string          `json:"idempotency_token,omitempty"`
}

// ingestHandler accepts an event over HTTP and writes it through the
// producer service. Duplicates map to 409 so callers can retry blindly.
func ingestHandler(service *outbox.Service, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body ingestRequest
		if err := render.DecodeJSON(req.Body, &body); err != nil {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, map[string]string{"error": "invalid json body"})
			return
		}
		if body.EventType == "" {
			render.Status(req, http.StatusBadRequest)
			render.JSON(w, req, map[string]string{"error": "event_type is required"})
			return
		}

		err := service.AddEvent(req.Context(), body.EventType, body.Payload, body.IdempotencyToken, nil)
		switch {
		case err == nil:
			render.Status(req, http.StatusAccepted)
			render.JSON(w, req, map[string]string{"status": "accepted"})
		case errors.Is(err, outbox.ErrDuplicateEvent):
			render.Status(req, http.StatusConflict)
			render.JSON(w, req, map[string]string{"error": "duplicate event"})
		default:
			log.Error().Err(err).Str("event_type", body.EventType).Msg("event ingest failed")
			render.Status(req, http.StatusInternalServerError)
			render.JSON(w, req, map[string]string{"error": "internal error"})
		}
	}
}
