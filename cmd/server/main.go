package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskhive/hookbridge/internal/api"
	"github.com/taskhive/hookbridge/internal/config"
	"github.com/taskhive/hookbridge/internal/domain"
	"github.com/taskhive/hookbridge/internal/engine"
	"github.com/taskhive/hookbridge/internal/feed"
	"github.com/taskhive/hookbridge/internal/inbound"
	"github.com/taskhive/hookbridge/internal/ledger"
	"github.com/taskhive/hookbridge/internal/queue"
	"github.com/taskhive/hookbridge/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Persistence: PostgreSQL when configured, in-memory stores otherwise.
	var (
		subs         store.Subscriptions
		events       store.Events
		repo         ledger.Repository
		secretLookup inbound.SecretLookup
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		logger.Info("connected to PostgreSQL")

		if err := pgStore.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("database migrations applied")

		subs = pgStore
		events = pgStore
		repo = pgStore
		secretLookup = pgStore.SecretForCorrelation
	} else {
		memSubs := store.NewMemorySubscriptions()
		memRepo := ledger.NewMemoryRepository()
		subs = memSubs
		events = store.NewMemoryEvents()
		repo = memRepo
		secretLookup = store.MemorySecretLookup(memSubs, memRepo)
		logger.Warn("DATABASE_URL not set, using in-memory stores")
	}

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	if redisStore.Embedded() {
		logger.Warn("REDIS_URL not set, using embedded redis")
	} else {
		logger.Info("connected to Redis")
	}

	// Delivery pipeline
	led := ledger.New(repo, logger)
	deliverer := engine.NewDeliverer(led, logger)
	gate := engine.NewGate(subs, logger)
	dispatcher := engine.NewDispatcher(deliverer, gate, engine.Defaults{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		AttemptTimeout: cfg.AttemptTimeout,
	}, logger)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	hub := feed.NewHub(logger)
	go hub.Run(runCtx)

	q := queue.New(redisStore.Client(), logger)

	var consumer *queue.Consumer
	pool := queue.NewPool(cfg.NumWorkers, func(ctx context.Context, event domain.Event) {
		consumer.Process(ctx, event)
	}, logger)
	consumer = queue.NewConsumer(redisStore.Client(), subs, dispatcher, pool, logger)
	consumer.OnResult(func(event *domain.Event, res engine.Result) {
		hub.Broadcast(feed.NewDeliveryUpdate(event, res))
	})

	pool.Start(runCtx)
	go consumer.Start(runCtx)

	// Inbound callbacks
	verifier := inbound.NewVerifier(secretLookup, cfg.SignatureFreshnessWindow, logger)
	sessions := inbound.NewSessionRegistry(logger)

	var limiter *api.RateLimiter
	if cfg.IngestRateLimit > 0 {
		limiter = api.NewRateLimiter(redisStore.Client(), cfg.IngestRateLimit, logger)
	}

	router := api.NewRouter(api.Deps{
		Events:        events,
		Subscriptions: subs,
		Ledger:        repo,
		Queue:         q,
		Verifier:      verifier,
		Sessions:      sessions,
		Hub:           hub,
		RateLimiter:   limiter,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "num_workers", cfg.NumWorkers)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop pulling new work, drain the in-flight deliveries, then close
	// the HTTP listener.
	stop()
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
