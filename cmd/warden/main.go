package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zentra/warden/config"
	"github.com/zentra/warden/internal/events"
	"github.com/zentra/warden/internal/middleware"
	"github.com/zentra/warden/internal/services/community"
	"github.com/zentra/warden/internal/services/moderation"
	"github.com/zentra/warden/internal/services/notification"
	"github.com/zentra/warden/internal/storage"
	"github.com/zentra/warden/internal/storage/postgres"
	"github.com/zentra/warden/internal/storage/sqlite"
	"github.com/zentra/warden/pkg/database"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Connect to PostgreSQL. Membership and roles always live here, even when
	// the moderation tables are kept in SQLite.
	db, err := database.NewPostgresPool(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer db.Close()
	log.Info().Msg("Connected to PostgreSQL")

	if err := database.EnsureModerationSchema(context.Background(), db); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare moderation schema")
	}

	ledger, punishments := openModerationStore(cfg, db)

	// Connect to Redis
	redisClient, err := database.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Event fan-out
	bus := events.NewBus()
	bus.Subscribe(events.LogSubscriber)
	bus.Subscribe(events.NewRedisForwarder(redisClient, cfg.Moderation.EventsChannel).Handle)

	// Services
	communityService := community.NewService(db, redisClient, cfg.Moderation.MuteRoleName)
	notificationService := notification.NewService(db, notification.NewRedisHub(redisClient))

	executor := moderation.NewExecutor(moderation.Dependencies{
		Ledger:      ledger,
		Punishments: punishments,
		Platform:    communityService,
		Notifier:    notificationService,
		Events:      bus,
		Policy:      moderation.NewPolicy(cfg.Moderation.Superusers, cfg.Moderation.ImmuneUsers),
	}, moderation.Config{
		NotifyTimeout:  cfg.Moderation.NotifyTimeout,
		EnforceTimeout: cfg.Moderation.EnforceTimeout,
		RetryDelay:     cfg.Moderation.ReversalRetry,
	})

	scheduler := moderation.NewScheduler(punishments, executor, cfg.Moderation.SystemUserID, cfg.Moderation.TickInterval)
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		scheduler.Run(schedulerCtx)
	}()

	moderationHandler := moderation.NewHandler(executor, ledger, communityService, cfg.Moderation.SystemUserID)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestIDMiddleware)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.RecoveryMiddleware)
	r.Use(chimiddleware.RedirectSlashes)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Origin"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           300,
		Debug:            cfg.Environment == "development",
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := "ok"
		if scheduler.Ticking() {
			status = "ok,ticking"
		}
		w.Write([]byte(`{"status":"` + status + `","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Use(middleware.RateLimitMiddleware(redisClient, cfg.Server.RateLimitRPS))

		r.Mount("/communities/{id}/moderation", moderationHandler.Routes(
			cfg.JWT.Secret,
			middleware.StrictRateLimitMiddleware(redisClient, cfg.Server.RateLimitBurst),
		))
	})

	// Create HTTP server
	server := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Server.Port,
		Handler: r,
	}

	// Start server
	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("storage", cfg.Storage.Driver).Msg("Starting moderation service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	stopScheduler()
	select {
	case <-schedulerDone:
	case <-ctx.Done():
		log.Warn().Msg("Expiry scheduler did not stop in time")
	}

	log.Info().Msg("Server stopped")
}

// openModerationStore picks the ledger and punishment store backend. Startup
// aborts when the chosen store is unreachable.
func openModerationStore(cfg *config.Config, pool *pgxpool.Pool) (storage.Ledger, storage.Punishments) {
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		gdb, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("Failed to open SQLite moderation store")
		}
		log.Info().Str("path", cfg.Storage.SQLitePath).Msg("Using SQLite moderation store")
		return sqlite.NewLedger(gdb), sqlite.NewPunishments(gdb)
	default:
		return postgres.NewLedger(pool), postgres.NewPunishments(pool)
	}
}
