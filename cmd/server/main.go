package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/content-store-api/internal/api"
	"github.com/content-store-api/internal/config"
	"github.com/content-store-api/internal/database"
	"github.com/content-store-api/internal/metrics"
	"github.com/content-store-api/internal/repository"
	"github.com/content-store-api/internal/search"
	"github.com/content-store-api/internal/service"
	"github.com/content-store-api/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		boot := logger.New(logger.Options{})
		boot.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log.Info().Msg("Starting content store API server...")

	// Initialize database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	if err := metrics.RegisterDBStats(db.DB); err != nil {
		log.Warn().Err(err).Msg("Failed to register database pool metrics")
	}

	// Run migrations
	if cfg.Database.RunMigrations {
		if err := db.RunMigrations(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}

	// Initialize repositories
	repos := repository.New(db, cfg.Search.TextSearchConfig)

	// Initialize index maintenance and services
	index := search.NewMaintainerFromConfig(cfg.Search, log)
	if !index.SemanticEnabled() {
		log.Warn().Msg("Embedding disabled, semantic search will report degraded_index")
	}
	services := service.NewServices(repos, index, cfg, log)

	// Start scheduled publication processor
	if cfg.Scheduler.Enabled {
		go services.Scheduler.StartProcessor(context.Background())
		log.Info().Msg("Scheduled publication processor started")
	}

	// Initialize router
	router := api.NewRouter(services, db, cfg, log)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop scheduler before draining requests
	services.Scheduler.StopProcessor()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}
