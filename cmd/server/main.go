package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/site-analytics-import/internal/api"
	"github.com/site-analytics-import/internal/config"
	"github.com/site-analytics-import/internal/database"
	"github.com/site-analytics-import/internal/importer"
	"github.com/site-analytics-import/internal/queue"
	"github.com/site-analytics-import/internal/repository"
	"github.com/site-analytics-import/internal/storage"
	"github.com/site-analytics-import/pkg/logger"
)

func main() {
	// Initialize logger
	log := logger.New()
	log.Info().Msg("Starting analytics import server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "./migrations"
	}
	if err := db.RunMigrations(migrationsPath); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	repos := repository.New(db)

	// Initialize file stores. Cloud deployments add S3 so files survive node
	// boundaries between upload and worker.
	local, err := storage.NewLocalStore(cfg.Import.UploadDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize local file store")
	}
	var remote storage.FileStore
	if cfg.IsCloud() {
		s3, err := storage.NewS3Store(&cfg.S3)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 file store")
		}
		if err := s3.EnsureBucket(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure import bucket")
		}
		remote = s3
	}

	// Initialize job queue and the import pipeline workers
	q := queue.Get(cfg, db, log)
	if err := importer.CreateQueues(context.Background(), q); err != nil {
		log.Fatal().Err(err).Msg("Failed to declare job queues")
	}

	quotas := importer.NewQuotaFactory(repos.Organization, repos.Event, log)
	parseWorker := importer.NewParseWorker(q, repos.ImportStatus, quotas, local, remote, cfg.Import.ChunkSize, log)
	insertWorker := importer.NewInsertWorker(repos.ImportStatus, repos.Event, log)
	if err := importer.RegisterWorkers(q, parseWorker, insertWorker, cfg.Import.Workers); err != nil {
		log.Fatal().Err(err).Msg("Failed to register queue workers")
	}
	if err := q.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job queue")
	}
	log.Info().Msg("Job queue started")

	// Initialize router
	importHandler := api.NewImportHandler(repos, q, local, remote, quotas, api.NewTokenAuthorizer(), cfg, log)
	router := api.NewRouter(importHandler, log)

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

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight jobs before exit
	if err := q.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Job queue did not stop cleanly")
	}

	log.Info().Msg("Server exited gracefully")
}
