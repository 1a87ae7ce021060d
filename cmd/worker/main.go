package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"pdf2audio/internal/api/v1/router"
	"pdf2audio/internal/config"
	"pdf2audio/internal/logger"
	"pdf2audio/internal/pgmq"
	"pdf2audio/internal/pipeline"
	"pdf2audio/internal/pubsub"
	"pdf2audio/internal/repository"
	"pdf2audio/internal/service"
	"pdf2audio/internal/storage"
	"pdf2audio/internal/worker"

	"github.com/joho/godotenv"
)

func main() {
	// Parse mode flag
	mode := flag.String("mode", "", "Worker mode: convert|sweep")
	flag.Parse()

	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize DB connection
	pool, err := router.OpenPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer pool.Close()
	logger.Info().Msg("Database connection established")

	// Initialize object store
	store, err := storage.NewS3Store(ctx, cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize object store: %v", err)
	}

	jobRepo := repository.NewJobRepo()

	// Dispatch to the selected worker
	var runErr error
	switch *mode {
	case "convert":
		publisher, err := pubsub.NewPublisher(ctx, cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
		}
		pipe := pipeline.NewClient(cfg.ConversionServiceBaseURL, logger)
		converter := worker.NewConverter(cfg, pool, pgmq.New(pool), jobRepo, store, pipe, publisher, logger)
		runErr = converter.Run(ctx)
	case "sweep":
		cleanup := service.NewCleanupService(pool, cfg, jobRepo, store, logger)
		sweeper := worker.NewSweeper(cfg, cleanup, logger)
		runErr = sweeper.Run(ctx)
	default:
		logger.Fatal().Msgf("Invalid mode: %s", *mode)
	}

	if runErr != nil {
		logger.Fatal().Msgf("Worker exited with error: %v", runErr)
	}
	logger.Info().Msg("Worker shut down gracefully")
}
