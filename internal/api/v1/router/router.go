package router

import (
	"context"
	"net/http"
	"strings"

	"pdf2audio/internal/api/v1/handler"
	"pdf2audio/internal/config"
	"pdf2audio/internal/middleware"
	"pdf2audio/internal/pgmq"
	"pdf2audio/internal/repository"
	"pdf2audio/internal/service"
	"pdf2audio/internal/storage"
	"pdf2audio/internal/worker"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	logger.Info().Msg("Router initialized")
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	// 1. Open DB connection (connection pooling)
	pool, err := OpenPool(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Initialize S3 client
	store, err := storage.NewS3Store(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize object store: %v", err)
		return nil, nil, err
	}

	// 3. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 4. Resolve the billing webhook secret
	webhookSecret, err := service.ResolveWebhookSecret(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to resolve webhook secret: %v", err)
		return nil, nil, err
	}

	// 5. Initialize repositories & services & handlers
	userRepo := repository.NewUserRepo()
	jobRepo := repository.NewJobRepo()
	subRepo := repository.NewSubscriptionRepo()
	txnRepo := repository.NewTransactionRepo()
	productRepo := repository.NewProductRepo()

	dispatcher := worker.NewDispatcher(pgmq.New(pool), cfg.ConversionQueueName)

	entitlementSvc := service.NewEntitlementService(pool, cfg, userRepo, jobRepo, txnRepo, logger)
	jobSvc := service.NewJobService(pool, jobRepo, entitlementSvc, store, dispatcher, logger)
	userSvc := service.NewUserService(pool, userRepo, logger)
	paddleSvc := service.NewPaddleService(pool, webhookSecret, userRepo, subRepo, productRepo, entitlementSvc, logger)

	jobHandler := handler.NewJobHandler(jobSvc, validate, logger)
	userHandler := handler.NewUserHandler(userSvc, entitlementSvc, logger)
	webhookHandler := handler.NewWebhookHandler(paddleSvc, logger)

	// 6. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	// 7. Create ServeMux router
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	jobHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	userHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	webhookHandler.RegisterRoutes(apiV1Mux)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// 8. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), pool, nil
}

// OpenPool dials Postgres with environment-appropriate DSN adjustments.
func OpenPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.DBConnectionString
	// Local development databases typically run without TLS; production
	// connection strings are expected to carry their own SSL settings.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := " "
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			if strings.Contains(dsn, "?") {
				separator = "&"
			} else {
				separator = "?"
			}
		}
		dsn += separator + "sslmode=disable"
	}
	// Transaction poolers such as pgbouncer break server-side prepared
	// statements, so non-development environments use the simple protocol.
	if cfg.Environment != "development" && !strings.Contains(dsn, "default_query_exec_mode") {
		separator := "&"
		if !strings.Contains(dsn, "?") {
			separator = "?"
		}
		dsn += separator + "default_query_exec_mode=simple_protocol"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
