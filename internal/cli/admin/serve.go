package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corpora-labs/corpusd/internal/api/handlers"
	"github.com/corpora-labs/corpusd/internal/config"
	"github.com/corpora-labs/corpusd/internal/jobs"
	"github.com/corpora-labs/corpusd/internal/notify"
	"github.com/corpora-labs/corpusd/internal/openai"
	"github.com/corpora-labs/corpusd/internal/repository"
	"github.com/corpora-labs/corpusd/internal/rerank"
	"github.com/corpora-labs/corpusd/internal/server"
	"github.com/corpora-labs/corpusd/internal/service"
	"github.com/corpora-labs/corpusd/internal/storage"
	"github.com/corpora-labs/corpusd/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	openaigo "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the corpusd API server and the background ingestion worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize Sentry with tracing if SENTRY_DSN is set
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		// Default to 10% sampling in production, 100% in development
		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	if !cfg.HasS3() {
		return fmt.Errorf("S3 storage is not configured (set CORPUS_S3_ENDPOINT, CORPUS_S3_ACCESS_KEY, CORPUS_S3_SECRET_KEY)")
	}
	if !cfg.HasOpenAI() {
		return fmt.Errorf("embedding provider is not configured (set CORPUS_OPENAI_API_KEY)")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	documentRepo := repository.NewDocumentRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	apiKeyRepo := repository.NewAPIKeyRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKey,
		SecretAccessKey: cfg.S3SecretKey,
		Bucket:          cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)

	openaiClient := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingModel:      openaigo.EmbeddingModel(cfg.EmbeddingModel),
		MetadataModel:       cfg.MetadataModel,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})

	var reranker service.RerankClient
	if cfg.HasReranker() {
		reranker = &rerankAdapter{client: rerank.NewHFClient(rerank.Config{
			Token: cfg.HFToken,
			Model: cfg.RerankerModel,
		})}
		log.Printf("reranker enabled (model: %s)", cfg.RerankerModel)
	}

	broker := notify.NewBroker()
	defer broker.Close()

	chunkCfg := service.ChunkConfig{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		MinChunkChars: cfg.ChunkMinChars,
	}

	ingestionSvc := service.NewIngestionService(
		documentRepo, chunkRepo, txRunner, s3Client, openaiClient, openaiClient, broker, chunkCfg)

	ingestProcessor := jobs.NewIngestWorker(documentRepo, ingestionSvc, jobs.DefaultBatchSize, cfg.IngestConcurrency)
	ingestWorker := jobs.NewWorker(ingestProcessor, time.Duration(cfg.IngestPollSeconds)*time.Second)
	go ingestWorker.Start(ctx)
	log.Println("ingestion worker started")

	documentSvc := service.NewDocumentService(documentRepo, s3Client, ingestWorker, cfg.MaxUploadBytes)
	retrievalSvc := service.NewRetrievalService(chunkRepo, openaiClient, reranker, service.RetrievalConfig{
		HybridEnabled:  cfg.HybridSearchEnabled,
		MatchThreshold: cfg.MatchThreshold,
	})
	authSvc := service.NewAuthService(userRepo, apiKeyRepo, &service.DefaultUUIDGenerator{})

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:   authSvc,
		DocumentHandler: handlers.NewDocumentHandler(documentSvc),
		SearchHandler:   handlers.NewSearchHandler(retrievalSvc),
		EventsHandler:   handlers.NewEventsHandler(broker),
		AuthHandler:     handlers.NewAuthHandler(authSvc),
		MaxBodyBytes:    cfg.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	ingestWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

// rerankAdapter maps the HuggingFace client's score type onto the retrieval
// service interface.
type rerankAdapter struct {
	client *rerank.HFClient
}

func (a *rerankAdapter) Rerank(ctx context.Context, query string, texts []string) ([]service.RerankScore, error) {
	scores, err := a.client.Rerank(ctx, query, texts)
	if err != nil {
		return nil, err
	}
	out := make([]service.RerankScore, len(scores))
	for i, s := range scores {
		out[i] = service.RerankScore{Index: s.Index, Score: s.Score}
	}
	return out, nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
