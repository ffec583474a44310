package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"legalchat-backend/agents"
	"legalchat-backend/config"
	"legalchat-backend/extractor"
	"legalchat-backend/handlers"
	"legalchat-backend/middleware"
	"legalchat-backend/migrations"
	"legalchat-backend/normalizer"
	"legalchat-backend/repository"
	"legalchat-backend/retrieval"
	"legalchat-backend/runtime"
	"legalchat-backend/service"
	"legalchat-backend/storage"

	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/philippgille/chromem-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"
)

const (
	defaultGeminiEmbeddingModel = "text-embedding-004"
	registrySweepInterval       = 10 * time.Minute
	webSearchResults            = 5
)

func main() {
	config.LoadDotEnv()
	cfg := config.Load()
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		fatal("Failed to apply migrations", err)
	}

	db, err := initPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal("Failed to initialize Postgres", err)
	}
	defer db.Close()

	fileStorage, err := storage.NewStorage(ctx, storage.ConfigFromEnv())
	if err != nil {
		fatal("Failed to initialize storage", err)
	}
	logger.Info("Storage initialized")

	fetcher := storage.NewFetcher(fileStorage, storage.WithFetchTimeout(cfg.FetchTimeout))
	ex := extractor.New(fetcher, extractor.WithLogger(logger))

	// Repositories
	intakeRepo := repository.NewIntakeRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	// Model runtime
	var geminiClient *genai.Client
	if cfg.LLMProvider == config.ProviderGemini {
		geminiClient, err = initGemini(ctx, cfg.GeminiAPIKey)
		if err != nil {
			fatal("Failed to initialize Gemini", err)
		}
		defer geminiClient.Close()
	}

	var runner runtime.Runner
	model := cfg.OpenAIModel
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		runner = runtime.NewGeminiRunner(geminiClient, runtime.WithLogger(logger))
		model = cfg.GeminiModel
	default:
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY not set")
		}
		runner = runtime.NewOpenAIRunner(runtime.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL), runtime.WithLogger(logger))
	}
	invoker := runtime.NewInvoker(runner)
	logger.Info("Model runtime initialized", "provider", cfg.LLMProvider, "model", model)

	catalog := agents.NewCatalog(agents.CatalogConfig{
		Model:     model,
		Invoker:   invoker,
		Intakes:   intakeRepo,
		WebSearch: initWebSearch(cfg, logger),
		Logger:    logger,
	})

	// Services
	chatOpts := []service.ChatServiceOption{
		service.WithRunner(runner),
		service.WithCatalog(catalog),
		service.WithNormalizer(normalizer.New(ex, normalizer.WithLogger(logger))),
		service.WithChatTimeout(cfg.ChatTimeout),
		service.WithChatLogger(logger),
	}
	if cfg.RAGEnabled {
		augmenter, err := initAugmenter(ctx, cfg, logger, ex, invoker, catalog, geminiClient)
		if err != nil {
			logger.Warn("Retrieval disabled", "error", err)
		} else {
			chatOpts = append(chatOpts, service.WithAugmenter(augmenter))
		}
	}
	chatService := service.NewChatService(chatOpts...)

	intakeService := service.NewIntakeService(
		service.WithIntakeRepository(intakeRepo),
		service.WithIntakeAnalyzer(service.NewIntakeAnalyzer(invoker, catalog.IntakeAnalyst, cfg.AnalysisTimeout, logger)),
		service.WithIntakeLogger(logger),
	)

	// Handlers
	chatHandler := handlers.NewChatHandler(chatService, logger)
	intakeHandler := handlers.NewIntakeHandler(intakeService, logger)
	fileHandler := handlers.NewFileHandler(attachmentRepo, fileStorage, logger)
	adminOnly := middleware.AdminAuth(cfg.AdminTokenHash, logger)

	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := db.Ping(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status": status,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/chat", middleware.AdminIdentify(cfg.AdminTokenHash), chatHandler.Chat)

		api.POST("/intakes/analyze", intakeHandler.AnalyzeIntake)
		api.POST("/intakes", intakeHandler.CreateIntake)
		api.GET("/intakes", adminOnly, intakeHandler.ListIntakes)
		api.DELETE("/intakes/:id", adminOnly, intakeHandler.DeleteIntake)

		api.POST("/files/upload", fileHandler.UploadFile)
		api.GET("/files/:id", fileHandler.GetFile)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Failed to start server", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func initPostgres(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("Postgres connection established")
	return pool, nil
}

func initGemini(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		slog.Warn("GEMINI_API_KEY not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	slog.Info("Gemini client initialized")
	return client, nil
}

func initWebSearch(cfg *config.Config, logger *slog.Logger) agents.Tool {
	if cfg.WebSearchProvider == "" || cfg.WebSearchProvider == "none" {
		logger.Info("Web search disabled")
		return nil
	}
	searcher, err := agents.NewWebSearcher(agents.SearchProvider(cfg.WebSearchProvider), cfg.WebSearchAPIKey, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		logger.Warn("Web search disabled", "error", err)
		return nil
	}
	logger.Info("Web search enabled", "provider", cfg.WebSearchProvider)
	return agents.NewWebSearchTool(searcher, webSearchResults)
}

// initAugmenter builds the vector store, the index registry and the augmenter.
// The registry lives in Redis when REDIS_URL is set so several instances
// share conversation indexes, and in process memory otherwise.
func initAugmenter(ctx context.Context, cfg *config.Config, logger *slog.Logger, ex *extractor.Extractor, invoker agents.Invoker, catalog *agents.Catalog, geminiClient *genai.Client) (*retrieval.Augmenter, error) {
	var embed chromem.EmbeddingFunc
	if cfg.LLMProvider == config.ProviderGemini {
		embeddingModel := cfg.EmbeddingModel
		if embeddingModel == "" {
			embeddingModel = defaultGeminiEmbeddingModel
		}
		embed = retrieval.NewGeminiEmbeddingFunc(geminiClient, embeddingModel)
	} else {
		embed = retrieval.NewOpenAIEmbeddingFunc(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	}

	store, err := retrieval.NewChromemStore(cfg.RAGPersistDir, embed)
	if err != nil {
		return nil, err
	}

	var registry retrieval.Registry
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		registry = retrieval.NewRedisRegistry(client, cfg.RAGIndexTTL)
		logger.Info("Index registry backed by Redis")
	} else {
		mem := retrieval.NewMemoryRegistry(cfg.RAGIndexTTL, func(indexID string) {
			if err := store.DeleteIndex(context.Background(), indexID); err != nil {
				logger.Warn("Failed to drop expired index", "index_id", indexID, "error", err)
			}
		})
		go sweepRegistry(ctx, mem, logger)
		registry = mem
		logger.Info("Index registry in memory", "ttl", cfg.RAGIndexTTL)
	}

	opts := []retrieval.Option{
		retrieval.WithMaxResults(cfg.RAGMaxResults),
		retrieval.WithTimeout(cfg.RAGTimeout),
		retrieval.WithLogger(logger),
	}
	if cfg.RAGRewriteQuery {
		opts = append(opts, retrieval.WithQueryRewriter(invoker, catalog.QueryRewriter))
	}
	return retrieval.NewAugmenter(store, registry, ex, opts...), nil
}

func sweepRegistry(ctx context.Context, reg *retrieval.MemoryRegistry, logger *slog.Logger) {
	ticker := time.NewTicker(registrySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := reg.Sweep(); n > 0 {
				logger.Info("Expired conversation indexes", "count", n, "remaining", reg.Len())
			}
		}
	}
}
