package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/markdave123-py/docintel/internal/config"
	"github.com/markdave123-py/docintel/internal/core/agents"
	db "github.com/markdave123-py/docintel/internal/core/database"
	"github.com/markdave123-py/docintel/internal/core/embedding"
	"github.com/markdave123-py/docintel/internal/core/extraction"
	"github.com/markdave123-py/docintel/internal/core/gateway"
	"github.com/markdave123-py/docintel/internal/core/llm"
	"github.com/markdave123-py/docintel/internal/core/notify"
	objectclient "github.com/markdave123-py/docintel/internal/core/object-client"
	"github.com/markdave123-py/docintel/internal/core/processing_engine"
	"github.com/markdave123-py/docintel/internal/core/retry"
	"github.com/markdave123-py/docintel/internal/export"
	"github.com/markdave123-py/docintel/internal/services"
)

type App struct {
	Config   *config.Config
	DBClient db.DbClient
	Engine   *processing_engine.Engine
	Server   *Server

	embeddings *embedding.Gateway
	closers    []func() error
	logger     *slog.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, logger: logger}

	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	logger.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("object client initialized", slog.String("bucket", cfg.BucketName))

	genLLM, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the llm: %w", err)
	}
	a.closers = append(a.closers, genLLM.Close)

	ocrLLM, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.OCRModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the ocr model: %w", err)
	}
	a.closers = append(a.closers, ocrLLM.Close)

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}
	a.closers = append(a.closers, embedder.Close)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	a.closers = append(a.closers, rdb.Close)
	if err := rdb.Ping(appCtx).Err(); err != nil {
		// the cache and rate limiter degrade to pass-through without redis
		logger.Warn("redis unavailable", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
	}

	transport, err := notify.NewRabbitTransport(cfg.RabbitURL, cfg.RabbitExchange)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("couldn't connect to rabbitmq: %w", err)
	}
	a.closers = append(a.closers, transport.Close)

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.RetryAttempts
	policy.InitialBackoff = cfg.RetryBackoff
	policy.AttemptTimeout = cfg.AttemptTimeout

	pricing := gateway.DefaultPricing()
	pricing.OCRPerPage = cfg.OCRPricePerPage
	pricing.EntitiesPer1KChars = cfg.EntityPricePer1KChars

	gw := gateway.New(gateway.Options{
		LLM:       genLLM,
		OCR:       llm.NewGeminiOCR(ocrLLM),
		Entities:  llm.NewGeminiEntities(genLLM),
		Extractor: extraction.NewDocconvExtractor(false),
		Store:     objClient,
		Bucket:    cfg.BucketName,
		Policy:    policy,
		Pricing:   pricing,
		Logger:    logger,
	})

	embeddings := embedding.New(embedding.Options{
		Provider:     embedder,
		Cache:        embedding.NewRedisCache(rdb),
		Model:        cfg.EmbedModel,
		MaxBatchSize: cfg.EmbedBatchSize,
		CacheTTL:     cfg.EmbedCacheTTL,
		Policy:       policy,
		Pricing:      pricing,
		Logger:       logger,
	})

	a.embeddings = embeddings

	guard := agents.NewGuard(agents.GuardConfig{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		RatesPerMinute: map[agents.Name]int{
			agents.Summary:    cfg.SummaryRPM,
			agents.Entity:     cfg.EntityRPM,
			agents.ActionItem: cfg.ActionItemRPM,
			agents.QA:         cfg.QARPM,
			agents.Analysis:   cfg.AnalysisRPM,
		},
	})
	dispatcher := agents.NewDispatcher(gw, guard, logger)

	publisher := notify.NewPublisher(transport, notify.Options{Window: cfg.DedupWindow, Logger: logger})

	workflow := processing_engine.NewWorkflow(processing_engine.Deps{
		Store:    dbClient,
		Extract:  gw,
		Entities: gw,
		Agents:   dispatcher,
		Embedder: embeddings,
		Notifier: publisher,
		Logger:   logger,
	})
	a.Engine = processing_engine.NewEngine(workflow, dbClient, 0, 0, logger)

	maxBytes := int64(cfg.MaxUploadMB) << 20
	a.Server = NewServer(cfg, Services{
		Users:      services.NewUserService(dbClient, logger),
		Documents:  services.NewDocumentService(dbClient, gw, a.Engine, export.NewExporter(logger), maxBytes, logger),
		Search:     services.NewSearchService(dbClient, embeddings, dispatcher, logger),
		Dispatcher: dispatcher,
		Redis:      rdb,
		MaxBytes:   maxBytes,
	}, logger)

	return a, nil
}

// Start launches the processing workers; they stop when ctx ends.
func (a *App) Start(ctx context.Context) {
	a.Engine.Start(ctx, a.Config.Workers)
	a.logger.Info("processing engine started", slog.Int("workers", a.Config.Workers))
}

// Close releases clients in reverse order of creation.
func (a *App) Close() {
	if a.embeddings != nil {
		a.logger.Info("embedding spend", slog.Float64("usd", a.embeddings.TotalCost()))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.Any("error", err))
		}
	}
	a.closers = nil
}
