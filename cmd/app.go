package cmd

import (
	"context"
	"fmt"

	"github.com/code-sleuth/ike-rag/internal/config"
	"github.com/code-sleuth/ike-rag/internal/manager/chunkers"
	"github.com/code-sleuth/ike-rag/internal/manager/embedders"
	"github.com/code-sleuth/ike-rag/internal/manager/generators"
	"github.com/code-sleuth/ike-rag/internal/manager/importers"
	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/internal/manager/repository"
	"github.com/code-sleuth/ike-rag/internal/manager/services"
	"github.com/code-sleuth/ike-rag/internal/manager/transformers"
	"github.com/code-sleuth/ike-rag/internal/manager/vectorstore"
	"github.com/code-sleuth/ike-rag/pkg/db"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
)

// app holds the wiring shared by commands. Components that need API keys
// are built on first use so commands that do not need them still run.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	database *db.DB
	store    vectorstore.Store
	jobs     *repository.JobRepository
	docs     *repository.DocumentRepository
	chats    *repository.ChatRepository
	metrics  *services.Metrics

	embedder  interfaces.Embedder
	queue     *services.JobQueue
	retrieval *services.RetrievalEngine
}

// newApp opens the database, applies migrations and builds the
// repositories.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := util.NewLogger(util.ParseLevel(cfg.LogLevel))

	database, err := db.NewConnection(cfg.Database.URL, cfg.Database.AuthToken)
	if err != nil {
		logger.Error().Err(err).Str("database_url", cfg.Database.URL).Msg("Failed to connect to database")
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to migrate database")
		_ = database.Close()
		return nil, err
	}

	store := vectorstore.NewSQLStore(database.DB).WithLogger(logger)
	return &app{
		cfg:      cfg,
		logger:   logger,
		database: database,
		store:    store,
		jobs:     repository.NewJobRepository(store).WithLogger(logger),
		docs:     repository.NewDocumentRepository(store).WithLogger(logger),
		chats:    repository.NewChatRepository(store).WithLogger(logger),
		metrics:  services.NewMetrics(),
	}, nil
}

func (a *app) Close() {
	if err := a.database.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close database connection")
	}
}

func (a *app) getEmbedder() (interfaces.Embedder, error) {
	if a.embedder != nil {
		return a.embedder, nil
	}
	embedder, err := embedders.New(a.cfg.Embedder)
	if err != nil {
		a.logger.Error().Err(err).Str("embedder", a.cfg.Embedder.Type).Msg("Failed to create embedder")
		return nil, err
	}
	a.embedder = embedder
	return embedder, nil
}

// jobQueue builds the fetcher, the ingestion pipeline and the queue that
// runs it. The queue is not started.
func (a *app) jobQueue() (*services.JobQueue, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	embedder, err := a.getEmbedder()
	if err != nil {
		return nil, err
	}

	httpFetcher := importers.NewHTTPFetcher()
	httpFetcher.SetLogger(a.logger)
	httpFetcher.SetMaxBodyBytes(a.cfg.Fetch.MaxBodyBytes)
	httpFetcher.SetRatePerHost(a.cfg.Fetch.RatePerHost)
	httpFetcher.SetUserAgent(a.cfg.Fetch.UserAgent)
	fetcher := importers.NewDefaultRouter(httpFetcher)

	pipeline := services.NewIngestionPipeline(fetcher, embedder, a.jobs, a.docs, a.cfg.ProcessingOptions())
	pipeline.SetLogger(a.logger)
	pipeline.SetMetrics(a.metrics)

	for _, t := range []interfaces.Transformer{
		transformers.NewWPJSONTransformer(),
		transformers.NewHTMLTransformer(),
		transformers.NewTextTransformer(),
	} {
		if err := pipeline.RegisterTransformer(t); err != nil {
			return nil, fmt.Errorf("register %s transformer: %w", t.GetSourceType(), err)
		}
	}

	tokenChunker, err := chunkers.NewTokenChunker("")
	if err != nil {
		return nil, fmt.Errorf("create token chunker: %w", err)
	}
	for _, c := range []interfaces.Chunker{chunkers.NewTextChunker(), tokenChunker} {
		if err := pipeline.RegisterChunker(c); err != nil {
			return nil, fmt.Errorf("register %s chunker: %w", c.GetChunkingStrategy(), err)
		}
	}
	pipeline.SetTokenCounter(tokenChunker)

	queue, err := services.NewJobQueue(a.jobs, pipeline, a.cfg.Queue.Workers, a.cfg.Queue.Backlog)
	if err != nil {
		return nil, err
	}
	queue.SetLogger(a.logger)
	queue.SetMetrics(a.metrics)
	queue.SetValidator(fetcher.ValidateSource)

	a.queue = queue
	return queue, nil
}

func (a *app) retrievalEngine() (*services.RetrievalEngine, error) {
	if a.retrieval != nil {
		return a.retrieval, nil
	}
	embedder, err := a.getEmbedder()
	if err != nil {
		return nil, err
	}
	generator, err := generators.New(a.cfg.Generator)
	if err != nil {
		a.logger.Error().Err(err).Str("generator", a.cfg.Generator.Type).Msg("Failed to create generator")
		return nil, err
	}

	engine := services.NewRetrievalEngine(embedder, generator, a.docs, a.chats, a.cfg.RetrievalOptions())
	engine.SetLogger(a.logger)
	engine.SetMetrics(a.metrics)
	a.retrieval = engine
	return engine, nil
}

// controlQueue returns a queue for listing and cancelling jobs from a
// process that runs none. It is never started, so it needs no runner.
func (a *app) controlQueue() (*services.JobQueue, error) {
	queue, err := services.NewJobQueue(a.jobs, nil, 1, 1)
	if err != nil {
		return nil, err
	}
	queue.SetLogger(a.logger)
	return queue, nil
}
