// Package app wires configuration, storage, the message bus, workers
// and HTTP handlers into one lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/distill/internal/common"
	"github.com/ternarybob/distill/internal/handlers"
	"github.com/ternarybob/distill/internal/interfaces"
	"github.com/ternarybob/distill/internal/models"
	"github.com/ternarybob/distill/internal/queue"
	"github.com/ternarybob/distill/internal/services/chunker"
	"github.com/ternarybob/distill/internal/services/index"
	"github.com/ternarybob/distill/internal/services/llm"
	"github.com/ternarybob/distill/internal/services/parser"
	"github.com/ternarybob/distill/internal/services/retrieval"
	"github.com/ternarybob/distill/internal/storage"
	"github.com/ternarybob/distill/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager *storage.Manager
	Bus            *queue.Bus

	// Services
	Parser            interfaces.Parser
	Chunker           *chunker.Chunker
	EmbeddingService  interfaces.EmbeddingService
	GenerationService interfaces.GenerationService
	SearchService     interfaces.SearchService

	// Queue consumers
	IngestionWorker   *workers.IngestionWorker
	EmbeddingWorker   *workers.EmbeddingWorker
	ingestionConsumer *queue.Consumer
	embeddingConsumer *queue.Consumer
	sweeper           *workers.Sweeper

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	DocumentHandler *handlers.DocumentHandler
	QueryHandler    *handlers.QueryHandler
	WSHandler       *handlers.WebSocketHandler
}

// New builds the application from configuration. Construction opens
// storage and creates every component; nothing starts consuming until
// Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := storage.NewManager(logger, &config.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	bus, err := queue.NewBus(
		storageManager.BadgerDB(),
		config.VisibilityTimeout(),
		config.Queue.MaxReceive,
		logger,
	)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize message bus: %w", err)
	}
	a.Bus = bus

	a.Parser = parser.NewService(logger)
	a.Chunker = chunker.New(&config.Chunking, logger)

	a.EmbeddingService, err = llm.NewEmbeddingService(config, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize embedding service: %w", err)
	}
	a.GenerationService, err = llm.NewGenerationService(config, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize generation service: %w", err)
	}

	denseIndex := index.NewDense(storageManager.DocumentStorage(), logger)
	sparseIndex := index.NewSparse(storageManager.DocumentStorage(), logger)
	a.SearchService = retrieval.NewRetriever(denseIndex, sparseIndex, a.EmbeddingService, logger)

	a.IngestionWorker = workers.NewIngestionWorker(
		storageManager.JobStorage(),
		storageManager.BlobStorage(),
		a.Parser,
		a.Chunker,
		bus,
		logger,
	)
	a.EmbeddingWorker = workers.NewEmbeddingWorker(
		storageManager.JobStorage(),
		storageManager.DocumentStorage(),
		a.EmbeddingService,
		logger,
	)

	a.ingestionConsumer = queue.NewConsumer(
		bus,
		models.TopicIngest,
		"ingestion",
		config.Workers.IngestionConcurrency,
		config.PollInterval(),
		config.Queue.BatchSize,
		a.IngestionWorker.Handle,
		logger,
	)
	a.embeddingConsumer = queue.NewConsumer(
		bus,
		models.TopicChunk,
		"embedding",
		config.Workers.EmbeddingConcurrency,
		config.PollInterval(),
		config.Queue.BatchSize,
		a.EmbeddingWorker.Handle,
		logger,
	)

	if config.Sweeper.Enabled {
		a.sweeper, err = workers.NewSweeper(&config.Sweeper, storageManager.JobStorage(), logger)
		if err != nil {
			storageManager.Close()
			return nil, fmt.Errorf("failed to initialize sweeper: %w", err)
		}
	}

	a.APIHandler = handlers.NewAPIHandler(bus, storageManager.DocumentStorage(), logger)
	a.DocumentHandler = handlers.NewDocumentHandler(config, storageManager.JobStorage(), storageManager.BlobStorage(), bus, logger)
	a.QueryHandler = handlers.NewQueryHandler(config, a.SearchService, a.GenerationService, logger)
	a.WSHandler = handlers.NewWebSocketHandler(&config.WebSocket, storageManager.JobStorage(), logger)

	logger.Info().
		Str("environment", config.Environment).
		Str("embedding_provider", config.Embedding.Provider).
		Str("llm_provider", string(config.LLM.Provider)).
		Msg("Application initialized")

	return a, nil
}

// Start launches the queue consumers and the stale job sweeper
func (a *App) Start() error {
	if err := a.ingestionConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start ingestion consumer: %w", err)
	}
	if err := a.embeddingConsumer.Start(); err != nil {
		return fmt.Errorf("failed to start embedding consumer: %w", err)
	}
	if a.sweeper != nil {
		a.sweeper.Start()
	}

	a.Logger.Info().Msg("Workers started")
	return nil
}

// Stop drains the consumers and closes storage. Consumers stop first
// so no handler runs against closed storage.
func (a *App) Stop(ctx context.Context) error {
	a.Logger.Info().Msg("Stopping workers")

	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if err := a.ingestionConsumer.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to stop ingestion consumer")
	}
	if err := a.embeddingConsumer.Stop(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to stop embedding consumer")
	}

	if err := a.StorageManager.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	a.Logger.Info().Msg("Application stopped")
	return nil
}
