package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	httpadapter "github.com/ametov/corpus-qa/internal/adapters/http"
	"github.com/ametov/corpus-qa/internal/config"
	"github.com/ametov/corpus-qa/internal/core/ports"
	"github.com/ametov/corpus-qa/internal/core/usecase"
	memorycache "github.com/ametov/corpus-qa/internal/infrastructure/cache/memory"
	rediscache "github.com/ametov/corpus-qa/internal/infrastructure/cache/redis"
	graphneo4j "github.com/ametov/corpus-qa/internal/infrastructure/graph/neo4j"
	"github.com/ametov/corpus-qa/internal/infrastructure/keyword/bm25"
	"github.com/ametov/corpus-qa/internal/infrastructure/llm/ollama"
	natsqueue "github.com/ametov/corpus-qa/internal/infrastructure/queue/nats"
	"github.com/ametov/corpus-qa/internal/infrastructure/repository/postgres"
	"github.com/ametov/corpus-qa/internal/infrastructure/resilience"
	"github.com/ametov/corpus-qa/internal/infrastructure/rerank/httpapi"
	"github.com/ametov/corpus-qa/internal/infrastructure/rerank/lexical"
	"github.com/ametov/corpus-qa/internal/infrastructure/vector/qdrant"
	"github.com/ametov/corpus-qa/internal/observability/metrics"
)

const serviceName = "corpus-qa"

type App struct {
	Config  config.Config
	Handler http.Handler

	AskUC *usecase.AskUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	chunkRepo := postgres.NewChunkRepository(db)
	if err := chunkRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure chunks schema: %w", err)
	}
	queryLogRepo := postgres.NewQueryLogRepository(db)
	if err := queryLogRepo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure query log schema: %w", err)
	}

	// Request-path dependencies get breakers but no retries: a failed
	// backend degrades the request instead of stretching its latency.
	requestCfg := resilience.DefaultConfig()
	requestCfg.RetryMaxAttempts = 1
	requestExecutor := resilience.NewExecutor(requestCfg)
	backgroundExecutor := resilience.NewExecutor(resilience.DefaultConfig())

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, requestExecutor)
	embedder := ollama.NewEmbedder(ollamaClient)
	generator := ollama.NewGenerator(ollamaClient)

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, requestExecutor)

	keywordIndex := bm25.NewIndex(cfg.Retrieval.BM25K1, cfg.Retrieval.BM25B)
	chunks, err := chunkRepo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chunks for keyword index: %w", err)
	}
	keywordIndex.Rebuild(chunks)
	slog.Info("keyword_index_loaded", "index", keywordIndex.Stats())

	var graph ports.GraphTraverser
	var closeGraph func()
	if cfg.Neo4jURI != "" {
		traverser, err := graphneo4j.NewTraverser(
			cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, cfg.Neo4jDatabase,
			cfg.Retrieval.GraphMaxNodes,
		)
		if err != nil {
			return nil, fmt.Errorf("init graph traverser: %w", err)
		}
		graph = traverser
		closeGraph = func() { _ = traverser.Close(context.Background()) }
	} else {
		slog.Info("graph_retrieval_disabled")
	}

	var cache ports.AnswerCache
	var closeCache func()
	if cfg.RedisAddr != "" {
		redisCache := rediscache.NewFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		cache = redisCache
		closeCache = func() { _ = redisCache.Close() }
	} else {
		slog.Info("answer_cache_in_memory")
		cache = memorycache.New()
	}

	var reranker ports.Reranker
	if cfg.RerankURL != "" {
		reranker = httpapi.New(cfg.RerankURL, requestExecutor)
	} else {
		slog.Info("reranker_lexical_fallback")
		reranker = lexical.New()
	}

	askUC := usecase.NewAskUseCase(
		usecase.Params{
			ConfigVersion:        cfg.Retrieval.ConfigVersion,
			MaxQueryChars:        cfg.Retrieval.MaxQueryChars,
			CandidatesPerBackend: cfg.Retrieval.CandidatesPerBackend,
			SimilarityFloor:      cfg.Retrieval.SimilarityFloor,
			GraphMaxHops:         cfg.Retrieval.GraphMaxHops,
			Weights: usecase.FusionWeights{
				Vector:  cfg.Retrieval.VectorWeight,
				Keyword: cfg.Retrieval.KeywordWeight,
				Graph:   cfg.Retrieval.GraphWeight,
			},
			FusedTopN:           cfg.Retrieval.FusedTopN,
			AnswerTopK:          cfg.Retrieval.AnswerTopK,
			RelevanceFloor:      cfg.Retrieval.RelevanceFloor,
			BackendTimeout:      cfg.Retrieval.BackendTimeout,
			GenerationTimeout:   cfg.Retrieval.GenerationTimeout,
			GenerationMaxTokens: cfg.Retrieval.GenerationMaxTokens,
			CacheTTL:            cfg.Retrieval.CacheTTL,
		},
		embedder, vectorDB, keywordIndex, graph, chunkRepo,
		reranker, generator, cache, queryLogRepo,
	)

	var events *natsqueue.Events
	var broadcaster httpadapter.DocumentBroadcaster
	if cfg.NATSURL != "" {
		events, err = natsqueue.New(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: backgroundExecutor,
		})
		if err != nil {
			return nil, fmt.Errorf("init document events: %w", err)
		}
		broadcaster = events

		go func() {
			handler := documentUpdatedHandler(askUC, chunkRepo, keywordIndex)
			if err := events.SubscribeDocumentUpdated(ctx, handler); err != nil && ctx.Err() == nil {
				slog.Error("document_events_subscription_failed", "error", err)
			}
		}()
	}

	pipelineMetrics := metrics.NewPipelineMetrics(serviceName)
	router := httpadapter.NewRouter(serviceName, askUC, askUC, broadcaster, pipelineMetrics,
		httpadapter.RateLimitConfig{
			RequestsPerSecond: cfg.APIRateLimitRPS,
			Burst:             cfg.APIRateLimitBurst,
		})

	return &App{
		Config:  cfg,
		Handler: router.Handler(),
		AskUC:   askUC,
		closeFn: func() {
			if events != nil {
				events.Close()
			}
			if closeCache != nil {
				closeCache()
			}
			if closeGraph != nil {
				closeGraph()
			}
			_ = db.Close()
		},
	}, nil
}

// documentUpdatedHandler keeps each replica consistent after a document
// change: cached answers citing it are dropped and its chunks reindexed.
func documentUpdatedHandler(
	invalidator ports.CacheInvalidator,
	chunks ports.ChunkStore,
	index *bm25.Index,
) func(context.Context, string) error {
	return func(ctx context.Context, documentID string) error {
		if err := invalidator.InvalidateDocument(ctx, documentID); err != nil {
			return fmt.Errorf("invalidate document %s: %w", documentID, err)
		}
		updated, err := chunks.ListByDocument(ctx, documentID)
		if err != nil {
			return fmt.Errorf("list chunks for %s: %w", documentID, err)
		}
		index.ReindexDocument(documentID, updated)
		slog.Info("document_reindexed",
			"document_id", documentID,
			"chunks", len(updated),
			"index_chunks", index.Size(),
		)
		return nil
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
