package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ametov/corpus-qa/internal/core/domain"
	"github.com/ametov/corpus-qa/internal/core/ports"
)

// Params is the validated pipeline tuning surface, mapped from config at
// construction time.
type Params struct {
	ConfigVersion string
	MaxQueryChars int

	CandidatesPerBackend int
	SimilarityFloor      float64
	GraphMaxHops         int

	Weights        FusionWeights
	FusedTopN      int
	AnswerTopK     int
	RelevanceFloor float64

	BackendTimeout      time.Duration
	GenerationTimeout   time.Duration
	GenerationMaxTokens int

	CacheTTL time.Duration
}

// AskUseCase owns the per-request state machine:
//
//	CacheCheck -> (HIT: return)
//	           -> (MISS: Retrieve -> Fuse/Rerank -> Gate
//	               -> [Abort: ungrounded Answer]
//	               -> [Proceed: Generate -> StoreCache -> return])
//
// Requests with the same fingerprint coalesce onto one in-flight pipeline
// run, so concurrent identical queries share a single generation call.
type AskUseCase struct {
	cfg Params

	embedder  ports.Embedder
	vector    ports.VectorSearcher
	keyword   ports.KeywordSearcher
	graph     ports.GraphTraverser
	chunks    ports.ChunkStore
	reranker  ports.Reranker
	generator ports.AnswerGenerator
	cache     ports.AnswerCache
	queryLog  ports.QueryLogStore

	flight singleflight.Group
}

// NewAskUseCase wires the pipeline. graph may be nil when no graph store is
// configured; queryLog may be nil to disable request logging.
func NewAskUseCase(
	cfg Params,
	embedder ports.Embedder,
	vector ports.VectorSearcher,
	keyword ports.KeywordSearcher,
	graph ports.GraphTraverser,
	chunks ports.ChunkStore,
	reranker ports.Reranker,
	generator ports.AnswerGenerator,
	cache ports.AnswerCache,
	queryLog ports.QueryLogStore,
) *AskUseCase {
	return &AskUseCase{
		cfg:       cfg,
		embedder:  embedder,
		vector:    vector,
		keyword:   keyword,
		graph:     graph,
		chunks:    chunks,
		reranker:  reranker,
		generator: generator,
		cache:     cache,
		queryLog:  queryLog,
	}
}

func (uc *AskUseCase) Ask(ctx context.Context, question string, opts ports.AskOptions) (*domain.Answer, error) {
	start := time.Now()

	q, err := NormalizeQuery(question, opts.Filter, uc.cfg.MaxQueryChars, uc.cfg.ConfigVersion)
	if err != nil {
		return nil, err
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = uc.cfg.AnswerTopK
	}

	if !opts.SkipCache {
		if answer := uc.cacheLookup(ctx, q); answer != nil {
			answer.Latency = time.Since(start)
			uc.logQuery(ctx, q, answer)
			return answer, nil
		}
	}

	// Coalesce identical in-flight requests. The pipeline runs on a
	// detached context with its own deadline: one waiter disconnecting
	// must not cancel the shared generation for the rest.
	flightKey := fmt.Sprintf("%s|%d", q.Fingerprint, topK)
	ch := uc.flight.DoChan(flightKey, func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.pipelineDeadline())
		defer cancel()
		return uc.run(runCtx, q, topK)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		shared := *res.Val.(*domain.Answer)
		shared.Latency = time.Since(start)
		uc.logQuery(ctx, q, &shared)
		return &shared, nil
	}
}

func (uc *AskUseCase) InvalidateFingerprint(ctx context.Context, fingerprint string) error {
	return uc.cache.InvalidateFingerprint(ctx, fingerprint)
}

func (uc *AskUseCase) InvalidateDocument(ctx context.Context, documentID string) error {
	return uc.cache.InvalidateDocument(ctx, documentID)
}

// run executes retrieval through generation. Stages are strictly ordered;
// no stage observes partial output of a later one.
func (uc *AskUseCase) run(ctx context.Context, q domain.Query, topK int) (*domain.Answer, error) {
	outcome, err := uc.retrieve(ctx, q)
	if err != nil {
		return nil, err
	}

	fused := fuseCandidates(outcome.byBackend, uc.cfg.Weights, uc.cfg.FusedTopN)
	reranked := rerankCandidates(ctx, uc.reranker, q.Raw, fused, topK)
	decision := decideGrounding(reranked, uc.cfg.RelevanceFloor)

	if !decision.Sufficient {
		slog.Info("grounding_aborted",
			"fingerprint", q.Fingerprint,
			"reason", string(decision.Reason),
			"candidates", len(reranked),
		)
		return &domain.Answer{
			Text:      ungroundedAnswerText,
			Citations: []domain.Citation{},
			Degraded:  outcome.degraded,
		}, nil
	}

	prompt := buildGroundedPrompt(q.Raw, decision.Evidence)

	genCtx, cancel := context.WithTimeout(ctx, uc.cfg.GenerationTimeout)
	defer cancel()
	text, err := uc.generator.Generate(genCtx, prompt, uc.cfg.GenerationMaxTokens)
	if err != nil {
		return nil, domain.WrapError(domain.ErrGenerationUnavailable, "generate answer", err)
	}

	citations := make([]domain.Citation, 0, len(decision.Evidence))
	for _, ev := range decision.Evidence {
		citations = append(citations, domain.Citation{ChunkID: ev.ChunkID, DocumentID: ev.DocumentID})
	}

	answer := &domain.Answer{
		Text:      text,
		Citations: citations,
		Grounded:  true,
		Degraded:  outcome.degraded,
	}
	uc.cacheStore(ctx, q, answer)
	return answer, nil
}

func (uc *AskUseCase) cacheLookup(ctx context.Context, q domain.Query) *domain.Answer {
	entry, ok, err := uc.cache.Get(ctx, q.Fingerprint)
	if err != nil {
		slog.Warn("cache_lookup_failed", "fingerprint", q.Fingerprint, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &domain.Answer{
		Text:      entry.Text,
		Citations: entry.Citations,
		Grounded:  true,
		FromCache: true,
	}
}

// cacheStore persists grounded answers only: an ungrounded result may become
// answerable after the next ingestion, so it is never cached.
func (uc *AskUseCase) cacheStore(ctx context.Context, q domain.Query, answer *domain.Answer) {
	entry := domain.CachedAnswer{
		Text:      answer.Text,
		Citations: answer.Citations,
		CreatedAt: time.Now().UTC(),
	}
	if err := uc.cache.Set(ctx, q.Fingerprint, entry, uc.cfg.CacheTTL); err != nil {
		slog.Warn("cache_store_failed", "fingerprint", q.Fingerprint, "error", err)
	}
}

func (uc *AskUseCase) logQuery(ctx context.Context, q domain.Query, answer *domain.Answer) {
	if uc.queryLog == nil {
		return
	}
	entry := domain.QueryLogEntry{
		ID:          uuid.NewString(),
		Question:    q.Raw,
		Fingerprint: q.Fingerprint,
		Grounded:    answer.Grounded,
		FromCache:   answer.FromCache,
		Citations:   len(answer.Citations),
		Latency:     answer.Latency,
		CreatedAt:   time.Now().UTC(),
	}
	if err := uc.queryLog.Record(ctx, entry); err != nil {
		slog.Warn("query_log_failed", "fingerprint", q.Fingerprint, "error", err)
	}
}

func (uc *AskUseCase) pipelineDeadline() time.Duration {
	return uc.cfg.BackendTimeout + uc.cfg.GenerationTimeout + 10*time.Second
}
