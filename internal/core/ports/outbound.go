package ports

import (
	"context"
	"time"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// Embedder turns query text into the opaque vector the vector index expects.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the dense retrieval backend. Candidates below floor are
// dropped by the backend when floor > 0. Read-only.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, k int, floor float64, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// KeywordSearcher is the sparse BM25 retrieval backend.
type KeywordSearcher interface {
	Search(ctx context.Context, terms []string, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// GraphTraverser walks the knowledge graph from seed terms up to maxHops and
// maps matched nodes back to source chunks. Implementations must bound both
// traversal depth and visited-node count.
type GraphTraverser interface {
	Traverse(ctx context.Context, seeds []string, maxHops, k int, filter domain.SearchFilter) ([]domain.RetrievalCandidate, error)
}

// ChunkStore materializes chunk text and feeds the keyword index.
type ChunkStore interface {
	FetchByIDs(ctx context.Context, chunkIDs []string) (map[string]domain.ChunkRecord, error)
	ListAll(ctx context.Context) ([]domain.ChunkRecord, error)
	ListByDocument(ctx context.Context, documentID string) ([]domain.ChunkRecord, error)
}

// Reranker scores (query, candidate) pairs jointly. Scores are returned in
// candidate order. On error callers fall back to fused-score ordering.
type Reranker interface {
	Score(ctx context.Context, query string, candidates []domain.FusedCandidate) ([]float64, error)
}

// AnswerGenerator invokes the language model with a fully built prompt and a
// bounded completion budget.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// AnswerCache is the process-wide shared answer store keyed by query
// fingerprint. Set associates the entry with every cited document so that
// InvalidateDocument can drop all answers that referenced it.
type AnswerCache interface {
	Get(ctx context.Context, fingerprint string) (*domain.CachedAnswer, bool, error)
	Set(ctx context.Context, fingerprint string, entry domain.CachedAnswer, ttl time.Duration) error
	InvalidateFingerprint(ctx context.Context, fingerprint string) error
	InvalidateDocument(ctx context.Context, documentID string) error
}

// QueryLogStore persists answered requests, best-effort.
type QueryLogStore interface {
	Record(ctx context.Context, entry domain.QueryLogEntry) error
}

// DocumentEvents delivers external document-change notifications.
type DocumentEvents interface {
	SubscribeDocumentUpdated(ctx context.Context, handler func(context.Context, string) error) error
}
