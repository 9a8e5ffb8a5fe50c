package domain

// Backend tags which retrieval engine produced a candidate.
type Backend string

const (
	BackendVector  Backend = "vector"
	BackendKeyword Backend = "keyword"
	BackendGraph   Backend = "graph"
)

// Backends lists every retrieval backend in fan-out order.
var Backends = []Backend{BackendVector, BackendKeyword, BackendGraph}

// ChunkRecord is one stored chunk as materialized from the chunk store.
type ChunkRecord struct {
	ChunkID    string
	DocumentID string
	ProjectID  string
	Position   int
	Text       string
}

// RetrievalCandidate is one chunk returned by one backend. Score is on the
// backend's native scale (cosine similarity, BM25, hop proximity) and is
// only comparable within a single backend's result set.
type RetrievalCandidate struct {
	ChunkID    string
	DocumentID string
	Text       string
	Score      float64
	Backend    Backend
	Position   int

	// GraphContext carries entity/relation context for graph hits, empty
	// for the other backends.
	GraphContext string
}

// FusedCandidate is one distinct chunk after deduplication across backends.
// BackendScores holds the per-backend min-max normalized score for every
// backend that contributed; absent backends score 0 in the combination.
type FusedCandidate struct {
	ChunkID       string
	DocumentID    string
	Text          string
	Position      int
	GraphContext  string
	BackendScores map[Backend]float64
	Combined      float64
	Rank          int
}

// RerankedCandidate is a fused candidate with its cross-encoder relevance
// score and final rank. Final order is total: ties fall back to ascending
// chunk ID.
type RerankedCandidate struct {
	FusedCandidate
	Relevance float64
	FinalRank int
}

// GroundingReason codes why the gate allowed or refused generation.
type GroundingReason string

const (
	GroundingOK           GroundingReason = "ok"
	GroundingNoCandidates GroundingReason = "no_candidates"
	GroundingBelowFloor   GroundingReason = "below_relevance_floor"
)

// GroundingDecision is computed once per query and never mutated.
type GroundingDecision struct {
	Sufficient bool
	Reason     GroundingReason
	Evidence   []RerankedCandidate
}
