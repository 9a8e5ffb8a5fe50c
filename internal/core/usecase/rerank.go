package usecase

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ametov/corpus-qa/internal/core/domain"
	"github.com/ametov/corpus-qa/internal/core/ports"
)

// rerankCandidates scores the fused head jointly with the query and emits
// the final top-K. Order is total: relevance descending, ties broken by
// ascending chunk ID. A reranker failure falls back to the fused combined
// score so one degraded model never fails an otherwise answerable request.
func rerankCandidates(ctx context.Context, reranker ports.Reranker, query string, fused []domain.FusedCandidate, topK int) []domain.RerankedCandidate {
	if len(fused) == 0 {
		return nil
	}

	scores, err := reranker.Score(ctx, query, fused)
	if err != nil || len(scores) != len(fused) {
		if err != nil {
			slog.Warn("reranker_degraded", "error", err, "candidates", len(fused))
		}
		scores = make([]float64, len(fused))
		for i, c := range fused {
			scores[i] = c.Combined
		}
	}

	out := make([]domain.RerankedCandidate, len(fused))
	for i, c := range fused {
		out[i] = domain.RerankedCandidate{
			FusedCandidate: c,
			Relevance:      scores[i],
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].FinalRank = i + 1
	}
	return out
}
