package usecase

import (
	"sort"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// FusionWeights is the per-backend weighting applied after normalization.
// Summing to 1 is the documented operating point, not an enforced rule.
type FusionWeights struct {
	Vector  float64
	Keyword float64
	Graph   float64
}

func (w FusionWeights) of(backend domain.Backend) float64 {
	switch backend {
	case domain.BackendVector:
		return w.Vector
	case domain.BackendKeyword:
		return w.Keyword
	case domain.BackendGraph:
		return w.Graph
	default:
		return 0
	}
}

// fuseCandidates merges per-backend result sets into one deduplicated,
// weighted, rank-assigned list truncated to topN.
//
// Native scores are not comparable across backends (cosine similarity vs
// BM25 vs hop proximity), so each backend's set is min-max rescaled to [0,1]
// first. A chunk surfacing in several backends keeps one normalized score
// per contributing backend; backends that missed it contribute 0. Backends
// are folded in their declared order so the fields kept for a chunk seen by
// several of them do not depend on map iteration.
func fuseCandidates(byBackend map[domain.Backend][]domain.RetrievalCandidate, weights FusionWeights, topN int) []domain.FusedCandidate {
	acc := make(map[string]*domain.FusedCandidate)

	for _, backend := range domain.Backends {
		candidates, ok := byBackend[backend]
		if !ok {
			continue
		}
		normalized := minMaxNormalize(candidates)
		for i, candidate := range candidates {
			fused, ok := acc[candidate.ChunkID]
			if !ok {
				fused = &domain.FusedCandidate{
					ChunkID:       candidate.ChunkID,
					DocumentID:    candidate.DocumentID,
					Text:          candidate.Text,
					Position:      candidate.Position,
					BackendScores: make(map[domain.Backend]float64, len(byBackend)),
				}
				acc[candidate.ChunkID] = fused
			}
			fused.BackendScores[backend] = normalized[i]
			if fused.Text == "" && candidate.Text != "" {
				fused.Text = candidate.Text
			}
			if fused.DocumentID == "" && candidate.DocumentID != "" {
				fused.DocumentID = candidate.DocumentID
			}
			if candidate.GraphContext != "" && fused.GraphContext == "" {
				fused.GraphContext = candidate.GraphContext
			}
		}
	}

	out := make([]domain.FusedCandidate, 0, len(acc))
	for _, fused := range acc {
		for backend, score := range fused.BackendScores {
			fused.Combined += weights.of(backend) * score
		}
		out = append(out, *fused)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Combined != out[j].Combined {
			return out[i].Combined > out[j].Combined
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// minMaxNormalize rescales one backend's native scores to [0,1]. A
// degenerate set (single candidate, or all scores equal) maps to 1 so the
// backend still casts a full-weight vote for what it returned.
func minMaxNormalize(candidates []domain.RetrievalCandidate) []float64 {
	if len(candidates) == 0 {
		return nil
	}
	minScore := candidates[0].Score
	maxScore := candidates[0].Score
	for _, c := range candidates[1:] {
		if c.Score < minScore {
			minScore = c.Score
		}
		if c.Score > maxScore {
			maxScore = c.Score
		}
	}

	out := make([]float64, len(candidates))
	spread := maxScore - minScore
	for i, c := range candidates {
		if spread <= 0 {
			out[i] = 1
			continue
		}
		out[i] = (c.Score - minScore) / spread
	}
	return out
}
