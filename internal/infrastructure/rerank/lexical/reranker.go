package lexical

import (
	"context"
	"strings"
	"unicode"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// Weights for blending the fused score with query/text token overlap.
// Overlap rewards candidates that literally contain the question's terms,
// which the fused score alone can miss for dense-only hits.
const (
	fusedWeight   = 0.7
	overlapWeight = 0.3
)

// Reranker is an in-process fallback used when no cross-encoder service is
// configured. It is deterministic: same query and candidates always yield
// the same scores.
type Reranker struct{}

func New() *Reranker {
	return &Reranker{}
}

func (r *Reranker) Score(_ context.Context, query string, candidates []domain.FusedCandidate) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTokens := tokenSet(query)
	scores := make([]float64, len(candidates))
	for i, candidate := range candidates {
		scores[i] = fusedWeight*candidate.Combined + overlapWeight*overlap(queryTokens, candidate.Text)
	}
	return scores, nil
}

// overlap is the fraction of distinct query tokens present in text.
func overlap(queryTokens map[string]struct{}, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := tokenSet(text)
	matched := 0
	for token := range queryTokens {
		if _, ok := textTokens[token]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		set[field] = struct{}{}
	}
	return set
}
