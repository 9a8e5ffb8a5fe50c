package usecase

import "github.com/ametov/corpus-qa/internal/core/domain"

// decideGrounding is the hard no-evidence gate: generation runs only when at
// least one candidate survived reranking and the best one clears the
// relevance floor. This is an invariant, not a heuristic: an insufficient
// decision short-circuits to the ungrounded answer without any model call.
func decideGrounding(evidence []domain.RerankedCandidate, relevanceFloor float64) domain.GroundingDecision {
	if len(evidence) == 0 {
		return domain.GroundingDecision{Reason: domain.GroundingNoCandidates}
	}
	if evidence[0].Relevance < relevanceFloor {
		return domain.GroundingDecision{Reason: domain.GroundingBelowFloor}
	}
	return domain.GroundingDecision{
		Sufficient: true,
		Reason:     domain.GroundingOK,
		Evidence:   evidence,
	}
}
