package ports

import (
	"context"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

// AskOptions tune a single request without touching pipeline construction.
type AskOptions struct {
	Filter    domain.SearchFilter
	TopK      int
	SkipCache bool
}

// QuestionAnswerer is the inbound contract for grounded question answering.
type QuestionAnswerer interface {
	Ask(ctx context.Context, question string, opts AskOptions) (*domain.Answer, error)
}

// CacheInvalidator exposes explicit cache invalidation to the outside:
// ingestion and admin layers call it when underlying documents change.
type CacheInvalidator interface {
	InvalidateFingerprint(ctx context.Context, fingerprint string) error
	InvalidateDocument(ctx context.Context, documentID string) error
}
