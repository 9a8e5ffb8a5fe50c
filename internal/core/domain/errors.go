package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidQuery marks bad input (empty or oversized question text).
	// Returned to the caller immediately, never retried.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrRetrievalUnavailable marks a single-backend transient failure.
	// Absorbed at the fusion boundary; the pipeline continues degraded.
	ErrRetrievalUnavailable = errors.New("retrieval backend unavailable")

	// ErrRetrievalExhausted means every retrieval backend failed for a
	// request. Surfaced to the caller, safe to retry.
	ErrRetrievalExhausted = errors.New("retrieval exhausted")

	// ErrGenerationUnavailable means the language model call failed or
	// timed out. Never substituted with an unverified answer.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
