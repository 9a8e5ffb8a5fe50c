package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

type retrievalOutcome struct {
	byBackend map[domain.Backend][]domain.RetrievalCandidate
	degraded  []domain.Backend
}

// retrieve fans the query out to the three backends concurrently. Every
// backend call gets its own timeout so one slow store never stalls the
// others; a failed backend is recorded as degraded and the pipeline
// continues with whatever subset completed. Only total failure is an error.
func (uc *AskUseCase) retrieve(ctx context.Context, q domain.Query) (retrievalOutcome, error) {
	type backendResult struct {
		backend    domain.Backend
		candidates []domain.RetrievalCandidate
		err        error
	}

	calls := map[domain.Backend]func(context.Context) ([]domain.RetrievalCandidate, error){
		domain.BackendVector: func(ctx context.Context) ([]domain.RetrievalCandidate, error) {
			vector, err := uc.embedder.EmbedQuery(ctx, q.Normalized)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			return uc.vector.Search(ctx, vector, uc.cfg.CandidatesPerBackend, uc.cfg.SimilarityFloor, q.Filter)
		},
		domain.BackendKeyword: func(ctx context.Context) ([]domain.RetrievalCandidate, error) {
			return uc.keyword.Search(ctx, q.Terms, uc.cfg.CandidatesPerBackend, q.Filter)
		},
	}
	if uc.graph != nil {
		// Graph enhancement is strictly additive: unconfigured means an
		// empty contribution, not a degraded backend.
		calls[domain.BackendGraph] = func(ctx context.Context) ([]domain.RetrievalCandidate, error) {
			return uc.graph.Traverse(ctx, q.Terms, uc.cfg.GraphMaxHops, uc.cfg.CandidatesPerBackend, q.Filter)
		}
	}

	results := make(chan backendResult, len(calls))
	var wg sync.WaitGroup
	for backend, call := range calls {
		wg.Add(1)
		go func(backend domain.Backend, call func(context.Context) ([]domain.RetrievalCandidate, error)) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, uc.cfg.BackendTimeout)
			defer cancel()
			candidates, err := call(callCtx)
			results <- backendResult{backend: backend, candidates: candidates, err: err}
		}(backend, call)
	}
	wg.Wait()
	close(results)

	out := retrievalOutcome{byBackend: make(map[domain.Backend][]domain.RetrievalCandidate, len(calls))}
	failed := 0
	for res := range results {
		if res.err != nil {
			failed++
			out.degraded = append(out.degraded, res.backend)
			slog.Warn("retrieval_backend_degraded",
				"backend", string(res.backend),
				"fingerprint", q.Fingerprint,
				"error", res.err,
			)
			continue
		}
		if len(res.candidates) > 0 {
			out.byBackend[res.backend] = res.candidates
		}
	}

	if failed == len(calls) {
		return retrievalOutcome{}, domain.WrapError(domain.ErrRetrievalExhausted, "retrieve",
			fmt.Errorf("all %d retrieval backends failed", failed))
	}

	if err := uc.hydrate(ctx, &out); err != nil {
		slog.Warn("candidate_hydration_failed", "fingerprint", q.Fingerprint, "error", err)
		dropEmptyText(&out)
	}
	return out, nil
}

// hydrate materializes candidate text from the chunk store for any hit that
// arrives as a bare chunk reference, regardless of which backend produced it.
// Graph traversal always returns references; vector and keyword stores may
// too when their payloads have been pruned. Candidates whose text cannot be
// resolved are dropped: evidence the prompt cannot quote is not evidence.
func (uc *AskUseCase) hydrate(ctx context.Context, out *retrievalOutcome) error {
	var missing []string
	seen := make(map[string]struct{})
	for _, candidates := range out.byBackend {
		for _, c := range candidates {
			if c.Text != "" {
				continue
			}
			if _, dup := seen[c.ChunkID]; dup {
				continue
			}
			seen[c.ChunkID] = struct{}{}
			missing = append(missing, c.ChunkID)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	records, err := uc.chunks.FetchByIDs(ctx, missing)
	if err != nil {
		return fmt.Errorf("fetch chunk text: %w", err)
	}

	for backend, candidates := range out.byBackend {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Text == "" {
				record, ok := records[c.ChunkID]
				if !ok {
					continue
				}
				c.Text = record.Text
				c.Position = record.Position
				if c.DocumentID == "" {
					c.DocumentID = record.DocumentID
				}
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(out.byBackend, backend)
			continue
		}
		out.byBackend[backend] = kept
	}
	return nil
}

// dropEmptyText removes candidates that still lack text after a failed
// hydration pass so they never reach fusion or the prompt.
func dropEmptyText(out *retrievalOutcome) {
	for backend, candidates := range out.byBackend {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.Text == "" {
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(out.byBackend, backend)
			continue
		}
		out.byBackend[backend] = kept
	}
}
