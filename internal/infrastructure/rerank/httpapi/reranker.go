package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ametov/corpus-qa/internal/core/domain"
	"github.com/ametov/corpus-qa/internal/infrastructure/resilience"
)

// Reranker calls an external cross-encoder scoring service. The service
// scores every (query, text) pair jointly and returns one relevance score
// per candidate, in request order.
type Reranker struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, executor *resilience.Executor) *Reranker {
	return &Reranker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		executor:   executor,
	}
}

func (r *Reranker) Score(ctx context.Context, query string, candidates []domain.FusedCandidate) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, candidate := range candidates {
		texts[i] = candidate.Text
	}
	reqBody := map[string]any{
		"query": query,
		"texts": texts,
	}

	var scores []float64
	err := r.execute(ctx, func(ctx context.Context) error {
		got, err := r.score(ctx, reqBody)
		if err != nil {
			return err
		}
		scores = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("reranker returned %d scores for %d candidates", len(scores), len(candidates))
	}
	return scores, nil
}

func (r *Reranker) score(ctx context.Context, reqBody map[string]any) ([]float64, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("rerank status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var scoreResp struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&scoreResp); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return scoreResp.Scores, nil
}

func (r *Reranker) execute(ctx context.Context, fn func(context.Context) error) error {
	if r.executor == nil {
		return fn(ctx)
	}
	return r.executor.Execute(ctx, "rerank_score", fn, func(error) resilience.ErrorClassification {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	})
}
