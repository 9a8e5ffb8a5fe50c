package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ametov/corpus-qa/internal/core/domain"
	"github.com/ametov/corpus-qa/internal/infrastructure/resilience"
)

// Client talks to Qdrant over its HTTP API. Search applies the similarity
// floor server-side via score_threshold, so every returned point already
// clears the floor.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, collection string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	k int,
	floor float64,
	filter domain.SearchFilter,
) ([]domain.RetrievalCandidate, error) {
	if len(queryVector) == 0 {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant.search",
			fmt.Errorf("empty query vector"))
	}

	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        k,
		"with_payload": true,
	}
	if floor > 0 {
		reqBody["score_threshold"] = floor
	}
	if clauses := filterClauses(filter); len(clauses) > 0 {
		reqBody["filter"] = map[string]any{"must": clauses}
	}

	var out []domain.RetrievalCandidate
	err := c.execute(ctx, "qdrant_search", func(ctx context.Context) error {
		hits, err := c.search(ctx, reqBody)
		if err != nil {
			return err
		}
		out = hits
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrRetrievalUnavailable, "qdrant.search", err)
	}
	return out, nil
}

func (c *Client) search(ctx context.Context, reqBody map[string]any) ([]domain.RetrievalCandidate, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(detail))}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.RetrievalCandidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunkID := payloadString(r.Payload, "chunk_id")
		if chunkID == "" {
			continue
		}
		out = append(out, domain.RetrievalCandidate{
			ChunkID:    chunkID,
			DocumentID: payloadString(r.Payload, "doc_id"),
			Text:       payloadString(r.Payload, "text"),
			Score:      r.Score,
			Backend:    domain.BackendVector,
			Position:   payloadInt(r.Payload, "chunk_index"),
		})
	}
	return out, nil
}

func (c *Client) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyError)
}

func filterClauses(filter domain.SearchFilter) []map[string]any {
	var clauses []map[string]any
	if filter.ProjectID != "" {
		clauses = append(clauses, map[string]any{
			"key":   "project_id",
			"match": map[string]any{"value": filter.ProjectID},
		})
	}
	if filter.DocumentID != "" {
		clauses = append(clauses, map[string]any{
			"key":   "doc_id",
			"match": map[string]any{"value": filter.DocumentID},
		})
	}
	return clauses
}

// StatusError preserves the HTTP status for breaker classification.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("qdrant status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("qdrant status %d", e.Status)
}

func classifyError(err error) resilience.ErrorClassification {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Status >= 400 && statusErr.Status < 500 && statusErr.Status != http.StatusTooManyRequests {
			return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
		}
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	// Transport-level failure: connection refused, timeout, DNS.
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func payloadString(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func payloadInt(payload map[string]any, key string) int {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
