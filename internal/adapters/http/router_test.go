package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ametov/corpus-qa/internal/core/domain"
	"github.com/ametov/corpus-qa/internal/core/ports"
)

type answererFake struct {
	answer   *domain.Answer
	err      error
	gotQ     string
	gotOpts  ports.AskOptions
	askCalls int
}

func (f *answererFake) Ask(_ context.Context, question string, opts ports.AskOptions) (*domain.Answer, error) {
	f.askCalls++
	f.gotQ = question
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

type invalidatorFake struct {
	fingerprints []string
	documents    []string
}

func (f *invalidatorFake) InvalidateFingerprint(_ context.Context, fingerprint string) error {
	f.fingerprints = append(f.fingerprints, fingerprint)
	return nil
}

func (f *invalidatorFake) InvalidateDocument(_ context.Context, documentID string) error {
	f.documents = append(f.documents, documentID)
	return nil
}

type broadcasterFake struct {
	published []string
}

func (f *broadcasterFake) PublishDocumentUpdated(_ context.Context, documentID string) error {
	f.published = append(f.published, documentID)
	return nil
}

func newTestRouter(answerer ports.QuestionAnswerer, invalidator ports.CacheInvalidator, broadcaster DocumentBroadcaster) http.Handler {
	return NewRouter("test", answerer, invalidator, broadcaster, nil, RateLimitConfig{}).Handler()
}

func TestAskReturnsAnswer(t *testing.T) {
	answerer := &answererFake{answer: &domain.Answer{
		Text:      "use systemctl restart",
		Citations: []domain.Citation{{ChunkID: "c-1", DocumentID: "d-1"}},
		Grounded:  true,
		Latency:   1500 * time.Millisecond,
	}}
	handler := newTestRouter(answerer, &invalidatorFake{}, nil)

	body := `{"question":"how do i restart","top_k":3,"project_id":"p-1"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Answer != "use systemctl restart" || !resp.Grounded {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].ChunkID != "c-1" {
		t.Fatalf("citations not forwarded: %+v", resp.Citations)
	}
	if resp.LatencyMS != 1500 {
		t.Fatalf("latency_ms = %d", resp.LatencyMS)
	}
	if answerer.gotOpts.TopK != 3 || answerer.gotOpts.Filter.ProjectID != "p-1" {
		t.Fatalf("options not forwarded: %+v", answerer.gotOpts)
	}
}

func TestAskErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid query", domain.WrapError(domain.ErrInvalidQuery, "normalize", errors.New("empty")), http.StatusBadRequest},
		{"retrieval exhausted", domain.WrapError(domain.ErrRetrievalExhausted, "retrieve", errors.New("all down")), http.StatusServiceUnavailable},
		{"generation unavailable", domain.WrapError(domain.ErrGenerationUnavailable, "generate", errors.New("llm down")), http.StatusBadGateway},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestRouter(&answererFake{err: tc.err}, &invalidatorFake{}, nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"question":"q"}`)))
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAskRejectsInvalidJSONAndMethod(t *testing.T) {
	handler := newTestRouter(&answererFake{}, &invalidatorFake{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid json status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d", rec.Code)
	}
}

func TestInvalidateFingerprint(t *testing.T) {
	invalidator := &invalidatorFake{}
	handler := newTestRouter(&answererFake{}, invalidator, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cache/invalidate",
		strings.NewReader(`{"fingerprint":"fp-1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(invalidator.fingerprints) != 1 || invalidator.fingerprints[0] != "fp-1" {
		t.Fatalf("fingerprint not invalidated: %+v", invalidator)
	}
}

func TestInvalidateDocumentLocal(t *testing.T) {
	invalidator := &invalidatorFake{}
	handler := newTestRouter(&answererFake{}, invalidator, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cache/invalidate",
		strings.NewReader(`{"document_id":"d-1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(invalidator.documents) != 1 || invalidator.documents[0] != "d-1" {
		t.Fatalf("document not invalidated: %+v", invalidator)
	}
}

func TestInvalidateDocumentBroadcastsWhenBusConfigured(t *testing.T) {
	invalidator := &invalidatorFake{}
	broadcaster := &broadcasterFake{}
	handler := newTestRouter(&answererFake{}, invalidator, broadcaster)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cache/invalidate",
		strings.NewReader(`{"document_id":"d-1"}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(broadcaster.published) != 1 || broadcaster.published[0] != "d-1" {
		t.Fatalf("event not published: %+v", broadcaster)
	}
	if len(invalidator.documents) != 0 {
		t.Fatal("local invalidation should defer to the broadcast")
	}
}

func TestInvalidateRequiresExactlyOneTarget(t *testing.T) {
	handler := newTestRouter(&answererFake{}, &invalidatorFake{}, nil)

	for _, body := range []string{`{}`, `{"fingerprint":"fp","document_id":"d"}`} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/cache/invalidate", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", body, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&answererFake{}, &invalidatorFake{}, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRateLimitRejectsBeyondBurst(t *testing.T) {
	router := NewRouter("test", &answererFake{answer: &domain.Answer{}}, &invalidatorFake{}, nil, nil,
		RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, RetryAfter: 2 * time.Second})
	handler := router.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRequestIDEchoedAndGenerated(t *testing.T) {
	handler := newTestRouter(&answererFake{}, &invalidatorFake{}, nil)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	handler.ServeHTTP(rec, req)
	if rec.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("request id not echoed: %q", rec.Header().Get(requestIDHeader))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("request id not generated")
	}
}
