package httpadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ametov/corpus-qa/internal/core/domain"
	"github.com/ametov/corpus-qa/internal/core/ports"
	"github.com/ametov/corpus-qa/internal/observability/metrics"
)

// DocumentBroadcaster fans a document change out to every replica. Optional:
// without it invalidation stays local to this process.
type DocumentBroadcaster interface {
	PublishDocumentUpdated(ctx context.Context, documentID string) error
}

type Router struct {
	service     string
	answerer    ports.QuestionAnswerer
	invalidator ports.CacheInvalidator
	broadcaster DocumentBroadcaster
	metrics     *metrics.PipelineMetrics
	rateLimit   RateLimitConfig
}

func NewRouter(
	service string,
	answerer ports.QuestionAnswerer,
	invalidator ports.CacheInvalidator,
	broadcaster DocumentBroadcaster,
	pipelineMetrics *metrics.PipelineMetrics,
	rateLimit RateLimitConfig,
) *Router {
	return &Router{
		service:     service,
		answerer:    answerer,
		invalidator: invalidator,
		broadcaster: broadcaster,
		metrics:     pipelineMetrics,
		rateLimit:   rateLimit,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/ask", rt.ask)
	mux.HandleFunc("/v1/cache/invalidate", rt.invalidateCache)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = rateLimitMiddleware(rt.rateLimit, handler)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(rt.service, handler)
	}
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type askRequest struct {
	Question   string `json:"question"`
	TopK       int    `json:"top_k"`
	ProjectID  string `json:"project_id"`
	DocumentID string `json:"document_id"`
	SkipCache  bool   `json:"skip_cache"`
}

type askResponse struct {
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
	Grounded  bool              `json:"grounded"`
	FromCache bool              `json:"from_cache"`
	Degraded  []domain.Backend  `json:"degraded_backends,omitempty"`
	LatencyMS int64             `json:"latency_ms"`
}

func (rt *Router) ask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	answer, err := rt.answerer.Ask(r.Context(), req.Question, ports.AskOptions{
		Filter: domain.SearchFilter{
			ProjectID:  req.ProjectID,
			DocumentID: req.DocumentID,
		},
		TopK:      req.TopK,
		SkipCache: req.SkipCache,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	rt.recordAnswer(answer)
	writeJSON(w, http.StatusOK, askResponse{
		Answer:    answer.Text,
		Citations: answer.Citations,
		Grounded:  answer.Grounded,
		FromCache: answer.FromCache,
		Degraded:  answer.Degraded,
		LatencyMS: answer.Latency.Milliseconds(),
	})
}

type invalidateRequest struct {
	Fingerprint string `json:"fingerprint"`
	DocumentID  string `json:"document_id"`
}

func (rt *Router) invalidateCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.Fingerprint = strings.TrimSpace(req.Fingerprint)
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if (req.Fingerprint == "") == (req.DocumentID == "") {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "exactly one of 'fingerprint' or 'document_id' is required",
		})
		return
	}

	if req.Fingerprint != "" {
		if err := rt.invalidator.InvalidateFingerprint(r.Context(), req.Fingerprint); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"invalidated": "fingerprint"})
		return
	}

	// Broadcast when a bus is configured so every replica drops its cached
	// answers and reindexes; fall back to local invalidation otherwise.
	if rt.broadcaster != nil {
		if err := rt.broadcaster.PublishDocumentUpdated(r.Context(), req.DocumentID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"invalidated": "document"})
		return
	}
	if err := rt.invalidator.InvalidateDocument(r.Context(), req.DocumentID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": "document"})
}

func (rt *Router) recordAnswer(answer *domain.Answer) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RecordCacheLookup(rt.service, answer.FromCache)
	if !answer.FromCache {
		rt.metrics.RecordAnswer(rt.service, answer.Grounded, len(answer.Citations), answer.Latency)
	}
	for _, backend := range answer.Degraded {
		rt.metrics.RecordBackendDegraded(rt.service, string(backend))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}
