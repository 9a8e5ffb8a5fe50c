package config

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, r.Message)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) has(message string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if m == message {
			return true
		}
	}
	return false
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retrieval.VectorWeight != 0.4 || cfg.Retrieval.KeywordWeight != 0.3 || cfg.Retrieval.GraphWeight != 0.3 {
		t.Fatalf("unexpected default weights: %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.BM25K1 != 1.5 || cfg.Retrieval.BM25B != 0.75 {
		t.Fatalf("unexpected default bm25 params: k1=%g b=%g", cfg.Retrieval.BM25K1, cfg.Retrieval.BM25B)
	}
	if cfg.Retrieval.CacheTTL != 6*time.Hour {
		t.Fatalf("unexpected default cache ttl: %s", cfg.Retrieval.CacheTTL)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FUSION_VECTOR_WEIGHT", "0.5")
	t.Setenv("ANSWER_TOP_K", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retrieval.VectorWeight != 0.5 {
		t.Fatalf("expected vector weight 0.5, got %g", cfg.Retrieval.VectorWeight)
	}
	if cfg.Retrieval.AnswerTopK != 3 {
		t.Fatalf("expected answer_top_k 3, got %d", cfg.Retrieval.AnswerTopK)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corpusqa.yaml")
	overlay := []byte("retrieval:\n  config_version: v2\n  relevance_floor: 0.5\n")
	if err := os.WriteFile(path, overlay, 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retrieval.ConfigVersion != "v2" {
		t.Fatalf("expected overlay config version v2, got %s", cfg.Retrieval.ConfigVersion)
	}
	if cfg.Retrieval.RelevanceFloor != 0.5 {
		t.Fatalf("expected overlay relevance floor 0.5, got %g", cfg.Retrieval.RelevanceFloor)
	}
}

func TestValidateRejectsBadWeights(t *testing.T) {
	t.Setenv("FUSION_GRAPH_WEIGHT", "1.5")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for weight > 1")
	}
}

func TestValidateRejectsZeroTopK(t *testing.T) {
	t.Setenv("ANSWER_TOP_K", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for answer_top_k=0")
	}
}

func TestLoadWarnsOnWeightSumDrift(t *testing.T) {
	handler := &recordingHandler{}
	previous := slog.Default()
	slog.SetDefault(slog.New(handler))
	defer slog.SetDefault(previous)

	t.Setenv("FUSION_VECTOR_WEIGHT", "0.5")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Retrieval.WeightSum(); math.Abs(got-1.1) > 1e-9 {
		t.Fatalf("expected weight sum 1.1, got %g", got)
	}
	if !handler.has("fusion_weight_sum_drift") {
		t.Fatalf("expected drift warning, got %v", handler.messages)
	}
}

func TestLoadDoesNotWarnWhenWeightsSumToOne(t *testing.T) {
	handler := &recordingHandler{}
	previous := slog.Default()
	slog.SetDefault(slog.New(handler))
	defer slog.SetDefault(previous)

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if handler.has("fusion_weight_sum_drift") {
		t.Fatalf("defaults must not trigger the drift warning")
	}
}
