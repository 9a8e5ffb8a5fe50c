package bm25

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

func corpus() []domain.ChunkRecord {
	return []domain.ChunkRecord{
		{ChunkID: "c1", DocumentID: "d1", ProjectID: "p1", Position: 0,
			Text: "The allowable load tolerance for steel beams is five millimeters."},
		{ChunkID: "c2", DocumentID: "d1", ProjectID: "p1", Position: 1,
			Text: "Concrete curing requires a minimum of seven days before load testing."},
		{ChunkID: "c3", DocumentID: "d2", ProjectID: "p2", Position: 0,
			Text: "Fire safety regulations mandate two independent escape routes."},
	}
}

func TestSearchRanksByBM25(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	idx.Rebuild(corpus())

	got, err := idx.Search(context.Background(), []string{"load", "tolerance"}, 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(got))
	}
	if got[0].ChunkID != "c1" {
		t.Fatalf("expected c1 first (matches both terms), got %s", got[0].ChunkID)
	}
	if got[0].Score <= got[1].Score {
		t.Fatalf("expected strictly higher score for c1: %g vs %g", got[0].Score, got[1].Score)
	}
	if got[0].Backend != domain.BackendKeyword {
		t.Fatalf("expected keyword backend tag, got %s", got[0].Backend)
	}
}

func TestSearchHonorsFilters(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	idx.Rebuild(corpus())

	got, err := idx.Search(context.Background(), []string{"load"}, 10, domain.SearchFilter{ProjectID: "p2"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no hits in project p2 for 'load', got %d", len(got))
	}

	got, err = idx.Search(context.Background(), []string{"safety"}, 10, domain.SearchFilter{DocumentID: "d2"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "c3" {
		t.Fatalf("expected only c3 within d2, got %v", got)
	}
}

func TestSearchNoMatchesReturnsEmpty(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	idx.Rebuild(corpus())

	got, err := idx.Search(context.Background(), []string{"quantum"}, 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}

func TestReindexDocumentReplacesOnlyThatDocument(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	idx.Rebuild(corpus())

	idx.ReindexDocument("d1", []domain.ChunkRecord{
		{ChunkID: "c4", DocumentID: "d1", ProjectID: "p1", Position: 0,
			Text: "Revised tolerance is now three millimeters under the updated standard."},
	})

	got, err := idx.Search(context.Background(), []string{"tolerance"}, 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 || got[0].ChunkID != "c4" {
		t.Fatalf("expected only the revised chunk, got %v", got)
	}

	got, _ = idx.Search(context.Background(), []string{"safety"}, 10, domain.SearchFilter{})
	if len(got) != 1 || got[0].ChunkID != "c3" {
		t.Fatalf("expected d2 untouched by d1 reindex, got %v", got)
	}
}

func TestConcurrentSearchDuringRebuild(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	idx.Rebuild(corpus())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			idx.Rebuild(corpus())
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := idx.Search(context.Background(), []string{"load"}, 10, domain.SearchFilter{})
				if err != nil {
					t.Errorf("Search() during rebuild error = %v", err)
					return
				}
				// Readers must always see a complete snapshot.
				if len(got) != 0 && len(got) != 2 {
					t.Errorf("torn read: %d hits", len(got))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestDeterministicTieBreakByChunkID(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	idx.Rebuild([]domain.ChunkRecord{
		{ChunkID: "z-chunk", DocumentID: "d1", Text: "identical text here"},
		{ChunkID: "a-chunk", DocumentID: "d2", Text: "identical text here"},
	})

	got, err := idx.Search(context.Background(), []string{"identical"}, 10, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].ChunkID != "a-chunk" {
		t.Fatalf("expected tie-break by ascending chunk id, got %v", got)
	}
}

func TestStatsReflectsLiveSnapshot(t *testing.T) {
	idx := NewIndex(1.5, 0.75)
	if !strings.HasPrefix(idx.Stats(), "chunks=0 ") {
		t.Fatalf("empty index stats = %q", idx.Stats())
	}

	idx.Rebuild(corpus())
	stats := idx.Stats()
	if !strings.HasPrefix(stats, "chunks=3 ") {
		t.Fatalf("expected chunks=3 after rebuild, got %q", stats)
	}
	if idx.Size() != 3 {
		t.Fatalf("expected size 3, got %d", idx.Size())
	}
}
