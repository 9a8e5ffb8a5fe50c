package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

func TestSetGetAndExpiry(t *testing.T) {
	cache := New()
	now := time.Now()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if err := cache.Set(ctx, "fp", domain.CachedAnswer{Text: "answer"}, time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	got, hit, err := cache.Get(ctx, "fp")
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if got.Text != "answer" {
		t.Fatalf("unexpected entry %+v", got)
	}

	now = now.Add(2 * time.Minute)
	if _, hit, _ := cache.Get(ctx, "fp"); hit {
		t.Fatal("entry should have expired")
	}
}

func TestInvalidateDocument(t *testing.T) {
	cache := New()
	ctx := context.Background()

	_ = cache.Set(ctx, "fp-a", domain.CachedAnswer{
		Citations: []domain.Citation{{ChunkID: "c1", DocumentID: "doc-1"}},
	}, time.Hour)
	_ = cache.Set(ctx, "fp-b", domain.CachedAnswer{
		Citations: []domain.Citation{{ChunkID: "c2", DocumentID: "doc-2"}},
	}, time.Hour)

	if err := cache.InvalidateDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("InvalidateDocument returned error: %v", err)
	}
	if _, hit, _ := cache.Get(ctx, "fp-a"); hit {
		t.Fatal("answer citing doc-1 should be gone")
	}
	if _, hit, _ := cache.Get(ctx, "fp-b"); !hit {
		t.Fatal("unrelated answer must survive")
	}
}

func TestInvalidateFingerprint(t *testing.T) {
	cache := New()
	ctx := context.Background()

	_ = cache.Set(ctx, "fp", domain.CachedAnswer{Text: "x"}, time.Hour)
	if err := cache.InvalidateFingerprint(ctx, "fp"); err != nil {
		t.Fatalf("InvalidateFingerprint returned error: %v", err)
	}
	if _, hit, _ := cache.Get(ctx, "fp"); hit {
		t.Fatal("fingerprint should be gone")
	}
}
