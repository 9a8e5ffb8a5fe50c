package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), server
}

func TestSetAndGet(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	entry := domain.CachedAnswer{
		Text:      "restart with systemctl",
		Citations: []domain.Citation{{ChunkID: "c-1", DocumentID: "d-1"}},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := cache.Set(ctx, "fp-1", entry, time.Hour); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	got, hit, err := cache.Get(ctx, "fp-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if got.Text != entry.Text || len(got.Citations) != 1 || got.Citations[0].ChunkID != "c-1" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestGetMiss(t *testing.T) {
	cache, _ := newTestCache(t)
	_, hit, err := cache.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if hit {
		t.Fatal("expected miss for absent fingerprint")
	}
}

func TestEntryExpires(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "fp-ttl", domain.CachedAnswer{Text: "x"}, time.Minute); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	server.FastForward(2 * time.Minute)

	if _, hit, _ := cache.Get(ctx, "fp-ttl"); hit {
		t.Fatal("entry should have expired")
	}
}

func TestInvalidateFingerprint(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, "fp-2", domain.CachedAnswer{Text: "x"}, time.Hour); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := cache.InvalidateFingerprint(ctx, "fp-2"); err != nil {
		t.Fatalf("InvalidateFingerprint returned error: %v", err)
	}
	if _, hit, _ := cache.Get(ctx, "fp-2"); hit {
		t.Fatal("fingerprint should be gone")
	}
}

func TestInvalidateDocumentDropsOnlyCitedAnswers(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	citesDoc := domain.CachedAnswer{
		Text:      "cites doc-1",
		Citations: []domain.Citation{{ChunkID: "c-1", DocumentID: "doc-1"}},
	}
	citesOther := domain.CachedAnswer{
		Text:      "cites doc-2",
		Citations: []domain.Citation{{ChunkID: "c-2", DocumentID: "doc-2"}},
	}
	if err := cache.Set(ctx, "fp-a", citesDoc, time.Hour); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if err := cache.Set(ctx, "fp-b", citesOther, time.Hour); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	if err := cache.InvalidateDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("InvalidateDocument returned error: %v", err)
	}

	if _, hit, _ := cache.Get(ctx, "fp-a"); hit {
		t.Fatal("answer citing doc-1 should be invalidated")
	}
	if _, hit, _ := cache.Get(ctx, "fp-b"); !hit {
		t.Fatal("answer citing doc-2 must survive")
	}
}

func TestInvalidateDocumentUnknownDocument(t *testing.T) {
	cache, _ := newTestCache(t)
	if err := cache.InvalidateDocument(context.Background(), "never-seen"); err != nil {
		t.Fatalf("invalidating unknown document should be a no-op, got %v", err)
	}
}

func TestCorruptEntryReportsMiss(t *testing.T) {
	cache, server := newTestCache(t)
	ctx := context.Background()

	server.Set("answer:fp-bad", "{not json")
	_, hit, err := cache.Get(ctx, "fp-bad")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if hit {
		t.Fatal("corrupt entry must report a miss")
	}
	if server.Exists("answer:fp-bad") {
		t.Fatal("corrupt entry should be deleted")
	}
}
