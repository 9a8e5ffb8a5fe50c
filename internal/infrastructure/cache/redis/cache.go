package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

const (
	answerKeyPrefix = "answer:"
	docKeyPrefix    = "doc:"

	// Document index sets outlive their answers slightly so invalidation
	// still finds entries written just before the answer TTL fired.
	docIndexSlack = time.Hour
)

// Cache stores answers in Redis keyed by query fingerprint. Each Set also
// registers the fingerprint under every cited document, so a document
// update can drop exactly the answers that referenced it.
type Cache struct {
	client *redis.Client
}

func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func NewFromAddr(addr, password string, db int) *Cache {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func (c *Cache) Get(ctx context.Context, fingerprint string) (*domain.CachedAnswer, bool, error) {
	raw, err := c.client.Get(ctx, answerKeyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var entry domain.CachedAnswer
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = c.client.Del(ctx, answerKeyPrefix+fingerprint).Err()
		return nil, false, nil
	}
	return &entry, true, nil
}

func (c *Cache) Set(ctx context.Context, fingerprint string, entry domain.CachedAnswer, ttl time.Duration) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cached answer: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, answerKeyPrefix+fingerprint, raw, ttl)
	for _, docID := range citedDocuments(entry.Citations) {
		key := docKeyPrefix + docID
		pipe.SAdd(ctx, key, fingerprint)
		pipe.Expire(ctx, key, ttl+docIndexSlack)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateFingerprint(ctx context.Context, fingerprint string) error {
	if err := c.client.Del(ctx, answerKeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("redis invalidate fingerprint: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateDocument(ctx context.Context, documentID string) error {
	key := docKeyPrefix + documentID
	fingerprints, err := c.client.SMembers(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("redis read document index: %w", err)
	}

	pipe := c.client.TxPipeline()
	for _, fingerprint := range fingerprints {
		pipe.Del(ctx, answerKeyPrefix+fingerprint)
	}
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate document: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func citedDocuments(citations []domain.Citation) []string {
	seen := make(map[string]struct{}, len(citations))
	out := make([]string, 0, len(citations))
	for _, citation := range citations {
		if citation.DocumentID == "" {
			continue
		}
		if _, dup := seen[citation.DocumentID]; dup {
			continue
		}
		seen[citation.DocumentID] = struct{}{}
		out = append(out, citation.DocumentID)
	}
	return out
}
