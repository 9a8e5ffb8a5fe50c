package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ametov/corpus-qa/internal/core/domain"
)

type entry struct {
	answer    domain.CachedAnswer
	expiresAt time.Time
}

// Cache is the in-process fallback used when no Redis address is
// configured. Expired entries are dropped lazily on read.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	byDoc   map[string]map[string]struct{}

	now func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		byDoc:   make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

func (c *Cache) Get(_ context.Context, fingerprint string) (*domain.CachedAnswer, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, fingerprint)
		c.mu.Unlock()
		return nil, false, nil
	}
	answer := e.answer
	return &answer, true, nil
}

func (c *Cache) Set(_ context.Context, fingerprint string, answer domain.CachedAnswer, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fingerprint] = entry{answer: answer, expiresAt: c.now().Add(ttl)}
	for _, citation := range answer.Citations {
		if citation.DocumentID == "" {
			continue
		}
		set, ok := c.byDoc[citation.DocumentID]
		if !ok {
			set = make(map[string]struct{})
			c.byDoc[citation.DocumentID] = set
		}
		set[fingerprint] = struct{}{}
	}
	return nil
}

func (c *Cache) InvalidateFingerprint(_ context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fingerprint)
	return nil
}

func (c *Cache) InvalidateDocument(_ context.Context, documentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for fingerprint := range c.byDoc[documentID] {
		delete(c.entries, fingerprint)
	}
	delete(c.byDoc, documentID)
	return nil
}
