package chat

import (
	"sync"
	"time"
)

const (
	transcriptCacheSize = 4096
	transcriptCacheTTL  = time.Hour
)

type cacheEntry struct {
	text       string
	insertedAt time.Time
	expiresAt  time.Time
}

// TranscriptCache maps audio ids to the text that produced them, so a
// follow-up request carrying an assistant audio id can be rewritten
// into plain text. Bounded; expired entries are swept on insert.
type TranscriptCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func NewTranscriptCache() *TranscriptCache {
	return &TranscriptCache{
		entries: make(map[string]cacheEntry),
		maxSize: transcriptCacheSize,
		ttl:     transcriptCacheTTL,
		now:     time.Now,
	}
}

// TTL returns the configured entry lifetime.
func (c *TranscriptCache) TTL() time.Duration {
	return c.ttl
}

func (c *TranscriptCache) Put(id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	// Still full after sweeping: drop the oldest entry.
	for len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldest time.Time
		for key, e := range c.entries {
			if oldestKey == "" || e.insertedAt.Before(oldest) {
				oldestKey = key
				oldest = e.insertedAt
			}
		}
		delete(c.entries, oldestKey)
	}

	c.entries[id] = cacheEntry{text: text, insertedAt: now, expiresAt: now.Add(c.ttl)}
}

func (c *TranscriptCache) Get(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, id)
		return "", false
	}
	return e.text, true
}

func (c *TranscriptCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
