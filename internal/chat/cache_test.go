package chat

import (
	"fmt"
	"testing"
	"time"
)

func newTestCache(maxSize int, ttl time.Duration) (*TranscriptCache, *time.Time) {
	now := time.Unix(1700000000, 0)
	c := &TranscriptCache{
		entries: make(map[string]cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
		now:     func() time.Time { return now },
	}
	return c, &now
}

func TestTranscriptCachePutGet(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)
	c.Put("audio_1", "hello")

	got, ok := c.Get("audio_1")
	if !ok || got != "hello" {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if _, ok := c.Get("audio_2"); ok {
		t.Error("unknown id must miss")
	}
}

func TestTranscriptCacheExpiry(t *testing.T) {
	c, now := newTestCache(10, time.Hour)
	c.Put("audio_1", "hello")

	*now = now.Add(61 * time.Minute)
	if _, ok := c.Get("audio_1"); ok {
		t.Error("expired entry must miss")
	}
	if c.Len() != 0 {
		t.Errorf("len = %d after expired get", c.Len())
	}
}

func TestTranscriptCacheSweepsOnInsert(t *testing.T) {
	c, now := newTestCache(10, time.Hour)
	c.Put("audio_1", "a")
	c.Put("audio_2", "b")

	*now = now.Add(2 * time.Hour)
	c.Put("audio_3", "c")
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1 after sweep", c.Len())
	}
}

func TestTranscriptCacheBounded(t *testing.T) {
	c, now := newTestCache(3, time.Hour)
	for i := range 4 {
		c.Put(fmt.Sprintf("audio_%d", i), "x")
		*now = now.Add(time.Second)
	}
	if c.Len() != 3 {
		t.Fatalf("len = %d, want 3", c.Len())
	}
	// The oldest insert is the one that was dropped.
	if _, ok := c.Get("audio_0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("audio_3"); !ok {
		t.Error("newest entry missing")
	}
}
