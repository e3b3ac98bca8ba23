package text

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
)

// ErrClosed is returned by AddToken after Close.
var ErrClosed = errors.New("chunker is closed")

// DefaultMinSentenceLen is the minimum trimmed sentence length below
// which consecutive sentences are accumulated before being yielded.
// Avoids pathological per-fragment synthesis calls for micro-sentences.
const DefaultMinSentenceLen = 20

var sentenceEndings = [...]byte{'.', '!', '?'}

func isSentenceEnding(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// SentenceChunker incrementally buffers streamed tokens and yields
// completed sentences. Single producer (AddToken/Close), single
// consumer (Next). The consumer blocks until a sentence completes or
// the chunker is closed and drained.
type SentenceChunker struct {
	mu        sync.Mutex
	notify    chan struct{}
	content   string
	processed int
	pending   string
	minLen    int
	closed    bool
}

func NewSentenceChunker(minSentenceLen int) *SentenceChunker {
	return &SentenceChunker{
		notify: make(chan struct{}),
		minLen: minSentenceLen,
	}
}

// AddToken appends a token (text fragment) to the buffer.
func (c *SentenceChunker) AddToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.content += token
	c.wake()
	return nil
}

// Close marks the stream complete. Any unterminated remainder becomes
// the final chunk.
func (c *SentenceChunker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.wake()
}

func (c *SentenceChunker) wake() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// Next returns the next completed chunk. It blocks while the producer
// is still streaming and returns io.EOF once the chunker is closed and
// drained.
func (c *SentenceChunker) Next(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if chunk, ok := c.scanLocked(); ok {
			c.mu.Unlock()
			return chunk, nil
		}
		if c.closed {
			rest := c.pending + c.content[c.processed:]
			c.pending = ""
			c.processed = len(c.content)
			c.mu.Unlock()
			if rest != "" {
				return rest, nil
			}
			return "", io.EOF
		}
		wait := c.notify
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// scanLocked advances the cursor over completed sentences, honouring
// the minimum-length accumulation policy. Caller holds c.mu.
func (c *SentenceChunker) scanLocked() (string, bool) {
	for {
		end := c.findSentenceEndLocked()
		if end < 0 {
			return "", false
		}
		sentence := c.content[c.processed:end]
		c.processed = end

		c.pending += sentence
		if len(strings.TrimSpace(c.pending)) >= c.minLen {
			chunk := c.pending
			c.pending = ""
			return chunk, true
		}
		// Micro-sentence: keep accumulating into the next one.
	}
}

// findSentenceEndLocked returns the index one past the first sentence
// terminator at or after the cursor, extended over any consecutive
// terminators and trailing whitespace already buffered. Returns -1 if
// no complete sentence is available.
func (c *SentenceChunker) findSentenceEndLocked() int {
	i := c.processed
	for ; i < len(c.content); i++ {
		if isSentenceEnding(c.content[i]) {
			break
		}
	}
	if i == len(c.content) {
		return -1
	}
	for i < len(c.content) && isSentenceEnding(c.content[i]) {
		i++
	}
	for i < len(c.content) {
		switch c.content[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return i
}

// SplitSentences runs the sentence chunker over a complete string and
// returns all chunks at once. Used by synthesis paths that already
// hold the full input.
func SplitSentences(s string, minLen int) []string {
	c := NewSentenceChunker(minLen)
	_ = c.AddToken(s)
	c.Close()

	var chunks []string
	for {
		chunk, err := c.Next(context.Background())
		if err != nil {
			return chunks
		}
		chunks = append(chunks, chunk)
	}
}

// EOFChunker buffers all tokens and yields them as a single chunk once
// closed. Used when per-sentence slicing is not wanted.
type EOFChunker struct {
	mu      sync.Mutex
	notify  chan struct{}
	content strings.Builder
	closed  bool
	yielded bool
}

func NewEOFChunker() *EOFChunker {
	return &EOFChunker{notify: make(chan struct{})}
}

func (c *EOFChunker) AddToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.content.WriteString(token)
	return nil
}

func (c *EOFChunker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.notify)
}

// Next blocks until Close, then returns the concatenation of all
// tokens exactly once. An empty buffer yields no chunk.
func (c *EOFChunker) Next(ctx context.Context) (string, error) {
	select {
	case <-c.notify:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.yielded || c.content.Len() == 0 {
		return "", io.EOF
	}
	c.yielded = true
	return c.content.String(), nil
}
