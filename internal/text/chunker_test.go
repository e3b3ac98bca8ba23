package text

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func drain(t *testing.T, c *SentenceChunker) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var chunks []string
	for {
		chunk, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func TestSentenceChunkerSplitsOnTerminators(t *testing.T) {
	c := NewSentenceChunker(0)
	if err := c.AddToken("Hi. Yes. "); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	c.Close()

	got := drain(t, c)
	want := []string{"Hi. ", "Yes. "}
	if len(got) != len(want) {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chunk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSentenceChunkerAccumulatesMicroSentences(t *testing.T) {
	c := NewSentenceChunker(7)
	if err := c.AddToken("Hi. Yes. "); err != nil {
		t.Fatalf("AddToken: %v", err)
	}
	c.Close()

	got := drain(t, c)
	if len(got) != 1 || got[0] != "Hi. Yes. " {
		t.Errorf("chunks = %q, want one chunk %q", got, "Hi. Yes. ")
	}
}

func TestSentenceChunkerFlushesRemainderOnClose(t *testing.T) {
	c := NewSentenceChunker(0)
	_ = c.AddToken("Complete sentence. And a trailing fragment")
	c.Close()

	got := drain(t, c)
	if len(got) != 2 {
		t.Fatalf("chunks = %q, want 2", got)
	}
	if got[1] != "And a trailing fragment" {
		t.Errorf("remainder = %q", got[1])
	}
}

func TestSentenceChunkerConcatenationPreserved(t *testing.T) {
	const input = "One sentence here! Another question there? Finally a statement. tail"
	c := NewSentenceChunker(0)
	for _, r := range input {
		_ = c.AddToken(string(r))
	}
	c.Close()

	var joined string
	for _, chunk := range drain(t, c) {
		joined += chunk
	}
	if joined != input {
		t.Errorf("concatenated chunks = %q, want original input", joined)
	}
}

func TestSentenceChunkerBlocksUntilToken(t *testing.T) {
	c := NewSentenceChunker(0)

	result := make(chan string, 1)
	go func() {
		chunk, err := c.Next(context.Background())
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- chunk
	}()

	select {
	case got := <-result:
		t.Fatalf("Next returned %q before any token", got)
	case <-time.After(20 * time.Millisecond):
	}

	_ = c.AddToken("Now complete. ")
	select {
	case got := <-result:
		if got != "Now complete. " {
			t.Errorf("chunk = %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake after token")
	}
	c.Close()
}

func TestSentenceChunkerAddAfterClose(t *testing.T) {
	c := NewSentenceChunker(0)
	c.Close()
	if err := c.AddToken("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("AddToken after close = %v, want ErrClosed", err)
	}
}

func TestSentenceChunkerNextHonorsContext(t *testing.T) {
	c := NewSentenceChunker(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := c.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next = %v, want deadline exceeded", err)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		minLen int
		want   []string
	}{
		{"two sentences", "Hi. Yes. ", 0, []string{"Hi. ", "Yes. "}},
		{"accumulated", "Hi. Yes. ", 7, []string{"Hi. Yes. "}},
		{"remainder", "No terminator here", 0, []string{"No terminator here"}},
		{"empty", "", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.in, tt.minLen)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestEOFChunkerYieldsOnceAfterClose(t *testing.T) {
	c := NewEOFChunker()
	_ = c.AddToken("Hello")
	_ = c.AddToken(", ")
	_ = c.AddToken("world")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	if _, err := c.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next before close = %v, want deadline exceeded", err)
	}
	cancel()

	c.Close()
	chunk, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if chunk != "Hello, world" {
		t.Errorf("chunk = %q", chunk)
	}
	if _, err := c.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("second Next = %v, want io.EOF", err)
	}
}

func TestEOFChunkerEmpty(t *testing.T) {
	c := NewEOFChunker()
	c.Close()
	if _, err := c.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next on empty closed chunker = %v, want io.EOF", err)
	}
	if err := c.AddToken("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("AddToken after close = %v, want ErrClosed", err)
	}
}
