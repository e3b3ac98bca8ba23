package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"golang.org/x/sync/errgroup"

	"github.com/example/speaches/internal/api"
	"github.com/example/speaches/internal/text"
)

const streamBufferSize = 16

// streamState shares the upstream completion identity between the two
// producers. The audio producer reads it after the text producer has
// seen at least one chunk; until then it falls back to zero values.
type streamState struct {
	mu      sync.Mutex
	id      string
	created int64
}

func (s *streamState) set(id string, created int64) {
	s.mu.Lock()
	s.id = id
	s.created = created
	s.mu.Unlock()
}

func (s *streamState) get() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.created
}

// Stream proxies a streaming completion. With the audio modality two
// producers feed one channel: the text producer re-emits upstream
// chunks with content rewritten into transcript deltas, and the audio
// producer drains the sentence chunker through TTS, emitting base64
// PCM deltas under the same audio id. Ordering between the two is
// unspecified; each producer is FIFO.
func (s *Service) Stream(ctx context.Context, req *Request, emit func(api.ChatCompletionChunk) error) error {
	params, err := req.upstreamParams()
	if err != nil {
		return err
	}

	upstream := s.client.Chat.Completions.NewStreaming(ctx, params)
	defer upstream.Close()

	if !req.HasAudioModality() {
		for upstream.Next() {
			chunk := upstream.Current()
			if err := emit(convertChunk(&chunk)); err != nil {
				return err
			}
		}
		return upstream.Err()
	}

	var (
		audioID   = generateAudioID()
		expiresAt = time.Now().Add(s.cache.TTL()).Unix()
		chunker   = text.NewSentenceChunker(text.DefaultMinSentenceLen)
		state     = &streamState{}
		out       = make(chan api.ChatCompletionChunk, streamBufferSize)
	)

	g, gctx := errgroup.WithContext(ctx)

	// Text producer: re-emit every upstream chunk, rewriting content
	// deltas into audio transcript deltas and feeding the chunker.
	g.Go(func() error {
		defer chunker.Close()
		start := time.Now()
		for upstream.Next() {
			chunk := upstream.Current()
			if len(chunk.Choices) == 0 {
				s.logger.Warn("upstream chunk with no choices", "chunk_id", chunk.ID)
				continue
			}
			state.set(chunk.ID, chunk.Created)

			converted := convertChunk(&chunk)
			delta := &converted.Choices[0].Delta
			if delta.Content != nil {
				content := *delta.Content
				_ = chunker.AddToken(content)
				delta.Content = nil
				delta.Audio = &api.AudioDelta{
					ID:         audioID,
					Transcript: content,
					ExpiresAt:  expiresAt,
				}
			}
			select {
			case out <- converted:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		s.logger.Debug("text generation finished", "duration_ms", time.Since(start).Milliseconds())
		return upstream.Err()
	})

	// Audio producer: one TTS call per completed sentence.
	g.Go(func() error {
		start := time.Now()
		for {
			sentence, err := chunker.Next(gctx)
			if errors.Is(err, io.EOF) {
				s.logger.Debug("audio generation finished", "duration_ms", time.Since(start).Milliseconds())
				return nil
			}
			if err != nil {
				return err
			}
			clean := text.CleanForSpeech(sentence)
			if clean == "" {
				s.logger.Warn("skipping empty sentence after cleanup", "original", sentence)
				continue
			}

			pcm, err := s.synthesize(gctx, clean)
			if err != nil {
				return err
			}

			id, created := state.get()
			chunk := api.ChatCompletionChunk{
				ID:      id,
				Object:  "chat.completion.chunk",
				Created: created,
				Model:   req.Model,
				Choices: []api.ChunkChoice{{
					Delta: api.Delta{Audio: &api.AudioDelta{
						ID:        audioID,
						Data:      base64.StdEncoding.EncodeToString(pcm),
						ExpiresAt: expiresAt,
					}},
				}},
			}
			select {
			case out <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	go func() {
		_ = g.Wait()
		close(out)
	}()

	var emitErr error
	for chunk := range out {
		if emitErr != nil {
			continue // drain so the producers can finish
		}
		emitErr = emit(chunk)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return emitErr
}

func convertChunk(c *oai.ChatCompletionChunk) api.ChatCompletionChunk {
	out := api.ChatCompletionChunk{
		ID:      c.ID,
		Object:  "chat.completion.chunk",
		Created: c.Created,
		Model:   c.Model,
	}
	for _, choice := range c.Choices {
		converted := api.ChunkChoice{Index: int(choice.Index)}
		if choice.Delta.Role != "" {
			converted.Delta.Role = choice.Delta.Role
		}
		if choice.Delta.Content != "" {
			content := choice.Delta.Content
			converted.Delta.Content = &content
		}
		if choice.FinishReason != "" {
			reason := choice.FinishReason
			converted.FinishReason = &reason
		}
		out.Choices = append(out.Choices, converted)
	}
	return out
}
