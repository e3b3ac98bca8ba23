// Package chat proxies chat completions to an upstream OpenAI-style
// endpoint while handling the audio modality locally: inbound audio is
// transcribed with the server's own ASR models, outbound audio is
// synthesized with its TTS models.
package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	oai "github.com/openai/openai-go"

	"github.com/example/speaches/internal/api"
)

// Transcriber turns an uploaded audio payload into text through the
// server's own transcription path.
type Transcriber func(ctx context.Context, audio []byte) (string, error)

// Synthesizer turns text into 16-bit PCM through the server's own
// speech path.
type Synthesizer func(ctx context.Context, text string) ([]byte, error)

type Service struct {
	client     oai.Client
	cache      *TranscriptCache
	transcribe Transcriber
	synthesize Synthesizer
	logger     *slog.Logger
}

func NewService(client oai.Client, cache *TranscriptCache, transcribe Transcriber, synthesize Synthesizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:     client,
		cache:      cache,
		transcribe: transcribe,
		synthesize: synthesize,
		logger:     logger,
	}
}

func generateAudioID() string {
	return "audio_" + uuid.NewString()
}

// RewriteMessages replaces audio message content with text before the
// request is proxied upstream: user input_audio parts are transcribed
// in-process, assistant audio references are resolved from the
// transcript cache. An unknown audio id is treated as absent audio.
func (s *Service) RewriteMessages(ctx context.Context, req *Request) error {
	for i := range req.Messages {
		m := &req.Messages[i]
		switch m.Role {
		case "user":
			parts, ok := m.contentParts()
			if !ok {
				continue
			}
			changed := false
			for j, part := range parts {
				if part.Type != "input_audio" || part.InputAudio == nil {
					continue
				}
				audioBytes, err := base64.StdEncoding.DecodeString(part.InputAudio.Data)
				if err != nil {
					return fmt.Errorf("message %d part %d: decode input audio: %w", i, j, err)
				}
				transcript, err := s.transcribe(ctx, audioBytes)
				if err != nil {
					return fmt.Errorf("message %d part %d: transcribe input audio: %w", i, j, err)
				}
				s.logger.Info("transcribed input audio part",
					"message", i, "part", j, "chars", len(transcript))
				parts[j] = ContentPart{Type: "text", Text: transcript}
				changed = true
			}
			if changed {
				m.Content, _ = json.Marshal(parts)
			}
		case "assistant":
			if m.Audio == nil {
				continue
			}
			if transcript, ok := s.cache.Get(m.Audio.ID); ok {
				m.setContentText(transcript)
			} else {
				s.logger.Warn("assistant audio id not in transcript cache", "audio_id", m.Audio.ID)
			}
			m.Audio = nil
		}
	}
	return nil
}

// Complete handles the non-streaming path: proxy upstream, then for
// the audio modality synthesize the whole reply in one shot, embed it
// base64, and remember the transcript.
func (s *Service) Complete(ctx context.Context, req *Request) (*api.ChatCompletion, error) {
	params, err := req.upstreamParams()
	if err != nil {
		return nil, err
	}

	upstream, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("upstream chat completion: %w", err)
	}
	completion := convertCompletion(upstream)

	if !req.HasAudioModality() || len(completion.Choices) == 0 {
		return completion, nil
	}

	content := completion.Choices[0].Message.Content
	if content == "" {
		return completion, nil
	}

	pcm, err := s.synthesize(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("synthesize reply audio: %w", err)
	}

	audioID := generateAudioID()
	s.cache.Put(audioID, content)

	completion.Choices[0].Message.Content = ""
	completion.Choices[0].Message.Audio = &api.MessageAudio{
		ID:         audioID,
		Data:       base64.StdEncoding.EncodeToString(pcm),
		Transcript: content,
		ExpiresAt:  time.Now().Add(s.cache.TTL()).Unix(),
	}
	return completion, nil
}

func convertCompletion(c *oai.ChatCompletion) *api.ChatCompletion {
	out := &api.ChatCompletion{
		ID:      c.ID,
		Object:  "chat.completion",
		Created: c.Created,
		Model:   c.Model,
	}
	for _, choice := range c.Choices {
		out.Choices = append(out.Choices, api.Choice{
			Index: int(choice.Index),
			Message: api.Message{
				Role:    "assistant",
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
		})
	}
	if c.Usage.TotalTokens > 0 {
		out.Usage = &api.Usage{
			PromptTokens:     int(c.Usage.PromptTokens),
			CompletionTokens: int(c.Usage.CompletionTokens),
			TotalTokens:      int(c.Usage.TotalTokens),
		}
	}
	return out
}
