// Package kokoro synthesizes speech with the Kokoro ONNX model: one
// set of weights carrying a table of named voices.
package kokoro

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/speaches/internal/audio"
	"github.com/example/speaches/internal/executor"
	"github.com/example/speaches/internal/registry"
	"github.com/example/speaches/internal/text"
)

const (
	// SampleRate is the model's native output rate.
	SampleRate = 24000

	MinSpeed = 0.5
	MaxSpeed = 2.0

	// DefaultVoice is a 50-50 mix of Bella and Sarah.
	DefaultVoice = "af"

	// maxTokens is the model's input length cap.
	maxTokens = 510
)

// VoiceIDs is the fixed set of voices in the voice table.
var VoiceIDs = []string{
	"af",
	"af_bella",
	"af_sarah",
	"am_adam",
	"am_michael",
	"bf_emma",
	"bf_isabella",
	"bm_george",
	"bm_lewis",
	"af_nicole",
	"af_sky",
}

// openAIVoices are the voice names OpenAI clients send; they map onto
// the default voice rather than failing the request.
var openAIVoices = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}

var (
	ErrUnknownVoice = errors.New("unknown voice")
	ErrInvalidSpeed = errors.New("speed out of range")
)

// ResolveVoice validates a requested voice. OpenAI-standard names are
// substituted with the default voice and logged.
func ResolveVoice(voice string, logger *slog.Logger) (string, error) {
	if slices.Contains(VoiceIDs, voice) {
		return voice, nil
	}
	if slices.Contains(openAIVoices, voice) {
		if logger != nil {
			logger.Warn("substituting default voice for OpenAI voice name",
				"requested", voice, "voice", DefaultVoice)
		}
		return DefaultVoice, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVoice, voice)
}

// ValidateSpeed checks the family's speed bounds.
func ValidateSpeed(speed float64) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", ErrInvalidSpeed, speed, MinSpeed, MaxSpeed)
	}
	return nil
}

// Session is a loaded Kokoro model plus its voice table.
type Session struct {
	ort    *executor.ORTSession
	voices styleTable
	logger *slog.Logger
}

// Load reads the weights and voice table of a voice-pack artifact.
func Load(ctx context.Context, art registry.VoicePackArtifact, opts executor.ORTOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	voices, err := loadStyleTable(art.VoicesPath)
	if err != nil {
		return nil, err
	}

	sess, err := executor.NewORTSession("kokoro", art.WeightsPath, opts)
	if err != nil {
		return nil, err
	}

	return &Session{ort: sess, voices: voices, logger: logger}, nil
}

func (s *Session) Close() {
	s.ort.Close()
}

// Stream yields one PCM chunk per synthesized sentence.
type Stream struct {
	s          *Session
	sentences  []string
	idx        int
	voice      string
	speed      float64
	sampleRate int
}

// Synthesize validates the request and returns a lazy stream. Nothing
// is synthesized until the first Next call.
func (s *Session) Synthesize(input, voice string, speed float64, sampleRate int) (*Stream, error) {
	resolved, err := ResolveVoice(voice, s.logger)
	if err != nil {
		return nil, err
	}
	if err := ValidateSpeed(speed); err != nil {
		return nil, err
	}
	if _, ok := s.voices[resolved]; !ok {
		return nil, fmt.Errorf("%w: %q missing from voice table", ErrUnknownVoice, resolved)
	}
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}

	return &Stream{
		s:          s,
		sentences:  text.SplitSentences(input, text.DefaultMinSentenceLen),
		voice:      resolved,
		speed:      speed,
		sampleRate: sampleRate,
	}, nil
}

// Next synthesizes and returns the next sentence as 16-bit PCM at the
// requested rate, or io.EOF when the input is exhausted.
func (st *Stream) Next(ctx context.Context) ([]byte, error) {
	for st.idx < len(st.sentences) {
		sentence := text.CleanForSpeech(st.sentences[st.idx])
		st.idx++
		if sentence == "" {
			continue
		}
		return st.s.synthesizeSentence(ctx, sentence, st.voice, st.speed, st.sampleRate)
	}
	return nil, io.EOF
}

func (s *Session) synthesizeSentence(ctx context.Context, sentence, voice string, speed float64, sampleRate int) ([]byte, error) {
	start := time.Now()

	tokens := tokenize(sentence)
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	style := s.voices[voice].row(len(tokens))

	// The graph expects tokens padded with id 0 on both ends.
	padded := make([]int64, 0, len(tokens)+2)
	padded = append(padded, 0)
	padded = append(padded, tokens...)
	padded = append(padded, 0)

	inputs := make(map[string]*ort.Value, 3)
	defer executor.CloseValues(inputs)

	tokensVal, err := s.ort.Int64Input(padded, []int64{1, int64(len(padded))})
	if err != nil {
		return nil, fmt.Errorf("tokens tensor: %w", err)
	}
	inputs["tokens"] = tokensVal

	styleVal, err := s.ort.Float32Input(style, []int64{1, StyleDim})
	if err != nil {
		return nil, fmt.Errorf("style tensor: %w", err)
	}
	inputs["style"] = styleVal

	speedVal, err := s.ort.Float32Input([]float32{float32(speed)}, []int64{1})
	if err != nil {
		return nil, fmt.Errorf("speed tensor: %w", err)
	}
	inputs["speed"] = speedVal

	outputs, err := s.ort.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	defer executor.CloseValues(outputs)

	samples, _, err := executor.Float32Output(outputs, "audio")
	if err != nil {
		return nil, err
	}

	if sampleRate != SampleRate {
		samples, err = audio.Resample(samples, SampleRate, sampleRate)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("synthesized sentence",
		"voice", voice,
		"chars", len(sentence),
		"samples", len(samples),
		"duration_ms", time.Since(start).Milliseconds())

	return audio.EncodePCM16(samples), nil
}

// Collect drains the stream into one PCM buffer.
func (st *Stream) Collect(ctx context.Context) ([]byte, error) {
	var pcm []byte
	for {
		chunk, err := st.Next(ctx)
		if errors.Is(err, io.EOF) {
			return pcm, nil
		}
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, chunk...)
	}
}
