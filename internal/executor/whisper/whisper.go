// Package whisper runs speech recognition through the whisper.cpp Go
// bindings. One Session wraps a loaded model; every Transcribe call
// gets its own whisper context, so concurrent requests can share a
// session safely.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// SampleRate is the input rate whisper models expect.
const SampleRate = whisperlib.SampleRate

type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Options control a single transcription run.
type Options struct {
	Task          Task
	Language      string
	InitialPrompt string
	Temperature   float64
	// WordTimestamps enables per-token timing so word-level output can
	// be assembled from segment tokens.
	WordTimestamps bool
	// Hotwords bias decoding; folded into the initial prompt since the
	// bindings expose no dedicated hotword parameter.
	Hotwords string
	// VADFilter is accepted for API compatibility; silence trimming is
	// left to the model.
	VADFilter bool
}

type Session struct {
	model  whisperlib.Model
	logger *slog.Logger
}

// Load reads ggml weights from disk. The returned session must be
// closed by the caller.
func Load(ctx context.Context, weightsPath string, logger *slog.Logger) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if weightsPath == "" {
		return nil, errors.New("whisper: weights path must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	model, err := whisperlib.New(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", weightsPath, err)
	}
	return &Session{model: model, logger: logger}, nil
}

func (s *Session) Close() error {
	if s.model != nil {
		return s.model.Close()
	}
	return nil
}

// Word is one word-level timing inside a segment.
type Word struct {
	Word        string
	Start       time.Duration
	End         time.Duration
	Probability float64
}

// Segment is one decoded span of speech.
type Segment struct {
	ID    int
	Start time.Duration
	End   time.Duration
	Text  string
	Words []Word
}

// Info describes the completed run.
type Info struct {
	Task     Task
	Language string
	// Duration is the length of the input audio.
	Duration time.Duration
}

// SegmentIter yields decoded segments lazily.
type SegmentIter struct {
	wctx  whisperlib.Context
	words bool
	next  int
}

// Transcribe runs inference over mono float32 samples at SampleRate.
// Decoding has already happened when this returns; the iterator pulls
// segments out of the context one at a time.
func (s *Session) Transcribe(ctx context.Context, samples []float32, opts Options) (*SegmentIter, Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, Info{}, err
	}

	// Contexts are not safe for concurrent use; the shared model is.
	wctx, err := s.model.NewContext()
	if err != nil {
		return nil, Info{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, Info{}, fmt.Errorf("whisper: set language %q: %w", lang, err)
	}
	wctx.SetTranslate(opts.Task == TaskTranslate)
	wctx.SetTokenTimestamps(opts.WordTimestamps)
	if opts.Temperature > 0 {
		wctx.SetTemperature(float32(opts.Temperature))
	}
	if prompt := buildPrompt(opts); prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	start := time.Now()
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, Info{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	info := Info{
		Task:     taskOrDefault(opts.Task),
		Language: wctx.DetectedLanguage(),
		Duration: time.Duration(len(samples)) * time.Second / SampleRate,
	}
	if info.Language == "" {
		info.Language = lang
	}

	s.logger.Debug("transcription run complete",
		"task", string(info.Task),
		"language", info.Language,
		"audio_duration", info.Duration,
		"inference_duration_ms", time.Since(start).Milliseconds())

	return &SegmentIter{wctx: wctx, words: opts.WordTimestamps}, info, nil
}

func taskOrDefault(t Task) Task {
	if t == "" {
		return TaskTranscribe
	}
	return t
}

func buildPrompt(opts Options) string {
	parts := make([]string, 0, 2)
	if opts.InitialPrompt != "" {
		parts = append(parts, opts.InitialPrompt)
	}
	if opts.Hotwords != "" {
		parts = append(parts, opts.Hotwords)
	}
	return strings.Join(parts, " ")
}

// Next returns the next segment or io.EOF when decoding is drained.
func (it *SegmentIter) Next() (Segment, error) {
	raw, err := it.wctx.NextSegment()
	if errors.Is(err, io.EOF) {
		return Segment{}, io.EOF
	}
	if err != nil {
		return Segment{}, fmt.Errorf("whisper: read segment: %w", err)
	}

	seg := Segment{
		ID:    it.next,
		Start: raw.Start,
		End:   raw.End,
		Text:  raw.Text,
	}
	it.next++

	if it.words {
		seg.Words = make([]Word, 0, len(raw.Tokens))
		for _, tok := range raw.Tokens {
			text := strings.TrimSpace(tok.Text)
			if text == "" || strings.HasPrefix(text, "[_") {
				continue
			}
			seg.Words = append(seg.Words, Word{
				Word:        text,
				Start:       tok.Start,
				End:         tok.End,
				Probability: float64(tok.P),
			})
		}
	}
	return seg, nil
}

// Collect drains the iterator. Convenience for non-streaming paths.
func (it *SegmentIter) Collect() ([]Segment, error) {
	var segments []Segment
	for {
		seg, err := it.Next()
		if errors.Is(err, io.EOF) {
			return segments, nil
		}
		if err != nil {
			return segments, err
		}
		segments = append(segments, seg)
	}
}

// Text joins segment texts the way the plain-text response format
// expects.
func Text(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if t := strings.TrimSpace(seg.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
