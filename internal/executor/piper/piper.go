// Package piper synthesizes speech with Piper ONNX voices. Each model
// carries exactly one voice; its native sample rate and phoneme ids
// come from the .onnx.json side-car config.
package piper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/speaches/internal/audio"
	"github.com/example/speaches/internal/executor"
	"github.com/example/speaches/internal/registry"
	"github.com/example/speaches/internal/text"
)

const (
	MinSpeed = 0.25
	MaxSpeed = 4.0
)

var ErrInvalidSpeed = errors.New("speed out of range")

// ValidateSpeed checks the family's speed bounds.
func ValidateSpeed(speed float64) error {
	if speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", ErrInvalidSpeed, speed, MinSpeed, MaxSpeed)
	}
	return nil
}

// VoiceConfig is the subset of the side-car config the executor needs.
type VoiceConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	Inference struct {
		NoiseScale  float64 `json:"noise_scale"`
		LengthScale float64 `json:"length_scale"`
		NoiseW      float64 `json:"noise_w"`
	} `json:"inference"`
	PhonemeIDMap map[string][]int64 `json:"phoneme_id_map"`
}

func readVoiceConfig(path string) (VoiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return VoiceConfig{}, fmt.Errorf("read voice config: %w", err)
	}
	var cfg VoiceConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return VoiceConfig{}, fmt.Errorf("parse voice config %s: %w", path, err)
	}
	if cfg.Audio.SampleRate <= 0 {
		return VoiceConfig{}, fmt.Errorf("voice config %s: missing sample rate", path)
	}
	if cfg.Inference.LengthScale == 0 {
		cfg.Inference.LengthScale = 1.0
	}
	if cfg.Inference.NoiseScale == 0 {
		cfg.Inference.NoiseScale = 0.667
	}
	if cfg.Inference.NoiseW == 0 {
		cfg.Inference.NoiseW = 0.8
	}
	return cfg, nil
}

// Session is a loaded single-voice model.
type Session struct {
	ort    *executor.ORTSession
	config VoiceConfig
	logger *slog.Logger
}

// Load reads the weights and side-car config of a single-voice
// artifact.
func Load(ctx context.Context, art registry.SingleVoiceArtifact, opts executor.ORTOptions) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := readVoiceConfig(art.ConfigPath)
	if err != nil {
		return nil, err
	}

	sess, err := executor.NewORTSession("piper", art.WeightsPath, opts)
	if err != nil {
		return nil, err
	}

	return &Session{ort: sess, config: cfg, logger: logger}, nil
}

func (s *Session) Close() {
	s.ort.Close()
}

// SampleRate is the voice's native output rate.
func (s *Session) SampleRate() int {
	return s.config.Audio.SampleRate
}

// Stream yields one PCM chunk per synthesized sentence.
type Stream struct {
	s          *Session
	sentences  []string
	idx        int
	speed      float64
	sampleRate int
}

// Synthesize validates the request and returns a lazy stream.
func (s *Session) Synthesize(input string, speed float64, sampleRate int) (*Stream, error) {
	if err := ValidateSpeed(speed); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		sampleRate = s.config.Audio.SampleRate
	}
	return &Stream{
		s:          s,
		sentences:  text.SplitSentences(input, text.DefaultMinSentenceLen),
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
		chunk, err := st.s.synthesizeSentence(ctx, sentence, st.speed, st.sampleRate)
		if err != nil {
			return nil, err
		}
		if len(chunk) == 0 {
			continue
		}
		return chunk, nil
	}
	return nil, io.EOF
}

func (s *Session) synthesizeSentence(ctx context.Context, sentence string, speed float64, sampleRate int) ([]byte, error) {
	start := time.Now()

	ids := s.phonemeIDs(sentence)
	if len(ids) == 0 {
		return nil, nil
	}

	inputs := make(map[string]*ort.Value, 3)
	defer executor.CloseValues(inputs)

	inputVal, err := s.ort.Int64Input(ids, []int64{1, int64(len(ids))})
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	inputs["input"] = inputVal

	lengthsVal, err := s.ort.Int64Input([]int64{int64(len(ids))}, []int64{1})
	if err != nil {
		return nil, fmt.Errorf("input_lengths tensor: %w", err)
	}
	inputs["input_lengths"] = lengthsVal

	// A slower length scale stretches the output, so speed divides it.
	scales := []float32{
		float32(s.config.Inference.NoiseScale),
		float32(s.config.Inference.LengthScale / speed),
		float32(s.config.Inference.NoiseW),
	}
	scalesVal, err := s.ort.Float32Input(scales, []int64{3})
	if err != nil {
		return nil, fmt.Errorf("scales tensor: %w", err)
	}
	inputs["scales"] = scalesVal

	outputs, err := s.ort.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	defer executor.CloseValues(outputs)

	samples, _, err := executor.Float32Output(outputs, "output")
	if err != nil {
		return nil, err
	}

	native := s.config.Audio.SampleRate
	if sampleRate != native {
		samples, err = audio.Resample(samples, native, sampleRate)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Debug("synthesized sentence",
		"chars", len(sentence),
		"samples", len(samples),
		"duration_ms", time.Since(start).Milliseconds())

	return audio.EncodePCM16(samples), nil
}

// phonemeIDs converts a sentence through the config's id map: BOS,
// then each mapped character interleaved with the pad id, then EOS.
// Unmapped characters are skipped.
func (s *Session) phonemeIDs(sentence string) []int64 {
	m := s.config.PhonemeIDMap
	bos, hasBOS := m["^"]
	eos, hasEOS := m["$"]
	pad, hasPad := m["_"]

	ids := make([]int64, 0, len(sentence)*2+2)
	if hasBOS {
		ids = append(ids, bos...)
	}
	for _, r := range sentence {
		mapped, ok := m[string(r)]
		if !ok {
			continue
		}
		ids = append(ids, mapped...)
		if hasPad {
			ids = append(ids, pad...)
		}
	}
	if hasEOS {
		ids = append(ids, eos...)
	}
	return ids
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
