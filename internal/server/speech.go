package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/example/speaches/internal/audio"
	"github.com/example/speaches/internal/executor/kokoro"
	"github.com/example/speaches/internal/executor/piper"
	"github.com/example/speaches/internal/registry"
	"github.com/example/speaches/internal/text"
)

const (
	minSampleRate = 8000
	maxSampleRate = 48000
)

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed"`
	SampleRate     int     `json:"sample_rate"`
}

// httpError carries a status code out of the model-resolution helpers
// so handlers can translate it uniformly.
type httpError struct {
	status int
	msg    string
}

func (e *httpError) Error() string { return e.msg }

func httpErrorf(status int, format string, args ...any) *httpError {
	return &httpError{status: status, msg: fmt.Sprintf(format, args...)}
}

func writeHandlerError(w http.ResponseWriter, err error) {
	var he *httpError
	if errors.As(err, &he) {
		writeError(w, he.status, "%s", he.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, "%s", err.Error())
}

// pcmStream is the common shape of the per-sentence TTS streams.
type pcmStream interface {
	Next(ctx context.Context) ([]byte, error)
}

// speechStream is an open synthesis run. Release returns the session
// lease; it must be called after the last Next.
type speechStream struct {
	stream     pcmStream
	sampleRate int
	release    func()
}

// resolveTTSModel runs the shared endpoint prelude for text-to-speech:
// alias resolution, installed check, family classification.
func (h *handler) resolveTTSModel(model string) (string, registry.Family, error) {
	id := h.registry.Resolve(model)
	if _, ok := h.registry.ArtifactRoot(id); !ok {
		return "", registry.FamilyUnknown, httpErrorf(http.StatusNotFound, "model %q is not installed", id)
	}
	family := h.registry.Classify(id)
	switch family {
	case registry.FamilyTTSVoicePack, registry.FamilyTTSSingleVoice:
		return id, family, nil
	case registry.FamilyASR:
		return "", family, httpErrorf(http.StatusUnprocessableEntity, "model %q is a speech recognition model, not text-to-speech", id)
	default:
		return "", family, httpErrorf(http.StatusNotFound, "model %q has no recognized artifact layout", id)
	}
}

// openSpeech leases the right executor for the model family and starts
// synthesis. sampleRate 0 means the model's native rate.
func (h *handler) openSpeech(ctx context.Context, model, voice, input string, speed float64, sampleRate int) (*speechStream, error) {
	id, family, err := h.resolveTTSModel(model)
	if err != nil {
		return nil, err
	}

	switch family {
	case registry.FamilyTTSVoicePack:
		resolved, err := kokoro.ResolveVoice(voice, h.logger)
		if err != nil {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "%s", err.Error())
		}
		if err := kokoro.ValidateSpeed(speed); err != nil {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "%s", err.Error())
		}
		lease, err := h.kokoro.Lease(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		rate := sampleRate
		if rate == 0 {
			rate = kokoro.SampleRate
		}
		stream, err := lease.Session().Synthesize(input, resolved, speed, rate)
		if err != nil {
			lease.Release()
			return nil, err
		}
		return &speechStream{stream: stream, sampleRate: rate, release: lease.Release}, nil

	default:
		if err := piper.ValidateSpeed(speed); err != nil {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "%s", err.Error())
		}
		lease, err := h.piper.Lease(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		rate := sampleRate
		if rate == 0 {
			rate = lease.Session().SampleRate()
		}
		stream, err := lease.Session().Synthesize(input, speed, rate)
		if err != nil {
			lease.Release()
			return nil, err
		}
		return &speechStream{stream: stream, sampleRate: rate, release: lease.Release}, nil
	}
}

func (h *handler) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, h.cfg.Server.MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: %s", err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusUnprocessableEntity, "model is required")
		return
	}
	normalized, err := text.Normalize(req.Input)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "input: %s", err.Error())
		return
	}
	req.Input = normalized
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	if req.SampleRate != 0 && (req.SampleRate < minSampleRate || req.SampleRate > maxSampleRate) {
		writeError(w, http.StatusUnprocessableEntity,
			"sample_rate must be between %d and %d", minSampleRate, maxSampleRate)
		return
	}
	if req.ResponseFormat == "" {
		req.ResponseFormat = string(audio.FormatMP3)
	}
	format, err := audio.ParseFormat(req.ResponseFormat)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "%s", err.Error())
		return
	}

	ss, err := h.openSpeech(r.Context(), req.Model, req.Voice, req.Input, req.Speed, req.SampleRate)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	defer ss.release()

	if format.Streamable() {
		h.streamSpeech(w, r, ss, format)
		return
	}
	h.bufferSpeech(w, r, ss, format)
}

// streamSpeech writes encoded audio chunk by chunk as sentences are
// synthesized. Failures after the first write can only be logged.
func (h *handler) streamSpeech(w http.ResponseWriter, r *http.Request, ss *speechStream, format audio.Format) {
	w.Header().Set("Content-Type", format.MediaType())
	flusher, _ := w.(http.Flusher)

	for {
		pcm, err := ss.stream.Next(r.Context())
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.logger.Error("speech synthesis failed mid-stream", "error", err)
			return
		}
		encoded, err := h.transcoder.Convert(r.Context(), pcm, ss.sampleRate, format)
		if err != nil {
			h.logger.Error("speech encoding failed mid-stream", "error", err)
			return
		}
		if _, err := w.Write(encoded); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// bufferSpeech collects the whole utterance before encoding; container
// formats need the full length up front.
func (h *handler) bufferSpeech(w http.ResponseWriter, r *http.Request, ss *speechStream, format audio.Format) {
	var pcm []byte
	for {
		chunk, err := ss.stream.Next(r.Context())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "synthesize: %s", err.Error())
			return
		}
		pcm = append(pcm, chunk...)
	}

	encoded, err := h.transcoder.Convert(r.Context(), pcm, ss.sampleRate, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode %s: %s", format, err.Error())
		return
	}
	w.Header().Set("Content-Type", format.MediaType())
	_, _ = w.Write(encoded)
}

// synthesizeForChat backs the chat audio modality: the configured
// speech model renders the reply as raw PCM at its native rate.
func (h *handler) synthesizeForChat(ctx context.Context, input string) ([]byte, error) {
	ss, err := h.openSpeech(ctx, h.cfg.Chat.SpeechModel, h.cfg.Chat.SpeechVoice, input, 1.0, 0)
	if err != nil {
		return nil, err
	}
	defer ss.release()

	var pcm []byte
	for {
		chunk, err := ss.stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return pcm, nil
		}
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, chunk...)
	}
}
