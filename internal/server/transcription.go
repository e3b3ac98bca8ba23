package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/speaches/internal/api"
	"github.com/example/speaches/internal/executor/whisper"
	"github.com/example/speaches/internal/registry"
)

type responseFormat string

const (
	formatJSON        responseFormat = "json"
	formatText        responseFormat = "text"
	formatVerboseJSON responseFormat = "verbose_json"
	formatSRT         responseFormat = "srt"
	formatVTT         responseFormat = "vtt"
)

func parseResponseFormat(s string) (responseFormat, error) {
	switch responseFormat(s) {
	case "":
		return formatJSON, nil
	case formatJSON, formatText, formatVerboseJSON, formatSRT, formatVTT:
		return responseFormat(s), nil
	default:
		return "", fmt.Errorf("unsupported response_format %q", s)
	}
}

// parseGranularities validates timestamp_granularities[]. Only "word"
// and "segment" are accepted, each at most once.
func parseGranularities(values []string) (wordTimestamps bool, err error) {
	seen := map[string]bool{}
	for _, v := range values {
		if v != "word" && v != "segment" {
			return false, fmt.Errorf("unsupported timestamp granularity %q", v)
		}
		if seen[v] {
			return false, fmt.Errorf("duplicate timestamp granularity %q", v)
		}
		seen[v] = true
	}
	return seen["word"], nil
}

type transcriptionRequest struct {
	model          string
	samples        []float32
	format         responseFormat
	stream         bool
	wordTimestamps bool
	opts           whisper.Options
}

func (h *handler) parseTranscriptionForm(r *http.Request, task whisper.Task) (*transcriptionRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.cfg.Server.MaxUploadBytes)
	if err := r.ParseMultipartForm(h.cfg.Server.MaxUploadBytes); err != nil {
		return nil, httpErrorf(http.StatusBadRequest, "parse multipart form: %s", err.Error())
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, httpErrorf(http.StatusUnprocessableEntity, "file is required")
	}
	defer file.Close()

	req := &transcriptionRequest{
		model: r.FormValue("model"),
		opts: whisper.Options{
			Task:          task,
			InitialPrompt: r.FormValue("prompt"),
			Hotwords:      r.FormValue("hotwords"),
		},
	}
	if req.model == "" {
		return nil, httpErrorf(http.StatusUnprocessableEntity, "model is required")
	}
	if task == whisper.TaskTranscribe {
		req.opts.Language = r.FormValue("language")
	}

	req.format, err = parseResponseFormat(r.FormValue("response_format"))
	if err != nil {
		return nil, httpErrorf(http.StatusUnprocessableEntity, "%s", err.Error())
	}

	if v := r.FormValue("temperature"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "temperature must be a number between 0 and 1")
		}
		req.opts.Temperature = t
	}
	if v := r.FormValue("stream"); v != "" {
		req.stream, err = strconv.ParseBool(v)
		if err != nil {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "stream must be a boolean")
		}
	}
	if v := r.FormValue("vad_filter"); v != "" {
		req.opts.VADFilter, err = strconv.ParseBool(v)
		if err != nil {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "vad_filter must be a boolean")
		}
	}
	if task == whisper.TaskTranscribe {
		req.wordTimestamps, err = parseGranularities(r.Form["timestamp_granularities[]"])
		if err != nil {
			return nil, httpErrorf(http.StatusUnprocessableEntity, "%s", err.Error())
		}
		req.opts.WordTimestamps = req.wordTimestamps
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, httpErrorf(http.StatusBadRequest, "read upload: %s", err.Error())
	}
	req.samples, err = h.transcoder.Decode(r.Context(), data, whisper.SampleRate)
	if err != nil {
		return nil, httpErrorf(http.StatusBadRequest, "decode audio: %s", err.Error())
	}
	return req, nil
}

func (h *handler) resolveASRModel(model string) (string, error) {
	id := h.registry.Resolve(model)
	if _, ok := h.registry.ArtifactRoot(id); !ok {
		return "", httpErrorf(http.StatusNotFound, "model %q is not installed", id)
	}
	switch h.registry.Classify(id) {
	case registry.FamilyASR:
		return id, nil
	case registry.FamilyTTSVoicePack, registry.FamilyTTSSingleVoice:
		return "", httpErrorf(http.StatusUnprocessableEntity, "model %q is a text-to-speech model, not speech recognition", id)
	default:
		return "", httpErrorf(http.StatusNotFound, "model %q has no recognized artifact layout", id)
	}
}

func (h *handler) handleTranscription(w http.ResponseWriter, r *http.Request) {
	h.serveRecognition(w, r, whisper.TaskTranscribe)
}

func (h *handler) handleTranslation(w http.ResponseWriter, r *http.Request) {
	h.serveRecognition(w, r, whisper.TaskTranslate)
}

func (h *handler) serveRecognition(w http.ResponseWriter, r *http.Request, task whisper.Task) {
	req, err := h.parseTranscriptionForm(r, task)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	id, err := h.resolveASRModel(req.model)
	if err != nil {
		writeHandlerError(w, err)
		return
	}

	lease, err := h.whisper.Lease(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load %s: %s", id, err.Error())
		return
	}
	defer lease.Release()

	iter, info, err := lease.Session().Transcribe(r.Context(), req.samples, req.opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transcribe: %s", err.Error())
		return
	}

	if req.stream {
		h.streamRecognition(w, r, req, iter)
		return
	}

	segments, err := iter.Collect()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "transcribe: %s", err.Error())
		return
	}
	apiSegments := api.SegmentsFromWhisper(segments)

	switch req.format {
	case formatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, api.SegmentsToText(apiSegments))
	case formatSRT:
		w.Header().Set("Content-Type", "application/x-subrip")
		_, _ = io.WriteString(w, api.SegmentsToSRT(apiSegments))
	case formatVTT:
		w.Header().Set("Content-Type", "text/vtt")
		_, _ = io.WriteString(w, api.SegmentsToVTT(apiSegments))
	case formatVerboseJSON:
		writeJSON(w, http.StatusOK, verboseResponse(info, apiSegments, req.wordTimestamps))
	default:
		writeJSON(w, http.StatusOK, api.TranscriptionResponse{Text: api.SegmentsToText(apiSegments)})
	}
}

// streamRecognition emits one SSE event per decoded segment, rendered
// in the requested response format, then a [DONE] sentinel.
func (h *handler) streamRecognition(w http.ResponseWriter, r *http.Request, req *transcriptionRequest, iter *whisper.SegmentIter) {
	sse := newSSEWriter(w)
	for i := 0; ; i++ {
		seg, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.logger.Error("transcription failed mid-stream", "error", err)
			return
		}
		apiSeg := api.SegmentFromWhisper(seg)

		var sendErr error
		switch req.format {
		case formatText:
			sendErr = sse.Send([]byte(strings.TrimSpace(apiSeg.Text)))
		case formatSRT:
			sendErr = sse.Send([]byte(api.SegmentToSRT(apiSeg, i)))
		case formatVTT:
			sendErr = sse.Send([]byte(api.SegmentToVTT(apiSeg, i)))
		case formatVerboseJSON:
			sendErr = sse.SendJSON(apiSeg)
		default:
			sendErr = sse.SendJSON(api.TranscriptionResponse{Text: strings.TrimSpace(apiSeg.Text)})
		}
		if sendErr != nil {
			return
		}
	}
	_ = sse.Done()
}

func verboseResponse(info whisper.Info, segments []api.TranscriptionSegment, words bool) api.TranscriptionVerboseResponse {
	resp := api.TranscriptionVerboseResponse{
		Task:     string(info.Task),
		Language: info.Language,
		Duration: info.Duration.Seconds(),
		Text:     api.SegmentsToText(segments),
		Segments: segments,
	}
	if words {
		resp.Words = api.CollectWords(segments)
	}
	return resp
}

// transcribeForChat backs the chat input_audio rewriting: the
// configured transcription model turns the uploaded payload into text.
func (h *handler) transcribeForChat(ctx context.Context, data []byte) (string, error) {
	samples, err := h.transcoder.Decode(ctx, data, whisper.SampleRate)
	if err != nil {
		return "", fmt.Errorf("decode chat audio: %w", err)
	}
	id, err := h.resolveASRModel(h.cfg.Chat.TranscriptionModel)
	if err != nil {
		return "", err
	}
	lease, err := h.whisper.Lease(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", id, err)
	}
	defer lease.Release()

	iter, _, err := lease.Session().Transcribe(ctx, samples, whisper.Options{Task: whisper.TaskTranscribe})
	if err != nil {
		return "", err
	}
	segments, err := iter.Collect()
	if err != nil {
		return "", err
	}
	return whisper.Text(segments), nil
}
