package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/example/speaches/internal/api"
	"github.com/example/speaches/internal/chat"
)

// handleChatCompletions proxies to the configured upstream completion
// API, transcribing inbound audio and synthesizing outbound audio with
// the server's own models.
func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Chat.CompletionBaseURL == "" && h.cfg.Chat.CompletionAPIKey == "" {
		writeError(w, http.StatusNotImplemented, "no upstream chat completion API is configured")
		return
	}

	var req chat.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, h.cfg.Server.MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: %s", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "%s", err.Error())
		return
	}

	if err := h.chat.RewriteMessages(r.Context(), &req); err != nil {
		writeHandlerError(w, err)
		return
	}

	if req.Stream {
		sse := newSSEWriter(w)
		err := h.chat.Stream(r.Context(), &req, func(chunk api.ChatCompletionChunk) error {
			return sse.SendJSON(chunk)
		})
		if err != nil {
			h.logger.Error("chat stream failed", "error", err)
			return
		}
		_ = sse.Done()
		return
	}

	completion, err := h.chat.Complete(r.Context(), &req)
	if err != nil {
		writeHandlerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, completion)
}
