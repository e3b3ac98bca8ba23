package server

import (
	"errors"
	"net/http"

	"github.com/example/speaches/internal/api"
	"github.com/example/speaches/internal/manager"
	"github.com/example/speaches/internal/registry"
)

// handleListModels merges the locally installed models with the
// downloadable catalog entries that are not installed yet.
func (h *handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	local, err := h.registry.ListLocal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list models: %s", err.Error())
		return
	}
	installed := make(map[string]bool, len(local))
	models := make([]api.Model, 0, len(local))
	for _, m := range local {
		installed[m.ID] = true
		models = append(models, api.NewModel(m.ID, m.Created, m.OwnedBy))
	}
	for _, m := range h.registry.RemoteModels() {
		if !installed[m.ID] {
			models = append(models, api.NewModel(m.ID, m.Created, m.OwnedBy))
		}
	}
	writeJSON(w, http.StatusOK, api.NewListModelsResponse(models))
}

func (h *handler) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := h.registry.Resolve(r.PathValue("model"))

	local, err := h.registry.ListLocal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list models: %s", err.Error())
		return
	}
	for _, m := range local {
		if m.ID == id {
			writeJSON(w, http.StatusOK, api.NewModel(m.ID, m.Created, m.OwnedBy))
			return
		}
	}
	for _, m := range h.registry.RemoteModels() {
		if m.ID == id {
			writeJSON(w, http.StatusOK, api.NewModel(m.ID, m.Created, m.OwnedBy))
			return
		}
	}
	writeError(w, http.StatusNotFound, "model %q not found", id)
}

func (h *handler) handleDownloadModel(w http.ResponseWriter, r *http.Request) {
	id := h.registry.Resolve(r.PathValue("model"))
	err := h.registry.Download(r.Context(), id)
	switch {
	case errors.Is(err, registry.ErrOffline):
		writeError(w, http.StatusServiceUnavailable, "%s", err.Error())
	case errors.Is(err, registry.ErrModelNotFound):
		writeError(w, http.StatusNotFound, "model %q is not in the download catalog", id)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "download %s: %s", id, err.Error())
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"status": "downloaded", "model": id})
	}
}

func (h *handler) handleRemoveModel(w http.ResponseWriter, r *http.Request) {
	id := h.registry.Resolve(r.PathValue("model"))
	if err := h.registry.Remove(id); err != nil {
		if errors.Is(err, registry.ErrModelNotFound) {
			writeError(w, http.StatusNotFound, "model %q is not installed", id)
			return
		}
		writeError(w, http.StatusInternalServerError, "remove %s: %s", id, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type loadedModel struct {
	Model  string `json:"model"`
	Family string `json:"family"`
}

// handleListLoaded reports the sessions currently resident across all
// executor families.
func (h *handler) handleListLoaded(w http.ResponseWriter, r *http.Request) {
	loaded := make([]loadedModel, 0)
	for _, id := range h.whisper.ListLoaded() {
		loaded = append(loaded, loadedModel{Model: id, Family: registry.FamilyASR.String()})
	}
	for _, id := range h.kokoro.ListLoaded() {
		loaded = append(loaded, loadedModel{Model: id, Family: registry.FamilyTTSVoicePack.String()})
	}
	for _, id := range h.piper.ListLoaded() {
		loaded = append(loaded, loadedModel{Model: id, Family: registry.FamilyTTSSingleVoice.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": loaded})
}

// resolveInstalled is the prelude shared by the eager load and unload
// endpoints: alias resolution, installed check, classification.
func (h *handler) resolveInstalled(model string) (string, registry.Family, error) {
	id := h.registry.Resolve(model)
	if _, ok := h.registry.ArtifactRoot(id); !ok {
		return "", registry.FamilyUnknown, httpErrorf(http.StatusNotFound, "model %q is not installed", id)
	}
	family := h.registry.Classify(id)
	if family == registry.FamilyUnknown {
		return "", family, httpErrorf(http.StatusNotFound, "model %q has no recognized artifact layout", id)
	}
	return id, family, nil
}

func (h *handler) handleLoadModel(w http.ResponseWriter, r *http.Request) {
	id, family, err := h.resolveInstalled(r.PathValue("model"))
	if err != nil {
		writeHandlerError(w, err)
		return
	}

	switch family {
	case registry.FamilyASR:
		err = h.whisper.LoadEager(r.Context(), id)
	case registry.FamilyTTSVoicePack:
		err = h.kokoro.LoadEager(r.Context(), id)
	default:
		err = h.piper.LoadEager(r.Context(), id)
	}
	switch {
	case errors.Is(err, manager.ErrAlreadyLoaded):
		writeError(w, http.StatusConflict, "model %q is already loaded", id)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "load %s: %s", id, err.Error())
	default:
		writeJSON(w, http.StatusCreated, loadedModel{Model: id, Family: family.String()})
	}
}

func (h *handler) handleUnloadModel(w http.ResponseWriter, r *http.Request) {
	id, family, err := h.resolveInstalled(r.PathValue("model"))
	if err != nil {
		writeHandlerError(w, err)
		return
	}

	switch family {
	case registry.FamilyASR:
		err = h.whisper.ForceUnload(id)
	case registry.FamilyTTSVoicePack:
		err = h.kokoro.ForceUnload(id)
	default:
		err = h.piper.ForceUnload(id)
	}
	switch {
	case errors.Is(err, manager.ErrNotLoaded):
		writeError(w, http.StatusNotFound, "model %q is not loaded", id)
	case errors.Is(err, manager.ErrBusy):
		writeError(w, http.StatusConflict, "model %q is still in use", id)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "unload %s: %s", id, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
