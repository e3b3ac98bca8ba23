package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var ErrOffline = errors.New("downloads are disabled in offline mode")

// catalogEntry pins the file set of a known model repo. Checksums are
// optional; empty means verification is skipped for that file.
type catalogEntry struct {
	Revision string
	Files    []catalogFile
}

type catalogFile struct {
	// Path within the repo; may contain subdirectories.
	Path string
	// URL overrides the hub resolve URL for files hosted elsewhere.
	URL    string
	SHA256 string
}

// catalog is the static remote model listing served when online.
var catalog = map[string]catalogEntry{
	"Systran/faster-whisper-tiny": {
		Revision: "main",
		Files: []catalogFile{
			{Path: "model.bin"},
			{Path: "config.json"},
			{Path: "tokenizer.json"},
			{Path: "preprocessor_config.json"},
			{Path: "vocabulary.txt"},
		},
	},
	"Systran/faster-whisper-small": {
		Revision: "main",
		Files: []catalogFile{
			{Path: "model.bin"},
			{Path: "config.json"},
			{Path: "tokenizer.json"},
			{Path: "preprocessor_config.json"},
			{Path: "vocabulary.txt"},
		},
	},
	"Systran/faster-whisper-medium": {
		Revision: "main",
		Files: []catalogFile{
			{Path: "model.bin"},
			{Path: "config.json"},
			{Path: "tokenizer.json"},
			{Path: "preprocessor_config.json"},
			{Path: "vocabulary.txt"},
		},
	},
	"hexgrad/Kokoro-82M": {
		Revision: "c97b7bbc3e60f447383c79b2f94fee861ff156ac",
		Files: []catalogFile{
			{Path: "kokoro-v0_19.onnx"},
			{
				Path: "voices.bin",
				URL:  "https://github.com/thewh1teagle/kokoro-onnx/releases/download/model-files/voices.bin",
			},
		},
	},
	"rhasspy/piper-en_US-amy-medium": {
		Revision: "main",
		Files: []catalogFile{
			{Path: "en_US-amy-medium.onnx"},
			{Path: "en_US-amy-medium.onnx.json"},
		},
	},
}

// RemoteModels lists the downloadable catalog, sorted by id. Empty in
// offline mode.
func (r *Registry) RemoteModels() []LocalModel {
	if r.offline {
		return nil
	}
	models := make([]LocalModel, 0, len(catalog))
	for id := range catalog {
		models = append(models, LocalModel{ID: id, OwnedBy: ownerOf(id)})
	}
	sortModels(models)
	return models
}

// Download fetches a cataloged model's files into the cache layout.
// Files already present with a matching checksum are skipped.
func (r *Registry) Download(ctx context.Context, modelID string) error {
	if r.offline {
		return ErrOffline
	}
	entry, ok := catalog[modelID]
	if !ok {
		return fmt.Errorf("%w: %s is not in the download catalog", ErrModelNotFound, modelID)
	}

	snapshot := filepath.Join(r.repoPath(modelID), "snapshots", entry.Revision)
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	client := &http.Client{}
	for _, f := range entry.Files {
		localPath := filepath.Join(snapshot, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("create file dir: %w", err)
		}

		if f.SHA256 != "" {
			if ok, err := existingMatches(localPath, f.SHA256); err != nil {
				return err
			} else if ok {
				r.logger.Debug("skipping download, checksum matches", "model", modelID, "file", f.Path)
				continue
			}
		} else if _, err := os.Stat(localPath); err == nil {
			r.logger.Debug("skipping download, file exists", "model", modelID, "file", f.Path)
			continue
		}

		url := f.URL
		if url == "" {
			url = r.resolveURL(modelID, entry.Revision, f.Path)
		}
		r.logger.Info("downloading model file", "model", modelID, "file", f.Path, "url", url)

		sum, err := r.fetch(ctx, client, url, localPath)
		if err != nil {
			return err
		}
		if f.SHA256 != "" && !strings.EqualFold(sum, f.SHA256) {
			_ = os.Remove(localPath)
			return fmt.Errorf("checksum mismatch for %s: expected %s got %s", f.Path, f.SHA256, sum)
		}
	}

	r.mu.Lock()
	delete(r.families, modelID)
	r.mu.Unlock()

	r.logger.Info("downloaded model", "model", modelID, "revision", entry.Revision)
	return nil
}

// Installed reports whether the model has a local snapshot.
func (r *Registry) Installed(modelID string) bool {
	_, ok := r.ArtifactRoot(modelID)
	return ok
}

func (r *Registry) resolveURL(modelID, revision, path string) string {
	base := r.hubURL
	if base == "" {
		base = "https://huggingface.co"
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", base, modelID, revision, path)
}

// fetch downloads url into outPath via a temp file and returns the
// sha256 of the body.
func (r *Registry) fetch(ctx context.Context, client *http.Client, url, outPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if token := os.Getenv("HF_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download failed for %s: %s", url, resp.Status)
	}

	tmp := outPath + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(fh, h), resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("download read failed: %w", err)
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("move temp file into place: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func existingMatches(path, expected string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat existing file: %w", err)
	}
	if fi.IsDir() {
		return false, fmt.Errorf("expected file at %s, found directory", path)
	}
	actual, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expected), nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
