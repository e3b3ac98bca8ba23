// Package registry resolves model ids to local artifacts. Models live
// in a Hugging Face hub cache layout: one models--owner--name directory
// per repo with revision snapshots under snapshots/.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var ErrModelNotFound = errors.New("model not found")

type Options struct {
	// CachePath is the hub cache root.
	CachePath string
	// AliasPath points at a JSON object mapping alias to canonical id.
	// A missing file is not an error.
	AliasPath string
	// Offline disables downloads.
	Offline bool
	Logger  *slog.Logger
}

type Registry struct {
	cachePath string
	offline   bool
	aliases   map[string]string
	logger    *slog.Logger

	// hubURL overrides the download host in tests.
	hubURL string

	mu       sync.Mutex
	families map[string]Family
}

func New(opts Options) (*Registry, error) {
	if opts.CachePath == "" {
		return nil, errors.New("cache path is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	aliases, err := loadAliases(opts.AliasPath)
	if err != nil {
		return nil, err
	}
	if len(aliases) > 0 {
		logger.Debug("loaded model aliases", "count", len(aliases), "path", opts.AliasPath)
	}

	return &Registry{
		cachePath: opts.CachePath,
		offline:   opts.Offline,
		aliases:   aliases,
		logger:    logger,
		families:  make(map[string]Family),
	}, nil
}

func loadAliases(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var aliases map[string]string
	if err := json.Unmarshal(data, &aliases); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	return aliases, nil
}

// Resolve maps an alias to its canonical model id. Unknown ids pass
// through unchanged.
func (r *Registry) Resolve(modelID string) string {
	if canonical, ok := r.aliases[modelID]; ok {
		return canonical
	}
	return modelID
}

// dirName converts "owner/name" to the cache directory form.
func dirName(modelID string) string {
	return "models--" + strings.ReplaceAll(modelID, "/", "--")
}

func idFromDir(dir string) (string, bool) {
	rest, ok := strings.CutPrefix(dir, "models--")
	if !ok {
		return "", false
	}
	return strings.ReplaceAll(rest, "--", "/"), true
}

// LocalModel describes one installed repo.
type LocalModel struct {
	ID      string
	OwnedBy string
	// Created is the repo directory mtime as a unix timestamp.
	Created int64
}

// ListLocal scans the cache for installed models, sorted by id.
func (r *Registry) ListLocal() ([]LocalModel, error) {
	entries, err := os.ReadDir(r.cachePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan model cache: %w", err)
	}

	var models []LocalModel
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, ok := idFromDir(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		models = append(models, LocalModel{ID: id, OwnedBy: ownerOf(id), Created: info.ModTime().Unix()})
	}
	sortModels(models)
	return models, nil
}

func sortModels(models []LocalModel) {
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
}

func (r *Registry) repoPath(modelID string) string {
	return filepath.Join(r.cachePath, dirName(modelID))
}

// ArtifactRoot returns the newest snapshot directory for an installed
// model. The second return value is false when the model is absent.
func (r *Registry) ArtifactRoot(modelID string) (string, bool) {
	snapshots := filepath.Join(r.repoPath(modelID), "snapshots")
	entries, err := os.ReadDir(snapshots)
	if err != nil {
		return "", false
	}

	var (
		newest     string
		newestTime int64 = -1
	)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if ts := info.ModTime().UnixNano(); ts > newestTime {
			newest = filepath.Join(snapshots, e.Name())
			newestTime = ts
		}
	}
	if newest == "" {
		return "", false
	}
	return newest, true
}

// Remove deletes an installed model from the cache.
func (r *Registry) Remove(modelID string) error {
	path := r.repoPath(modelID)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, modelID)
		}
		return fmt.Errorf("stat model dir: %w", err)
	}
	r.mu.Lock()
	delete(r.families, modelID)
	r.mu.Unlock()
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove model dir: %w", err)
	}
	r.logger.Info("removed model", "model", modelID)
	return nil
}

// findFiles returns files under the artifact root matching the glob
// pattern, searching one subdirectory level deep as well.
func (r *Registry) findFiles(modelID, pattern string) []string {
	root, ok := r.ArtifactRoot(modelID)
	if !ok {
		return nil
	}
	var matches []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	sort.Strings(matches)
	return matches
}
