package registry

import (
	"os"
	"path/filepath"
	"testing"
)

// seedModel creates a fake cache entry with the given files under one
// snapshot and returns the snapshot path.
func seedModel(t *testing.T, cache, modelID string, files ...string) string {
	t.Helper()
	snapshot := filepath.Join(cache, dirName(modelID), "snapshots", "abc123")
	if err := os.MkdirAll(snapshot, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		path := filepath.Join(snapshot, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return snapshot
}

func newTestRegistry(t *testing.T, cache string) *Registry {
	t.Helper()
	r, err := New(Options{CachePath: cache})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestDirNameRoundTrip(t *testing.T) {
	dir := dirName("Systran/faster-whisper-small")
	if dir != "models--Systran--faster-whisper-small" {
		t.Fatalf("dirName = %q", dir)
	}
	id, ok := idFromDir(dir)
	if !ok || id != "Systran/faster-whisper-small" {
		t.Fatalf("idFromDir = %q, %v", id, ok)
	}
	if _, ok := idFromDir("datasets--foo--bar"); ok {
		t.Error("non-model dir must not parse")
	}
}

func TestResolveAlias(t *testing.T) {
	cache := t.TempDir()
	aliasPath := filepath.Join(cache, "model_aliases.json")
	if err := os.WriteFile(aliasPath, []byte(`{"whisper-1": "Systran/faster-whisper-small"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := New(Options{CachePath: cache, AliasPath: aliasPath})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Resolve("whisper-1"); got != "Systran/faster-whisper-small" {
		t.Errorf("Resolve(whisper-1) = %q", got)
	}
	if got := r.Resolve("other/model"); got != "other/model" {
		t.Errorf("unknown id must pass through, got %q", got)
	}
}

func TestResolveMissingAliasFile(t *testing.T) {
	cache := t.TempDir()
	r, err := New(Options{CachePath: cache, AliasPath: filepath.Join(cache, "nope.json")})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Resolve("whisper-1"); got != "whisper-1" {
		t.Errorf("Resolve = %q", got)
	}
}

func TestResolveBadAliasFile(t *testing.T) {
	cache := t.TempDir()
	aliasPath := filepath.Join(cache, "model_aliases.json")
	if err := os.WriteFile(aliasPath, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{CachePath: cache, AliasPath: aliasPath}); err == nil {
		t.Error("expected error for malformed alias file")
	}
}

func TestListLocal(t *testing.T) {
	cache := t.TempDir()
	seedModel(t, cache, "b/two", "model.bin")
	seedModel(t, cache, "a/one", "model.bin")
	// Unrelated directories in the cache are ignored.
	if err := os.MkdirAll(filepath.Join(cache, ".locks"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := newTestRegistry(t, cache)
	models, err := r.ListLocal()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("got %d models, want 2", len(models))
	}
	if models[0].ID != "a/one" || models[1].ID != "b/two" {
		t.Errorf("order = %q, %q", models[0].ID, models[1].ID)
	}
	if models[0].OwnedBy != "a" {
		t.Errorf("OwnedBy = %q", models[0].OwnedBy)
	}
}

func TestListLocalMissingCacheDir(t *testing.T) {
	r := newTestRegistry(t, filepath.Join(t.TempDir(), "missing"))
	models, err := r.ListLocal()
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 0 {
		t.Errorf("got %d models from missing cache", len(models))
	}
}

func TestArtifactRoot(t *testing.T) {
	cache := t.TempDir()
	snapshot := seedModel(t, cache, "owner/model", "model.bin")

	r := newTestRegistry(t, cache)
	root, ok := r.ArtifactRoot("owner/model")
	if !ok {
		t.Fatal("expected artifact root")
	}
	if root != snapshot {
		t.Errorf("root = %q, want %q", root, snapshot)
	}
	if _, ok := r.ArtifactRoot("owner/absent"); ok {
		t.Error("absent model must have no root")
	}
}

func TestRemove(t *testing.T) {
	cache := t.TempDir()
	seedModel(t, cache, "owner/model", "model.bin")

	r := newTestRegistry(t, cache)
	if err := r.Remove("owner/model"); err != nil {
		t.Fatal(err)
	}
	if r.Installed("owner/model") {
		t.Error("model still installed after Remove")
	}
	if err := r.Remove("owner/model"); err == nil {
		t.Error("expected error removing absent model")
	}
}
