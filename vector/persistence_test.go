package vector

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/snappy"
)

func TestSidecarPath(t *testing.T) {
	cases := map[string]string{
		"/tmp/store.kdb": "/tmp/store.vectors.kdb",
		"/tmp/store":     "/tmp/store.vectors",
	}
	for in, want := range cases {
		if got := SidecarPath(in); got != want {
			t.Fatalf("SidecarPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStoreCreateGetDrop(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)
	if _, err := s.Create("docs", DefaultConfig(3)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Create("docs", DefaultConfig(3)); err == nil {
		t.Fatalf("expected error creating a duplicate collection")
	}
	if _, ok := s.Get("docs"); !ok {
		t.Fatalf("Get missing after Create")
	}
	if !s.Drop("docs") {
		t.Fatalf("Drop reported false")
	}
	if _, ok := s.Get("docs"); ok {
		t.Fatalf("Get still finds dropped collection")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)
	c, err := s.Create("docs", DefaultConfig(3).WithM(4))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id, err := c.Insert([]float32{1, 0, 0}, map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewStore(storePath)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	restored, ok := reloaded.Get("docs")
	if !ok {
		t.Fatalf("collection missing after Load")
	}
	doc, ok := restored.Get(id)
	if !ok || doc.Metadata["k"] != "v" {
		t.Fatalf("restored document mismatch: %v, %v", doc, ok)
	}
}

func TestStoreLoadMissingFileIsNotAnError(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)
	if err := s.Load(); err != nil {
		t.Fatalf("Load on missing side-file: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("expected no collections after loading a missing side-file")
	}
}

func TestStoreLoadCorruptFileIsNotAnError(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)
	sidecar := SidecarPath(storePath)
	if err := os.WriteFile(sidecar, []byte("not a valid snappy/json container"), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load on corrupt side-file: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("expected no collections after loading a corrupt side-file")
	}
}

func TestStoreLoadUnsupportedVersionIsNotAnError(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)

	cont := container{Version: persistenceVersion + 1}
	raw, err := json.Marshal(cont)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var compressed bytes.Buffer
	w := snappy.NewBufferedWriter(&compressed)
	if _, err := w.Write(raw); err != nil {
		t.Fatalf("snappy write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("snappy close: %v", err)
	}
	if err := os.WriteFile(s.path, compressed.Bytes(), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load on a future-versioned side-file: %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("expected no collections after loading a future-versioned side-file")
	}
}

func TestStoreSaveRemovesSidecarWhenEmpty(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)
	c, err := s.Create("docs", DefaultConfig(3).WithM(4))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Insert([]float32{1, 0, 0}, nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(s.path); err != nil {
		t.Fatalf("side-file missing after first Save: %v", err)
	}

	if !s.Drop("docs") {
		t.Fatalf("Drop reported false")
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save with no collections: %v", err)
	}
	if _, err := os.Stat(s.path); !os.IsNotExist(err) {
		t.Fatalf("side-file still exists after dropping the last collection, err = %v", err)
	}
}

func TestStoreSaveOnEmptyStoreIsNotAnError(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "store.kdb")
	s := NewStore(storePath)
	if err := s.Save(); err != nil {
		t.Fatalf("Save on a store with no collections: %v", err)
	}
	if _, err := os.Stat(s.path); !os.IsNotExist(err) {
		t.Fatalf("expected no side-file to be created, err = %v", err)
	}
}
