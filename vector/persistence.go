package vector

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/snappy"

	"github.com/keradb/keradb/dberr"
)

// persistenceVersion is the vector side-file's container format version.
const persistenceVersion = 1

var errCollectionExists = errors.New("vector collection already exists")

// SidecarPath returns the vector side-file path for a primary store file,
// named "{stem}.vectors.{ext}" alongside it.
func SidecarPath(storePath string) string {
	dir := filepath.Dir(storePath)
	base := filepath.Base(storePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if ext == "" {
		return filepath.Join(dir, stem+".vectors")
	}
	return filepath.Join(dir, stem+".vectors"+ext)
}

// container is the versioned envelope persisted to the side-file: a
// version tag plus one serialized blob per collection.
type container struct {
	Version     int      `json:"version"`
	Collections [][]byte `json:"collections"`
}

// Store manages the collected vector collections for one database file
// and their persistence to a compressed side-file.
type Store struct {
	path        string
	collections map[string]*Collection
}

// NewStore returns an empty store backed by the side-file for storePath.
func NewStore(storePath string) *Store {
	return &Store{path: SidecarPath(storePath), collections: make(map[string]*Collection)}
}

// Create registers a new, empty named collection.
func (s *Store) Create(name string, cfg Config) (*Collection, error) {
	if _, exists := s.collections[name]; exists {
		return nil, dberr.New(dberr.KindNotSupported, "vectorstore.create", errCollectionExists)
	}
	c := NewCollection(name, cfg)
	s.collections[name] = c
	return c, nil
}

// Get returns a named collection.
func (s *Store) Get(name string) (*Collection, bool) {
	c, ok := s.collections[name]
	return c, ok
}

// Drop removes a named collection.
func (s *Store) Drop(name string) bool {
	if _, ok := s.collections[name]; !ok {
		return false
	}
	delete(s.collections, name)
	return true
}

// List returns every collection name currently registered.
func (s *Store) List() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	return names
}

// Save serializes every collection to the side-file. The whole container
// is snappy-compressed and written via a temp-file-plus-rename so a crash
// mid-write never corrupts the previous, still-valid side-file. If no
// collections are registered, the side-file is removed entirely rather
// than left behind as an empty container.
func (s *Store) Save() error {
	if len(s.collections) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return dberr.New(dberr.KindIO, "vectorstore.save", err)
		}
		return nil
	}

	cont := container{Version: persistenceVersion, Collections: make([][]byte, 0, len(s.collections))}
	for _, c := range s.collections {
		blob, err := c.ToBytes()
		if err != nil {
			return err
		}
		cont.Collections = append(cont.Collections, blob)
	}

	raw, err := json.Marshal(cont)
	if err != nil {
		return dberr.New(dberr.KindFormat, "vectorstore.save", err)
	}

	var compressed bytes.Buffer
	w := snappy.NewBufferedWriter(&compressed)
	if _, err := w.Write(raw); err != nil {
		return dberr.New(dberr.KindIO, "vectorstore.save", err)
	}
	if err := w.Close(); err != nil {
		return dberr.New(dberr.KindIO, "vectorstore.save", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, compressed.Bytes(), 0o644); err != nil {
		return dberr.New(dberr.KindIO, "vectorstore.save", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return dberr.New(dberr.KindIO, "vectorstore.save", err)
	}
	return nil
}

// Load reads and decompresses the side-file, replacing the store's
// in-memory collections. A missing, unreadable, or corrupt side-file is
// never an error: it yields an empty vector subsystem rather than
// failing the open of the primary database file.
func (s *Store) Load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	r := snappy.NewReader(f)
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil
	}

	var cont container
	if err := json.Unmarshal(raw, &cont); err != nil {
		return nil
	}
	if cont.Version != persistenceVersion {
		return nil
	}

	collections := make(map[string]*Collection, len(cont.Collections))
	for _, blob := range cont.Collections {
		c, err := CollectionFromBytes(blob)
		if err != nil {
			return nil
		}
		collections[c.Name()] = c
	}
	s.collections = collections
	return nil
}

