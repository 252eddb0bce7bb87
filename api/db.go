// Package api is the embedding application's entry point: it composes the
// storage, index, executor and vector layers into a single DB handle and
// exposes the document and vector operations a caller needs.
package api

import (
	"errors"
	"fmt"

	"github.com/keradb/keradb/dberr"
	"github.com/keradb/keradb/engine"
	"github.com/keradb/keradb/index"
	"github.com/keradb/keradb/storage"
	"github.com/keradb/keradb/vector"
)

var (
	errReadOnly     = errors.New("database opened read-only")
	errNoCollection = errors.New("vector collection not found")
	errNoVector     = errors.New("vector id not found")
)

// DB is one open database: a document store backed by a single file, plus
// its vector collections persisted to a side-file. Update/Delete
// serialize concurrent access to the same document via the executor's own
// per-record locks, so DB itself holds no document-level locking state.
type DB struct {
	pager    *storage.Pager
	pool     *storage.BufferPool
	executor *engine.Executor
	vectors  *vector.Store
	path     string
	readOnly bool
}

// Config configures page size and buffer pool capacity at creation time.
type Config struct {
	PageSize           int
	BufferPoolCapacity int
}

// DefaultConfig returns the standard defaults: 4096 byte pages, a
// 100-page buffer pool.
func DefaultConfig() Config {
	return Config{PageSize: storage.DefaultPageSize, BufferPoolCapacity: storage.DefaultBufferPoolCapacity}
}

// Create initializes a new database file at path. It fails if the file
// already exists.
func Create(path string) (*DB, error) {
	return CreateWithConfig(path, DefaultConfig())
}

// CreateWithConfig is Create with an explicit Config.
func CreateWithConfig(path string, cfg Config) (*DB, error) {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	pager, err := storage.Create(path, pageSize)
	if err != nil {
		return nil, fmt.Errorf("keradb: %w", err)
	}
	return newDB(path, pager, cfg, false)
}

// Open opens an existing database file at path.
func Open(path string) (*DB, error) {
	return OpenWithConfig(path, DefaultConfig())
}

// OpenWithConfig is Open with an explicit Config (the buffer pool
// capacity; page size is read from the file header).
func OpenWithConfig(path string, cfg Config) (*DB, error) {
	pager, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("keradb: %w", err)
	}
	return newDB(path, pager, cfg, false)
}

// OpenReadOnly opens a database file without permitting writes to it.
func OpenReadOnly(path string) (*DB, error) {
	pager, err := storage.OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("keradb: %w", err)
	}
	return newDB(path, pager, DefaultConfig(), true)
}

func newDB(path string, pager *storage.Pager, cfg Config, readOnly bool) (*DB, error) {
	capacity := cfg.BufferPoolCapacity
	if capacity <= 0 {
		capacity = storage.DefaultBufferPoolCapacity
	}
	pool := storage.NewBufferPool(capacity)
	executor := engine.NewExecutor(pager, pool)

	vectors := vector.NewStore(path)
	if err := vectors.Load(); err != nil {
		pager.Close()
		return nil, fmt.Errorf("keradb: %w", err)
	}

	return &DB{
		pager:    pager,
		pool:     pool,
		executor: executor,
		vectors:  vectors,
		path:     path,
		readOnly: readOnly,
	}, nil
}

func (db *DB) checkWritable(op string) error {
	if db.readOnly {
		return dberr.New(dberr.KindNotSupported, op, errReadOnly)
	}
	return nil
}

// Close releases the underlying file handle. It neither syncs the file
// nor saves the vector side-file; only Sync does that.
func (db *DB) Close() error {
	return db.pager.Close()
}

// Sync flushes pending writes to stable storage, including the vector
// side-file.
func (db *DB) Sync() error {
	if err := db.executor.Sync(); err != nil {
		return err
	}
	if db.readOnly {
		return nil
	}
	return db.vectors.Save()
}

// Insert stores body as a new document in collection, returning its id.
func (db *DB) Insert(collection string, body map[string]interface{}) (string, error) {
	if err := db.checkWritable("db.insert"); err != nil {
		return "", err
	}
	return db.executor.Insert(collection, body)
}

// FindByID returns the document with id in collection.
func (db *DB) FindByID(collection, id string) (*storage.Document, error) {
	return db.executor.FindByID(collection, id)
}

// Update replaces the body of the document with id in collection.
func (db *DB) Update(collection, id string, body map[string]interface{}) error {
	if err := db.checkWritable("db.update"); err != nil {
		return err
	}
	return db.executor.Update(collection, id, body)
}

// Delete removes the document with id from collection and returns it.
func (db *DB) Delete(collection, id string) (*storage.Document, error) {
	if err := db.checkWritable("db.delete"); err != nil {
		return nil, err
	}
	return db.executor.Delete(collection, id)
}

// FindAll returns up to limit documents from collection after skipping
// skip of them.
func (db *DB) FindAll(collection string, limit, skip int) ([]*storage.Document, error) {
	return db.executor.FindAll(collection, limit, skip)
}

// Count returns the number of documents in collection.
func (db *DB) Count(collection string) int {
	return db.executor.Count(collection)
}

// ListCollections returns every collection name known to the primary
// index. A collection whose documents have all been deleted is still
// listed.
func (db *DB) ListCollections() []string {
	return db.executor.ListCollections()
}

// CollectionStats returns point-in-time statistics for collection.
func (db *DB) CollectionStats(collection string) (engine.CollectionStats, bool) {
	return db.executor.CollectionStats(collection)
}

// CreateVectorCollection registers a new named vector collection.
func (db *DB) CreateVectorCollection(name string, cfg vector.Config) (*vector.Collection, error) {
	if err := db.checkWritable("db.create_vector_collection"); err != nil {
		return nil, err
	}
	return db.vectors.Create(name, cfg)
}

// SetEmbeddingProvider attaches an embedding provider to a vector
// collection, enabling its text-based insert and search operations.
func (db *DB) SetEmbeddingProvider(collection string, provider vector.EmbeddingProvider) error {
	c, ok := db.vectors.Get(collection)
	if !ok {
		return dberr.New(dberr.KindNotFound, "db.set_embedding_provider", errNoCollection)
	}
	c.SetEmbeddingProvider(provider)
	return nil
}

// InsertVector stores vec with optional metadata in a vector collection.
func (db *DB) InsertVector(collection string, vec []float32, metadata map[string]interface{}) (uint64, error) {
	if err := db.checkWritable("db.insert_vector"); err != nil {
		return 0, err
	}
	c, ok := db.vectors.Get(collection)
	if !ok {
		return 0, dberr.New(dberr.KindNotFound, "db.insert_vector", errNoCollection)
	}
	return c.Insert(vec, metadata)
}

// InsertText embeds text through the collection's embedding provider and
// stores the result with optional metadata.
func (db *DB) InsertText(collection, text string, metadata map[string]interface{}) (uint64, error) {
	if err := db.checkWritable("db.insert_text"); err != nil {
		return 0, err
	}
	c, ok := db.vectors.Get(collection)
	if !ok {
		return 0, dberr.New(dberr.KindNotFound, "db.insert_text", errNoCollection)
	}
	return c.InsertText(text, metadata)
}

// VectorSearch returns the k nearest neighbors of query in collection.
func (db *DB) VectorSearch(collection string, query []float32, k int) ([]vector.SearchResult, error) {
	c, ok := db.vectors.Get(collection)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "db.vector_search", errNoCollection)
	}
	return c.Search(query, k)
}

// VectorSearchText embeds query text and searches for its k nearest
// neighbors.
func (db *DB) VectorSearchText(collection, query string, k int) ([]vector.SearchResult, error) {
	c, ok := db.vectors.Get(collection)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "db.vector_search_text", errNoCollection)
	}
	return c.SearchText(query, k)
}

// VectorSearchFiltered searches for k nearest neighbors whose metadata
// matches filter.
func (db *DB) VectorSearchFiltered(collection string, query []float32, k int, filter *vector.Filter) ([]vector.SearchResult, error) {
	c, ok := db.vectors.Get(collection)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "db.vector_search_filtered", errNoCollection)
	}
	return c.SearchFiltered(query, k, filter)
}

// GetVector returns the document stored under id in collection.
func (db *DB) GetVector(collection string, id uint64) (*vector.Document, error) {
	c, ok := db.vectors.Get(collection)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "db.get_vector", errNoCollection)
	}
	doc, ok := c.Get(id)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "db.get_vector", errNoVector)
	}
	return doc, nil
}

// DeleteVector removes id from collection.
func (db *DB) DeleteVector(collection string, id uint64) error {
	if err := db.checkWritable("db.delete_vector"); err != nil {
		return err
	}
	c, ok := db.vectors.Get(collection)
	if !ok {
		return dberr.New(dberr.KindNotFound, "db.delete_vector", errNoCollection)
	}
	if !c.Delete(id) {
		return dberr.New(dberr.KindNotFound, "db.delete_vector", errNoVector)
	}
	return nil
}

// ListVectorCollections returns every registered vector collection name.
func (db *DB) ListVectorCollections() []string {
	return db.vectors.List()
}

// DropVectorCollection removes a vector collection entirely.
func (db *DB) DropVectorCollection(name string) error {
	if err := db.checkWritable("db.drop_vector_collection"); err != nil {
		return err
	}
	if !db.vectors.Drop(name) {
		return dberr.New(dberr.KindNotFound, "db.drop_vector_collection", errNoCollection)
	}
	return nil
}

// VectorStats returns point-in-time statistics for a vector collection.
func (db *DB) VectorStats(collection string) (vector.CollectionStats, error) {
	c, ok := db.vectors.Get(collection)
	if !ok {
		return vector.CollectionStats{}, dberr.New(dberr.KindNotFound, "db.vector_stats", errNoCollection)
	}
	return c.Stats(), nil
}

// PrimaryIndex exposes the raw primary index manager, mainly for tests
// that need to assert on index contents directly.
func (db *DB) PrimaryIndex() *index.Primary {
	return db.executor.Index()
}
