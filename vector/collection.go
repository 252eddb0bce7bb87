package vector

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/keradb/keradb/dberr"
)

var errNoProvider = errors.New("collection has no embedding provider")

// overfetchFactor is how many extra candidates SearchFiltered pulls from
// the graph before applying a metadata filter, to absorb filtered-out
// hits without a second round trip.
const overfetchFactor = 10

// Collection is one named vector collection: an HNSW graph, per-id
// metadata, and an optional embedding provider for text-based insert and
// search.
type Collection struct {
	mu sync.RWMutex

	name     string
	config   Config
	index    *Index
	metadata map[uint64]map[string]interface{}
	texts    map[uint64]string
	provider EmbeddingProvider
}

// NewCollection creates an empty collection under the given configuration.
func NewCollection(name string, cfg Config) *Collection {
	return &Collection{
		name:     name,
		config:   cfg,
		index:    NewIndex(cfg),
		metadata: make(map[uint64]map[string]interface{}),
		texts:    make(map[uint64]string),
	}
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Config returns the collection's frozen configuration.
func (c *Collection) Config() Config { return c.config }

// SetEmbeddingProvider attaches the provider used by InsertText and
// SearchText.
func (c *Collection) SetEmbeddingProvider(p EmbeddingProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.provider = p
}

// Insert stores vector with optional metadata and returns its assigned id.
func (c *Collection) Insert(vector []float32, metadata map[string]interface{}) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.index.Insert(vector, "", false)
	if err != nil {
		return 0, err
	}
	if metadata != nil {
		c.metadata[id] = metadata
	}
	return id, nil
}

// InsertText embeds text via the attached provider and stores the result,
// recording text so the document is reconstructable.
func (c *Collection) InsertText(text string, metadata map[string]interface{}) (uint64, error) {
	c.mu.Lock()
	provider := c.provider
	c.mu.Unlock()
	if provider == nil {
		return 0, dberr.New(dberr.KindNotSupported, "collection.insert_text", errNoProvider)
	}
	vec, err := provider.Embed(text)
	if err != nil {
		return 0, dberr.New(dberr.KindSchema, "collection.insert_text", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.index.Insert(vec, text, true)
	if err != nil {
		return 0, err
	}
	c.texts[id] = text
	if metadata != nil {
		c.metadata[id] = metadata
	}
	return id, nil
}

// Get returns the stored document for id.
func (c *Collection) Get(id uint64) (*Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vec, text, hasText, ok := c.index.Get(id)
	if !ok {
		return nil, false
	}
	return &Document{ID: id, Embedding: vec, Text: text, HasText: hasText, Metadata: c.metadata[id]}, true
}

// Delete removes id from the collection, including its metadata and text.
func (c *Collection) Delete(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.index.Delete(id) {
		return false
	}
	delete(c.metadata, id)
	delete(c.texts, id)
	return true
}

// Search returns the k nearest neighbors of query.
func (c *Collection) Search(query []float32, k int) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.searchLocked(query, k)
}

func (c *Collection) searchLocked(query []float32, k int) ([]SearchResult, error) {
	items, err := c.index.Search(query, k)
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, len(items))
	for i, it := range items {
		vec, text, hasText, ok := c.index.Get(it.id)
		if !ok {
			continue
		}
		out = append(out, SearchResult{
			Document: &Document{ID: it.id, Embedding: vec, Text: text, HasText: hasText, Metadata: c.metadata[it.id]},
			Score:    float32(it.dist),
			Rank:     i,
		})
	}
	return out, nil
}

// SearchText embeds query via the attached provider and searches for its
// k nearest neighbors.
func (c *Collection) SearchText(query string, k int) ([]SearchResult, error) {
	c.mu.RLock()
	provider := c.provider
	c.mu.RUnlock()
	if provider == nil {
		return nil, dberr.New(dberr.KindNotSupported, "collection.search_text", errNoProvider)
	}
	vec, err := provider.Embed(query)
	if err != nil {
		return nil, dberr.New(dberr.KindSchema, "collection.search_text", err)
	}
	return c.Search(vec, k)
}

// SearchFiltered searches for k nearest neighbors whose metadata matches
// filter. It over-fetches 10*k candidates from the graph before applying
// the filter; documents with no metadata at all pass the filter by
// default, distinct from Condition.Matches's stricter per-field rule used
// once metadata is present.
func (c *Collection) SearchFiltered(query []float32, k int, filter *Filter) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fetch := k * overfetchFactor
	if fetch < k {
		fetch = k
	}
	candidates, err := c.searchLocked(query, fetch)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, k)
	for _, cand := range candidates {
		if filter == nil {
			out = append(out, cand)
		} else if cand.Document.Metadata == nil || filter.Matches(cand.Document.Metadata) {
			out = append(out, cand)
		}
		if len(out) == k {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	for i := range out {
		out[i].Rank = i
	}
	return out, nil
}

// Len returns the number of vectors in the collection.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.Len()
}

// IsEmpty reports whether the collection holds no vectors.
func (c *Collection) IsEmpty() bool { return c.Len() == 0 }

// Stats summarizes the collection's current size and configuration.
func (c *Collection) Stats() CollectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := CollectionStats{
		Name:          c.name,
		VectorCount:   c.index.Len(),
		Dimensions:    c.config.Dimensions,
		Distance:      c.config.Distance,
		LazyEmbedding: c.config.LazyEmbedding,
	}
	for _, n := range c.index.nodes {
		if n.Layer+1 > st.HNSWLayers {
			st.HNSWLayers = n.Layer + 1
		}
		st.MemoryBytes += len(n.Vector)*4 + len(n.Text)
	}
	return st
}

// serializedCollection is the persisted form of a Collection: name,
// config, the HNSW graph's own JSON bytes, and a JSON blob of per-id
// metadata and text.
type serializedCollection struct {
	Name     string                            `json:"name"`
	Config   Config                            `json:"config"`
	Graph    []byte                            `json:"graph"`
	Metadata map[string]map[string]interface{} `json:"metadata,omitempty"`
	Texts    map[string]string                 `json:"texts,omitempty"`
}

// ToBytes serializes the collection (graph, metadata, text) to bytes.
func (c *Collection) ToBytes() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	graph, err := c.index.ToBytes()
	if err != nil {
		return nil, err
	}
	s := serializedCollection{
		Name: c.name, Config: c.config, Graph: graph,
		Metadata: make(map[string]map[string]interface{}, len(c.metadata)),
		Texts:    make(map[string]string, len(c.texts)),
	}
	for id, m := range c.metadata {
		s.Metadata[uitoa(id)] = m
	}
	for id, t := range c.texts {
		s.Texts[uitoa(id)] = t
	}
	return json.Marshal(s)
}

// CollectionFromBytes reconstructs a collection previously serialized by
// ToBytes.
func CollectionFromBytes(data []byte) (*Collection, error) {
	var s serializedCollection
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, dberr.New(dberr.KindFormat, "collection.from_bytes", err)
	}
	idx, err := IndexFromBytes(s.Graph)
	if err != nil {
		return nil, err
	}
	c := &Collection{
		name:     s.Name,
		config:   s.Config,
		index:    idx,
		metadata: make(map[uint64]map[string]interface{}, len(s.Metadata)),
		texts:    make(map[uint64]string, len(s.Texts)),
	}
	for key, m := range s.Metadata {
		c.metadata[atoui(key)] = m
	}
	for key, t := range s.Texts {
		c.texts[atoui(key)] = t
	}
	return c, nil
}
