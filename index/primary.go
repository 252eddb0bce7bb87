// Package index implements the primary document index: a concurrent
// mapping from collection name to a per-collection map of document id to
// page locator, rebuilt by scanning the document file at open.
package index

import (
	"sync"

	"github.com/keradb/keradb/dberr"
)

// Locator points at where a document's body lives on disk. Offset is
// reserved for future intra-page packing; this revision always sets it to
// zero, since one page holds at most one document body.
type Locator struct {
	PageNum uint32
	Offset  uint32
}

// bucket is one collection's id→locator map plus the reader-writer lock
// that serializes access to it: a registry of independently-lockable
// named entries, with no B-Tree and no on-disk index pages, since the
// primary index here only ever maps an id to a page number.
type bucket struct {
	mu   sync.RWMutex
	docs map[string]Locator
}

// Primary is a collection→(doc id→locator) concurrent map. Whole-map
// writes happen only when a new collection's bucket is created;
// per-collection reads and writes use that bucket's own RWMutex
// afterward.
type Primary struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New returns an empty primary index.
func New() *Primary {
	return &Primary{buckets: make(map[string]*bucket)}
}

func (p *Primary) getOrCreateBucket(collection string) *bucket {
	p.mu.RLock()
	b, ok := p.buckets[collection]
	p.mu.RUnlock()
	if ok {
		return b
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok = p.buckets[collection]; ok {
		return b
	}
	b = &bucket{docs: make(map[string]Locator)}
	p.buckets[collection] = b
	return b
}

func (p *Primary) getBucket(collection string) (*bucket, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.buckets[collection]
	return b, ok
}

// Insert registers id in collection, failing with a duplicate-key error if
// it already exists. A new collection bucket is created implicitly.
func (p *Primary) Insert(collection, id string, loc Locator) error {
	b := p.getOrCreateBucket(collection)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.docs[id]; exists {
		return dberr.New(dberr.KindDuplicate, "index.insert", nil)
	}
	b.docs[id] = loc
	return nil
}

// Find looks up id in collection.
func (p *Primary) Find(collection, id string) (Locator, bool) {
	b, ok := p.getBucket(collection)
	if !ok {
		return Locator{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	loc, ok := b.docs[id]
	return loc, ok
}

// Remove deletes id from collection, reporting whether it was present.
func (p *Primary) Remove(collection, id string) bool {
	b, ok := p.getBucket(collection)
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.docs[id]; !exists {
		return false
	}
	delete(b.docs, id)
	return true
}

// Update overwrites the locator for an existing id, leaving the id set
// unchanged. Reports whether id existed.
func (p *Primary) Update(collection, id string, loc Locator) bool {
	b, ok := p.getBucket(collection)
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.docs[id]; !exists {
		return false
	}
	b.docs[id] = loc
	return true
}

// ListIDs returns every id in collection, in unspecified (map iteration)
// order.
func (p *Primary) ListIDs(collection string) []string {
	b, ok := p.getBucket(collection)
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.docs))
	for id := range b.docs {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of documents indexed for collection.
func (p *Primary) Count(collection string) int {
	b, ok := p.getBucket(collection)
	if !ok {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}

// ListCollections returns every collection name known to the index.
func (p *Primary) ListCollections() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.buckets))
	for name := range p.buckets {
		names = append(names, name)
	}
	return names
}
