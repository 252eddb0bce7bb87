// Package engine implements document CRUD over the Pager, primary index
// and buffer pool, enforcing the invariants the storage layer alone
// cannot: _collection injection, duplicate-id rejection, in-place update
// with no resize, and free-on-delete.
package engine

import (
	"sync"
	"time"

	"github.com/keradb/keradb/concurrency"
	"github.com/keradb/keradb/dberr"
	"github.com/keradb/keradb/index"
	"github.com/keradb/keradb/storage"
)

// CollectionStats reports the bookkeeping kept alongside the primary
// index: a count maintained incrementally plus creation/update
// timestamps.
type CollectionStats struct {
	Name          string
	DocumentCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Executor drives document CRUD across the Pager, the primary index and
// the buffer pool. It owns no file-format knowledge beyond what
// storage.EncodeDocument/DecodeDocument already provide.
type Executor struct {
	pager *storage.Pager
	index *index.Primary
	pool  *storage.BufferPool
	locks *concurrency.RecordLocks

	statsMu sync.Mutex
	stats   map[string]*CollectionStats
}

// NewExecutor wires an Executor over an already-open Pager and rebuilds
// the primary index by scanning every page: any page whose kind is not
// Data is skipped, and any Data page that fails to decode is skipped
// too, a best-effort rebuild rather than aborting startup.
func NewExecutor(pager *storage.Pager, pool *storage.BufferPool) *Executor {
	e := &Executor{
		pager: pager,
		index: index.New(),
		pool:  pool,
		locks: concurrency.NewRecordLocks(),
		stats: make(map[string]*CollectionStats),
	}
	e.rebuildIndex()
	return e
}

func (e *Executor) rebuildIndex() {
	count := e.pager.PageCount()
	for n := uint32(0); n < count; n++ {
		page, err := e.pager.ReadPage(n)
		if err != nil || page.Kind != storage.KindData {
			continue
		}
		doc, err := storage.DecodeDocument(page.Payload)
		if err != nil {
			continue
		}
		collection, ok := doc.Collection()
		if !ok {
			continue
		}
		if err := e.index.Insert(collection, doc.ID(), index.Locator{PageNum: n}); err != nil {
			continue
		}
		e.bumpStatsLocked(collection, true)
	}
}

func (e *Executor) bumpStatsLocked(collection string, created bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[collection]
	now := time.Now()
	if !ok {
		s = &CollectionStats{Name: collection, CreatedAt: now}
		e.stats[collection] = s
	}
	if created {
		s.DocumentCount++
	}
	s.UpdatedAt = now
}

// Insert stores a new document in collection and returns its id.
//
// The page is allocated and written before the duplicate-id check runs
// against the primary index. On a duplicate, the already-written page is
// left behind (kind Data, unreferenced by any index entry) rather than
// freed or the check performed up front.
func (e *Executor) Insert(collection string, body map[string]interface{}) (string, error) {
	if body == nil {
		return "", dberr.New(dberr.KindSchema, "executor.insert", errNotObject)
	}
	raw := make(map[string]interface{}, len(body)+1)
	for k, v := range body {
		raw[k] = v
	}
	raw[storage.CollectionField] = collection

	id, hasID, err := storage.ExtractID(raw)
	if err != nil {
		return "", dberr.New(dberr.KindSchema, "executor.insert", err)
	}
	delete(raw, storage.IDField)

	var doc *storage.Document
	if hasID {
		doc, err = storage.NewDocumentWithID(id, raw)
	} else {
		doc, err = storage.NewDocument(raw)
	}
	if err != nil {
		return "", err
	}

	encoded, err := storage.EncodeDocument(doc)
	if err != nil {
		return "", err
	}
	pageSize := e.pager.PageSize()
	if len(encoded) > storage.PayloadCapacity(pageSize) {
		return "", dberr.New(dberr.KindCapacity, "executor.insert", errTooLarge)
	}

	pageNum, err := e.pager.AllocatePage(storage.KindData)
	if err != nil {
		return "", err
	}
	page := &storage.Page{Num: pageNum, Kind: storage.KindData, Payload: make([]byte, storage.PayloadCapacity(pageSize))}
	copy(page.Payload, encoded)
	if err := e.pager.WritePage(page); err != nil {
		return "", err
	}

	if err := e.index.Insert(collection, doc.ID(), index.Locator{PageNum: pageNum}); err != nil {
		return "", err
	}
	e.bumpStatsLocked(collection, true)
	e.pool.Put(page)
	return doc.ID(), nil
}

// FindByID looks up a document by collection and id, preferring the
// buffer pool and falling through to the Pager on a miss.
func (e *Executor) FindByID(collection, id string) (*storage.Document, error) {
	loc, ok := e.index.Find(collection, id)
	if !ok {
		return nil, dberr.New(dberr.KindNotFound, "executor.find_by_id", errDocNotFound)
	}
	return e.readDocument(loc.PageNum)
}

func (e *Executor) readDocument(pageNum uint32) (*storage.Document, error) {
	if page, ok := e.pool.Get(pageNum); ok {
		return storage.DecodeDocument(page.Payload)
	}
	page, err := e.pager.ReadPage(pageNum)
	if err != nil {
		return nil, err
	}
	e.pool.Put(page)
	return storage.DecodeDocument(page.Payload)
}

// Update replaces the body of an existing document in place, failing if
// the new encoding no longer fits the page's payload capacity: there is
// no resizing and no overflow chain, one page per document always.
func (e *Executor) Update(collection, id string, body map[string]interface{}) error {
	if body == nil {
		return dberr.New(dberr.KindSchema, "executor.update", errNotObject)
	}
	e.locks.Lock(collection, id)
	defer e.locks.Unlock(collection, id)

	loc, ok := e.index.Find(collection, id)
	if !ok {
		return dberr.New(dberr.KindNotFound, "executor.update", errDocNotFound)
	}

	raw := make(map[string]interface{}, len(body)+1)
	for k, v := range body {
		raw[k] = v
	}
	raw[storage.CollectionField] = collection

	doc, err := storage.NewDocumentWithID(id, raw)
	if err != nil {
		return err
	}
	encoded, err := storage.EncodeDocument(doc)
	if err != nil {
		return err
	}
	pageSize := e.pager.PageSize()
	if len(encoded) > storage.PayloadCapacity(pageSize) {
		return dberr.New(dberr.KindCapacity, "executor.update", errTooLarge)
	}

	page := &storage.Page{Num: loc.PageNum, Kind: storage.KindData, Payload: make([]byte, storage.PayloadCapacity(pageSize))}
	copy(page.Payload, encoded)
	if err := e.pager.WritePage(page); err != nil {
		return err
	}
	e.pool.Remove(loc.PageNum)
	e.bumpStatsLocked(collection, false)
	return nil
}

// Delete removes a document, returning its last body for the caller, and
// marks its page Free with a zeroed payload.
func (e *Executor) Delete(collection, id string) (*storage.Document, error) {
	e.locks.Lock(collection, id)
	defer e.locks.Unlock(collection, id)

	doc, err := e.FindByID(collection, id)
	if err != nil {
		return nil, err
	}
	loc, _ := e.index.Find(collection, id)
	if !e.index.Remove(collection, id) {
		return nil, dberr.New(dberr.KindNotFound, "executor.delete", errDocNotFound)
	}

	pageSize := e.pager.PageSize()
	page := &storage.Page{Num: loc.PageNum, Kind: storage.KindFree, Payload: make([]byte, storage.PayloadCapacity(pageSize))}
	if err := e.pager.WritePage(page); err != nil {
		return nil, err
	}
	e.pool.Remove(loc.PageNum)

	e.statsMu.Lock()
	if s, ok := e.stats[collection]; ok {
		s.DocumentCount--
		s.UpdatedAt = time.Now()
	}
	e.statsMu.Unlock()

	return doc, nil
}

// FindAll enumerates documents in collection. Order is unspecified (it
// follows the index's map iteration order). skip is applied before limit;
// a limit of 0 means unbounded. Any id whose read fails is silently
// omitted rather than aborting the whole call.
func (e *Executor) FindAll(collection string, limit, skip int) ([]*storage.Document, error) {
	ids := e.index.ListIDs(collection)
	if skip > 0 {
		if skip >= len(ids) {
			return nil, nil
		}
		ids = ids[skip:]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]*storage.Document, 0, len(ids))
	for _, id := range ids {
		loc, ok := e.index.Find(collection, id)
		if !ok {
			continue
		}
		doc, err := e.readDocument(loc.PageNum)
		if err != nil {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}

// Count returns the number of documents indexed for collection.
func (e *Executor) Count(collection string) int {
	return e.index.Count(collection)
}

// ListCollections returns every collection name currently in the index,
// built purely from the index and not from the stats bookkeeping: the
// stats map is a supplemental read API, not the authoritative collection
// list.
func (e *Executor) ListCollections() []string {
	return e.index.ListCollections()
}

// CollectionStats returns the bookkeeping counters for collection, or
// false if nothing has ever been written to it.
func (e *Executor) CollectionStats(collection string) (CollectionStats, bool) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	s, ok := e.stats[collection]
	if !ok {
		return CollectionStats{}, false
	}
	return *s, true
}

// Sync flushes the Pager to durable storage.
func (e *Executor) Sync() error {
	return e.pager.Sync()
}

// Index exposes the underlying primary index, mainly for callers that
// need to inspect index contents directly.
func (e *Executor) Index() *index.Primary {
	return e.index
}
