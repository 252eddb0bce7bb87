package engine

import (
	"path/filepath"
	"testing"

	"github.com/keradb/keradb/dberr"
	"github.com/keradb/keradb/storage"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db.kdb")
	pager, err := storage.Create(path, storage.DefaultPageSize)
	if err != nil {
		t.Fatalf("storage.Create: %v", err)
	}
	t.Cleanup(func() { pager.Close() })
	pool := storage.NewBufferPool(storage.DefaultBufferPoolCapacity)
	return NewExecutor(pager, pool)
}

func TestInsertFindByID(t *testing.T) {
	e := newTestExecutor(t)
	id, err := e.Insert("widgets", map[string]interface{}{"name": "sprocket"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	doc, err := e.FindByID("widgets", id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if doc.CleanBody()["name"] != "sprocket" {
		t.Fatalf("name = %v", doc.CleanBody()["name"])
	}
	if e.Count("widgets") != 1 {
		t.Fatalf("Count = %d, want 1", e.Count("widgets"))
	}
}

func TestInsertRejectsNilBody(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := e.Insert("widgets", nil); !dberr.Is(err, dberr.KindSchema) {
		t.Fatalf("err = %v, want KindSchema", err)
	}
}

func TestInsertDuplicateIDLeavesPageWritten(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := e.Insert("widgets", map[string]interface{}{"_id": "fixed", "n": 1.0}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	countBefore := e.pager.PageCount()

	_, err := e.Insert("widgets", map[string]interface{}{"_id": "fixed", "n": 2.0})
	if !dberr.Is(err, dberr.KindDuplicate) {
		t.Fatalf("err = %v, want KindDuplicate", err)
	}
	// The page for the rejected duplicate was still allocated and written
	// before the index check ran, so page count grew even on failure.
	if e.pager.PageCount() <= countBefore {
		t.Fatalf("PageCount did not grow on duplicate insert: before=%d after=%d", countBefore, e.pager.PageCount())
	}
	if e.Count("widgets") != 1 {
		t.Fatalf("Count = %d, want 1 (duplicate must not be indexed)", e.Count("widgets"))
	}
}

func TestUpdateInPlace(t *testing.T) {
	e := newTestExecutor(t)
	id, err := e.Insert("widgets", map[string]interface{}{"n": 1.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Update("widgets", id, map[string]interface{}{"n": 2.0}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc, err := e.FindByID("widgets", id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if doc.CleanBody()["n"] != 2.0 {
		t.Fatalf("n = %v, want 2.0", doc.CleanBody()["n"])
	}
}

func TestUpdateMissingFails(t *testing.T) {
	e := newTestExecutor(t)
	err := e.Update("widgets", "nope", map[string]interface{}{"n": 1.0})
	if !dberr.Is(err, dberr.KindNotFound) {
		t.Fatalf("err = %v, want KindNotFound", err)
	}
}

func TestDeleteFreesAndDeindexes(t *testing.T) {
	e := newTestExecutor(t)
	id, err := e.Insert("widgets", map[string]interface{}{"n": 1.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	doc, err := e.Delete("widgets", id)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if doc.ID() != id {
		t.Fatalf("deleted doc id = %s, want %s", doc.ID(), id)
	}
	if _, err := e.FindByID("widgets", id); !dberr.Is(err, dberr.KindNotFound) {
		t.Fatalf("FindByID after Delete = %v, want KindNotFound", err)
	}
	if e.Count("widgets") != 0 {
		t.Fatalf("Count after Delete = %d, want 0", e.Count("widgets"))
	}
}

func TestFindAllSkipAndLimit(t *testing.T) {
	e := newTestExecutor(t)
	for i := 0; i < 5; i++ {
		if _, err := e.Insert("widgets", map[string]interface{}{"n": float64(i)}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	all, err := e.FindAll("widgets", 0, 0)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("len(all) = %d, want 5", len(all))
	}

	page, err := e.FindAll("widgets", 2, 2)
	if err != nil {
		t.Fatalf("FindAll with skip/limit: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("len(page) = %d, want 2", len(page))
	}
}

func TestListCollectionsAndStats(t *testing.T) {
	e := newTestExecutor(t)
	if _, err := e.Insert("widgets", map[string]interface{}{"n": 1.0}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	names := e.ListCollections()
	if len(names) != 1 || names[0] != "widgets" {
		t.Fatalf("ListCollections = %v", names)
	}
	stats, ok := e.CollectionStats("widgets")
	if !ok || stats.DocumentCount != 1 {
		t.Fatalf("CollectionStats = %+v, %v", stats, ok)
	}
}

func TestRebuildIndexAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.kdb")
	pager, err := storage.Create(path, storage.DefaultPageSize)
	if err != nil {
		t.Fatalf("storage.Create: %v", err)
	}
	pool := storage.NewBufferPool(storage.DefaultBufferPoolCapacity)
	e := NewExecutor(pager, pool)
	id, err := e.Insert("widgets", map[string]interface{}{"n": 1.0})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := pager.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	pager.Close()

	reopened, err := storage.Open(path)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer reopened.Close()
	e2 := NewExecutor(reopened, storage.NewBufferPool(storage.DefaultBufferPoolCapacity))
	doc, err := e2.FindByID("widgets", id)
	if err != nil {
		t.Fatalf("FindByID after reopen: %v", err)
	}
	if doc.CleanBody()["n"] != 1.0 {
		t.Fatalf("n = %v", doc.CleanBody()["n"])
	}
}
