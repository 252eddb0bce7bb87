package index

import (
	"sort"
	"testing"

	"github.com/keradb/keradb/dberr"
)

func TestInsertFindRemove(t *testing.T) {
	idx := New()
	if err := idx.Insert("widgets", "a", Locator{PageNum: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	loc, ok := idx.Find("widgets", "a")
	if !ok || loc.PageNum != 1 {
		t.Fatalf("Find = %v, %v", loc, ok)
	}
	if !idx.Remove("widgets", "a") {
		t.Fatalf("Remove reported false")
	}
	if _, ok := idx.Find("widgets", "a"); ok {
		t.Fatalf("Find after Remove still found entry")
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	idx := New()
	if err := idx.Insert("widgets", "a", Locator{PageNum: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := idx.Insert("widgets", "a", Locator{PageNum: 2})
	if !dberr.Is(err, dberr.KindDuplicate) {
		t.Fatalf("err = %v, want KindDuplicate", err)
	}
}

func TestUpdateRequiresExisting(t *testing.T) {
	idx := New()
	if idx.Update("widgets", "missing", Locator{PageNum: 1}) {
		t.Fatalf("Update on missing id reported true")
	}
	idx.Insert("widgets", "a", Locator{PageNum: 1})
	if !idx.Update("widgets", "a", Locator{PageNum: 9}) {
		t.Fatalf("Update on existing id reported false")
	}
	loc, _ := idx.Find("widgets", "a")
	if loc.PageNum != 9 {
		t.Fatalf("PageNum = %d, want 9", loc.PageNum)
	}
}

func TestListIDsAndCount(t *testing.T) {
	idx := New()
	idx.Insert("widgets", "a", Locator{PageNum: 1})
	idx.Insert("widgets", "b", Locator{PageNum: 2})
	if idx.Count("widgets") != 2 {
		t.Fatalf("Count = %d, want 2", idx.Count("widgets"))
	}
	ids := idx.ListIDs("widgets")
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ListIDs = %v", ids)
	}
}

func TestListCollections(t *testing.T) {
	idx := New()
	idx.Insert("widgets", "a", Locator{PageNum: 1})
	idx.Insert("gadgets", "b", Locator{PageNum: 2})
	names := idx.ListCollections()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "gadgets" || names[1] != "widgets" {
		t.Fatalf("ListCollections = %v", names)
	}
}

func TestFindUnknownCollection(t *testing.T) {
	idx := New()
	if _, ok := idx.Find("nope", "a"); ok {
		t.Fatalf("Find on unknown collection reported true")
	}
	if idx.Count("nope") != 0 {
		t.Fatalf("Count on unknown collection != 0")
	}
}
