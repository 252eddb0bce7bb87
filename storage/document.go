// Package storage implements the paged document file: pages, the pager,
// the buffer pool, and the document codec. The page locator each document
// resolves to lives in package index.
package storage

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/keradb/keradb/dberr"
)

const (
	// IDField is the reserved body key holding a document's id.
	IDField = "_id"
	// CollectionField is the reserved body key injected to allow index
	// rebuild by scanning pages; callers should treat it as internal.
	CollectionField = "_collection"
)

var errBadLength = fmt.Errorf("serializer: corrupted length prefix")

// Document pairs a string id with a JSON object body. The body is the raw
// decoded form, including _id and _collection; callers that want the
// "clean" body should use CleanBody().
type Document struct {
	id   string
	body map[string]interface{}
}

// NewDocument builds a document with a fresh version-4 UUID.
func NewDocument(body map[string]interface{}) (*Document, error) {
	return newDocumentWithID(uuid.NewString(), body)
}

// NewDocumentWithID builds a document with a caller-supplied id.
func NewDocumentWithID(id string, body map[string]interface{}) (*Document, error) {
	return newDocumentWithID(id, body)
}

func newDocumentWithID(id string, body map[string]interface{}) (*Document, error) {
	if body == nil {
		return nil, dberr.New(dberr.KindSchema, "document.new", fmt.Errorf("body must be a JSON object"))
	}
	cp := make(map[string]interface{}, len(body)+1)
	for k, v := range body {
		cp[k] = v
	}
	cp[IDField] = id
	return &Document{id: id, body: cp}, nil
}

// ID returns the document's id.
func (d *Document) ID() string { return d.id }

// Body returns the raw stored body (including _id and _collection).
func (d *Document) Body() map[string]interface{} { return d.body }

// CleanBody returns a copy of the body with _id and _collection removed,
// suitable for returning to a caller.
func (d *Document) CleanBody() map[string]interface{} {
	out := make(map[string]interface{}, len(d.body))
	for k, v := range d.body {
		if k == IDField || k == CollectionField {
			continue
		}
		out[k] = v
	}
	return out
}

// SetCollection injects the reserved _collection field.
func (d *Document) SetCollection(name string) {
	d.body[CollectionField] = name
}

// Collection reads the reserved _collection field, if present and a
// string.
func (d *Document) Collection() (string, bool) {
	v, ok := d.body[CollectionField]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// documentFromBody reconstructs a Document from a decoded body, requiring
// a string _id field (as written by EncodeDocument, every persisted body
// carries one).
func documentFromBody(body map[string]interface{}) (*Document, error) {
	raw, ok := body[IDField]
	if !ok {
		return nil, dberr.New(dberr.KindFormat, "document.decode", fmt.Errorf("missing %s", IDField))
	}
	id, ok := raw.(string)
	if !ok {
		return nil, dberr.New(dberr.KindSchema, "document.decode", fmt.Errorf("%s is not a string", IDField))
	}
	return &Document{id: id, body: body}, nil
}

// ExtractID pulls a caller-supplied _id out of a raw insert body, the way
// the executor does before deciding whether to generate a fresh id: a
// present-but-non-string _id is a schema error.
func ExtractID(body map[string]interface{}) (id string, hasID bool, err error) {
	raw, ok := body[IDField]
	if !ok {
		return "", false, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", false, dberr.New(dberr.KindSchema, "document.extract_id", fmt.Errorf("%s must be a string", IDField))
	}
	return s, true, nil
}
