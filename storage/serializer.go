package storage

import (
	"encoding/binary"
	"encoding/json"

	"github.com/keradb/keradb/dberr"
)

// EncodeDocument renders a document to canonical JSON, then frames it with
// a four-byte little-endian length prefix: [len:u32 LE][json bytes]. JSON
// guarantees stable handling of heterogeneous object shapes; the
// length-prefix framing lets the page layer treat the blob opaquely.
func EncodeDocument(doc *Document) ([]byte, error) {
	body, err := json.Marshal(doc.body)
	if err != nil {
		return nil, dberr.New(dberr.KindFormat, "serializer.encode", err)
	}
	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodeDocument reverses EncodeDocument, validating the length prefix
// against the available payload before unmarshaling.
func DecodeDocument(payload []byte) (*Document, error) {
	if len(payload) < 4 {
		return nil, dberr.New(dberr.KindFormat, "serializer.decode", errShortPage)
	}
	n := binary.LittleEndian.Uint32(payload[0:4])
	if n == 0 || uint64(n) > uint64(len(payload)-4) {
		return nil, dberr.New(dberr.KindFormat, "serializer.decode", errBadLength)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(payload[4:4+int(n)], &body); err != nil {
		return nil, dberr.New(dberr.KindFormat, "serializer.decode", err)
	}
	return documentFromBody(body)
}
