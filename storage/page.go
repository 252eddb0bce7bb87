package storage

import (
	"encoding/binary"
	"hash/crc32"
)

// DefaultPageSize is the page size used when a caller does not override it.
const DefaultPageSize = 4096

// HeaderSize is the size in bytes of the fixed file header.
const HeaderSize = 64

// magic identifies a keradb document file.
var magic = [4]byte{'N', 'S', 'Q', 'L'}

// FormatVersion is the on-disk format version written by Create.
const FormatVersion uint32 = 1

// frameOverhead is the number of bytes every on-disk page spends on its
// kind tag and checksum before payload begins.
const frameOverhead = 1 + 4 // kind byte + crc32 uint32

// Kind identifies the role of a page. The six-way enum and its numeric
// values mirror the on-disk format exactly: persisted bytes are only
// meaningful if every implementation agrees on these values.
type Kind byte

const (
	KindMeta        Kind = 0
	KindData        Kind = 1
	KindIndex       Kind = 2
	KindFree        Kind = 3
	KindVectorData  Kind = 4
	KindVectorIndex Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindData:
		return "data"
	case KindIndex:
		return "index"
	case KindFree:
		return "free"
	case KindVectorData:
		return "vector-data"
	case KindVectorIndex:
		return "vector-index"
	default:
		return "unknown"
	}
}

// validKind reports whether b is one of the known Kind values.
func validKind(b byte) bool {
	return b <= byte(KindVectorIndex)
}

// Page is the in-memory form of one on-disk page: its number (implied by
// file position, carried here for convenience), kind, last-known checksum,
// and payload. Payload is always exactly pageSize-frameOverhead bytes once
// returned by a Pager.
type Page struct {
	Num      uint32
	Kind     Kind
	Checksum uint32
	Payload  []byte
}

// NewPage builds a zeroed page of the given kind and size, ready to be
// written by a Pager.
func NewPage(num uint32, kind Kind, pageSize int) *Page {
	return &Page{
		Num:     num,
		Kind:    kind,
		Payload: make([]byte, pageSize-frameOverhead),
	}
}

// Clone returns a deep copy so cached or returned pages are never aliased
// with a buffer a caller might later mutate.
func (p *Page) Clone() *Page {
	cp := &Page{Num: p.Num, Kind: p.Kind, Checksum: p.Checksum}
	cp.Payload = make([]byte, len(p.Payload))
	copy(cp.Payload, p.Payload)
	return cp
}

// PayloadCapacity returns how many payload bytes a page of pageSize holds.
func PayloadCapacity(pageSize int) int {
	return pageSize - frameOverhead
}

// encodePage renders a page into its on-disk byte representation
// (frameOverhead + pageSize-frameOverhead bytes), zero-padding a short
// payload before computing the checksum over the padded bytes.
func encodePage(kind Kind, payload []byte, pageSize int) ([]byte, uint32) {
	padded := make([]byte, pageSize-frameOverhead)
	copy(padded, payload)
	checksum := crc32.ChecksumIEEE(padded)

	buf := make([]byte, pageSize)
	buf[0] = byte(kind)
	binary.LittleEndian.PutUint32(buf[1:5], checksum)
	copy(buf[5:], padded)
	return buf, checksum
}

// decodePage parses raw on-disk bytes into a Page, verifying the stored
// checksum against the payload.
func decodePage(num uint32, raw []byte) (*Page, error) {
	if len(raw) < frameOverhead {
		return nil, errShortPage
	}
	kindByte := raw[0]
	if !validKind(kindByte) {
		return nil, errBadKind
	}
	stored := binary.LittleEndian.Uint32(raw[1:5])
	payload := raw[5:]
	actual := crc32.ChecksumIEEE(payload)
	if actual != stored {
		return nil, errChecksumMismatch
	}
	p := &Page{Num: num, Kind: Kind(kindByte), Checksum: stored}
	p.Payload = make([]byte, len(payload))
	copy(p.Payload, payload)
	return p, nil
}
