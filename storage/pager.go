package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/keradb/keradb/dberr"
)

var (
	errShortPage        = fmt.Errorf("pager: short page on disk")
	errBadKind          = fmt.Errorf("pager: invalid page kind byte")
	errChecksumMismatch = fmt.Errorf("pager: checksum mismatch")
)

// Pager owns a single fixed-page-size document file: a 64-byte header
// (magic, version, page size, page count) followed by page_count
// consecutive pages. It is the exclusive writer of the file; a single
// mutex guards every operation, matching the "Pager is exclusive-access"
// concurrency rule.
type Pager struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	pageSize   int
	pageCount  uint32
	readOnly   bool
}

// Create makes a new document file at path with the given page size. It
// fails if the path already exists.
func Create(path string, pageSize int) (*Pager, error) {
	if pageSize <= frameOverhead {
		return nil, dberr.New(dberr.KindSchema, "pager.create", fmt.Errorf("page size %d too small", pageSize))
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, dberr.New(dberr.KindIO, "pager.create", err)
	}
	p := &Pager{file: f, path: path, pageSize: pageSize}
	if err := p.writeHeader(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return p, nil
}

// Open opens an existing document file, validating its header.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, dberr.New(dberr.KindIO, "pager.open", err)
	}
	p := &Pager{file: f, path: path}
	if err := p.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

// OpenReadOnly opens an existing document file for reads only; WritePage
// and AllocatePage fail with a not-supported error. Sync is still allowed
// and simply syncs the read-only handle.
func OpenReadOnly(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, dberr.New(dberr.KindIO, "pager.open", err)
	}
	p := &Pager{file: f, path: path, readOnly: true}
	if err := p.readHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pager) writeHeader() error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.pageSize))
	binary.LittleEndian.PutUint32(buf[12:16], p.pageCount)
	if _, err := p.file.WriteAt(buf, 0); err != nil {
		return dberr.New(dberr.KindIO, "pager.create", err)
	}
	return nil
}

func (p *Pager) readHeader() error {
	buf := make([]byte, HeaderSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return dberr.New(dberr.KindIO, "pager.open", err)
	}
	if string(buf[0:4]) != string(magic[:]) {
		return dberr.New(dberr.KindFormat, "pager.open", fmt.Errorf("bad magic"))
	}
	version := binary.LittleEndian.Uint32(buf[4:8])
	if version != FormatVersion {
		return dberr.New(dberr.KindFormat, "pager.open",
			fmt.Errorf("version mismatch: expected %d, got %d", FormatVersion, version))
	}
	p.pageSize = int(binary.LittleEndian.Uint32(buf[8:12]))
	p.pageCount = binary.LittleEndian.Uint32(buf[12:16])
	return nil
}

// Close releases the underlying file handle. It does not implicitly sync.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.file.Close()
}

// PageSize returns the configured page size for this file.
func (p *Pager) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageSize
}

// PageCount returns the current number of pages in the file.
func (p *Pager) PageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCount
}

func (p *Pager) offsetOf(n uint32) int64 {
	return int64(HeaderSize) + int64(n)*int64(p.pageSize)
}

// ReadPage reads and verifies page n.
func (p *Pager) ReadPage(n uint32) (*Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(n)
}

func (p *Pager) readPageLocked(n uint32) (*Page, error) {
	if n >= p.pageCount {
		return nil, dberr.New(dberr.KindIO, "pager.read_page",
			fmt.Errorf("page %d out of range (count=%d)", n, p.pageCount))
	}
	raw := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(raw, p.offsetOf(n)); err != nil {
		return nil, dberr.New(dberr.KindIO, "pager.read_page", err)
	}
	page, err := decodePage(n, raw)
	if err != nil {
		switch err {
		case errChecksumMismatch:
			return nil, dberr.New(dberr.KindIntegrity, "pager.read_page", err)
		case errBadKind, errShortPage:
			return nil, dberr.New(dberr.KindFormat, "pager.read_page", err)
		default:
			return nil, dberr.New(dberr.KindIO, "pager.read_page", err)
		}
	}
	return page, nil
}

// WritePage writes page at its Num, recomputing its checksum over the
// zero-padded payload. If Num is at or beyond the current page count, the
// file grows and the header's page count is rewritten.
func (p *Pager) WritePage(page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writePageLocked(page)
}

func (p *Pager) writePageLocked(page *Page) error {
	if p.readOnly {
		return dberr.New(dberr.KindNotSupported, "pager.write_page", fmt.Errorf("read-only pager"))
	}
	if len(page.Payload) > p.pageSize-frameOverhead {
		return dberr.New(dberr.KindCapacity, "pager.write_page",
			fmt.Errorf("payload %d exceeds capacity %d", len(page.Payload), p.pageSize-frameOverhead))
	}
	raw, checksum := encodePage(page.Kind, page.Payload, p.pageSize)
	if _, err := p.file.WriteAt(raw, p.offsetOf(page.Num)); err != nil {
		return dberr.New(dberr.KindIO, "pager.write_page", err)
	}
	if err := p.file.Sync(); err != nil {
		return dberr.New(dberr.KindIO, "pager.write_page", err)
	}
	page.Checksum = checksum
	if page.Num >= p.pageCount {
		p.pageCount = page.Num + 1
		if err := p.writeHeader(); err != nil {
			return err
		}
	}
	return nil
}

// AllocatePage appends a new zeroed page of the given kind and returns its
// number. The page-count read and the page write happen under a single
// critical section so two concurrent callers can never be handed the same
// page number.
func (p *Pager) AllocatePage(kind Kind) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readOnly {
		return 0, dberr.New(dberr.KindNotSupported, "pager.allocate_page", fmt.Errorf("read-only pager"))
	}
	num := p.pageCount
	page := NewPage(num, kind, p.pageSize)
	if err := p.writePageLocked(page); err != nil {
		return 0, err
	}
	return num, nil
}

// Sync forces the underlying file to durable storage.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Sync(); err != nil {
		return dberr.New(dberr.KindIO, "pager.sync", err)
	}
	return nil
}

// Path returns the file path this pager was created or opened with.
func (p *Pager) Path() string { return p.path }
