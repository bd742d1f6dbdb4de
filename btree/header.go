package btree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/spaolacci/murmur3"

	"dbcore/internal/buffer"
)

// HeaderPage is the reserved page 0 that EnsureHeaderPage allocates before
// any other page: a small open-addressed directory mapping index_name to
// its root_page_id, replacing dinodb's hardcoded ROOT_PN=0 (one tree per
// file) with original_source's header_page.h / UpdateRootPageId design, so
// one pool can back several named indexes. Keyed by murmur3.Sum32(name)
// rather than a generic map, since this directory lives inside a single
// page-sized byte buffer, not in a Go heap structure.
type HeaderPage struct {
	page *buffer.Page
}

const (
	maxIndexNameLen = 23
	headerEntrySize = 1 + 1 + maxIndexNameLen + 4 // occupied, nameLen, name, rootPageID
	// the last 8 bytes of a page hold the disk manager's checksum and are
	// zeroed on read, so no bucket may reach into them
	headerNumBuckets = (4096 - 4 - 8) / headerEntrySize
)

var (
	// ErrIndexNameTooLong is returned when an index name exceeds the
	// header page's fixed slot width.
	ErrIndexNameTooLong = errors.New("btree: index name too long for header page")
	// ErrHeaderFull is returned when the header page's directory has no
	// free slot left for a new index name (extremely small on purpose:
	// this is a teaching-scale single-page directory, not a growable one).
	ErrHeaderFull = errors.New("btree: header page directory is full")
)

// NewHeaderPage wraps page 0.
func NewHeaderPage(page *buffer.Page) *HeaderPage {
	return &HeaderPage{page: page}
}

// EnsureHeaderPage guarantees page 0 exists and is formatted as an empty
// directory, and must be called exactly once, before any other NewPage
// call, when a database is first opened. disk.Manager.AllocatePage hands
// out sequential ids starting at 0 with no notion of a reserved page, so
// page 0 only stays reserved for the header if it is the very first page
// anyone allocates; every later Tree.Open just FetchPages it. Reopening an
// existing file (DiskPageCount > 0) skips formatting so the directory
// already on disk survives.
func EnsureHeaderPage(pool *buffer.Pool) error {
	if pool.DiskPageCount() > 0 {
		return nil
	}
	page, pageID, err := pool.NewPage()
	if err != nil {
		return err
	}
	if pageID != 0 {
		pool.UnpinPage(pageID, true)
		return fmt.Errorf("btree: expected header page id 0, got %d", pageID)
	}
	NewHeaderPage(page).Init()
	return pool.UnpinPage(pageID, true)
}

// Init formats a freshly allocated page 0 as an empty directory.
func (h *HeaderPage) Init() {
	data := h.page.Data()
	binary.LittleEndian.PutUint32(data[0:4], 0)
	for i := 0; i < headerNumBuckets; i++ {
		data[h.bucketOffset(i)] = 0
	}
}

func (h *HeaderPage) bucketOffset(i int) int { return 4 + i*headerEntrySize }

// Lookup returns the root page id registered for name, or false.
func (h *HeaderPage) Lookup(name string) (int32, bool) {
	data := h.page.Data()
	slot := int(murmur3.Sum32([]byte(name))) % headerNumBuckets
	for probe := 0; probe < headerNumBuckets; probe++ {
		i := (slot + probe) % headerNumBuckets
		off := h.bucketOffset(i)
		if data[off] == 0 {
			return 0, false
		}
		if string(h.nameAt(off)) == name {
			return int32(binary.LittleEndian.Uint32(data[off+2+maxIndexNameLen:])), true
		}
	}
	return 0, false
}

// Set registers (or updates) name's root page id.
func (h *HeaderPage) Set(name string, rootPageID int32) error {
	if len(name) > maxIndexNameLen {
		return ErrIndexNameTooLong
	}
	data := h.page.Data()
	slot := int(murmur3.Sum32([]byte(name))) % headerNumBuckets
	for probe := 0; probe < headerNumBuckets; probe++ {
		i := (slot + probe) % headerNumBuckets
		off := h.bucketOffset(i)
		if data[off] == 0 || string(h.nameAt(off)) == name {
			data[off] = 1
			data[off+1] = byte(len(name))
			copy(data[off+2:off+2+maxIndexNameLen], name)
			binary.LittleEndian.PutUint32(data[off+2+maxIndexNameLen:], uint32(rootPageID))
			return nil
		}
	}
	return ErrHeaderFull
}

func (h *HeaderPage) nameAt(off int) []byte {
	data := h.page.Data()
	n := int(data[off+1])
	return data[off+2 : off+2+n]
}
