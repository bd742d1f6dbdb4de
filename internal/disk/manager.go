// Package disk implements the byte-addressable page I/O device the buffer
// pool is built on (spec §6's "disk manager" collaborator). It is grounded on
// dinodb/pkg/pager.Pager's use of github.com/ncw/directio for aligned,
// unbuffered file I/O, split out of the pager so the buffer pool only talks
// to the four operations spec §6 names.
package disk

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/ncw/directio"

	"dbcore/internal/config"
)

// PageSize is the on-disk page size, aligned to directio's block size
// requirement exactly as dinodb/pkg/pager.Pagesize is.
const PageSize = directio.BlockSize

// checksumSize is the trailing xxhash64 of a page's payload, stamped on
// every write and verified on every read so that a corrupted page surfaces
// as an error instead of silently returning garbage bytes to the buffer pool.
const checksumSize = 8

// payloadSize is how many bytes of a page are available to callers; the
// last checksumSize bytes are reserved for the xxhash trailer.
const payloadSize = PageSize - checksumSize

var (
	// ErrCorruptPage is returned by ReadPage when a page's stored checksum
	// does not match its payload.
	ErrCorruptPage = errors.New("disk: page failed checksum verification")
)

// Manager is the disk manager: synchronous, unbuffered page I/O plus page id
// allocation, matching spec §6 exactly (ReadPage/WritePage/AllocatePage/DeallocatePage).
type Manager struct {
	file     *os.File
	mu       sync.Mutex
	numPages int64
	freeIDs  []int64 // deallocated page ids available for reuse
}

// Open (re-)initializes a Manager backed by a file at path, creating the
// necessary parent directories and the file itself if it doesn't exist yet.
func Open(path string) (*Manager, error) {
	if idx := strings.LastIndex(path, "/"); idx != -1 {
		if err := os.MkdirAll(path[:idx], 0775); err != nil {
			return nil, err
		}
	}
	f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size()%PageSize != 0 {
		f.Close()
		return nil, errors.New("disk: backing file size is not page-aligned")
	}
	return &Manager{file: f, numPages: info.Size() / PageSize}, nil
}

// Close flushes nothing (the buffer pool owns flushing) and closes the file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// ReadPage fills buf (which must be exactly config.PageSize bytes) with the
// payload stored at pageID, verifying its checksum.
func (m *Manager) ReadPage(pageID int32, buf []byte) error {
	if int64(len(buf)) != config.PageSize {
		return errors.New("disk: buffer must be exactly PageSize bytes")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := directio.AlignedBlock(PageSize)
	if _, err := m.file.ReadAt(raw, int64(pageID)*PageSize); err != nil && err != io.EOF {
		return err
	}
	payload := raw[:payloadSize]
	stored := binary.LittleEndian.Uint64(raw[payloadSize:])
	if stored != 0 && stored != xxhash.Sum64(payload) {
		return ErrCorruptPage
	}
	copy(buf, payload)
	// zero-fill the checksum tail so callers never see it in their page view
	for i := payloadSize; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

// WritePage writes buf (config.PageSize bytes, only the first payloadSize of
// which are meaningful) to pageID, stamping a fresh checksum.
func (m *Manager) WritePage(pageID int32, buf []byte) error {
	if int64(len(buf)) != config.PageSize {
		return errors.New("disk: buffer must be exactly PageSize bytes")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := directio.AlignedBlock(PageSize)
	copy(raw, buf[:payloadSize])
	binary.LittleEndian.PutUint64(raw[payloadSize:], xxhash.Sum64(raw[:payloadSize]))
	_, err := m.file.WriteAt(raw, int64(pageID)*PageSize)
	return err
}

// AllocatePage returns a fresh page id, reusing a deallocated one if available.
func (m *Manager) AllocatePage() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.freeIDs); n > 0 {
		id := m.freeIDs[n-1]
		m.freeIDs = m.freeIDs[:n-1]
		return int32(id)
	}
	id := m.numPages
	m.numPages++
	return int32(id)
}

// DeallocatePage marks pageID free for reuse by a future AllocatePage call.
func (m *Manager) DeallocatePage(pageID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.freeIDs = append(m.freeIDs, int64(pageID))
}

// NumPages returns the number of pages ever allocated (not accounting for
// deallocation reuse bookkeeping).
func (m *Manager) NumPages() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numPages
}
