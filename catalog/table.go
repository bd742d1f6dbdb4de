package catalog

import (
	"errors"

	"dbcore/btree"
	"dbcore/internal/buffer"
	"dbcore/internal/config"
	"dbcore/internal/corelog"
	"dbcore/internal/diag"
	"dbcore/internal/disk"
	"dbcore/internal/heap"
	"dbcore/rid"
)

// ErrHeapDirectoryMissing is returned by openTable when a table's file has
// a header page but no heap first-page-id entry for it, meaning the file
// was never fully created (or was corrupted).
var ErrHeapDirectoryMissing = errors.New("catalog: table file is missing its heap directory entry")

// heapDirectorySuffix is appended to a table's name to form the header page
// directory entry its heap first page id is stashed under, reusing btree.HeaderPage's name->int32 directory
// instead of widening its fixed on-disk layout for a second kind of entry.
const heapDirectorySuffix = ".heap"

// Table bundles one table's on-disk file (a disk manager plus buffer pool, one
// file per table, matching dinodb.Database's one-file-per-index layout), its
// primary-key B+tree index, and its tuple heap. OID is a stable small integer
// identifying the table, since a real catalog would use it in query plans and
// system-table foreign keys once those exist.
type Table struct {
	OID  uint32
	Name string

	disk *disk.Manager
	pool *buffer.Pool
	tree *btree.Tree
	heap *heap.Heap
	log  corelog.Logger
}

func createTable(path, name string, oid uint32, cfg config.Config, log corelog.Logger, journal *diag.Journal) (*Table, error) {
	d, err := disk.Open(path)
	if err != nil {
		return nil, err
	}
	pool := buffer.NewPool(cfg.PoolSize, d, log, journal)
	if err := btree.EnsureHeaderPage(pool); err != nil {
		pool.Close()
		return nil, err
	}
	tree, err := btree.Open(pool, name, int32(cfg.LeafMaxSize), int32(cfg.InternalMaxSize), nil, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	h, err := heap.Create(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := setHeapDirectoryEntry(pool, name, h.FirstPageID()); err != nil {
		pool.Close()
		return nil, err
	}
	return &Table{OID: oid, Name: name, disk: d, pool: pool, tree: tree, heap: h, log: log}, nil
}

func openTable(path, name string, cfg config.Config, log corelog.Logger, journal *diag.Journal) (*Table, error) {
	d, err := disk.Open(path)
	if err != nil {
		return nil, err
	}
	pool := buffer.NewPool(cfg.PoolSize, d, log, journal)
	if err := btree.EnsureHeaderPage(pool); err != nil {
		pool.Close()
		return nil, err
	}
	tree, err := btree.Open(pool, name, int32(cfg.LeafMaxSize), int32(cfg.InternalMaxSize), nil, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	firstPageID, err := heapDirectoryEntry(pool, name)
	if err != nil {
		pool.Close()
		return nil, err
	}
	h, err := heap.Open(pool, firstPageID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Table{Name: name, disk: d, pool: pool, tree: tree, heap: h, log: log}, nil
}

func setHeapDirectoryEntry(pool *buffer.Pool, name string, firstPageID int32) error {
	page, err := pool.FetchPage(0)
	if err != nil {
		return err
	}
	page.Latch.Lock()
	err = btree.NewHeaderPage(page).Set(name+heapDirectorySuffix, firstPageID)
	page.Latch.Unlock()
	if uerr := pool.UnpinPage(0, true); err == nil {
		err = uerr
	}
	return err
}

func heapDirectoryEntry(pool *buffer.Pool, name string) (int32, error) {
	page, err := pool.FetchPage(0)
	if err != nil {
		return 0, err
	}
	page.Latch.RLock()
	id, ok := btree.NewHeaderPage(page).Lookup(name + heapDirectorySuffix)
	page.Latch.RUnlock()
	if uerr := pool.UnpinPage(0, false); err == nil {
		err = uerr
	}
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrHeapDirectoryMissing
	}
	return id, nil
}

// Insert appends tuple to the table's heap and adds key to its primary-key
// index pointing at the tuple's RID. Returns false without modifying
// anything if key is already present.
func (t *Table) Insert(key int64, tuple []byte) (bool, error) {
	r, err := t.heap.Insert(tuple)
	if err != nil {
		return false, err
	}
	inserted, err := t.tree.Insert(key, r)
	if err != nil {
		return false, err
	}
	if !inserted {
		t.heap.Delete(r)
		return false, nil
	}
	return true, nil
}

// Get returns the tuple stored under key, if present.
func (t *Table) Get(key int64) ([]byte, bool, error) {
	r, found, err := t.tree.Search(key)
	if err != nil || !found {
		return nil, false, err
	}
	tuple, err := t.heap.Get(r)
	if err != nil {
		return nil, false, err
	}
	return tuple, true, nil
}

// Delete removes key from the index and tombstones its tuple.
func (t *Table) Delete(key int64) error {
	r, found, err := t.tree.Search(key)
	if err != nil || !found {
		return err
	}
	if err := t.tree.Delete(key); err != nil {
		return err
	}
	return t.heap.Delete(r)
}

// RawTuple returns the tuple bytes stored at r, for callers (e.g. a
// sequential scan) that already have a RID from iterating the heap directly
// rather than looking one up through the index.
func (t *Table) RawTuple(r rid.RID) ([]byte, error) {
	return t.heap.Get(r)
}

// Scan returns an iterator over every live tuple in the table's heap, in
// physical (page, slot) order rather than key order.
func (t *Table) Scan() *heap.Iterator {
	return t.heap.NewIterator()
}

// Index returns the table's primary-key B+tree, for callers (e.g. the
// executor package) that need ordered access.
func (t *Table) Index() *btree.Tree { return t.tree }

// RID returns the RID of key's tuple, if present, without fetching the
// tuple bytes.
func (t *Table) RID(key int64) (rid.RID, bool, error) {
	return t.tree.Search(key)
}

// Close flushes and closes the table's buffer pool and underlying file.
func (t *Table) Close() error {
	if err := t.tree.Close(); err != nil {
		t.pool.Close()
		return err
	}
	return t.pool.Close()
}
