// Package execution implements the one executor spec §6 names: a pull-based
// sequential scan over a table's heap. Grounded on
// original_source/src/execution/seq_scan_executor.cpp's Init()/Next() shape
// (table iterator + optional predicate + projection), simplified to dbcore's
// untyped []byte tuples since a full expression/schema evaluator is out of
// scope (spec §1's "query executors beyond sequential scan" Non-goal).
package execution

import (
	"dbcore/catalog"
	"dbcore/internal/heap"
	"dbcore/rid"
)

// Predicate filters tuples during a scan; a nil Predicate accepts everything,
// matching seq_scan_executor.cpp's `predicate != nullptr` check.
type Predicate func(tuple []byte) bool

// Projection maps a tuple to its output form; a nil Projection is the
// identity, matching the C++ "if there is no predicate, do projection
// directly on tuple" fallback (here: no output schema means pass the raw
// tuple through).
type Projection func(tuple []byte) []byte

// SeqScanExecutor walks a table's heap tuple by tuple, applying an optional
// predicate and an optional projection before returning each surviving
// tuple, exactly as SeqScanExecutor::Next's filter-then-project loop.
type SeqScanExecutor struct {
	table      *catalog.Table
	predicate  Predicate
	projection Projection

	iter *heap.Iterator
}

// NewSeqScanExecutor constructs an executor over table. predicate and
// projection may be nil.
func NewSeqScanExecutor(table *catalog.Table, predicate Predicate, projection Projection) *SeqScanExecutor {
	return &SeqScanExecutor{table: table, predicate: predicate, projection: projection}
}

// Init positions the executor at the table's first tuple. Must be called
// before the first Next, and may be called again to restart the scan.
func (e *SeqScanExecutor) Init() {
	e.iter = e.table.Scan()
}

// Next returns the next tuple passing the predicate, projected through
// Projection, along with its RID. Returns ok=false once the heap is
// exhausted.
func (e *SeqScanExecutor) Next() (tuple []byte, r rid.RID, ok bool, err error) {
	for {
		next, found, ierr := e.iter.Next()
		if ierr != nil {
			return nil, rid.RID{}, false, ierr
		}
		if !found {
			return nil, rid.RID{}, false, nil
		}
		raw, gerr := e.table.RawTuple(next)
		if gerr != nil {
			return nil, rid.RID{}, false, gerr
		}
		if e.predicate != nil && !e.predicate(raw) {
			continue
		}
		if e.projection != nil {
			raw = e.projection(raw)
		}
		return raw, next, true, nil
	}
}
