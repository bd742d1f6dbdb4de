package deadlock

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"dbcore/internal/corelog"
	"dbcore/internal/diag"
)

// Source is the lock manager's surface the detector needs: a snapshot of
// the current wait-for relation, and a way to abort whichever transaction
// loses.
type Source interface {
	Snapshot() map[int64][]int64
	Abort(txnID int64)
}

// Detector periodically rebuilds the wait-for graph and aborts the victim
// of any cycle it finds. Its goroutine lifecycle is managed with
// golang.org/x/sync/errgroup — dinodb's go.mod declares this dependency but
// never imports it anywhere, so this is where it gets wired in, standing in
// for original_source's RunCycleDetection background thread.
type Detector struct {
	source   Source
	interval time.Duration
	log      corelog.Logger
	journal  *diag.Journal

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewDetector constructs a detector that polls source every interval.
// journal may be nil, in which case victim selections simply aren't
// recorded anywhere.
func NewDetector(source Source, interval time.Duration, log corelog.Logger, journal *diag.Journal) *Detector {
	if log == nil {
		log = corelog.Noop()
	}
	return &Detector{source: source, interval: interval, log: log, journal: journal}
}

// Start launches the background polling goroutine. Calling Start twice
// without an intervening Stop is a programmer error.
func (d *Detector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	d.group = g
	g.Go(func() error {
		return d.run(ctx)
	})
}

// Stop cancels the background goroutine and waits for it to exit.
func (d *Detector) Stop() error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	return d.group.Wait()
}

func (d *Detector) run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Detector) tick() {
	edges := d.source.Snapshot()
	if len(edges) == 0 {
		return
	}
	graph := NewGraph(edges)
	if victim, found := graph.FindCycle(); found {
		d.log.Warnw("deadlock detected", "victim_txn_id", victim)
		if d.journal != nil {
			d.journal.Append("deadlock", diag.Field("victim_txn_id", victim), diag.Field("cycle_edges", len(edges)))
		}
		d.source.Abort(victim)
	}
}
