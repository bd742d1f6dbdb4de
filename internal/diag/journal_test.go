package diag_test

import (
	"os"
	"strings"
	"testing"

	"dbcore/internal/diag"
)

func TestJournalAppendAndTail(t *testing.T) {
	t.Parallel()
	f, err := os.CreateTemp("", "*.journal")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { _ = os.Remove(path) })

	j, err := diag.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	events := []string{"lock_wait", "deadlock_victim", "page_evicted"}
	for i, event := range events {
		if err := j.Append(event, diag.Field("i", i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	lines, err := diag.TailJournal(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines from TailJournal, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "page_evicted") {
		t.Fatalf("expected the most recent event first, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "deadlock_victim") {
		t.Fatalf("expected the second-most-recent event second, got %q", lines[1])
	}
}

func TestJournalFieldFormatting(t *testing.T) {
	t.Parallel()
	got := diag.Field("txn_id", 7)
	if got != "txn_id=7" {
		t.Fatalf("expected %q, got %q", "txn_id=7", got)
	}
}

func TestJournalTailMoreThanAvailable(t *testing.T) {
	t.Parallel()
	f, err := os.CreateTemp("", "*.journal")
	if err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { _ = os.Remove(path) })

	j, err := diag.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append("only_event"); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	lines, err := diag.TailJournal(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected TailJournal to stop at the single available line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "only_event") {
		t.Fatalf("expected the only line to mention only_event, got %q", lines[0])
	}
}
