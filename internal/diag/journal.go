// Package diag implements the diagnostic operation journal: an append-only,
// human-readable log of eviction, abort, and deadlock-victim events,
// queryable backwards for debugging. It is never replayed — WAL/recovery is
// a Non-goal — so it only needs to grow forward and read backward, unlike
// the teacher's pkg/recovery which parses its log back into structs for
// undo. Grounded on pkg/recovery/log.go's bracketed log-line format
// (`< ... >`) and github.com/icza/backscanner for the backward scan
// pkg/recovery/recovery_manager.go performs over that same log file.
package diag

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/icza/backscanner"
)

// Journal is an append-only text log, one line per event, opened for
// appending for the lifetime of the process.
type Journal struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the journal file at path for
// appending.
func Open(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Journal{file: f}, nil
}

// Append writes one event line, formatted the way pkg/recovery/log.go
// formats its bracketed logs: `< timestamp, event, k=v, k=v... >`, the
// timestamp being the UTC time of the call in RFC 3339 form. Fields are
// formatted in the order given, not sorted, so callers control readability.
func (j *Journal) Append(event string, fields ...string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var b strings.Builder
	b.WriteString("< ")
	b.WriteString(time.Now().UTC().Format(time.RFC3339Nano))
	b.WriteString(", ")
	b.WriteString(event)
	for _, f := range fields {
		b.WriteString(", ")
		b.WriteString(f)
	}
	b.WriteString(" >\n")
	_, err := j.file.WriteString(b.String())
	return err
}

// Field formats a key=value pair for Append's variadic fields.
func Field(key string, value interface{}) string {
	return fmt.Sprintf("%s=%v", key, value)
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// TailJournal returns the last n lines of the journal at path, most recent
// first, using backscanner to read the file backward without loading it
// entirely into memory — the same backward-access pattern
// pkg/recovery/recovery_manager.go needs when undoing a log forward-written
// but read in reverse.
func TailJournal(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	scanner := backscanner.New(f, int(info.Size()))
	lines := make([]string, 0, n)
	first := true
	for len(lines) < n {
		line, _, err := scanner.Line()
		if err != nil {
			break
		}
		// every event line ends in '\n', so the first line read backward is
		// the empty text after the final newline, not an event
		if first && line == "" {
			first = false
			continue
		}
		first = false
		lines = append(lines, line)
	}
	return lines, nil
}
