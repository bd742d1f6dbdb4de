// Package testutil holds the hand-rolled helpers dbcore's package tests
// share, grounded on test/utils/utils.go and test/utils/pair.go: temp
// database files cleaned up automatically, salted random values so tests
// don't hardcode magic numbers, and (new here) directory snapshotting for
// buffer-pool eviction tests, using github.com/otiai10/copy the same way
// pkg/recovery/recovery_manager.go copies a database folder to and from its
// checkpoint directory.
package testutil

import (
	"math/rand"
	"os"
	"testing"

	"github.com/otiai10/copy"
)

// Salt is mixed into test-generated keys/values so tests don't rely on
// literal hardcoded numbers happening to exercise the right code path.
// +1 guards against rand.Int63n returning 0.
var Salt int64 = rand.Int63n(1000) + 1

// TempDBFile creates a randomly named file for a test to use as a database
// backing file, registering its removal via t.Cleanup.
func TempDBFile(t *testing.T) string {
	t.Helper()
	f, err := os.CreateTemp("", "*.db")
	if err != nil {
		t.Fatal(err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(name) })
	return name
}

// TempDBDir creates a randomly named directory for a test catalog,
// registering its removal via t.Cleanup.
func TempDBDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dbcore-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// KeyValuePair is a pair of int64 keys and values, the B+tree's native
// key/value shape once the value is wrapped as a RID-free placeholder.
type KeyValuePair struct {
	Key int64
	Val int64
}

// RandomKeyValuePairs generates n pairs with unique keys, returning both the
// slice (for ordered insertion) and a map (for verifying lookups).
func RandomKeyValuePairs(n int) ([]KeyValuePair, map[int64]int64) {
	pairs := make([]KeyValuePair, 0, n)
	answer := make(map[int64]int64, n)
	for len(pairs) < n {
		key := rand.Int63()
		if _, ok := answer[key]; ok {
			continue
		}
		val := rand.Int63()
		answer[key] = val
		pairs = append(pairs, KeyValuePair{Key: key, Val: val})
	}
	return pairs, answer
}

// SnapshotDir copies src's full contents to a fresh temp directory,
// returning its path, so a test can force buffer-pool eviction and compare
// the backing file against a known-good snapshot taken beforehand.
func SnapshotDir(t *testing.T, src string) string {
	t.Helper()
	dst, err := os.MkdirTemp("", "dbcore-snapshot-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dst) })
	if err := copy.Copy(src, dst); err != nil {
		t.Fatal(err)
	}
	return dst
}
