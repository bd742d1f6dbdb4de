package deadlock_test

import (
	"testing"

	"dbcore/deadlock"
)

func TestDeadlockGraph(t *testing.T) {
	t.Run("Empty", testGraphEmpty)
	t.Run("OneEdge", testGraphOneEdge)
	t.Run("Simple", testGraphSimple)
	t.Run("DAGSmall", testGraphDAGSmall)
	t.Run("VictimIsLowestIDInCycle", testGraphVictimIsLowestID)
	t.Run("LongerCycle", testGraphLongerCycle)
}

func testGraphEmpty(t *testing.T) {
	g := deadlock.NewGraph(map[int64][]int64{})
	if _, found := g.FindCycle(); found {
		t.Error("cycle detected in empty graph")
	}
}

func testGraphOneEdge(t *testing.T) {
	g := deadlock.NewGraph(map[int64][]int64{1: {2}})
	if _, found := g.FindCycle(); found {
		t.Error("cycle detected in one edge graph")
	}
}

func testGraphSimple(t *testing.T) {
	g := deadlock.NewGraph(map[int64][]int64{
		1: {2},
		2: {1},
	})
	victim, found := g.FindCycle()
	if !found {
		t.Fatal("failed to detect cycle")
	}
	if victim != 1 {
		t.Fatalf("expected victim 1 (lowest id in the cycle), got %d", victim)
	}
}

func testGraphDAGSmall(t *testing.T) {
	g := deadlock.NewGraph(map[int64][]int64{
		1: {2, 3},
		2: {3},
	})
	if _, found := g.FindCycle(); found {
		t.Error("cycle detected in a DAG")
	}
}

// A cycle buried behind an unrelated node (4 waits on 5, but 4 isn't part of
// the cycle itself) should still surface the lowest id actually IN the
// cycle, not the lowest id in the whole graph.
func testGraphVictimIsLowestID(t *testing.T) {
	g := deadlock.NewGraph(map[int64][]int64{
		4: {5},
		5: {6},
		6: {5},
	})
	victim, found := g.FindCycle()
	if !found {
		t.Fatal("expected to find the 5<->6 cycle")
	}
	if victim != 5 {
		t.Fatalf("expected victim 5, got %d", victim)
	}
}

func testGraphLongerCycle(t *testing.T) {
	g := deadlock.NewGraph(map[int64][]int64{
		3: {7},
		7: {9},
		9: {3},
	})
	victim, found := g.FindCycle()
	if !found {
		t.Fatal("failed to detect a 3-node cycle")
	}
	if victim != 3 {
		t.Fatalf("expected victim 3 (lowest in the cycle), got %d", victim)
	}
}
