// Package deadlock implements the wait-for graph and its background cycle
// detector. The graph shape (edges between transactions) is grounded on
// dinodb's pkg/concurrency/deadlock.go WaitsForGraph; the cycle-detection
// algorithm itself — deterministic DFS starting from the lowest unvisited
// transaction id, victim chosen as the lowest id in the discovered cycle —
// is ported from original_source/src/concurrency/lock_manager.cpp's
// HasCycle/dfs, since dinodb's own DetectCycle only checks reachability
// from a single arbitrary edge and doesn't pick a victim at all.
package deadlock

import "sort"

// Graph is a snapshot of the wait-for relation: txnID -> the ids of every
// transaction it is waiting on.
type Graph struct {
	edges map[int64][]int64
}

// NewGraph wraps a snapshot produced by lockmgr.Manager.Snapshot.
func NewGraph(edges map[int64][]int64) *Graph {
	return &Graph{edges: edges}
}

// FindCycle runs a deterministic DFS over the graph: the outer loop always
// starts from the lowest-numbered unvisited transaction, and within a
// transaction's neighbor list, ids are visited in sorted order. If a cycle
// is found, the victim is the lowest transaction id participating in it,
// matching original_source's std::sort(cycle)[0] rule. txn.Manager hands out
// ids in increasing order, so this is the oldest transaction in the cycle.
func (g *Graph) FindCycle() (victim int64, found bool) {
	ids := g.allIDs()
	visited := make(map[int64]bool, len(ids))

	for {
		next, ok := minUnvisited(ids, visited)
		if !ok {
			return 0, false
		}
		inCycle := map[int64]bool{next: true}
		path := []int64{next}
		visited[next] = true
		if v, ok := g.dfs(next, visited, inCycle, path); ok {
			return v, true
		}
	}
}

func (g *Graph) dfs(from int64, visited, inCycle map[int64]bool, path []int64) (int64, bool) {
	neighbors := append([]int64(nil), g.edges[from]...)
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

	for _, to := range neighbors {
		if inCycle[to] {
			// the cycle is the part of the path from to onward; anything
			// before it only leads into the cycle
			start := 0
			for k, id := range path {
				if id == to {
					start = k
					break
				}
			}
			cycle := append([]int64(nil), path[start:]...)
			sort.Slice(cycle, func(i, j int) bool { return cycle[i] < cycle[j] })
			return cycle[0], true
		}
		if !visited[to] {
			visited[to] = true
			inCycle[to] = true
			if v, ok := g.dfs(to, visited, inCycle, append(path, to)); ok {
				return v, true
			}
			delete(inCycle, to)
		}
	}
	return 0, false
}

func (g *Graph) allIDs() []int64 {
	seen := make(map[int64]bool)
	for from, tos := range g.edges {
		seen[from] = true
		for _, to := range tos {
			seen[to] = true
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func minUnvisited(ids []int64, visited map[int64]bool) (int64, bool) {
	for _, id := range ids {
		if !visited[id] {
			return id, true
		}
	}
	return 0, false
}
