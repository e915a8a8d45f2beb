// Package graph holds the cycle-detection logic for task dependency edges.
// The functions are pure: the store materializes an adjacency view inside
// the transaction that writes the edges and calls Validate there, so two
// concurrent writers cannot jointly close a cycle.
package graph

import "github.com/0neda/trackify/internal/apperr"

// Adjacency maps a task id to the ids of the tasks it depends on.
type Adjacency map[int64][]int64

// WouldCreateCycle reports whether adding the edge taskID -> dependsOnID
// would create a cycle, i.e. whether taskID is already reachable from
// dependsOnID. The traversal is an iterative depth-first search with a
// per-call visited set, so it terminates even on a graph that is somehow
// already cyclic.
func WouldCreateCycle(adj Adjacency, taskID, dependsOnID int64) bool {
	if taskID == dependsOnID {
		return true
	}
	visited := make(map[int64]struct{})
	stack := []int64{dependsOnID}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == taskID {
			return true
		}
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}
		stack = append(stack, adj[n]...)
	}
	return false
}

// Validate checks every candidate edge taskID -> id against the existing
// graph. Self-dependencies are rejected before any traversal. If any
// candidate would create a cycle the whole set is rejected; on success the
// returned slice is the deduplicated list of ids to insert.
func Validate(adj Adjacency, taskID int64, dependsOnIDs []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(dependsOnIDs))
	ids := make([]int64, 0, len(dependsOnIDs))
	for _, id := range dependsOnIDs {
		if id == taskID {
			return nil, apperr.Validationf("task %d cannot depend on itself", taskID)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if WouldCreateCycle(adj, taskID, id) {
			return nil, apperr.Validationf("dependency %d -> %d would create a cycle", taskID, id)
		}
		// Extend the view so later candidates see the edges accepted so far.
		adj[taskID] = append(adj[taskID], id)
	}
	return ids, nil
}
