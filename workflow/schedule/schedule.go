// Package schedule computes the order in which workflow nodes execute. It
// linearizes the connection graph so every edge points forward, refuses
// cyclic graphs before any node runs, and keeps nodes that appear in no
// connection in the output.
package schedule

import "github.com/nodeloom/nodeloom/workflow"

// Sort returns the input nodes in an order where, for every connection from
// u to v, u appears before v. The output is a permutation of the input: each
// node exactly once, no phantoms. Nodes without any connection are included
// at their natural ready point. When the connection set is empty the input
// order is returned unchanged.
//
// Ties among nodes with no mutual dependency break in input order (FIFO
// ready queue); callers must not rely on a specific order for unconstrained
// pairs.
//
// Returns a *workflow.CycleError when the connection graph contains a cycle.
func Sort(nodes []workflow.Node, connections []workflow.Connection) ([]workflow.Node, error) {
	// Fast path: nothing constrains the order.
	if len(connections) == 0 {
		out := make([]workflow.Node, len(nodes))
		copy(out, nodes)
		return out, nil
	}

	byID := make(map[string]workflow.Node, len(nodes))
	ids := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if _, dup := byID[node.ID]; dup {
			continue
		}
		byID[node.ID] = node
		ids = append(ids, node.ID)
	}

	indegree := make(map[string]int, len(ids))
	successors := make(map[string][]string, len(ids))
	for _, id := range ids {
		indegree[id] = 0
	}
	for _, edge := range workflow.ExecutionEdges(connections) {
		// Edges referencing nodes outside the input are discarded; graph
		// validation reports them before scheduling on valid input.
		if _, ok := byID[edge.Source]; !ok {
			continue
		}
		if _, ok := byID[edge.Target]; !ok {
			continue
		}
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
		indegree[edge.Target]++
	}

	// Kahn's algorithm with a FIFO ready queue seeded in input order. Nodes
	// with no connections have in-degree zero and enter the queue up front,
	// which also covers the isolated-node requirement.
	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]workflow.Node, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, byID[id])
		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(ids) {
		remaining := make([]string, 0, len(ids)-len(sorted))
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				remaining = append(remaining, id)
			}
		}
		return nil, &workflow.CycleError{Remaining: remaining}
	}
	return sorted, nil
}
