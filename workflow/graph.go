package workflow

// ExecutionEdges derives the execution-view edge list from the storage-form
// connections: FromNodeID becomes Source, ToNodeID becomes Target, FromOutput
// becomes SourceHandle and ToInput becomes TargetHandle. Empty handle names
// default to "main".
func ExecutionEdges(connections []Connection) []Edge {
	edges := make([]Edge, len(connections))
	for i, conn := range connections {
		edges[i] = Edge{
			Source:       conn.FromNodeID,
			Target:       conn.ToNodeID,
			SourceHandle: handleOrDefault(conn.FromOutput),
			TargetHandle: handleOrDefault(conn.ToInput),
		}
	}
	return edges
}

// ExecutionEdges returns the graph's connections in execution form.
func (g Graph) ExecutionEdges() []Edge {
	return ExecutionEdges(g.Connections)
}

// Validate checks the shape invariants enforced on load: every node type
// belongs to the enumeration and every connection references nodes present
// in the workflow. Violations are ConfigErrors and fail the execution before
// any node runs.
func (g Graph) Validate() error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, node := range g.Nodes {
		if !node.Type.Valid() {
			return Configf("node %q has unknown type %q", node.ID, node.Type)
		}
		ids[node.ID] = struct{}{}
	}
	for _, conn := range g.Connections {
		if _, ok := ids[conn.FromNodeID]; !ok {
			return Configf("connection %q references unknown source node %q", conn.ID, conn.FromNodeID)
		}
		if _, ok := ids[conn.ToNodeID]; !ok {
			return Configf("connection %q references unknown target node %q", conn.ID, conn.ToNodeID)
		}
	}
	return nil
}

func handleOrDefault(handle string) string {
	if handle == "" {
		return DefaultHandle
	}
	return handle
}
