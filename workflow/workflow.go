// Package workflow defines the graph model shared by the scheduler, the
// executor runtime, and the persistence layer: workflows, nodes, connections,
// the execution-view edge shape, and the execution context threaded between
// node executors.
//
// The model keeps two views of the same graph. Storage form uses connection
// field names (FromNodeID, ToNodeID, FromOutput, ToInput); execution form
// renames them to edge names (Source, Target, SourceHandle, TargetHandle).
// ExecutionEdges performs the mapping; identity is preserved.
package workflow

import "time"

// NodeType tags a node with the executor responsible for it. The set is
// closed at process start: unknown types fail graph validation with a
// ConfigError before any node runs.
type NodeType string

const (
	// NodeTypeManualTrigger is the workflow entry point invoked by a user
	// action. Outputs only.
	NodeTypeManualTrigger NodeType = "MANUAL_TRIGGER"
	// NodeTypeInitial is the placeholder entry seeded when a workflow is
	// created. Executes identically to NodeTypeManualTrigger.
	NodeTypeInitial NodeType = "INITIAL"
	// NodeTypeHTTPRequest makes one outbound HTTP call and records the
	// response under the "httpResponse" context key.
	NodeTypeHTTPRequest NodeType = "HTTP_REQUEST"
)

// DefaultHandle is the handle name used when a connection does not name its
// source output or target input.
const DefaultHandle = "main"

type (
	// Workflow is a user-owned collection of nodes and connections. Deleting
	// a workflow cascades to its nodes and connections.
	Workflow struct {
		// ID is the stable workflow identifier.
		ID string `json:"id"`
		// Name is the human-readable workflow name.
		Name string `json:"name"`
		// UserID identifies the owning user. Loads and saves are restricted
		// to the owner.
		UserID string `json:"userId"`
		// CreatedAt records when the workflow was created (UTC).
		CreatedAt time.Time `json:"createdAt"`
		// UpdatedAt records the last save (UTC).
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Position is a node's canvas coordinate pair. Opaque to the engine;
	// stored and returned verbatim for the editor.
	Position struct {
		X float64 `json:"x" bson:"x"`
		Y float64 `json:"y" bson:"y"`
	}

	// Node is a vertex in the workflow graph. IDs are generated client-side
	// so offline edits keep stable identifiers, and saves preserve them
	// verbatim through the delete-and-recreate cycle.
	Node struct {
		// ID is the client-supplied node identifier, unique within the process.
		ID string `json:"id"`
		// WorkflowID identifies the parent workflow.
		WorkflowID string `json:"workflowId"`
		// Type selects the executor. Must be a registered NodeType.
		Type NodeType `json:"type"`
		// Name is the display name; defaults to the type when not provided.
		Name string `json:"name"`
		// Position is the canvas position, opaque to the engine.
		Position Position `json:"position"`
		// Data holds node-type-specific configuration. The shape is the
		// executor's responsibility and is validated at execution time, not
		// at save time.
		Data map[string]any `json:"data"`
		// CreatedAt records when the node row was written (UTC).
		CreatedAt time.Time `json:"createdAt"`
		// UpdatedAt records the last write (UTC).
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Connection is a directed edge in storage form. Both endpoints must
	// reference nodes in the same workflow, and the tuple
	// (FromNodeID, ToNodeID, FromOutput, ToInput) is unique.
	Connection struct {
		// ID is the stable connection identifier.
		ID string `json:"id"`
		// WorkflowID identifies the parent workflow.
		WorkflowID string `json:"workflowId"`
		// FromNodeID is the source node.
		FromNodeID string `json:"fromNodeId"`
		// ToNodeID is the target node.
		ToNodeID string `json:"toNodeId"`
		// FromOutput names the source output handle. Defaults to "main".
		FromOutput string `json:"fromOutput"`
		// ToInput names the target input handle. Defaults to "main".
		ToInput string `json:"toInput"`
		// CreatedAt records when the connection row was written (UTC).
		CreatedAt time.Time `json:"createdAt"`
		// UpdatedAt records the last write (UTC).
		UpdatedAt time.Time `json:"updatedAt"`
	}

	// Edge is a directed edge in execution form, derived from a Connection
	// by field renaming.
	Edge struct {
		// Source is the source node identifier.
		Source string `json:"source"`
		// Target is the target node identifier.
		Target string `json:"target"`
		// SourceHandle names the source output handle.
		SourceHandle string `json:"sourceHandle"`
		// TargetHandle names the target input handle.
		TargetHandle string `json:"targetHandle"`
	}

	// Graph is the full workflow graph loaded for execution: the workflow
	// record plus its node and connection sets. Callers treat it as an
	// immutable snapshot; the runner reads once at the top of an execution
	// and never re-reads.
	Graph struct {
		Workflow    Workflow     `json:"workflow"`
		Nodes       []Node       `json:"nodes"`
		Connections []Connection `json:"connections"`
	}
)

// Valid reports whether t belongs to the node type enumeration.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeManualTrigger, NodeTypeInitial, NodeTypeHTTPRequest:
		return true
	}
	return false
}
