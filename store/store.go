// Package store defines the persistence contract for workflows and their
// graphs: load-with-graph for execution, transactional replace-save for the
// editor, and the lifecycle operations (create with a seeded entry node,
// delete with cascade).
package store

import (
	"context"

	"github.com/nodeloom/nodeloom/workflow"
)

type (
	// NewWorkflow describes a workflow to create.
	NewWorkflow struct {
		// Name is the human-readable workflow name. Defaults to
		// "New Workflow".
		Name string
		// UserID is the owning user. Required.
		UserID string
	}

	// SaveNode is a node as submitted by the editor. IDs are client-supplied
	// and preserved verbatim.
	SaveNode struct {
		ID       string            `json:"id"`
		Type     workflow.NodeType `json:"type"`
		Name     string            `json:"name,omitempty"`
		Position workflow.Position `json:"position"`
		Data     map[string]any    `json:"data"`
	}

	// SaveEdge is an edge as submitted by the editor, in execution form.
	// Empty handles default to "main" on save.
	SaveEdge struct {
		Source       string `json:"source"`
		Target       string `json:"target"`
		SourceHandle string `json:"sourceHandle,omitempty"`
		TargetHandle string `json:"targetHandle,omitempty"`
	}

	// SaveGraphInput is the full replacement payload for a workflow's graph.
	SaveGraphInput struct {
		WorkflowID string     `json:"id"`
		Nodes      []SaveNode `json:"nodes"`
		Edges      []SaveEdge `json:"edges"`
	}

	// Store is the persistence adapter. Load and execute paths report
	// missing or foreign workflows as NotFoundError; SaveGraph reports a
	// foreign workflow as NotAuthorizedError. Failed operations perform no
	// writes.
	Store interface {
		// Create persists a new workflow seeded with one INITIAL node at
		// position (0,0) and returns the workflow record.
		Create(ctx context.Context, in NewWorkflow) (workflow.Workflow, error)

		// Get returns the workflow record restricted to the owning user.
		Get(ctx context.Context, userID, workflowID string) (workflow.Workflow, error)

		// List returns the workflows owned by the user.
		List(ctx context.Context, userID string) ([]workflow.Workflow, error)

		// LoadGraph fetches the workflow with its full node and connection
		// sets, restricted to the owning user.
		LoadGraph(ctx context.Context, userID, workflowID string) (workflow.Graph, error)

		// SaveGraph atomically replaces the workflow's node and connection
		// sets with the submitted ones and bumps the update timestamp. Node
		// identifiers are preserved as submitted; edge handles default to
		// "main".
		SaveGraph(ctx context.Context, userID string, in SaveGraphInput) (workflow.Workflow, error)

		// Delete removes the workflow, cascading to its nodes and
		// connections.
		Delete(ctx context.Context, userID, workflowID string) error
	}
)
