// Package executor defines the node-type handler contract and the reference
// executors: manual-trigger (identity with a durability boundary) and
// HTTP-request (outbound call with response capture). The registry maps node
// types to executors; lookup of an unregistered type is a config error.
package executor

import (
	"context"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/stream"
	"github.com/nodeloom/nodeloom/workflow"
)

type (
	// Request carries everything an executor invocation receives: the node's
	// configuration, identifiers for correlation, the read-only input
	// context, the step primitive, and the status sink.
	Request struct {
		// Data is the node-type-specific configuration. Executors own its
		// validation; a decode failure is a ConfigError.
		Data map[string]any
		// NodeID identifies the current node.
		NodeID string
		// WorkflowID identifies the workflow being executed.
		WorkflowID string
		// RunID identifies the workflow execution.
		RunID string
		// Context is the input context. Executors must not mutate it.
		Context workflow.Context
		// Step is the durability primitive scoped to the run.
		Step engine.Step
		// Events receives node-status transitions. Nil means no emission.
		Events stream.Sink
	}

	// Executor handles one node type. Implementations return a fresh context
	// that supersedes the input; they fail by returning an error, which
	// aborts the workflow with retriability decided by the error's tagging.
	Executor interface {
		Execute(ctx context.Context, req Request) (workflow.Context, error)
	}
)

// emit publishes a node-status transition for the request's node.
func (r Request) emit(ctx context.Context, status stream.NodeStatus, execErr error) {
	event := stream.Event{
		RunID:      r.RunID,
		WorkflowID: r.WorkflowID,
		NodeID:     r.NodeID,
		Status:     status,
	}
	if execErr != nil {
		event.Error = execErr.Error()
	}
	stream.Emit(ctx, r.Events, event)
}
