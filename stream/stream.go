// Package stream defines the node-status events executors emit while a
// workflow runs: loading when a node starts, success or error when it
// finishes. Sinks deliver the events to the UI channel; the runner defaults
// to a no-op sink when no channel is configured.
package stream

import (
	"context"
	"time"

	"goa.design/clue/log"
)

// NodeStatus is the lifecycle state of a node within one execution.
type NodeStatus string

const (
	// StatusLoading is emitted before a node's principal step runs.
	StatusLoading NodeStatus = "loading"
	// StatusSuccess is emitted after the principal step returns a context.
	StatusSuccess NodeStatus = "success"
	// StatusError is emitted after the principal step fails.
	StatusError NodeStatus = "error"
)

type (
	// Event is a single node-status transition.
	Event struct {
		// RunID identifies the workflow execution.
		RunID string `json:"runId"`
		// WorkflowID identifies the workflow.
		WorkflowID string `json:"workflowId"`
		// NodeID identifies the node whose status changed.
		NodeID string `json:"nodeId"`
		// Status is the new node status.
		Status NodeStatus `json:"status"`
		// Error carries the failure message when Status is StatusError.
		Error string `json:"error,omitempty"`
		// Timestamp records when the transition occurred (UTC).
		Timestamp time.Time `json:"timestamp"`
	}

	// Sink delivers node-status events. Implementations must be safe for
	// concurrent Send calls.
	Sink interface {
		Send(ctx context.Context, event Event) error
	}

	// NoopSink drops every event. Used when no status channel is configured.
	NoopSink struct{}
)

// Send implements Sink.
func (NoopSink) Send(context.Context, Event) error { return nil }

// Emit sends the event and logs delivery failures instead of propagating
// them: a broken status channel must not fail the workflow.
func Emit(ctx context.Context, sink Sink, event Event) {
	if sink == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := sink.Send(ctx, event); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "emit node status"}, log.KV{K: "node_id", V: event.NodeID}, log.KV{K: "run_id", V: event.RunID})
	}
}
