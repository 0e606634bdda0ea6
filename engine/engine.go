// Package engine defines the durability transport abstraction the workflow
// runner executes on. It provides pluggable interfaces so the runner can
// target the Pulse-backed queue in production or the in-memory engine in
// tests without modification.
//
// # Core Abstractions
//
//   - Engine: registers runner functions against event names and dispatches
//     trigger events. Delivery is at least once; handlers are re-invoked on
//     retriable failures.
//
//   - Step: the durability primitive handed to handlers. Step.Run executes a
//     thunk at most once per (run, name) pair across process lifetimes and
//     returns the checkpointed value on replay.
//
//   - CheckpointStore: persistence for step results. The Mongo store provides
//     the durable implementation; the in-memory engine ships its own.
//
// # Idempotency Contract
//
// Code outside Step.Run may execute more than once when an event is
// redelivered. Code inside Step.Run executes at most once per step name,
// modulo the window between the thunk returning and the checkpoint being
// recorded; thunks must therefore be idempotent for external effects or rely
// on server-side deduplication.
package engine

import "context"

// EventExecuteWorkflow names the trigger event that starts a workflow
// execution.
const EventExecuteWorkflow = "workflow/execute.workflow"

type (
	// TriggerEvent is the message that initiates a workflow execution.
	TriggerEvent struct {
		// Name is the event name; the transport routes it to the function
		// registered for that name.
		Name string `json:"name"`
		// WorkflowID identifies the workflow to execute. Required.
		WorkflowID string `json:"workflowId"`
		// UserID identifies the caller on whose behalf the workflow runs.
		// The store restricts loads to this owner.
		UserID string `json:"userId,omitempty"`
		// InitialData seeds the execution context. Nil seeds an empty context.
		InitialData map[string]any `json:"initialData,omitempty"`
	}

	// Input carries everything a handler invocation receives from the
	// transport: the trigger event, the stable run identifier, and the step
	// primitive scoped to that run.
	Input struct {
		// Event is the trigger event that started the run.
		Event TriggerEvent
		// RunID identifies the workflow execution. It is assigned when the
		// event is first dispatched and stays stable across redeliveries so
		// step checkpoints survive retries.
		RunID string
		// Step is the durability primitive for this run.
		Step Step
	}

	// Handler is the function the transport invokes for each delivered
	// event. A returned error tagged non-retriable fails the run
	// permanently; any other error is retried per the transport's backoff.
	Handler func(ctx context.Context, in Input) (map[string]any, error)

	// FunctionDefinition binds a handler to a logical name and the event
	// that triggers it.
	FunctionDefinition struct {
		// Name is the logical function identifier (e.g. "execute-workflow").
		Name string
		// EventName is the trigger event the function subscribes to.
		EventName string
		// Handler is invoked once per delivered event.
		Handler Handler
	}

	// Engine abstracts the background-job transport: function registration
	// and event dispatch. Implementations guarantee at-least-once delivery
	// and honor the non-retriable error tagging of the workflow package.
	Engine interface {
		// RegisterFunction registers a handler for the events named by def.
		// Registration is static: all functions are registered at process
		// start, before Dispatch or the consume loop run.
		RegisterFunction(ctx context.Context, def FunctionDefinition) error

		// Dispatch queues a trigger event and returns once it is accepted.
		// It does not await execution.
		Dispatch(ctx context.Context, event TriggerEvent) error
	}

	// Step runs thunks at most once per name within a single workflow
	// execution. The returned value is the checkpointed result decoded from
	// JSON, so callers observe identical shapes on first execution and on
	// replay.
	Step interface {
		// Run executes fn unless a checkpoint named name already exists for
		// the run, in which case the recorded value is returned without
		// invoking fn. Repeated uses of the same name within one run are
		// disambiguated by occurrence order.
		Run(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error)
	}

	// CheckpointStore persists step results keyed by (run, step name).
	// Save must be first-writer-wins so a checkpoint recorded by one attempt
	// is never overwritten by a concurrent duplicate delivery.
	CheckpointStore interface {
		// LoadCheckpoint returns the recorded value for the step, reporting
		// whether one exists.
		LoadCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error)
		// SaveCheckpoint records the value for the step. Recording the same
		// step twice keeps the first value.
		SaveCheckpoint(ctx context.Context, runID, step string, value []byte) error
	}
)
