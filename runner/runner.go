// Package runner orchestrates workflow executions: it loads the graph,
// computes the topological order, and drives each node's executor in turn,
// threading the execution context from one node to the next. The runner is
// the only component that talks to the durability transport.
package runner

import (
	"context"
	"errors"
	"fmt"

	"goa.design/clue/log"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/executor"
	"github.com/nodeloom/nodeloom/store"
	"github.com/nodeloom/nodeloom/stream"
	"github.com/nodeloom/nodeloom/workflow"
	"github.com/nodeloom/nodeloom/workflow/schedule"
)

// FunctionName is the logical name the runner registers under.
const FunctionName = "execute-workflow"

type (
	// Options configures the runner.
	Options struct {
		// Store loads workflow graphs. Required.
		Store store.Store
		// Registry resolves node types to executors. Required.
		Registry *executor.Registry
		// Events receives node-status transitions. Defaults to a no-op sink.
		Events stream.Sink
	}

	// Runner executes workflows in response to trigger events. Multiple
	// executions may run concurrently; each holds its own context value and
	// shares nothing in memory.
	Runner struct {
		store    store.Store
		registry *executor.Registry
		events   stream.Sink
	}

	// preparedWorkflow is the checkpointed result of the prepare step: the
	// nodes already in execution order. Load and sort are not redone on
	// resume.
	preparedWorkflow struct {
		WorkflowID string          `json:"workflowId"`
		Nodes      []workflow.Node `json:"nodes"`
	}
)

// New builds a Runner from options.
func New(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	events := opts.Events
	if events == nil {
		events = stream.NoopSink{}
	}
	return &Runner{
		store:    opts.Store,
		registry: opts.Registry,
		events:   events,
	}, nil
}

// Register binds the runner to the transport's execute-workflow event.
func (r *Runner) Register(ctx context.Context, eng engine.Engine) error {
	return eng.RegisterFunction(ctx, engine.FunctionDefinition{
		Name:      FunctionName,
		EventName: engine.EventExecuteWorkflow,
		Handler:   r.Handle,
	})
}

// Handle executes one workflow run. It validates the trigger, prepares the
// graph inside a checkpointed step, then invokes each node's executor in
// topological order, taking every returned context as the input to the next
// node. Executor failures abort the run; the transport decides on retry per
// the error's tagging.
func (r *Runner) Handle(ctx context.Context, in engine.Input) (map[string]any, error) {
	if in.Event.WorkflowID == "" {
		return nil, workflow.Configf("trigger event is missing the workflow id")
	}

	prepared, err := engine.RunStep(ctx, in.Step, "prepare-workflow", func(ctx context.Context) (preparedWorkflow, error) {
		return r.prepare(ctx, in.Event)
	})
	if err != nil {
		return nil, err
	}

	execCtx := workflow.Context(in.Event.InitialData)
	if execCtx == nil {
		execCtx = workflow.Context{}
	}

	log.Info(ctx, log.KV{K: "msg", V: "executing workflow"}, log.KV{K: "workflow_id", V: prepared.WorkflowID}, log.KV{K: "run_id", V: in.RunID}, log.KV{K: "nodes", V: len(prepared.Nodes)})
	for _, node := range prepared.Nodes {
		ex, err := r.registry.Lookup(node.Type)
		if err != nil {
			return nil, err
		}
		out, err := ex.Execute(ctx, executor.Request{
			Data:       node.Data,
			NodeID:     node.ID,
			WorkflowID: prepared.WorkflowID,
			RunID:      in.RunID,
			Context:    execCtx,
			Step:       in.Step,
			Events:     r.events,
		})
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", node.ID, err)
		}
		execCtx = out
	}

	return map[string]any{
		"workflowId": prepared.WorkflowID,
		"context":    execCtx,
	}, nil
}

// prepare loads the graph, validates its shape, and computes the execution
// order. It runs inside the prepare-workflow step so a resumed run reuses
// the recorded snapshot instead of re-reading the database.
func (r *Runner) prepare(ctx context.Context, event engine.TriggerEvent) (preparedWorkflow, error) {
	graph, err := r.store.LoadGraph(ctx, event.UserID, event.WorkflowID)
	if err != nil {
		return preparedWorkflow{}, err
	}
	if err := graph.Validate(); err != nil {
		return preparedWorkflow{}, err
	}
	ordered, err := schedule.Sort(graph.Nodes, graph.Connections)
	if err != nil {
		return preparedWorkflow{}, err
	}
	return preparedWorkflow{WorkflowID: graph.Workflow.ID, Nodes: ordered}, nil
}
