package executor

import (
	"context"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/stream"
	"github.com/nodeloom/nodeloom/workflow"
)

// ManualTrigger is the workflow entry executor. It passes the context
// through unchanged but checkpoints it, so a restart after the trigger does
// not re-observe the trigger event.
type ManualTrigger struct{}

// Execute implements Executor.
func (ManualTrigger) Execute(ctx context.Context, req Request) (workflow.Context, error) {
	req.emit(ctx, stream.StatusLoading, nil)
	out, err := engine.RunStep(ctx, req.Step, "manual-trigger", func(context.Context) (workflow.Context, error) {
		return req.Context.Clone(), nil
	})
	if err != nil {
		req.emit(ctx, stream.StatusError, err)
		return nil, err
	}
	req.emit(ctx, stream.StatusSuccess, nil)
	return out, nil
}
