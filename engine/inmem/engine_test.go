package inmem

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/engine/retry"
	"github.com/nodeloom/nodeloom/workflow"
)

func register(t *testing.T, eng *Engine, handler engine.Handler) {
	t.Helper()
	require.NoError(t, eng.RegisterFunction(context.Background(), engine.FunctionDefinition{
		Name:      "execute-workflow",
		EventName: engine.EventExecuteWorkflow,
		Handler:   handler,
	}))
}

func TestRegisterFunctionValidation(t *testing.T) {
	eng := New(Options{})
	ctx := context.Background()

	err := eng.RegisterFunction(ctx, engine.FunctionDefinition{EventName: "e", Handler: func(context.Context, engine.Input) (map[string]any, error) { return nil, nil }})
	require.Error(t, err)

	err = eng.RegisterFunction(ctx, engine.FunctionDefinition{Name: "f", EventName: "e"})
	require.Error(t, err)

	ok := engine.FunctionDefinition{Name: "f", EventName: "e", Handler: func(context.Context, engine.Input) (map[string]any, error) { return nil, nil }}
	require.NoError(t, eng.RegisterFunction(ctx, ok))
	require.Error(t, eng.RegisterFunction(ctx, ok), "duplicate registration must fail")
}

func TestTriggerUnknownEvent(t *testing.T) {
	eng := New(Options{})
	_, err := eng.Trigger(context.Background(), engine.TriggerEvent{Name: "nobody/home"})
	require.Error(t, err)
}

func TestTriggerDefaultsToExecuteWorkflow(t *testing.T) {
	eng := New(Options{})
	var got engine.TriggerEvent
	register(t, eng, func(_ context.Context, in engine.Input) (map[string]any, error) {
		got = in.Event
		return map[string]any{"ok": true}, nil
	})

	res, err := eng.Trigger(context.Background(), engine.TriggerEvent{WorkflowID: "wf-1", UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "wf-1", got.WorkflowID)
	require.NotEmpty(t, res.RunID)
	require.Equal(t, map[string]any{"ok": true}, res.Output)
	require.Equal(t, 1, res.Attempts)
}

func TestTriggerRetriesRetriableFailures(t *testing.T) {
	eng := New(Options{})
	calls := 0
	register(t, eng, func(context.Context, engine.Input) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("transient")
		}
		return map[string]any{"done": true}, nil
	})

	res, err := eng.Trigger(context.Background(), engine.TriggerEvent{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 3, eng.Attempts(res.RunID))
}

func TestTriggerStopsOnNonRetriable(t *testing.T) {
	eng := New(Options{})
	register(t, eng, func(context.Context, engine.Input) (map[string]any, error) {
		return nil, workflow.Configf("missing endpoint")
	})

	res, err := eng.Trigger(context.Background(), engine.TriggerEvent{WorkflowID: "wf-1"})
	require.Error(t, err)
	var cfgErr *workflow.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 1, res.Attempts)
}

func TestTriggerCheckpointsSurviveRetries(t *testing.T) {
	eng := New(Options{Retry: retry.Config{MaxAttempts: 3, BackoffMultiplier: 1}})
	stepRuns := 0
	attempts := 0
	register(t, eng, func(ctx context.Context, in engine.Input) (map[string]any, error) {
		attempts++
		out, err := in.Step.Run(ctx, "expensive", func(context.Context) (any, error) {
			stepRuns++
			return "cached", nil
		})
		if err != nil {
			return nil, err
		}
		if attempts < 3 {
			return nil, errors.New("post-step failure")
		}
		return map[string]any{"value": out}, nil
	})

	res, err := eng.Trigger(context.Background(), engine.TriggerEvent{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, 1, stepRuns, "step thunk must run once across retries")
	require.Equal(t, map[string]any{"value": "cached"}, res.Output)
}

func TestDispatchReturnsFinalOutcome(t *testing.T) {
	eng := New(Options{})
	register(t, eng, func(context.Context, engine.Input) (map[string]any, error) {
		return nil, workflow.Configf("bad trigger")
	})
	err := eng.Dispatch(context.Background(), engine.TriggerEvent{WorkflowID: "wf-1"})
	require.Error(t, err)
	require.True(t, workflow.IsNonRetriable(err))
}

func TestCheckpointStoreFirstWriterWins(t *testing.T) {
	store := NewCheckpointStore()
	ctx := context.Background()

	require.NoError(t, store.SaveCheckpoint(ctx, "run-1", "step", []byte(`"first"`)))
	require.NoError(t, store.SaveCheckpoint(ctx, "run-1", "step", []byte(`"second"`)))

	raw, found, err := store.LoadCheckpoint(ctx, "run-1", "step")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte(`"first"`), raw)

	_, found, err = store.LoadCheckpoint(ctx, "run-2", "step")
	require.NoError(t, err)
	require.False(t, found)
}
