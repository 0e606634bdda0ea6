// Package inmem provides an in-memory implementation of the workflow
// transport for testing and development. Events execute synchronously in the
// caller's goroutine; there is no durability beyond the in-process
// checkpoint store, and no workers.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/engine/retry"
)

type (
	// Options configures the in-memory engine.
	Options struct {
		// Checkpoints stores step results. Defaults to an in-process store.
		Checkpoints engine.CheckpointStore
		// Retry controls how retriable handler failures are replayed.
		// Defaults to three attempts with negligible backoff so tests run
		// fast.
		Retry retry.Config
	}

	// Engine is a synchronous in-memory transport. It honors the
	// at-least-once contract by re-invoking handlers on retriable failures
	// and keeps per-run attempt counts so tests can assert retry behavior.
	Engine struct {
		checkpoints engine.CheckpointStore
		retry       retry.Config

		mu        sync.RWMutex
		functions map[string]engine.FunctionDefinition
		attempts  map[string]int
	}

	// Result reports the outcome of a synchronous trigger.
	Result struct {
		// RunID is the execution identifier assigned at dispatch.
		RunID string
		// Output is the handler's return value.
		Output map[string]any
		// Attempts is the number of handler invocations made for the run.
		Attempts int
	}
)

// New returns an in-memory Engine. Suitable for unit tests and local
// single-process runs; not for production workloads.
func New(opts Options) *Engine {
	checkpoints := opts.Checkpoints
	if checkpoints == nil {
		checkpoints = NewCheckpointStore()
	}
	cfg := opts.Retry
	if cfg.MaxAttempts <= 0 {
		cfg = retry.Config{MaxAttempts: 3, BackoffMultiplier: 1}
	}
	return &Engine{
		checkpoints: checkpoints,
		retry:       cfg,
		functions:   make(map[string]engine.FunctionDefinition),
		attempts:    make(map[string]int),
	}
}

// RegisterFunction registers a handler for the events named by def.
func (e *Engine) RegisterFunction(_ context.Context, def engine.FunctionDefinition) error {
	if def.Name == "" || def.EventName == "" {
		return errors.New("function name and event name are required")
	}
	if def.Handler == nil {
		return errors.New("function handler is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.functions[def.EventName]; dup {
		return fmt.Errorf("function for event %q already registered", def.EventName)
	}
	e.functions[def.EventName] = def
	return nil
}

// Dispatch executes the event's handler inline and discards the output.
// The error reflects the final outcome after retries, which synchronous
// execution makes observable to the dispatcher.
func (e *Engine) Dispatch(ctx context.Context, event engine.TriggerEvent) error {
	_, err := e.Trigger(ctx, event)
	return err
}

// Trigger executes the event's handler inline and returns the final result,
// including how many attempts the run took. Tests use it to assert retry
// accounting and handler output.
func (e *Engine) Trigger(ctx context.Context, event engine.TriggerEvent) (*Result, error) {
	name := event.Name
	if name == "" {
		name = engine.EventExecuteWorkflow
	}
	e.mu.RLock()
	def, ok := e.functions[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no function registered for event %q", name)
	}

	runID := uuid.NewString()

	var output map[string]any
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		e.mu.Lock()
		e.attempts[runID]++
		e.mu.Unlock()
		// Each attempt gets a fresh step so occurrence counters restart and
		// replayed steps resolve to the checkpoints of earlier attempts.
		step := engine.NewStep(runID, e.checkpoints)
		out, err := def.Handler(ctx, engine.Input{Event: event, RunID: runID, Step: step})
		if err != nil {
			return err
		}
		output = out
		return nil
	})
	result := &Result{RunID: runID, Output: output, Attempts: e.Attempts(runID)}
	if err != nil {
		return result, err
	}
	return result, nil
}

// Attempts returns the number of handler invocations recorded for the run.
func (e *Engine) Attempts(runID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attempts[runID]
}

// CheckpointStore is an in-process engine.CheckpointStore. First writer wins
// on duplicate saves, matching the durable store contract.
type CheckpointStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewCheckpointStore returns an empty in-process checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{values: make(map[string][]byte)}
}

// LoadCheckpoint implements engine.CheckpointStore.
func (s *CheckpointStore) LoadCheckpoint(_ context.Context, runID, step string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[checkpointKey(runID, step)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, true, nil
}

// SaveCheckpoint implements engine.CheckpointStore.
func (s *CheckpointStore) SaveCheckpoint(_ context.Context, runID, step string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := checkpointKey(runID, step)
	if _, exists := s.values[key]; exists {
		return nil
	}
	raw := make([]byte, len(value))
	copy(raw, value)
	s.values[key] = raw
	return nil
}

func checkpointKey(runID, step string) string {
	return runID + "\x00" + step
}
