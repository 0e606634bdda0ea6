package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DurableStep implements Step on top of a CheckpointStore. One instance is
// created per handler invocation; the occurrence counters it keeps assume
// the handler replays steps in a deterministic order, which holds because
// execution within a run is strictly sequential.
type DurableStep struct {
	runID string
	store CheckpointStore

	mu   sync.Mutex
	seen map[string]int
}

// NewStep returns a Step scoped to the given run, checkpointing through
// store.
func NewStep(runID string, store CheckpointStore) *DurableStep {
	return &DurableStep{
		runID: runID,
		store: store,
		seen:  make(map[string]int),
	}
}

// Run implements Step. The thunk's result is round-tripped through JSON both
// on first execution and on replay so callers observe the same value shape
// either way.
func (s *DurableStep) Run(ctx context.Context, name string, fn func(context.Context) (any, error)) (any, error) {
	if name == "" {
		return nil, fmt.Errorf("step name is required")
	}
	key := s.nextKey(name)

	raw, found, err := s.store.LoadCheckpoint(ctx, s.runID, key)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %q: %w", key, err)
	}
	if found {
		return decodeCheckpoint(key, raw)
	}

	value, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	raw, err = json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint %q: %w", key, err)
	}
	if err := s.store.SaveCheckpoint(ctx, s.runID, key, raw); err != nil {
		return nil, fmt.Errorf("save checkpoint %q: %w", key, err)
	}
	return decodeCheckpoint(key, raw)
}

// nextKey disambiguates repeated step names within one invocation by
// occurrence index: the first use of "http-request" maps to "http-request",
// the second to "http-request:1", and so on. Sequential execution makes the
// numbering stable across replays.
func (s *DurableStep) nextKey(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seen[name]
	s.seen[name] = n + 1
	if n == 0 {
		return name
	}
	return fmt.Sprintf("%s:%d", name, n)
}

func decodeCheckpoint(key string, raw []byte) (any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode checkpoint %q: %w", key, err)
	}
	return value, nil
}

// RunStep executes the step and decodes its result into T. It exists so
// callers get typed results out of the JSON-shaped values Step.Run returns.
func RunStep[T any](ctx context.Context, step Step, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	value, err := step.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return zero, fmt.Errorf("encode step %q result: %w", name, err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("decode step %q result: %w", name, err)
	}
	return out, nil
}
