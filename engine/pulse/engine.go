// Package pulse implements the workflow transport on goa.design/pulse
// streams backed by Redis. Trigger events are published to a stream and
// consumed through a consumer group, which gives at-least-once delivery:
// events that fail retriably stay unacknowledged and are redelivered, while
// step checkpoints keep replays from re-running completed work.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	clientspulse "github.com/nodeloom/nodeloom/clients/pulse"
	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/engine/retry"
)

const (
	// defaultStream is the Pulse stream trigger events are published to.
	defaultStream = "workflow/events"
	// defaultSinkName identifies the worker consumer group.
	defaultSinkName = "workflow-runners"
)

type (
	// Options configures the Pulse engine.
	Options struct {
		// Client is the Pulse client used to publish and consume events.
		// Required.
		Client clientspulse.Client
		// Checkpoints stores step results durably. Required.
		Checkpoints engine.CheckpointStore
		// Stream names the trigger-event stream. Defaults to
		// "workflow/events".
		Stream string
		// SinkName identifies the consumer group. Defaults to
		// "workflow-runners".
		SinkName string
		// Retry controls in-process retries of retriable handler failures
		// before an event is left for redelivery. Defaults to
		// retry.DefaultConfig.
		Retry retry.Config
	}

	// Engine is the Pulse-backed transport. Dispatch publishes trigger
	// events and returns once queued; Run consumes them and invokes the
	// registered functions with durable steps.
	Engine struct {
		client      clientspulse.Client
		checkpoints engine.CheckpointStore
		streamName  string
		sinkName    string
		retry       retry.Config

		mu        sync.RWMutex
		functions map[string]engine.FunctionDefinition
	}

	// envelope is the wire form of a trigger event. The run ID is assigned
	// at dispatch so redeliveries of the same entry replay the same run and
	// find its checkpoints.
	envelope struct {
		Name        string         `json:"name"`
		RunID       string         `json:"run_id"`
		WorkflowID  string         `json:"workflow_id"`
		UserID      string         `json:"user_id,omitempty"`
		InitialData map[string]any `json:"initial_data,omitempty"`
		QueuedAt    time.Time      `json:"queued_at"`
	}
)

// New constructs a Pulse engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	if opts.Checkpoints == nil {
		return nil, errors.New("checkpoint store is required")
	}
	streamName := opts.Stream
	if streamName == "" {
		streamName = defaultStream
	}
	sinkName := opts.SinkName
	if sinkName == "" {
		sinkName = defaultSinkName
	}
	cfg := opts.Retry
	if cfg.MaxAttempts <= 0 {
		cfg = retry.DefaultConfig()
	}
	return &Engine{
		client:      opts.Client,
		checkpoints: opts.Checkpoints,
		streamName:  streamName,
		sinkName:    sinkName,
		retry:       cfg,
		functions:   make(map[string]engine.FunctionDefinition),
	}, nil
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

// Dispatch publishes the trigger event and returns once it is queued. It
// does not await execution.
func (e *Engine) Dispatch(ctx context.Context, event engine.TriggerEvent) error {
	name := event.Name
	if name == "" {
		name = engine.EventExecuteWorkflow
	}
	env := envelope{
		Name:        name,
		RunID:       uuid.NewString(),
		WorkflowID:  event.WorkflowID,
		UserID:      event.UserID,
		InitialData: event.InitialData,
		QueuedAt:    time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode trigger event: %w", err)
	}
	str, err := e.client.Stream(e.streamName)
	if err != nil {
		return err
	}
	entryID, err := str.Add(ctx, env.Name, payload)
	if err != nil {
		return err
	}
	log.Debug(ctx, log.KV{K: "msg", V: "queued trigger event"}, log.KV{K: "run_id", V: env.RunID}, log.KV{K: "workflow_id", V: env.WorkflowID}, log.KV{K: "entry_id", V: entryID})
	return nil
}

// Run consumes trigger events until ctx is canceled. Each event is handled
// with in-process retries for retriable failures; events that still fail
// retriably are left unacknowledged for redelivery, while non-retriable
// failures are acknowledged and dropped after logging.
func (e *Engine) Run(ctx context.Context) error {
	str, err := e.client.Stream(e.streamName)
	if err != nil {
		return err
	}
	sink, err := str.NewSink(ctx, e.sinkName)
	if err != nil {
		return err
	}
	defer sink.Close(context.Background())

	log.Info(ctx, log.KV{K: "msg", V: "worker consuming"}, log.KV{K: "stream", V: e.streamName}, log.KV{K: "sink", V: e.sinkName})
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			if e.handle(ctx, evt.Payload) {
				if err := sink.Ack(ctx, evt); err != nil {
					log.Error(ctx, err, log.KV{K: "msg", V: "ack trigger event"})
				}
			}
		}
	}
}

// handle processes one delivered payload and reports whether the event
// should be acknowledged.
func (e *Engine) handle(ctx context.Context, payload []byte) bool {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "decode trigger event"})
		return true // malformed events cannot succeed later
	}
	e.mu.RLock()
	def, ok := e.functions[env.Name]
	e.mu.RUnlock()
	if !ok {
		log.Error(ctx, fmt.Errorf("no function registered for event %q", env.Name), log.KV{K: "msg", V: "route trigger event"})
		return true
	}

	event := engine.TriggerEvent{
		Name:        env.Name,
		WorkflowID:  env.WorkflowID,
		UserID:      env.UserID,
		InitialData: env.InitialData,
	}
	err := retry.Do(ctx, e.retry, func(ctx context.Context) error {
		// Each attempt gets a fresh step so occurrence counters restart and
		// replayed steps resolve to the checkpoints of earlier attempts.
		in := engine.Input{
			Event: event,
			RunID: env.RunID,
			Step:  engine.NewStep(env.RunID, e.checkpoints),
		}
		_, err := def.Handler(ctx, in)
		return err
	})
	switch {
	case err == nil:
		log.Info(ctx, log.KV{K: "msg", V: "run completed"}, log.KV{K: "run_id", V: env.RunID}, log.KV{K: "workflow_id", V: env.WorkflowID})
		return true
	case retry.Retriable(err):
		// Leave unacknowledged; the consumer group redelivers and the step
		// checkpoints keep completed work from re-running.
		log.Error(ctx, err, log.KV{K: "msg", V: "run failed, leaving for redelivery"}, log.KV{K: "run_id", V: env.RunID})
		return false
	default:
		log.Error(ctx, err, log.KV{K: "msg", V: "run failed permanently"}, log.KV{K: "run_id", V: env.RunID}, log.KV{K: "workflow_id", V: env.WorkflowID})
		return true
	}
}
