// Package pulse exposes a stream.Sink implementation that publishes node
// status events to goa.design/pulse streams, one stream per run. The UI
// subscribes to `run/<runID>` to render per-node progress.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientspulse "github.com/nodeloom/nodeloom/clients/pulse"
	"github.com/nodeloom/nodeloom/stream"
)

// eventName labels node-status entries in the Pulse stream.
const eventName = "node_status"

type (
	// Options configures the Pulse status sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target stream from an event. Defaults to
		// `run/<RunID>`.
		StreamID func(stream.Event) (string, error)
	}

	// Sink publishes node-status events into Pulse streams. Thread-safe for
	// concurrent Send operations.
	Sink struct {
		client   clientspulse.Client
		streamID func(stream.Event) (string, error)
	}

	// envelope wraps status events for transmission over Pulse streams.
	envelope struct {
		// Type identifies the entry kind.
		Type string `json:"type"`
		// RunID links the event to a workflow execution.
		RunID string `json:"run_id"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload is the status event itself.
		Payload stream.Event `json:"payload"`
	}
)

// NewSink constructs a Pulse-backed status sink.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{client: opts.Client, streamID: streamID}, nil
}

// Send implements stream.Sink. It derives the stream ID, wraps the event in
// an envelope and publishes it via the Pulse client.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	streamID, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{
		Type:      eventName,
		RunID:     event.RunID,
		Timestamp: time.Now().UTC(),
		Payload:   event,
	})
	if err != nil {
		return err
	}
	if _, err := handle.Add(ctx, eventName, payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the sink.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the stream name from the event's RunID.
func defaultStreamID(event stream.Event) (string, error) {
	if event.RunID == "" {
		return "", errors.New("status event missing run id")
	}
	return fmt.Sprintf("run/%s", event.RunID), nil
}
