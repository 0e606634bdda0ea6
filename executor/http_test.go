package executor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/engine/inmem"
	"github.com/nodeloom/nodeloom/workflow"
)

func newRequest(step engine.Step, data map[string]any) Request {
	return Request{
		Data:       data,
		NodeID:     "node-1",
		WorkflowID: "wf-1",
		RunID:      "run-1",
		Context:    workflow.Context{"seed": "value"},
		Step:       step,
	}
}

func newStep() engine.Step {
	return engine.NewStep("run-1", inmem.NewCheckpointStore())
}

func TestHTTPRequestJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"userId": 1, "title": "delectus aut autem"}`))
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{})
	out, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
	}))
	require.NoError(t, err)

	// The input context flows through with the response added.
	require.Equal(t, "value", out["seed"])
	resp, ok := out[httpResponseKey].(httpResponse)
	require.True(t, ok)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "OK", resp.StatusText)
	require.Equal(t, map[string]any{"userId": float64(1), "title": "delectus aut autem"}, resp.Data)
}

func TestHTTPRequestNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{})
	out, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
	}))
	require.NoError(t, err)

	resp := out[httpResponseKey].(httpResponse)
	require.Equal(t, "hello world", resp.Data)
}

func TestHTTPRequestForwardsBodyForPost(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody.Store(string(raw))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{})
	out, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
		"method":   http.MethodPost,
		"body":     `{"name":"demo"}`,
	}))
	require.NoError(t, err)
	require.Equal(t, `{"name":"demo"}`, gotBody.Load())

	resp := out[httpResponseKey].(httpResponse)
	require.Equal(t, http.StatusCreated, resp.Status)
	require.Equal(t, "Created", resp.StatusText)
}

func TestHTTPRequestIgnoresBodyForGet(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody.Store(string(raw))
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{})
	_, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
		"method":   http.MethodGet,
		"body":     "ignored",
	}))
	require.NoError(t, err)
	require.Equal(t, "", gotBody.Load())
}

func TestHTTPRequestMissingEndpoint(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{})
	_, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"method": http.MethodGet,
	}))
	require.Error(t, err)

	var cfgErr *workflow.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "No endpoint configured")
	require.True(t, workflow.IsNonRetriable(err))
	require.Zero(t, calls.Load(), "no request may be issued without an endpoint")
}

func TestHTTPRequestUnsupportedMethod(t *testing.T) {
	ex := NewHTTPRequest(HTTPRequestOptions{})
	_, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": "http://example.invalid",
		"method":   "TRACE",
	}))
	require.Error(t, err)

	var cfgErr *workflow.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.True(t, workflow.IsNonRetriable(err))
}

func TestHTTPRequestErrorStatusIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{})
	_, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
	}))
	require.Error(t, err)
	require.False(t, workflow.IsNonRetriable(err))
	require.Contains(t, err.Error(), "503")
}

func TestHTTPRequestNetworkFailureIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused

	ex := NewHTTPRequest(HTTPRequestOptions{})
	_, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
	}))
	require.Error(t, err)
	require.False(t, workflow.IsNonRetriable(err))
}

func TestHTTPRequestLimiterThrottles(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	interval := 40 * time.Millisecond
	ex := NewHTTPRequest(HTTPRequestOptions{
		Limiter: rate.NewLimiter(rate.Every(interval), 1),
	})
	data := map[string]any{"endpoint": srv.URL}

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := ex.Execute(context.Background(), newRequest(newStep(), data))
		require.NoError(t, err)
	}
	// The burst of one covers the first call; the next two wait one interval
	// each.
	require.GreaterOrEqual(t, time.Since(start), 2*interval)
	require.EqualValues(t, 3, calls.Load())
}

func TestHTTPRequestLimiterHonorsCanceledContext(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	ex := NewHTTPRequest(HTTPRequestOptions{
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})
	// Drain the burst so the next call would block on the limiter.
	_, err := ex.Execute(context.Background(), newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
	}))
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ex.Execute(ctx, newRequest(newStep(), map[string]any{
		"endpoint": srv.URL,
	}))
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 1, calls.Load(), "a canceled wait must not issue the request")
}

func TestDefaultWithHTTPThreadsLimiter(t *testing.T) {
	lim := rate.NewLimiter(rate.Limit(5), 1)
	r := DefaultWithHTTP(HTTPRequestOptions{Limiter: lim})

	ex, err := r.Lookup(workflow.NodeTypeHTTPRequest)
	require.NoError(t, err)
	httpEx, ok := ex.(*HTTPRequest)
	require.True(t, ok)
	require.Same(t, lim, httpEx.limiter)
}

func TestHTTPRequestReplayDoesNotReissueCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	checkpoints := inmem.NewCheckpointStore()
	data := map[string]any{"endpoint": srv.URL}
	ex := NewHTTPRequest(HTTPRequestOptions{})

	first, err := ex.Execute(context.Background(), newRequest(engine.NewStep("run-1", checkpoints), data))
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())

	// Redelivery of the same run replays the checkpoint.
	second, err := ex.Execute(context.Background(), newRequest(engine.NewStep("run-1", checkpoints), data))
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, first[httpResponseKey], second[httpResponseKey])
}
