package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nodeloom/nodeloom/engine"
	"github.com/nodeloom/nodeloom/stream"
	"github.com/nodeloom/nodeloom/workflow"
)

// defaultHTTPTimeout bounds each outbound request when no client is supplied.
const defaultHTTPTimeout = 30 * time.Second

// httpResponseKey is the context key the HTTP executor writes its result
// under. Two HTTP nodes in one workflow both write it; the later wins.
const httpResponseKey = "httpResponse"

// bodyMethods are the methods the request body is forwarded for. For any
// other method a configured body is ignored.
var bodyMethods = map[string]struct{}{
	http.MethodPost:  {},
	http.MethodPut:   {},
	http.MethodPatch: {},
}

// allowedMethods is the method enumeration accepted in node configuration.
var allowedMethods = map[string]struct{}{
	http.MethodGet:    {},
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

type (
	// HTTPRequestOptions configures the HTTP request executor.
	HTTPRequestOptions struct {
		// Client is the HTTP client used for outbound calls. Defaults to a
		// client with a 30s timeout.
		Client *http.Client
		// Limiter throttles outbound requests. Nil means unbounded.
		Limiter *rate.Limiter
	}

	// HTTPRequest executes HTTP_REQUEST nodes: one outbound call per node,
	// response captured under the "httpResponse" context key.
	HTTPRequest struct {
		client  *http.Client
		limiter *rate.Limiter
	}

	// httpRequestConfig is the typed shape of an HTTP_REQUEST node's data
	// field.
	httpRequestConfig struct {
		// Endpoint is the fully qualified URL. Required.
		Endpoint string `json:"endpoint"`
		// Method defaults to GET. One of GET, POST, PUT, PATCH, DELETE.
		Method string `json:"method"`
		// Body is the raw request body, forwarded only for POST/PUT/PATCH.
		Body string `json:"body"`
	}

	// httpResponse is the value recorded under the "httpResponse" key.
	httpResponse struct {
		// Status is the response status code.
		Status int `json:"status"`
		// StatusText is the standard reason phrase for the status code.
		StatusText string `json:"statusText"`
		// Data is the parsed JSON value when the response declares
		// application/json, otherwise the raw body as a string.
		Data any `json:"data"`
	}
)

// NewHTTPRequest returns the HTTP request executor.
func NewHTTPRequest(opts HTTPRequestOptions) *HTTPRequest {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &HTTPRequest{client: client, limiter: opts.Limiter}
}

// Execute implements Executor. The entire call, including configuration
// validation, runs inside one step so a resumed execution replays the
// recorded response instead of re-issuing the request.
//
// Failure classification: missing endpoint and unknown methods are
// non-retriable ConfigErrors; network failures and responses with status
// >= 400 are retriable.
func (e *HTTPRequest) Execute(ctx context.Context, req Request) (workflow.Context, error) {
	req.emit(ctx, stream.StatusLoading, nil)
	resp, err := engine.RunStep(ctx, req.Step, "http-request", func(ctx context.Context) (httpResponse, error) {
		return e.call(ctx, req.Data)
	})
	if err != nil {
		req.emit(ctx, stream.StatusError, err)
		return nil, err
	}
	req.emit(ctx, stream.StatusSuccess, nil)
	return req.Context.With(httpResponseKey, resp), nil
}

// call validates the node configuration, issues the request, and captures
// the response.
func (e *HTTPRequest) call(ctx context.Context, data map[string]any) (httpResponse, error) {
	cfg, err := decodeHTTPConfig(data)
	if err != nil {
		return httpResponse{}, err
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return httpResponse{}, err
		}
	}

	var body io.Reader
	if _, bearing := bodyMethods[cfg.Method]; bearing && cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	// Content-Type is deliberately not set; callers configure it through
	// the node data once header templating exists.
	httpReq, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.Endpoint, body)
	if err != nil {
		return httpResponse{}, workflow.ConfigWrap("HTTP Request node: invalid endpoint", err)
	}
	resp, err := e.client.Do(httpReq)
	if err != nil {
		return httpResponse{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return httpResponse{}, fmt.Errorf("http request failed with status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return httpResponse{}, fmt.Errorf("read response body: %w", err)
	}

	var parsed any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return httpResponse{}, fmt.Errorf("decode json response: %w", err)
		}
	} else {
		parsed = string(raw)
	}
	return httpResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Data:       parsed,
	}, nil
}

// decodeHTTPConfig decodes the schema-less data field into the typed config
// and validates it. Violations are non-retriable.
func decodeHTTPConfig(data map[string]any) (httpRequestConfig, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return httpRequestConfig{}, workflow.ConfigWrap("HTTP Request node: invalid configuration", err)
	}
	var cfg httpRequestConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return httpRequestConfig{}, workflow.ConfigWrap("HTTP Request node: invalid configuration", err)
	}
	if cfg.Endpoint == "" {
		return httpRequestConfig{}, workflow.Configf("HTTP Request node: No endpoint configured")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if _, ok := allowedMethods[cfg.Method]; !ok {
		return httpRequestConfig{}, workflow.Configf("HTTP Request node: unsupported method %q", cfg.Method)
	}
	return cfg, nil
}
