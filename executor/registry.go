package executor

import (
	"fmt"
	"sync"

	"github.com/nodeloom/nodeloom/workflow"
)

// Registry maps node types to executors. Registration happens at process
// start; lookups are total over the registered set and fail with a
// ConfigError for anything else.
type Registry struct {
	mu        sync.RWMutex
	executors map[workflow.NodeType]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[workflow.NodeType]Executor)}
}

// Default returns a registry with the reference executors wired: the manual
// trigger for MANUAL_TRIGGER and (as an alias) INITIAL, and the HTTP request
// executor for HTTP_REQUEST.
func Default() *Registry {
	return DefaultWithHTTP(HTTPRequestOptions{})
}

// DefaultWithHTTP is Default with a configured HTTP request executor, used by
// workers that bound outbound traffic with a rate limiter or a custom client.
func DefaultWithHTTP(opts HTTPRequestOptions) *Registry {
	r := NewRegistry()
	manual := ManualTrigger{}
	http := NewHTTPRequest(opts)
	// Registrations of the closed enumeration cannot collide.
	_ = r.Register(workflow.NodeTypeManualTrigger, manual)
	_ = r.Register(workflow.NodeTypeInitial, manual)
	_ = r.Register(workflow.NodeTypeHTTPRequest, http)
	return r
}

// Register binds an executor to a node type. Registering the same type twice
// is an error; extension happens by adding enumeration values, not by
// hot-swapping executors.
func (r *Registry) Register(t workflow.NodeType, ex Executor) error {
	if t == "" {
		return fmt.Errorf("node type is required")
	}
	if ex == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.executors[t]; dup {
		return fmt.Errorf("executor for type %q already registered", t)
	}
	r.executors[t] = ex
	return nil
}

// Lookup returns the executor for the node type. Unknown types fail with a
// non-retriable ConfigError.
func (r *Registry) Lookup(t workflow.NodeType) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[t]
	if !ok {
		return nil, workflow.Configf("no executor for type %s", t)
	}
	return ex, nil
}
