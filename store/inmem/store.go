// Package inmem provides an in-memory store implementation for tests and
// single-process development. All reads and writes copy, so callers never
// share map memory with the store.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nodeloom/nodeloom/store"
	"github.com/nodeloom/nodeloom/workflow"
)

// Options configures the in-memory store.
type Options struct {
	// Now supplies timestamps. Defaults to time.Now. Tests inject a
	// monotonic fake so update-timestamp assertions are deterministic.
	Now func() time.Time
}

// Store is an in-memory store.Store implementation.
type Store struct {
	now func() time.Time

	mu          sync.RWMutex
	workflows   map[string]workflow.Workflow
	nodes       map[string][]workflow.Node       // keyed by workflow ID
	connections map[string][]workflow.Connection // keyed by workflow ID
}

// New returns an empty in-memory store.
func New(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:         now,
		workflows:   make(map[string]workflow.Workflow),
		nodes:       make(map[string][]workflow.Node),
		connections: make(map[string][]workflow.Connection),
	}
}

// Create implements store.Store. The new workflow is seeded with one INITIAL
// node at position (0,0).
func (s *Store) Create(_ context.Context, in store.NewWorkflow) (workflow.Workflow, error) {
	if in.UserID == "" {
		return workflow.Workflow{}, errors.New("user id is required")
	}
	name := in.Name
	if name == "" {
		name = "New Workflow"
	}
	now := s.now().UTC()
	wf := workflow.Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		UserID:    in.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	seed := workflow.Node{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Type:       workflow.NodeTypeInitial,
		Name:       string(workflow.NodeTypeInitial),
		Position:   workflow.Position{X: 0, Y: 0},
		Data:       map[string]any{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[wf.ID] = wf
	s.nodes[wf.ID] = []workflow.Node{seed}
	s.connections[wf.ID] = nil
	return wf, nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, userID, workflowID string) (workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned(userID, workflowID)
}

// List implements store.Store. Results are ordered by creation time.
func (s *Store) List(_ context.Context, userID string) ([]workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []workflow.Workflow
	for _, wf := range s.workflows {
		if wf.UserID == userID {
			out = append(out, wf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LoadGraph implements store.Store.
func (s *Store) LoadGraph(_ context.Context, userID, workflowID string) (workflow.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, err := s.owned(userID, workflowID)
	if err != nil {
		return workflow.Graph{}, err
	}
	return workflow.Graph{
		Workflow:    wf,
		Nodes:       cloneNodes(s.nodes[workflowID]),
		Connections: cloneConnections(s.connections[workflowID]),
	}, nil
}

// SaveGraph implements store.Store. The node and connection sets are fully
// replaced; client-supplied node identifiers are preserved.
func (s *Store) SaveGraph(_ context.Context, userID string, in store.SaveGraphInput) (workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[in.WorkflowID]
	if !ok {
		return workflow.Workflow{}, &workflow.NotFoundError{WorkflowID: in.WorkflowID}
	}
	if wf.UserID != userID {
		return workflow.Workflow{}, &workflow.NotAuthorizedError{WorkflowID: in.WorkflowID}
	}
	now := s.now().UTC()

	nodes := make([]workflow.Node, len(in.Nodes))
	for i, n := range in.Nodes {
		name := n.Name
		if name == "" {
			name = string(n.Type)
		}
		nodes[i] = workflow.Node{
			ID:         n.ID,
			WorkflowID: wf.ID,
			Type:       n.Type,
			Name:       name,
			Position:   n.Position,
			Data:       cloneData(n.Data),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}
	connections := make([]workflow.Connection, len(in.Edges))
	for i, e := range in.Edges {
		connections[i] = workflow.Connection{
			ID:         uuid.NewString(),
			WorkflowID: wf.ID,
			FromNodeID: e.Source,
			ToNodeID:   e.Target,
			FromOutput: defaultHandle(e.SourceHandle),
			ToInput:    defaultHandle(e.TargetHandle),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	s.nodes[wf.ID] = nodes
	s.connections[wf.ID] = connections
	wf.UpdatedAt = now
	s.workflows[wf.ID] = wf
	return wf, nil
}

// Delete implements store.Store, cascading to nodes and connections.
func (s *Store) Delete(_ context.Context, userID, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(userID, workflowID); err != nil {
		return err
	}
	delete(s.workflows, workflowID)
	delete(s.nodes, workflowID)
	delete(s.connections, workflowID)
	return nil
}

// owned resolves a workflow restricted to the owning user. Both absence and
// foreign ownership report NotFoundError so loads do not leak existence.
func (s *Store) owned(userID, workflowID string) (workflow.Workflow, error) {
	wf, ok := s.workflows[workflowID]
	if !ok || wf.UserID != userID {
		return workflow.Workflow{}, &workflow.NotFoundError{WorkflowID: workflowID}
	}
	return wf, nil
}

func cloneNodes(nodes []workflow.Node) []workflow.Node {
	out := make([]workflow.Node, len(nodes))
	copy(out, nodes)
	for i := range out {
		out[i].Data = cloneData(out[i].Data)
	}
	return out
}

func cloneConnections(connections []workflow.Connection) []workflow.Connection {
	out := make([]workflow.Connection, len(connections))
	copy(out, connections)
	return out
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func defaultHandle(handle string) string {
	if handle == "" {
		return workflow.DefaultHandle
	}
	return handle
}
