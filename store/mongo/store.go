// Package mongo implements the workflow store and checkpoint store on
// MongoDB. The Store is a thin facade over the client in clients/mongo,
// which owns collections, indexes, and transactions.
package mongo

import (
	"context"
	"errors"

	storemongo "github.com/nodeloom/nodeloom/store/mongo/clients/mongo"

	"github.com/nodeloom/nodeloom/store"
	"github.com/nodeloom/nodeloom/workflow"
)

// Store persists workflows, graphs, and step checkpoints in MongoDB. It
// implements both store.Store and the engine's checkpoint contract.
type Store struct {
	client storemongo.Client
}

// Options configures the Mongo store.
type Options struct {
	// Client is the Mongo workflow client. Required.
	Client storemongo.Client
}

// New builds a Store from options.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	return &Store{client: opts.Client}, nil
}

// Create implements store.Store.
func (s *Store) Create(ctx context.Context, in store.NewWorkflow) (workflow.Workflow, error) {
	return s.client.CreateWorkflow(ctx, in)
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, userID, workflowID string) (workflow.Workflow, error) {
	return s.client.GetWorkflow(ctx, userID, workflowID)
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, userID string) ([]workflow.Workflow, error) {
	return s.client.ListWorkflows(ctx, userID)
}

// LoadGraph implements store.Store.
func (s *Store) LoadGraph(ctx context.Context, userID, workflowID string) (workflow.Graph, error) {
	return s.client.LoadGraph(ctx, userID, workflowID)
}

// SaveGraph implements store.Store.
func (s *Store) SaveGraph(ctx context.Context, userID string, in store.SaveGraphInput) (workflow.Workflow, error) {
	return s.client.ReplaceGraph(ctx, userID, in)
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, userID, workflowID string) error {
	return s.client.DeleteWorkflow(ctx, userID, workflowID)
}

// LoadCheckpoint implements engine.CheckpointStore.
func (s *Store) LoadCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error) {
	return s.client.LoadCheckpoint(ctx, runID, step)
}

// SaveCheckpoint implements engine.CheckpointStore.
func (s *Store) SaveCheckpoint(ctx context.Context, runID, step string, value []byte) error {
	return s.client.SaveCheckpoint(ctx, runID, step, value)
}
