// Package mongo hosts the MongoDB client used by the workflow store. It owns
// the four collections (workflows, nodes, connections, checkpoints), their
// indexes, and the transaction that makes graph saves atomic.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"goa.design/clue/health"

	"github.com/nodeloom/nodeloom/store"
	"github.com/nodeloom/nodeloom/workflow"
)

const (
	workflowsCollection   = "workflows"
	nodesCollection       = "nodes"
	connectionsCollection = "connections"
	checkpointsCollection = "checkpoints"

	defaultOpTimeout = 5 * time.Second
	storeClientName  = "workflow-mongo"
)

// Client exposes Mongo-backed operations for workflow graphs and step
// checkpoints. Ownership policy lives here: loads restricted to the owner
// report NotFoundError, saves against a foreign workflow report
// NotAuthorizedError.
type Client interface {
	health.Pinger

	CreateWorkflow(ctx context.Context, in store.NewWorkflow) (workflow.Workflow, error)
	GetWorkflow(ctx context.Context, userID, workflowID string) (workflow.Workflow, error)
	ListWorkflows(ctx context.Context, userID string) ([]workflow.Workflow, error)
	LoadGraph(ctx context.Context, userID, workflowID string) (workflow.Graph, error)
	ReplaceGraph(ctx context.Context, userID string, in store.SaveGraphInput) (workflow.Workflow, error)
	DeleteWorkflow(ctx context.Context, userID, workflowID string) error

	LoadCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error)
	SaveCheckpoint(ctx context.Context, runID, step string, value []byte) error
}

// Options configures the Mongo workflow client.
type Options struct {
	// Client is the connected Mongo client. Required.
	Client *mongodriver.Client
	// Database names the database holding the workflow collections. Required.
	Database string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// txnRunner executes fn atomically. The production runner wraps a Mongo
// session transaction; unit tests substitute a direct call.
type txnRunner func(ctx context.Context, fn func(context.Context) error) error

type client struct {
	mongo       *mongodriver.Client
	workflows   collection
	nodes       collection
	connections collection
	checkpoints collection
	timeout     time.Duration
	txn         txnRunner
	now         func() time.Time
}

// New returns a Client backed by MongoDB and ensures the collection indexes.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	db := opts.Client.Database(opts.Database)
	c, err := newClientWithCollections(collections{
		workflows:   mongoCollection{coll: db.Collection(workflowsCollection)},
		nodes:       mongoCollection{coll: db.Collection(nodesCollection)},
		connections: mongoCollection{coll: db.Collection(connectionsCollection)},
		checkpoints: mongoCollection{coll: db.Collection(checkpointsCollection)},
	}, opts.Timeout)
	if err != nil {
		return nil, err
	}
	c.mongo = opts.Client
	c.txn = sessionTxnRunner(opts.Client)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if err := c.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// collections bundles the four collection handles for construction.
type collections struct {
	workflows   collection
	nodes       collection
	connections collection
	checkpoints collection
}

func newClientWithCollections(colls collections, timeout time.Duration) (*client, error) {
	if colls.workflows == nil || colls.nodes == nil || colls.connections == nil || colls.checkpoints == nil {
		return nil, errors.New("all collections are required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		workflows:   colls.workflows,
		nodes:       colls.nodes,
		connections: colls.connections,
		checkpoints: colls.checkpoints,
		timeout:     timeout,
		txn: func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		},
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// sessionTxnRunner wraps fn in a Mongo session transaction.
func sessionTxnRunner(mongoClient *mongodriver.Client) txnRunner {
	return func(ctx context.Context, fn func(context.Context) error) error {
		session, err := mongoClient.StartSession()
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer session.EndSession(ctx)
		_, err = session.WithTransaction(ctx, func(sessCtx mongodriver.SessionContext) (any, error) {
			return nil, fn(sessCtx)
		})
		return err
	}
}

// Name implements health.Pinger.
func (c *client) Name() string { return storeClientName }

// Ping implements health.Pinger.
func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// CreateWorkflow inserts the workflow with its seeded INITIAL node in one
// transaction.
func (c *client) CreateWorkflow(ctx context.Context, in store.NewWorkflow) (workflow.Workflow, error) {
	if in.UserID == "" {
		return workflow.Workflow{}, errors.New("user id is required")
	}
	name := in.Name
	if name == "" {
		name = "New Workflow"
	}
	now := c.now()
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
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	err := c.txn(ctx, func(ctx context.Context) error {
		if _, err := c.workflows.InsertOne(ctx, fromWorkflow(wf)); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		if _, err := c.nodes.InsertOne(ctx, fromNode(seed)); err != nil {
			return fmt.Errorf("insert seed node: %w", err)
		}
		return nil
	})
	if err != nil {
		return workflow.Workflow{}, err
	}
	return wf, nil
}

// GetWorkflow fetches the workflow restricted to the owning user.
func (c *client) GetWorkflow(ctx context.Context, userID, workflowID string) (workflow.Workflow, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.ownedWorkflow(ctx, userID, workflowID)
}

// ListWorkflows returns the workflows owned by the user ordered by creation
// time.
func (c *client) ListWorkflows(ctx context.Context, userID string) ([]workflow.Workflow, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.workflows.Find(ctx, bson.M{"user_id": userID}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer cur.Close(ctx)

	var out []workflow.Workflow
	for cur.Next(ctx) {
		var doc workflowDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		out = append(out, doc.toWorkflow())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return out, nil
}

// LoadGraph fetches the workflow with its full node and connection sets.
func (c *client) LoadGraph(ctx context.Context, userID, workflowID string) (workflow.Graph, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	wf, err := c.ownedWorkflow(ctx, userID, workflowID)
	if err != nil {
		return workflow.Graph{}, err
	}

	graph := workflow.Graph{Workflow: wf}

	cur, err := c.nodes.Find(ctx, bson.M{"workflow_id": workflowID})
	if err != nil {
		return workflow.Graph{}, fmt.Errorf("load nodes: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc nodeDocument
		if err := cur.Decode(&doc); err != nil {
			return workflow.Graph{}, fmt.Errorf("decode node: %w", err)
		}
		graph.Nodes = append(graph.Nodes, doc.toNode())
	}
	if err := cur.Err(); err != nil {
		return workflow.Graph{}, fmt.Errorf("load nodes: %w", err)
	}

	cur, err = c.connections.Find(ctx, bson.M{"workflow_id": workflowID})
	if err != nil {
		return workflow.Graph{}, fmt.Errorf("load connections: %w", err)
	}
	defer cur.Close(ctx)
	for cur.Next(ctx) {
		var doc connectionDocument
		if err := cur.Decode(&doc); err != nil {
			return workflow.Graph{}, fmt.Errorf("decode connection: %w", err)
		}
		graph.Connections = append(graph.Connections, doc.toConnection())
	}
	if err := cur.Err(); err != nil {
		return workflow.Graph{}, fmt.Errorf("load connections: %w", err)
	}
	return graph, nil
}

// ReplaceGraph swaps the workflow's node and connection sets for the
// submitted ones inside one transaction and bumps the update timestamp.
// Client-supplied node identifiers are preserved through the
// delete-and-recreate cycle.
func (c *client) ReplaceGraph(ctx context.Context, userID string, in store.SaveGraphInput) (workflow.Workflow, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc workflowDocument
	if err := c.workflows.FindOne(ctx, bson.M{"_id": in.WorkflowID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return workflow.Workflow{}, &workflow.NotFoundError{WorkflowID: in.WorkflowID}
		}
		return workflow.Workflow{}, fmt.Errorf("find workflow: %w", err)
	}
	if doc.UserID != userID {
		return workflow.Workflow{}, &workflow.NotAuthorizedError{WorkflowID: in.WorkflowID}
	}

	now := c.now()
	nodeDocs := make([]any, len(in.Nodes))
	for i, n := range in.Nodes {
		name := n.Name
		if name == "" {
			name = string(n.Type)
		}
		nodeDocs[i] = fromNode(workflow.Node{
			ID:         n.ID,
			WorkflowID: in.WorkflowID,
			Type:       n.Type,
			Name:       name,
			Position:   n.Position,
			Data:       n.Data,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	connDocs := make([]any, len(in.Edges))
	for i, e := range in.Edges {
		connDocs[i] = fromConnection(workflow.Connection{
			ID:         uuid.NewString(),
			WorkflowID: in.WorkflowID,
			FromNodeID: e.Source,
			ToNodeID:   e.Target,
			FromOutput: handleOrDefault(e.SourceHandle),
			ToInput:    handleOrDefault(e.TargetHandle),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	err := c.txn(ctx, func(ctx context.Context) error {
		if _, err := c.nodes.DeleteMany(ctx, bson.M{"workflow_id": in.WorkflowID}); err != nil {
			return fmt.Errorf("delete nodes: %w", err)
		}
		if _, err := c.connections.DeleteMany(ctx, bson.M{"workflow_id": in.WorkflowID}); err != nil {
			return fmt.Errorf("delete connections: %w", err)
		}
		if len(nodeDocs) > 0 {
			if _, err := c.nodes.InsertMany(ctx, nodeDocs); err != nil {
				return fmt.Errorf("insert nodes: %w", err)
			}
		}
		if len(connDocs) > 0 {
			if _, err := c.connections.InsertMany(ctx, connDocs); err != nil {
				return fmt.Errorf("insert connections: %w", err)
			}
		}
		if _, err := c.workflows.UpdateOne(ctx, bson.M{"_id": in.WorkflowID}, bson.M{"$set": bson.M{"updated_at": now}}); err != nil {
			return fmt.Errorf("update workflow timestamp: %w", err)
		}
		return nil
	})
	if err != nil {
		return workflow.Workflow{}, err
	}
	wf := doc.toWorkflow()
	wf.UpdatedAt = now
	return wf, nil
}

// DeleteWorkflow removes the workflow and cascades to its nodes and
// connections within one transaction.
func (c *client) DeleteWorkflow(ctx context.Context, userID, workflowID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	if _, err := c.ownedWorkflow(ctx, userID, workflowID); err != nil {
		return err
	}
	return c.txn(ctx, func(ctx context.Context) error {
		if _, err := c.connections.DeleteMany(ctx, bson.M{"workflow_id": workflowID}); err != nil {
			return fmt.Errorf("delete connections: %w", err)
		}
		if _, err := c.nodes.DeleteMany(ctx, bson.M{"workflow_id": workflowID}); err != nil {
			return fmt.Errorf("delete nodes: %w", err)
		}
		if _, err := c.workflows.DeleteOne(ctx, bson.M{"_id": workflowID}); err != nil {
			return fmt.Errorf("delete workflow: %w", err)
		}
		return nil
	})
}

// LoadCheckpoint returns the recorded step value, reporting whether one
// exists.
func (c *client) LoadCheckpoint(ctx context.Context, runID, step string) ([]byte, bool, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc checkpointDocument
	err := c.checkpoints.FindOne(ctx, bson.M{"run_id": runID, "step": step}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load checkpoint: %w", err)
	}
	return doc.Value, true, nil
}

// SaveCheckpoint records the step value. The $setOnInsert upsert makes the
// write first-writer-wins so concurrent duplicate deliveries never replace a
// recorded result.
func (c *client) SaveCheckpoint(ctx context.Context, runID, step string, value []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"run_id": runID, "step": step}
	update := bson.M{"$setOnInsert": checkpointDocument{
		RunID:     runID,
		Step:      step,
		Value:     value,
		CreatedAt: c.now(),
	}}
	_, err := c.checkpoints.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ownedWorkflow resolves a workflow restricted to the owning user. Both
// absence and foreign ownership report NotFoundError so loads do not leak
// existence.
func (c *client) ownedWorkflow(ctx context.Context, userID, workflowID string) (workflow.Workflow, error) {
	var doc workflowDocument
	err := c.workflows.FindOne(ctx, bson.M{"_id": workflowID, "user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return workflow.Workflow{}, &workflow.NotFoundError{WorkflowID: workflowID}
		}
		return workflow.Workflow{}, fmt.Errorf("find workflow: %w", err)
	}
	return doc.toWorkflow(), nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *client) ensureIndexes(ctx context.Context) error {
	if _, err := c.workflows.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("workflow indexes: %w", err)
	}
	if _, err := c.nodes.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "workflow_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("node indexes: %w", err)
	}
	if _, err := c.connections.Indexes().CreateMany(ctx, []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "workflow_id", Value: 1}}},
		{
			Keys: bson.D{
				{Key: "from_node_id", Value: 1},
				{Key: "to_node_id", Value: 1},
				{Key: "from_output", Value: 1},
				{Key: "to_input", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
	}); err != nil {
		return fmt.Errorf("connection indexes: %w", err)
	}
	if _, err := c.checkpoints.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "run_id", Value: 1},
			{Key: "step", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("checkpoint indexes: %w", err)
	}
	return nil
}

func handleOrDefault(handle string) string {
	if handle == "" {
		return workflow.DefaultHandle
	}
	return handle
}
