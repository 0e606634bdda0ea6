package mongo

import (
	"time"

	"github.com/nodeloom/nodeloom/workflow"
)

type (
	// workflowDocument is the Mongo shape of a workflow record.
	workflowDocument struct {
		ID        string    `bson:"_id"`
		Name      string    `bson:"name"`
		UserID    string    `bson:"user_id"`
		CreatedAt time.Time `bson:"created_at"`
		UpdatedAt time.Time `bson:"updated_at"`
	}

	// nodeDocument is the Mongo shape of a graph node.
	nodeDocument struct {
		ID         string            `bson:"_id"`
		WorkflowID string            `bson:"workflow_id"`
		Type       string            `bson:"type"`
		Name       string            `bson:"name"`
		Position   workflow.Position `bson:"position"`
		Data       map[string]any    `bson:"data"`
		CreatedAt  time.Time         `bson:"created_at"`
		UpdatedAt  time.Time         `bson:"updated_at"`
	}

	// connectionDocument is the Mongo shape of a graph connection.
	connectionDocument struct {
		ID         string    `bson:"_id"`
		WorkflowID string    `bson:"workflow_id"`
		FromNodeID string    `bson:"from_node_id"`
		ToNodeID   string    `bson:"to_node_id"`
		FromOutput string    `bson:"from_output"`
		ToInput    string    `bson:"to_input"`
		CreatedAt  time.Time `bson:"created_at"`
		UpdatedAt  time.Time `bson:"updated_at"`
	}

	// checkpointDocument records one step result for a run. The pair
	// (run_id, step) is unique.
	checkpointDocument struct {
		RunID     string    `bson:"run_id"`
		Step      string    `bson:"step"`
		Value     []byte    `bson:"value"`
		CreatedAt time.Time `bson:"created_at"`
	}
)

func fromWorkflow(wf workflow.Workflow) workflowDocument {
	return workflowDocument{
		ID:        wf.ID,
		Name:      wf.Name,
		UserID:    wf.UserID,
		CreatedAt: wf.CreatedAt,
		UpdatedAt: wf.UpdatedAt,
	}
}

func (d workflowDocument) toWorkflow() workflow.Workflow {
	return workflow.Workflow{
		ID:        d.ID,
		Name:      d.Name,
		UserID:    d.UserID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func fromNode(n workflow.Node) nodeDocument {
	return nodeDocument{
		ID:         n.ID,
		WorkflowID: n.WorkflowID,
		Type:       string(n.Type),
		Name:       n.Name,
		Position:   n.Position,
		Data:       n.Data,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
	}
}

func (d nodeDocument) toNode() workflow.Node {
	return workflow.Node{
		ID:         d.ID,
		WorkflowID: d.WorkflowID,
		Type:       workflow.NodeType(d.Type),
		Name:       d.Name,
		Position:   d.Position,
		Data:       d.Data,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

func fromConnection(c workflow.Connection) connectionDocument {
	return connectionDocument{
		ID:         c.ID,
		WorkflowID: c.WorkflowID,
		FromNodeID: c.FromNodeID,
		ToNodeID:   c.ToNodeID,
		FromOutput: c.FromOutput,
		ToInput:    c.ToInput,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func (d connectionDocument) toConnection() workflow.Connection {
	return workflow.Connection{
		ID:         d.ID,
		WorkflowID: d.WorkflowID,
		FromNodeID: d.FromNodeID,
		ToNodeID:   d.ToNodeID,
		FromOutput: d.FromOutput,
		ToInput:    d.ToInput,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
