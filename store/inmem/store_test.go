package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodeloom/nodeloom/store"
	"github.com/nodeloom/nodeloom/workflow"
)

// fakeClock returns strictly increasing timestamps so update-time assertions
// are deterministic.
func fakeClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestCreateSeedsInitialNode(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{Name: "demo", UserID: "user-1"})
	require.NoError(t, err)
	require.NotEmpty(t, wf.ID)
	require.Equal(t, "demo", wf.Name)

	graph, err := s.LoadGraph(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	require.Empty(t, graph.Connections)

	seed := graph.Nodes[0]
	require.Equal(t, workflow.NodeTypeInitial, seed.Type)
	require.Equal(t, "INITIAL", seed.Name)
	require.Equal(t, workflow.Position{X: 0, Y: 0}, seed.Position)
}

func TestCreateDefaultsNameAndRequiresUser(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "user-1"})
	require.NoError(t, err)
	require.Equal(t, "New Workflow", wf.Name)

	_, err = s.Create(ctx, store.NewWorkflow{Name: "no owner"})
	require.Error(t, err)
}

func TestSaveGraphRoundTrip(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "user-1"})
	require.NoError(t, err)

	in := store.SaveGraphInput{
		WorkflowID: wf.ID,
		Nodes: []store.SaveNode{
			{ID: "n1", Type: workflow.NodeTypeManualTrigger, Name: "Start", Position: workflow.Position{X: 10, Y: 20}},
			{ID: "n2", Type: workflow.NodeTypeHTTPRequest, Position: workflow.Position{X: 300, Y: 20}, Data: map[string]any{"endpoint": "https://example.com"}},
		},
		Edges: []store.SaveEdge{{Source: "n1", Target: "n2", SourceHandle: "out"}},
	}
	_, err = s.SaveGraph(ctx, "user-1", in)
	require.NoError(t, err)

	graph, err := s.LoadGraph(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 2)
	require.Len(t, graph.Connections, 1)

	byID := map[string]workflow.Node{}
	for _, n := range graph.Nodes {
		byID[n.ID] = n
	}
	// Client-supplied identifiers survive the replace cycle.
	require.Contains(t, byID, "n1")
	require.Contains(t, byID, "n2")
	require.Equal(t, "Start", byID["n1"].Name)
	// Missing names default to the node type.
	require.Equal(t, "HTTP_REQUEST", byID["n2"].Name)
	require.Equal(t, workflow.Position{X: 10, Y: 20}, byID["n1"].Position)
	require.Equal(t, map[string]any{"endpoint": "https://example.com"}, byID["n2"].Data)

	conn := graph.Connections[0]
	require.Equal(t, "n1", conn.FromNodeID)
	require.Equal(t, "n2", conn.ToNodeID)
	require.Equal(t, "out", conn.FromOutput)
	// Missing handles default to "main".
	require.Equal(t, workflow.DefaultHandle, conn.ToInput)
	require.NotEmpty(t, conn.ID)
}

func TestSaveGraphIdempotent(t *testing.T) {
	s := New(Options{Now: fakeClock()})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "user-1"})
	require.NoError(t, err)

	in := store.SaveGraphInput{
		WorkflowID: wf.ID,
		Nodes:      []store.SaveNode{{ID: "n1", Type: workflow.NodeTypeManualTrigger}},
		Edges:      nil,
	}
	first, err := s.SaveGraph(ctx, "user-1", in)
	require.NoError(t, err)
	second, err := s.SaveGraph(ctx, "user-1", in)
	require.NoError(t, err)

	// Same graph both times, but the update timestamp advances.
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	graph, err := s.LoadGraph(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
	require.Equal(t, "n1", graph.Nodes[0].ID)
}

func TestSaveGraphOwnership(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "owner"})
	require.NoError(t, err)

	in := store.SaveGraphInput{WorkflowID: wf.ID}
	_, err = s.SaveGraph(ctx, "intruder", in)
	var naErr *workflow.NotAuthorizedError
	require.ErrorAs(t, err, &naErr)

	_, err = s.SaveGraph(ctx, "owner", store.SaveGraphInput{WorkflowID: "ghost"})
	var nfErr *workflow.NotFoundError
	require.ErrorAs(t, err, &nfErr)

	// The failed save wrote nothing.
	graph, err := s.LoadGraph(ctx, "owner", wf.ID)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 1)
}

func TestLoadsDoNotLeakForeignWorkflows(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "owner"})
	require.NoError(t, err)

	var nfErr *workflow.NotFoundError
	_, err = s.Get(ctx, "intruder", wf.ID)
	require.ErrorAs(t, err, &nfErr)
	_, err = s.LoadGraph(ctx, "intruder", wf.ID)
	require.ErrorAs(t, err, &nfErr)
	err = s.Delete(ctx, "intruder", wf.ID)
	require.ErrorAs(t, err, &nfErr)
}

func TestListReturnsOwnWorkflowsInCreationOrder(t *testing.T) {
	s := New(Options{Now: fakeClock()})
	ctx := context.Background()

	first, err := s.Create(ctx, store.NewWorkflow{Name: "one", UserID: "user-1"})
	require.NoError(t, err)
	second, err := s.Create(ctx, store.NewWorkflow{Name: "two", UserID: "user-1"})
	require.NoError(t, err)
	_, err = s.Create(ctx, store.NewWorkflow{Name: "other", UserID: "user-2"})
	require.NoError(t, err)

	list, err := s.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, first.ID, list[0].ID)
	require.Equal(t, second.ID, list[1].ID)
}

func TestDeleteCascades(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "user-1"})
	require.NoError(t, err)
	_, err = s.SaveGraph(ctx, "user-1", store.SaveGraphInput{
		WorkflowID: wf.ID,
		Nodes: []store.SaveNode{
			{ID: "n1", Type: workflow.NodeTypeManualTrigger},
			{ID: "n2", Type: workflow.NodeTypeHTTPRequest},
		},
		Edges: []store.SaveEdge{{Source: "n1", Target: "n2"}},
	})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "user-1", wf.ID))

	var nfErr *workflow.NotFoundError
	_, err = s.Get(ctx, "user-1", wf.ID)
	require.ErrorAs(t, err, &nfErr)
	_, err = s.LoadGraph(ctx, "user-1", wf.ID)
	require.ErrorAs(t, err, &nfErr)
}

func TestLoadGraphReturnsCopies(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()

	wf, err := s.Create(ctx, store.NewWorkflow{UserID: "user-1"})
	require.NoError(t, err)
	_, err = s.SaveGraph(ctx, "user-1", store.SaveGraphInput{
		WorkflowID: wf.ID,
		Nodes:      []store.SaveNode{{ID: "n1", Type: workflow.NodeTypeHTTPRequest, Data: map[string]any{"endpoint": "https://a"}}},
	})
	require.NoError(t, err)

	graph, err := s.LoadGraph(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	graph.Nodes[0].Data["endpoint"] = "https://mutated"

	again, err := s.LoadGraph(ctx, "user-1", wf.ID)
	require.NoError(t, err)
	require.Equal(t, "https://a", again.Nodes[0].Data["endpoint"])
}
