package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGraph() *Graph {
	return &Graph{
		Nodes: []Node{
			{ID: "g", Type: TypeGroupChat, Position: Position{X: 100, Y: 100}, Data: map[string]any{"name": "Group"}},
			{ID: "a", Type: TypeConversable, Position: Position{X: 10, Y: 20}, ParentID: "g", Extent: ExtentParent, Data: map[string]any{"name": "A"}},
			{ID: "b", Type: TypeConversable, Position: Position{X: 30, Y: 40}, ParentID: "g", Extent: ExtentParent, Data: map[string]any{"name": "B"}},
			{ID: "u", Type: TypeUser, Position: Position{X: 600, Y: 600}, Data: map[string]any{"name": "User"}},
		},
		Edges: []Edge{
			{ID: "e1", Source: "u", Target: "a", Kind: EdgePlain},
			{ID: "e2", Source: "a", Target: "b", Kind: EdgeConverse, Animated: true},
			{ID: "e3", Source: "u", Target: "g", Kind: EdgePlain},
		},
	}
}

func TestGraph_AbsolutePosition(t *testing.T) {
	g := testGraph()

	pos, err := g.AbsolutePosition("a")
	require.NoError(t, err)
	assert.Equal(t, Position{X: 110, Y: 120}, pos)

	pos, err = g.AbsolutePosition("u")
	require.NoError(t, err)
	assert.Equal(t, Position{X: 600, Y: 600}, pos)
}

func TestGraph_AbsolutePosition_Cycle(t *testing.T) {
	g := &Graph{Nodes: []Node{
		{ID: "x", ParentID: "y"},
		{ID: "y", ParentID: "x"},
	}}

	_, err := g.AbsolutePosition("x")
	require.Error(t, err)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, "x", cycle.NodeID)
	assert.Equal(t, []string{"x", "y", "x"}, cycle.Chain)
}

func TestGraph_AbsolutePosition_NotFound(t *testing.T) {
	g := testGraph()
	_, err := g.AbsolutePosition("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestGraph_AddNode(t *testing.T) {
	g := testGraph()

	require.NoError(t, g.AddNode(Node{ID: "c", Type: TypeNote}))
	assert.NotNil(t, g.FindNode("c"))

	assert.ErrorIs(t, g.AddNode(Node{ID: "c"}), ErrDuplicateID)
	assert.ErrorIs(t, g.AddNode(Node{ID: "d", ParentID: "nope"}), ErrInvalidParent)
	assert.ErrorIs(t, g.AddNode(Node{ID: "e", ParentID: "e"}), ErrInvalidParent)
}

func TestGraph_RemoveNode_CascadesChildrenAndEdges(t *testing.T) {
	g := testGraph()

	removed, err := g.RemoveNode("g")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"g", "a", "b"}, removed)

	require.Len(t, g.Nodes, 1)
	assert.Equal(t, "u", g.Nodes[0].ID)
	assert.Empty(t, g.Edges)
}

func TestGraph_RemoveNode_NoDanglingEdges(t *testing.T) {
	for _, id := range []string{"g", "a", "b", "u"} {
		t.Run(id, func(t *testing.T) {
			g := testGraph()
			_, err := g.RemoveNode(id)
			require.NoError(t, err)

			for _, e := range g.Edges {
				assert.NotEqual(t, id, e.Source)
				assert.NotEqual(t, id, e.Target)
				assert.NotNil(t, g.FindNode(e.Source))
				assert.NotNil(t, g.FindNode(e.Target))
			}
			for _, n := range g.Nodes {
				if n.ParentID != "" {
					assert.NotNil(t, g.FindNode(n.ParentID), "node %s keeps a removed parent", n.ID)
				}
			}
		})
	}
}

func TestGraph_RemoveNode_NotFound(t *testing.T) {
	g := testGraph()
	_, err := g.RemoveNode("missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.Len(t, g.Nodes, 4)
}

func TestGraph_AddEdge_RejectsDangling(t *testing.T) {
	g := testGraph()
	assert.ErrorIs(t, g.AddEdge(Edge{ID: "x", Source: "u", Target: "missing"}), ErrDanglingEdge)
	assert.ErrorIs(t, g.AddEdge(Edge{ID: "e1", Source: "u", Target: "b"}), ErrDuplicateID)
	require.NoError(t, g.AddEdge(Edge{ID: "e4", Source: "b", Target: "u"}))
	assert.Len(t, g.Edges, 4)
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := testGraph()
	require.NoError(t, g.RemoveEdge("e2"))
	assert.Nil(t, g.FindEdge("e2"))
	assert.ErrorIs(t, g.RemoveEdge("e2"), ErrEdgeNotFound)
}

func TestGraph_MoveAfter(t *testing.T) {
	g := testGraph()
	g.moveAfter("u", "g")

	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"g", "u", "a", "b"}, ids)
}

func TestGraph_Repair(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "x", ParentID: "y"},
			{ID: "y", ParentID: "x"},
			{ID: "z", ParentID: "gone", Extent: ExtentParent},
		},
		Edges: []Edge{{ID: "e", Source: "x", Target: "ghost"}},
	}

	detached := g.Repair(nil)
	assert.Contains(t, detached, "x")
	assert.Contains(t, detached, "z")
	assert.Empty(t, g.FindNode("z").ParentID)
	assert.Empty(t, g.FindNode("z").Extent)
	assert.Empty(t, g.Edges)

	for _, n := range g.Nodes {
		_, err := g.AbsolutePosition(n.ID)
		assert.NoError(t, err)
	}
}

func TestFlow_CloneIsDeep(t *testing.T) {
	f := Flow{Nodes: []Node{{
		ID:    "n",
		Width: Float(10),
		Data:  map[string]any{"nested": map[string]any{"k": "v"}, "list": []any{"a"}},
	}}}

	c := f.Clone()
	*c.Nodes[0].Width = 99
	c.Nodes[0].Data["nested"].(map[string]any)["k"] = "changed"
	c.Nodes[0].Data["list"].([]any)[0] = "b"

	assert.Equal(t, 10.0, *f.Nodes[0].Width)
	assert.Equal(t, "v", f.Nodes[0].Data["nested"].(map[string]any)["k"])
	assert.Equal(t, "a", f.Nodes[0].Data["list"].([]any)[0])
}

func TestGraph_RepairContainment(t *testing.T) {
	g := &Graph{
		Nodes: []Node{
			{ID: "c", Type: TypeUser, ParentID: "g", Extent: ExtentParent, Position: Position{X: 10, Y: 10}},
			{ID: "g", Type: TypeGroupChat, Position: Position{X: 100, Y: 100}},
			{ID: "g2", Type: TypeGroupChat, ParentID: "g", Position: Position{X: 20, Y: 20}},
			{ID: "x", Type: TypeUser, ParentID: "u", Extent: ExtentParent, Position: Position{X: 5, Y: 5}},
			{ID: "u", Type: TypeUser, Position: Position{X: 300, Y: 300}},
		},
	}

	detached := g.Repair(NewRegistry().IsGroup)
	assert.ElementsMatch(t, []string{"g2", "x"}, detached)

	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.ID
	}
	assert.Equal(t, []string{"g", "c", "g2", "x", "u"}, ids)

	assert.Equal(t, "g", g.FindNode("c").ParentID)
	assert.Equal(t, Position{X: 120, Y: 120}, g.FindNode("g2").Position)
	x := g.FindNode("x")
	assert.Empty(t, x.ParentID)
	assert.Empty(t, x.Extent)
	assert.Equal(t, Position{X: 305, Y: 305}, x.Position)
}
