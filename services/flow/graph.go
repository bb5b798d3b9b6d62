package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound indicates a node id that does not resolve.
	ErrNodeNotFound = errors.New("flow: node not found")

	// ErrEdgeNotFound indicates an edge id that does not resolve.
	ErrEdgeNotFound = errors.New("flow: edge not found")

	// ErrDuplicateID indicates an add with an id already in use.
	ErrDuplicateID = errors.New("flow: duplicate id")

	// ErrInvalidParent indicates a parent reference that would break containment
	// (self, descendant, missing, or a group nested in a group).
	ErrInvalidParent = errors.New("flow: invalid parent")

	// ErrDanglingEdge indicates an edge whose endpoint does not exist.
	ErrDanglingEdge = errors.New("flow: edge endpoint not found")
)

// CycleError reports a parent chain that revisits a node.
type CycleError struct {
	NodeID string
	Chain  []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("flow: parent cycle at node %q (%s)", e.NodeID, strings.Join(e.Chain, " -> "))
}

// Graph is the working copy of one project's nodes and edges. Sequence order
// is meaningful: a contained node follows its parent.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// NewGraph creates a graph holding a deep copy of f.
func NewGraph(f Flow) *Graph {
	c := f.Clone()
	return &Graph{Nodes: c.Nodes, Edges: c.Edges}
}

// Flow returns a deep copy of the graph in its serialized form.
func (g *Graph) Flow() Flow {
	return Flow{Nodes: g.Nodes, Edges: g.Edges}.Clone()
}

func (g *Graph) nodeIndex(id string) int {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *Graph) edgeIndex(id string) int {
	for i := range g.Edges {
		if g.Edges[i].ID == id {
			return i
		}
	}
	return -1
}

// FindNode returns a pointer into the node sequence, or nil when id is unknown.
// The pointer is invalidated by any structural change.
func (g *Graph) FindNode(id string) *Node {
	if i := g.nodeIndex(id); i >= 0 {
		return &g.Nodes[i]
	}
	return nil
}

// FindEdge returns a pointer into the edge sequence, or nil when id is unknown.
func (g *Graph) FindEdge(id string) *Edge {
	if i := g.edgeIndex(id); i >= 0 {
		return &g.Edges[i]
	}
	return nil
}

// AddNode appends n. A parent, when set, must already exist.
func (g *Graph) AddNode(n Node) error {
	if n.ID == "" {
		return fmt.Errorf("add node: %w", ErrNodeNotFound)
	}
	if g.nodeIndex(n.ID) >= 0 {
		return fmt.Errorf("add node %q: %w", n.ID, ErrDuplicateID)
	}
	if n.ParentID != "" {
		if n.ParentID == n.ID || g.nodeIndex(n.ParentID) < 0 {
			return fmt.Errorf("add node %q under %q: %w", n.ID, n.ParentID, ErrInvalidParent)
		}
	}
	g.Nodes = append(g.Nodes, n)
	return nil
}

// RemoveNode removes the node, every node whose parent chain reaches it, and
// every edge left with a dangling endpoint. It returns the removed node ids.
func (g *Graph) RemoveNode(id string) ([]string, error) {
	if g.nodeIndex(id) < 0 {
		return nil, fmt.Errorf("remove node %q: %w", id, ErrNodeNotFound)
	}

	doomed := map[string]bool{id: true}
	// Containment depth is bounded by the node count; iterate to a fixed point.
	for changed := true; changed; {
		changed = false
		for _, n := range g.Nodes {
			if n.ParentID != "" && doomed[n.ParentID] && !doomed[n.ID] {
				doomed[n.ID] = true
				changed = true
			}
		}
	}

	removed := make([]string, 0, len(doomed))
	kept := g.Nodes[:0]
	for _, n := range g.Nodes {
		if doomed[n.ID] {
			removed = append(removed, n.ID)
			continue
		}
		kept = append(kept, n)
	}
	g.Nodes = kept
	g.PruneEdges()
	return removed, nil
}

// AddEdge appends e. Both endpoints must exist.
func (g *Graph) AddEdge(e Edge) error {
	if e.ID == "" {
		return fmt.Errorf("add edge: %w", ErrEdgeNotFound)
	}
	if g.edgeIndex(e.ID) >= 0 {
		return fmt.Errorf("add edge %q: %w", e.ID, ErrDuplicateID)
	}
	if g.nodeIndex(e.Source) < 0 || g.nodeIndex(e.Target) < 0 {
		return fmt.Errorf("add edge %q (%s -> %s): %w", e.ID, e.Source, e.Target, ErrDanglingEdge)
	}
	g.Edges = append(g.Edges, e)
	return nil
}

// RemoveEdge removes the edge with the given id.
func (g *Graph) RemoveEdge(id string) error {
	i := g.edgeIndex(id)
	if i < 0 {
		return fmt.Errorf("remove edge %q: %w", id, ErrEdgeNotFound)
	}
	g.Edges = append(g.Edges[:i], g.Edges[i+1:]...)
	return nil
}

// PruneEdges drops edges whose source or target no longer exists and returns
// how many were dropped.
func (g *Graph) PruneEdges() int {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}
	kept := g.Edges[:0]
	dropped := 0
	for _, e := range g.Edges {
		_, src := ids[e.Source]
		_, dst := ids[e.Target]
		if src && dst {
			kept = append(kept, e)
			continue
		}
		dropped++
	}
	g.Edges = kept
	return dropped
}

// AbsolutePosition walks the parent chain of the node, summing positions.
// The walk is bounded by the node count; a chain that revisits a node
// returns a *CycleError.
func (g *Graph) AbsolutePosition(id string) (Position, error) {
	n := g.FindNode(id)
	if n == nil {
		return Position{}, fmt.Errorf("absolute position of %q: %w", id, ErrNodeNotFound)
	}

	pos := n.Position
	seen := map[string]bool{n.ID: true}
	chain := []string{n.ID}
	for steps := 0; n.ParentID != ""; steps++ {
		if seen[n.ParentID] || steps > len(g.Nodes) {
			return Position{}, &CycleError{NodeID: n.ParentID, Chain: append(chain, n.ParentID)}
		}
		parent := g.FindNode(n.ParentID)
		if parent == nil {
			return Position{}, fmt.Errorf("parent %q of %q: %w", n.ParentID, n.ID, ErrInvalidParent)
		}
		pos = pos.Add(parent.Position)
		seen[parent.ID] = true
		chain = append(chain, parent.ID)
		n = parent
	}
	return pos, nil
}

// IsAncestor reports whether ancestorID appears in the parent chain of id.
func (g *Graph) IsAncestor(ancestorID, id string) bool {
	n := g.FindNode(id)
	for steps := 0; n != nil && n.ParentID != "" && steps <= len(g.Nodes); steps++ {
		if n.ParentID == ancestorID {
			return true
		}
		n = g.FindNode(n.ParentID)
	}
	return false
}

// moveAfter relocates the node with id to immediately follow the node with
// afterID in the sequence.
func (g *Graph) moveAfter(id, afterID string) {
	i := g.nodeIndex(id)
	if i < 0 {
		return
	}
	n := g.Nodes[i]
	g.Nodes = append(g.Nodes[:i], g.Nodes[i+1:]...)
	j := g.nodeIndex(afterID)
	if j < 0 {
		g.Nodes = append(g.Nodes, n)
		return
	}
	g.Nodes = append(g.Nodes, Node{})
	copy(g.Nodes[j+2:], g.Nodes[j+1:])
	g.Nodes[j+1] = n
}

// Repair detaches nodes whose parent is missing or whose parent chain loops,
// and prunes dangling edges. When isGroup is non-nil it also enforces
// single-level containment: groups are detached from any parent, nodes under
// a non-group are detached, and contained nodes are moved to follow their
// parent. Detached nodes keep their absolute position where it can be
// computed. It returns the ids of detached nodes.
func (g *Graph) Repair(isGroup func(NodeType) bool) []string {
	var detached []string
	detach := func(n *Node) {
		if abs, err := g.AbsolutePosition(n.ID); err == nil {
			n.Position = abs
		}
		n.ParentID = ""
		n.Extent = ""
		detached = append(detached, n.ID)
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ParentID == "" {
			continue
		}
		if _, err := g.AbsolutePosition(n.ID); err != nil {
			n.ParentID = ""
			n.Extent = ""
			detached = append(detached, n.ID)
		}
	}
	if isGroup == nil {
		g.PruneEdges()
		return detached
	}

	// Groups first, so every remaining group is top level.
	for i := range g.Nodes {
		if n := &g.Nodes[i]; n.ParentID != "" && isGroup(n.Type) {
			detach(n)
		}
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ParentID == "" {
			continue
		}
		if p := g.FindNode(n.ParentID); p == nil || !isGroup(p.Type) {
			detach(n)
		}
	}

	var misplaced []string
	for i, n := range g.Nodes {
		if n.ParentID != "" && g.nodeIndex(n.ParentID) > i {
			misplaced = append(misplaced, n.ID)
		}
	}
	// Reverse order keeps siblings in their original relative order.
	for i := len(misplaced) - 1; i >= 0; i-- {
		g.moveAfter(misplaced[i], g.FindNode(misplaced[i]).ParentID)
	}

	g.PruneEdges()
	return detached
}
