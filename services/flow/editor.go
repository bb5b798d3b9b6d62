package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownType indicates a node type missing from the registry.
var ErrUnknownType = errors.New("flow: unknown node type")

// hoveredGroupKey is the data key on group nodes naming the group currently
// under a dragged node. Only present while something hovers.
const hoveredGroupKey = "hoveredGroupId"

// Editor applies change batches to one project's working graph. It is safe
// for concurrent use; batches are applied in call order.
type Editor struct {
	mu       sync.Mutex
	graph    *Graph
	registry Registry
	logger   *slog.Logger
	newID    func() string
	onDirty  func()
}

// EditorOption configures an Editor.
type EditorOption func(*Editor)

// WithLogger sets the logger used for skipped changes and repairs.
func WithLogger(l *slog.Logger) EditorOption {
	return func(e *Editor) { e.logger = l }
}

// WithIDGenerator replaces the uuid-based id generator.
func WithIDGenerator(fn func() string) EditorOption {
	return func(e *Editor) { e.newID = fn }
}

// WithDirtyHook registers fn to be called, outside the editor lock, after
// every mutation that changes persisted state.
func WithDirtyHook(fn func()) EditorOption {
	return func(e *Editor) { e.onDirty = fn }
}

// NewEditor creates an Editor over an empty graph.
func NewEditor(registry Registry, opts ...EditorOption) *Editor {
	e := &Editor{
		graph:    &Graph{},
		registry: registry,
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetDirtyHook replaces the dirty hook.
func (e *Editor) SetDirtyHook(fn func()) {
	e.mu.Lock()
	e.onDirty = fn
	e.mu.Unlock()
}

// Registry returns the node-type registry the editor dispatches on.
func (e *Editor) Registry() Registry { return e.registry }

// Load replaces the working graph with f. Broken containment and dangling
// edges are repaired. Loading never fires the dirty hook.
func (e *Editor) Load(f Flow) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.graph = NewGraph(f)
	if detached := e.graph.Repair(e.registry.IsGroup); len(detached) > 0 {
		e.logger.Warn("detached nodes with invalid containment", "nodes", detached)
	}
}

// Snapshot returns a deep copy of the working graph.
func (e *Editor) Snapshot() Flow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.Flow()
}

// Node returns a copy of the node with the given id.
func (e *Editor) Node(id string) (Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.graph.FindNode(id)
	if n == nil {
		return Node{}, false
	}
	return n.clone(), true
}

// AbsolutePosition returns the canvas position of the node.
func (e *Editor) AbsolutePosition(id string) (Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graph.AbsolutePosition(id)
}

// ApplyNodeChanges applies a node change batch in order. Invalid entries are
// logged and skipped; the rest of the batch is still applied.
func (e *Editor) ApplyNodeChanges(changes []NodeChange) BatchResult {
	e.mu.Lock()
	var res BatchResult
	for _, c := range changes {
		dirty, err := e.applyNodeChange(c, &res)
		if err != nil {
			e.logger.Warn("skipping node change", "type", c.Type, "id", c.ID, "error", err)
			res.Skipped++
			continue
		}
		res.Applied++
		res.Dirty = res.Dirty || dirty
	}
	hook := e.onDirty
	e.mu.Unlock()

	if res.Dirty && hook != nil {
		hook()
	}
	return res
}

func (e *Editor) applyNodeChange(c NodeChange, res *BatchResult) (dirty bool, err error) {
	switch c.Type {
	case ChangePosition:
		frame, err := e.applyPosition(c)
		if err != nil {
			return false, err
		}
		if frame != nil {
			res.Reframed = append(res.Reframed, *frame)
		}
		return true, nil
	case ChangeDimensions:
		if c.Dimensions == nil {
			return false, errors.New("dimensions change without dimensions")
		}
		n := e.graph.FindNode(c.ID)
		if n == nil {
			return false, fmt.Errorf("node %q: %w", c.ID, ErrNodeNotFound)
		}
		n.Width = Float(c.Dimensions.Width)
		n.Height = Float(c.Dimensions.Height)
		return !c.Resizing, nil
	case ChangeSelect:
		n := e.graph.FindNode(c.ID)
		if n == nil {
			return false, fmt.Errorf("node %q: %w", c.ID, ErrNodeNotFound)
		}
		n.Selected = c.Selected
		return false, nil
	case ChangeRemove:
		ids, err := e.graph.RemoveNode(c.ID)
		if err != nil {
			return false, err
		}
		res.Removed = append(res.Removed, ids...)
		return true, nil
	case ChangeAdd:
		if c.Item == nil {
			return false, errors.New("add change without item")
		}
		n := c.Item.clone()
		if err := e.checkParent(n); err != nil {
			return false, err
		}
		if err := e.graph.AddNode(n); err != nil {
			return false, err
		}
		if n.ParentID != "" {
			e.graph.moveAfter(n.ID, n.ParentID)
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown change type %q", c.Type)
	}
}

// checkParent enforces single-level containment for a node about to be
// added: groups are never contained and only top-level groups contain.
func (e *Editor) checkParent(n Node) error {
	if n.ParentID == "" {
		return nil
	}
	if e.registry.IsGroup(n.Type) {
		return fmt.Errorf("group %q cannot have a parent: %w", n.ID, ErrInvalidParent)
	}
	p := e.graph.FindNode(n.ParentID)
	if p == nil {
		return fmt.Errorf("add node %q under %q: %w", n.ID, n.ParentID, ErrInvalidParent)
	}
	if !e.registry.IsGroup(p.Type) {
		return fmt.Errorf("parent %q of %q is not a group: %w", p.ID, n.ID, ErrInvalidParent)
	}
	if p.ParentID != "" {
		return fmt.Errorf("parent %q of %q is nested: %w", p.ID, n.ID, ErrInvalidParent)
	}
	return nil
}

// applyPosition moves a node. Drag events also maintain group membership;
// the returned frame is non-nil when the node ends up in a different
// parent or coordinate frame than the change was expressed in.
func (e *Editor) applyPosition(c NodeChange) (*NodeFrame, error) {
	g := e.graph
	n := g.FindNode(c.ID)
	if n == nil {
		return nil, fmt.Errorf("node %q: %w", c.ID, ErrNodeNotFound)
	}
	if c.Position != nil {
		n.Position = *c.Position
	}
	if c.Dragging == nil {
		return nil, nil
	}
	n.Dragging = *c.Dragging
	if e.registry.IsGroup(n.Type) {
		return nil, nil
	}
	fromParent, fromPos := n.ParentID, n.Position

	abs, err := g.AbsolutePosition(n.ID)
	if err != nil {
		var cycle *CycleError
		if !errors.As(err, &cycle) && !errors.Is(err, ErrInvalidParent) {
			return nil, err
		}
		e.logger.Warn("detaching node with broken parent chain", "node_id", n.ID, "error", err)
		abs = n.Position
	}

	// Hit-test as if unparented.
	n.Position = abs
	n.ParentID = ""
	n.Extent = ""

	target := e.containingGroup(n.ID, abs)
	if *c.Dragging {
		e.setHover(target)
	} else {
		e.setHover("")
		if target != "" {
			e.reparent(n, target, abs)
		}
	}

	if n.ParentID == fromParent && n.Position == fromPos {
		return nil, nil
	}
	return &NodeFrame{ID: n.ID, ParentID: n.ParentID, Position: n.Position}, nil
}

// reparent places n inside group groupID given n's absolute position, and
// moves it to follow the group in the sequence.
func (e *Editor) reparent(n *Node, groupID string, abs Position) {
	groupAbs, err := e.graph.AbsolutePosition(groupID)
	if err != nil {
		e.logger.Warn("group position unavailable", "group_id", groupID, "error", err)
		return
	}
	n.ParentID = groupID
	n.Position = abs.Sub(groupAbs)
	n.Extent = ExtentParent
	e.graph.moveAfter(n.ID, groupID)
}

// containingGroup returns the id of the group whose bounds contain pos,
// ignoring excludeID and its descendants. Nested groups are never
// candidates. When several groups overlap, the topmost one (last in
// sequence order) wins.
func (e *Editor) containingGroup(excludeID string, pos Position) string {
	g := e.graph
	found := ""
	for i := range g.Nodes {
		c := &g.Nodes[i]
		if !e.registry.IsGroup(c.Type) || c.ID == excludeID || c.ParentID != "" {
			continue
		}
		if excludeID != "" && g.IsAncestor(excludeID, c.ID) {
			continue
		}
		size := e.registry.ResolveSize(*c)
		if pos.X >= c.Position.X && pos.X <= c.Position.X+size.Width &&
			pos.Y >= c.Position.Y && pos.Y <= c.Position.Y+size.Height {
			found = c.ID
		}
	}
	return found
}

func (e *Editor) setHover(groupID string) {
	for i := range e.graph.Nodes {
		n := &e.graph.Nodes[i]
		if !e.registry.IsGroup(n.Type) {
			continue
		}
		if groupID == "" {
			delete(n.Data, hoveredGroupKey)
			continue
		}
		if n.Data == nil {
			n.Data = make(map[string]any)
		}
		n.Data[hoveredGroupKey] = groupID
	}
}

// WithoutHover returns f without drag-hover markers. Hover is rendering
// state only and is never stored. f itself is left unmodified.
func WithoutHover(f Flow) Flow {
	cloned := false
	for i := range f.Nodes {
		if _, ok := f.Nodes[i].Data[hoveredGroupKey]; !ok {
			continue
		}
		if !cloned {
			f.Nodes = slices.Clone(f.Nodes)
			cloned = true
		}
		data := maps.Clone(f.Nodes[i].Data)
		delete(data, hoveredGroupKey)
		f.Nodes[i].Data = data
	}
	return f
}

// ApplyEdgeChanges applies an edge change batch in order. Only non-select
// changes dirty the graph.
func (e *Editor) ApplyEdgeChanges(changes []EdgeChange) BatchResult {
	e.mu.Lock()
	var res BatchResult
	for _, c := range changes {
		dirty, err := e.applyEdgeChange(c)
		if err != nil {
			e.logger.Warn("skipping edge change", "type", c.Type, "id", c.ID, "error", err)
			res.Skipped++
			continue
		}
		res.Applied++
		res.Dirty = res.Dirty || dirty
	}
	hook := e.onDirty
	e.mu.Unlock()

	if res.Dirty && hook != nil {
		hook()
	}
	return res
}

func (e *Editor) applyEdgeChange(c EdgeChange) (bool, error) {
	switch c.Type {
	case ChangeSelect:
		edge := e.graph.FindEdge(c.ID)
		if edge == nil {
			return false, fmt.Errorf("edge %q: %w", c.ID, ErrEdgeNotFound)
		}
		edge.Selected = c.Selected
		return false, nil
	case ChangeRemove:
		return true, e.graph.RemoveEdge(c.ID)
	case ChangeAdd:
		if c.Item == nil {
			return false, errors.New("add change without item")
		}
		return true, e.graph.AddEdge(c.Item.clone())
	default:
		return false, fmt.Errorf("unknown change type %q", c.Type)
	}
}

// Connect creates an edge for the connection. The edge is a converse edge,
// animated, exactly when both endpoints are conversable. A connection with an
// unresolved endpoint, or one that duplicates an existing edge, is a no-op.
func (e *Editor) Connect(conn Connection) (Edge, bool) {
	e.mu.Lock()
	src := e.graph.FindNode(conn.Source)
	dst := e.graph.FindNode(conn.Target)
	if src == nil || dst == nil {
		e.mu.Unlock()
		e.logger.Warn("ignoring connection with unknown endpoint",
			"source", conn.Source, "target", conn.Target)
		return Edge{}, false
	}
	for _, ex := range e.graph.Edges {
		if ex.Source == conn.Source && ex.Target == conn.Target &&
			ex.SourceHandle == conn.SourceHandle && ex.TargetHandle == conn.TargetHandle {
			e.mu.Unlock()
			return Edge{}, false
		}
	}

	edge := Edge{
		ID:           "edge_" + e.newID(),
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		TargetHandle: conn.TargetHandle,
		Kind:         EdgePlain,
	}
	if e.registry.IsConversable(src.Type) && e.registry.IsConversable(dst.Type) {
		edge.Kind = EdgeConverse
		edge.Animated = true
	}
	e.graph.Edges = append(e.graph.Edges, edge)
	hook := e.onDirty
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return edge, true
}

// Drop adds a node for the palette item at the absolute canvas position pos.
// A non-group node dropped inside a group is contained by it. The new node
// becomes the only selected node.
func (e *Editor) Drop(item DropItem, pos Position) (Node, error) {
	capability, ok := e.registry.Lookup(item.Type)
	if !ok {
		return Node{}, fmt.Errorf("drop %q: %w", item.Type, ErrUnknownType)
	}

	data := cloneMap(capability.Defaults)
	if data == nil {
		data = make(map[string]any)
	}
	data["id"] = string(item.Type)
	data["name"] = firstNonEmpty(item.Name, capability.Name)
	data["description"] = firstNonEmpty(item.Description, capability.Description)
	data["class_type"] = firstNonEmpty(item.ClassType, capability.ClassType)
	for k, v := range cloneMap(item.Data) {
		data[k] = v
	}

	n := Node{
		ID:       fmt.Sprintf("%s_%s", item.Type, e.newID()),
		Type:     item.Type,
		Position: pos,
		Data:     data,
		Selected: true,
	}
	if item.Width != nil {
		n.Width = Float(*item.Width)
	}
	if item.Height != nil {
		n.Height = Float(*item.Height)
	}

	e.mu.Lock()
	for i := range e.graph.Nodes {
		e.graph.Nodes[i].Selected = false
	}
	e.setHover("")

	target := ""
	if !capability.Group {
		target = e.containingGroup("", pos)
	}
	e.graph.Nodes = append(e.graph.Nodes, n)
	if target != "" {
		added := &e.graph.Nodes[len(e.graph.Nodes)-1]
		e.reparent(added, target, pos)
	}
	out := e.graph.FindNode(n.ID).clone()
	hook := e.onDirty
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

// DragOver highlights the group under pos while a palette item is dragged
// over the canvas. It returns the hovered group id, empty when none.
func (e *Editor) DragOver(pos Position) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	target := e.containingGroup("", pos)
	e.setHover(target)
	return target
}

// DragLeave clears any group highlight.
func (e *Editor) DragLeave() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setHover("")
}

// SetNodeData merges dataset into the node's data. With a non-empty scope the
// dataset is merged into the nested map under that key instead.
func (e *Editor) SetNodeData(id string, dataset map[string]any, scope string) error {
	e.mu.Lock()
	n := e.graph.FindNode(id)
	if n == nil {
		e.mu.Unlock()
		return fmt.Errorf("set data on %q: %w", id, ErrNodeNotFound)
	}
	n.Data = mergeData(n.Data, dataset, scope)
	hook := e.onDirty
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

// SetEdgeData merges dataset into the edge's data, like SetNodeData.
func (e *Editor) SetEdgeData(id string, dataset map[string]any, scope string) error {
	e.mu.Lock()
	edge := e.graph.FindEdge(id)
	if edge == nil {
		e.mu.Unlock()
		return fmt.Errorf("set data on %q: %w", id, ErrEdgeNotFound)
	}
	edge.Data = mergeData(edge.Data, dataset, scope)
	hook := e.onDirty
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func mergeData(dst, dataset map[string]any, scope string) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	if scope == "" {
		for k, v := range cloneMap(dataset) {
			dst[k] = v
		}
		return dst
	}
	nested, _ := dst[scope].(map[string]any)
	if nested == nil {
		nested = make(map[string]any)
	}
	for k, v := range cloneMap(dataset) {
		nested[k] = v
	}
	dst[scope] = nested
	return dst
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
