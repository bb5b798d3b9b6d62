package flow

// Flow is the serialized form of a graph: the snapshot handed to the project
// store and the shape the renderer exchanges with the editor.
type Flow struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node represents a single element on the canvas.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Width    *float64       `json:"width,omitempty"`
	Height   *float64       `json:"height,omitempty"`
	ParentID string         `json:"parentId,omitempty"`
	Extent   string         `json:"extent,omitempty"` // "parent" while contained in a group
	Data     map[string]any `json:"data"`
	Selected bool           `json:"selected,omitempty"`
	Dragging bool           `json:"dragging,omitempty"`
}

// Position holds x/y canvas coordinates. For a node with a parent the
// position is relative to the parent, otherwise it is absolute.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns the component-wise sum of p and o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y}
}

// Sub returns the component-wise difference p - o.
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y}
}

// Size is a resolved node width/height.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// EdgeKind classifies an edge at connect time.
type EdgeKind string

const (
	EdgePlain    EdgeKind = "plain"
	EdgeConverse EdgeKind = "converse"
)

// Edge represents a directed connection between two nodes.
type Edge struct {
	ID           string         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	SourceHandle string         `json:"sourceHandle,omitempty"`
	TargetHandle string         `json:"targetHandle,omitempty"`
	Animated     bool           `json:"animated,omitempty"`
	Kind         EdgeKind       `json:"type,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Selected     bool           `json:"selected,omitempty"`
}

// ExtentParent constrains a contained node to its parent's bounds.
const ExtentParent = "parent"

// Clone returns a deep copy of the flow. Nested maps and slices inside
// node and edge data are copied as well.
func (f Flow) Clone() Flow {
	out := Flow{
		Nodes: make([]Node, len(f.Nodes)),
		Edges: make([]Edge, len(f.Edges)),
	}
	for i, n := range f.Nodes {
		out.Nodes[i] = n.clone()
	}
	for i, e := range f.Edges {
		out.Edges[i] = e.clone()
	}
	return out
}

func (n Node) clone() Node {
	c := n
	if n.Width != nil {
		w := *n.Width
		c.Width = &w
	}
	if n.Height != nil {
		h := *n.Height
		c.Height = &h
	}
	c.Data = cloneMap(n.Data)
	return c
}

func (e Edge) clone() Edge {
	c := e
	c.Data = cloneMap(e.Data)
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		s := make([]any, len(t))
		for i := range t {
			s[i] = cloneValue(t[i])
		}
		return s
	default:
		return v
	}
}

// Name returns the human-readable name stored in the node data.
func (n Node) Name() string {
	s, _ := n.Data["name"].(string)
	return s
}

// Float returns a pointer to v. Used for optional width/height fields.
func Float(v float64) *float64 { return &v }
