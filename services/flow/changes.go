package flow

// ChangeType tags an atomic change descriptor.
type ChangeType string

const (
	ChangePosition   ChangeType = "position"
	ChangeDimensions ChangeType = "dimensions"
	ChangeSelect     ChangeType = "select"
	ChangeRemove     ChangeType = "remove"
	ChangeAdd        ChangeType = "add"
)

// NodeChange is one entry of a node change batch as emitted by the canvas.
//
// For position changes, Position is expressed in the node's current frame
// (relative to its parent when it has one). Dragging is nil for programmatic
// moves, true while a drag is in progress and false on drag end. Dimension
// changes with Resizing set are intermediate and do not mark the graph dirty.
type NodeChange struct {
	Type       ChangeType `json:"type"`
	ID         string     `json:"id,omitempty"`
	Position   *Position  `json:"position,omitempty"`
	Dragging   *bool      `json:"dragging,omitempty"`
	Dimensions *Size      `json:"dimensions,omitempty"`
	Resizing   bool       `json:"resizing,omitempty"`
	Selected   bool       `json:"selected,omitempty"`
	Item       *Node      `json:"item,omitempty"`
}

// EdgeChange is one entry of an edge change batch.
type EdgeChange struct {
	Type     ChangeType `json:"type"`
	ID       string     `json:"id,omitempty"`
	Selected bool       `json:"selected,omitempty"`
	Item     *Edge      `json:"item,omitempty"`
}

// Connection is a proposed edge between two handles.
type Connection struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// DropItem describes a palette entry dropped onto the canvas.
type DropItem struct {
	Type        NodeType       `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	ClassType   string         `json:"class_type,omitempty"`
	Width       *float64       `json:"width,omitempty"`
	Height      *float64       `json:"height,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// BatchResult summarizes the outcome of applying a change batch.
type BatchResult struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	Dirty   bool     `json:"dirty"`
	Removed []string `json:"removed,omitempty"`
	// Reframed lists nodes whose parent or coordinate frame changed. Later
	// position changes for these nodes must use the reported frame.
	Reframed []NodeFrame `json:"reframed,omitempty"`
}

// NodeFrame is a node's frame after a drag moved it. Position is relative
// to ParentID, or absolute when ParentID is empty.
type NodeFrame struct {
	ID       string   `json:"id"`
	ParentID string   `json:"parentId,omitempty"`
	Position Position `json:"position"`
}

// Bool returns a pointer to v. Used for the optional Dragging field.
func Bool(v bool) *bool { return &v }
