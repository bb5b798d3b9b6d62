package editor

import (
	"strings"

	"agentflow/services/flow"
)

// OpenRequest selects the project to edit.
type OpenRequest struct {
	ProjectID int `json:"projectId"`
}

// CreateProjectRequest is the body of POST /projects. Empty fields take the
// defaults offered for new projects.
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DropRequest is a palette item released at an absolute canvas position.
type DropRequest struct {
	Item     flow.DropItem  `json:"item"`
	Position *flow.Position `json:"position"`
}

// PointerRequest carries the pointer position of a drag over the canvas.
type PointerRequest struct {
	Position *flow.Position `json:"position"`
}

// DataPatch merges Data into a node's or edge's data, under Scope when set.
type DataPatch struct {
	Data  map[string]any `json:"data"`
	Scope string         `json:"scope,omitempty"`
}

// SendRequest is a chat message from the user.
type SendRequest struct {
	Content string `json:"content"`
}

// OpenResponse describes the workspace after a project is opened.
type OpenResponse struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Flow        flow.Flow `json:"flow"`
}

// ConnectResponse reports whether a connection produced an edge.
type ConnectResponse struct {
	Created bool       `json:"created"`
	Edge    *flow.Edge `json:"edge,omitempty"`
}

// DragOverResponse names the group under the pointer, empty when none.
type DragOverResponse struct {
	HoveredGroupID string `json:"hoveredGroupId"`
}

func validateDrop(req DropRequest) error {
	if req.Item.Type == "" {
		return errMissing("item.id")
	}
	if req.Position == nil {
		return errMissing("position")
	}
	return nil
}

func validateConnection(c flow.Connection) error {
	if c.Source == "" {
		return errMissing("source")
	}
	if c.Target == "" {
		return errMissing("target")
	}
	return nil
}

func validatePatch(p DataPatch) error {
	if p.Data == nil {
		return errMissing("data")
	}
	if p.Scope != "" && strings.TrimSpace(p.Scope) == "" {
		return errInvalid("scope")
	}
	return nil
}

type validationError struct {
	field string
	kind  string
}

func (e *validationError) Error() string {
	if e.kind == "missing" {
		return e.field + " is required"
	}
	return e.field + " is invalid"
}

func errMissing(field string) error { return &validationError{field: field, kind: "missing"} }
func errInvalid(field string) error { return &validationError{field: field, kind: "invalid"} }
