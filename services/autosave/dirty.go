package autosave

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"agentflow/services/flow"
)

// uiLocal lists fields that change while the user interacts with the canvas
// without changing the project.
var uiLocal = cmp.Options{
	cmpopts.IgnoreFields(flow.Node{}, "Selected", "Dragging"),
	cmpopts.IgnoreFields(flow.Edge{}, "Selected"),
	cmpopts.EquateEmpty(),
}

// Changed reports whether current differs from persisted in anything other
// than selection and drag state.
func Changed(persisted, current flow.Flow) bool {
	return !cmp.Equal(persisted, current, uiLocal)
}

// Diff describes how current differs from persisted. Empty when unchanged.
func Diff(persisted, current flow.Flow) string {
	return cmp.Diff(persisted, current, uiLocal)
}
