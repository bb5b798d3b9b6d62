package editor

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"agentflow/services/flow"
	"agentflow/services/project"
)

// HandleListProjects returns the user's projects.
func (s *Service) HandleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.List(r.Context())
	if err != nil {
		slog.Error("Failed to list projects", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if projects == nil {
		projects = []project.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// HandleCreateProject creates a project seeded with the sample flow.
func (s *Service) HandleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	np, err := project.NewProject{Name: req.Name, Description: req.Description}.Defaults()
	if err != nil {
		slog.Error("Failed to build seed flow", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	p, err := s.store.Create(r.Context(), np)
	if err != nil {
		slog.Error("Failed to create project", "name", np.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// HandleOpen loads a project into the workspace.
func (s *Service) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID <= 0 {
		writeError(w, http.StatusBadRequest, errMissing("projectId").Error())
		return
	}
	slog.Debug("Opening project", "project_id", req.ProjectID)

	p, err := s.Open(r.Context(), req.ProjectID)
	if errors.Is(err, project.ErrNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		slog.Error("Failed to open project", "project_id", req.ProjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, OpenResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Flow:        s.editor.Snapshot(),
	})
}

// HandleGetFlow returns the working copy of the open graph.
func (s *Service) HandleGetFlow(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.editor.Snapshot())
}

// HandlePalette returns the node types offered for dropping.
func (s *Service) HandlePalette(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.editor.Registry().Catalog())
}

// HandleStatus reports whether the graph has unsaved edits.
func (s *Service) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sync.Status())
}

// HandleSave flushes pending edits without waiting for the autosave window.
func (s *Service) HandleSave(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	if err := s.sync.Flush(r.Context()); err != nil {
		slog.Error("Manual save failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to save project")
		return
	}
	writeJSON(w, http.StatusOK, s.sync.Status())
}

// HandleNodeChanges applies a node change batch from the canvas.
func (s *Service) HandleNodeChanges(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	var changes []flow.NodeChange
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res := s.editor.ApplyNodeChanges(changes)
	s.metrics.RecordChangeBatch(r.Context(), "node", res.Applied, res.Skipped)
	writeJSON(w, http.StatusOK, res)
}

// HandleEdgeChanges applies an edge change batch from the canvas.
func (s *Service) HandleEdgeChanges(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	var changes []flow.EdgeChange
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res := s.editor.ApplyEdgeChanges(changes)
	s.metrics.RecordChangeBatch(r.Context(), "edge", res.Applied, res.Skipped)
	writeJSON(w, http.StatusOK, res)
}

// HandleConnect turns a proposed connection into an edge. A rejected
// connection is not an error.
func (s *Service) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	var conn flow.Connection
	if err := json.NewDecoder(r.Body).Decode(&conn); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateConnection(conn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	edge, ok := s.editor.Connect(conn)
	if !ok {
		writeJSON(w, http.StatusOK, ConnectResponse{})
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{Created: true, Edge: &edge})
}

// HandleDrop adds a node for a palette item.
func (s *Service) HandleDrop(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	var req DropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateDrop(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.editor.Drop(req.Item, *req.Position)
	if errors.Is(err, flow.ErrUnknownType) {
		writeError(w, http.StatusBadRequest, errInvalid("item.id").Error())
		return
	}
	if err != nil {
		slog.Error("Drop failed", "type", req.Item.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// HandleDragOver highlights the group under the pointer.
func (s *Service) HandleDragOver(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	var req PointerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Position == nil {
		writeError(w, http.StatusBadRequest, errMissing("position").Error())
		return
	}
	writeJSON(w, http.StatusOK, DragOverResponse{HoveredGroupID: s.editor.DragOver(*req.Position)})
}

// HandleDragLeave clears the group highlight.
func (s *Service) HandleDragLeave(w http.ResponseWriter, r *http.Request) {
	if !s.ensureProject(w) {
		return
	}
	s.editor.DragLeave()
	writeJSON(w, http.StatusOK, DragOverResponse{})
}

// HandleNodeData merges a dataset into a node's data.
func (s *Service) HandleNodeData(w http.ResponseWriter, r *http.Request) {
	s.patchData(w, r, s.editor.SetNodeData, flow.ErrNodeNotFound, "node not found")
}

// HandleEdgeData merges a dataset into an edge's data.
func (s *Service) HandleEdgeData(w http.ResponseWriter, r *http.Request) {
	s.patchData(w, r, s.editor.SetEdgeData, flow.ErrEdgeNotFound, "edge not found")
}

func (s *Service) patchData(w http.ResponseWriter, r *http.Request,
	set func(id string, data map[string]any, scope string) error, notFound error, notFoundMsg string) {
	if !s.ensureProject(w) {
		return
	}
	id := mux.Vars(r)["id"]
	var patch DataPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validatePatch(patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := set(id, patch.Data, patch.Scope)
	if errors.Is(err, notFound) {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	if err != nil {
		slog.Error("Data patch failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) ensureProject(w http.ResponseWriter) bool {
	if err := s.requireProject(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
