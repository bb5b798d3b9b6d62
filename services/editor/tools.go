package editor

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"agentflow/pkg/notice"
	"agentflow/services/tool"
)

// HandleListTools returns the tool catalog.
func (s *Service) HandleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.tools.ListTools(r.Context())
	if err != nil {
		slog.Error("Failed to list tools", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list tools")
		return
	}
	if tools == nil {
		tools = []tool.Tool{}
	}
	writeJSON(w, http.StatusOK, tools)
}

// HandleParameterConfigs returns the stored parameter values of one node.
func (s *Service) HandleParameterConfigs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, errInvalid("id").Error())
		return
	}
	q := r.URL.Query()
	scope := tool.Scope{AgentID: q.Get("agent_id"), NodeID: q.Get("node_id")}
	if scope.NodeID == "" {
		writeError(w, http.StatusBadRequest, errMissing("node_id").Error())
		return
	}
	writeJSON(w, http.StatusOK, s.tools.ParameterConfigs(r.Context(), id, scope))
}

// HandleNotices returns the most recent notices, oldest first.
func (s *Service) HandleNotices(w http.ResponseWriter, r *http.Request) {
	recent := s.notices.Recent()
	if recent == nil {
		recent = []notice.Notice{}
	}
	writeJSON(w, http.StatusOK, recent)
}
