package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"agentflow/pkg/notice"
	"agentflow/pkg/telemetry"
	"agentflow/services/autosave"
	"agentflow/services/chat"
	"agentflow/services/flow"
	"agentflow/services/project"
	"agentflow/services/tool"
)

// ToolCatalog is the part of the tool backend the editor panels read from.
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]tool.Tool, error)
	ParameterConfigs(ctx context.Context, toolID int, scope tool.Scope) map[string]any
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store    project.Store
	Tools    ToolCatalog
	Chats    chat.Backend
	Identity chat.Identity
	Notices  *notice.Log
	Metrics  telemetry.MetricsRecorder
	Logger   *slog.Logger

	// AutosaveWindow is the quiet period before an edit is flushed.
	AutosaveWindow time.Duration
}

// Service is the open editing workspace: one project graph and its chat
// session, exposed to the renderer over HTTP.
type Service struct {
	store   project.Store
	tools   ToolCatalog
	editor  *flow.Editor
	sync    *autosave.Synchronizer
	chat    *chat.Session
	notices *notice.Log
	metrics telemetry.MetricsRecorder
	logger  *slog.Logger

	openMu  sync.Mutex
	mu      sync.Mutex
	current *project.Project
}

// NewService wires the editor, the autosave synchronizer and the chat session
// around deps.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	notices := deps.Notices
	if notices == nil {
		notices = notice.NewLog(0)
	}

	ed := flow.NewEditor(flow.NewRegistry(), flow.WithLogger(logger))
	syncer := autosave.New(deps.Store, ed,
		autosave.WithWindow(deps.AutosaveWindow),
		autosave.WithLogger(logger),
		autosave.WithMetrics(metrics),
		autosave.WithNotifier(notices),
	)
	ed.SetDirtyHook(syncer.MarkDirty)

	opts := []chat.Option{
		chat.WithNotifier(notices),
		chat.WithMetrics(metrics),
		chat.WithLogger(logger),
	}
	if deps.Identity != nil {
		opts = append(opts, chat.WithIdentity(deps.Identity))
	}

	return &Service{
		store:   deps.Store,
		tools:   deps.Tools,
		editor:  ed,
		sync:    syncer,
		chat:    chat.NewSession(deps.Chats, opts...),
		notices: notices,
		metrics: metrics,
		logger:  logger,
	}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the editor HTTP handlers on the given router.
func (s *Service) LoadRoutes(router *mux.Router) {
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/projects", s.HandleListProjects).Methods("GET")
	router.HandleFunc("/projects", s.HandleCreateProject).Methods("POST")

	ed := router.PathPrefix("/editor").Subrouter()
	ed.HandleFunc("/open", s.HandleOpen).Methods("POST")
	ed.HandleFunc("/flow", s.HandleGetFlow).Methods("GET")
	ed.HandleFunc("/palette", s.HandlePalette).Methods("GET")
	ed.HandleFunc("/status", s.HandleStatus).Methods("GET")
	ed.HandleFunc("/save", s.HandleSave).Methods("POST")
	ed.HandleFunc("/nodes/changes", s.HandleNodeChanges).Methods("POST")
	ed.HandleFunc("/edges/changes", s.HandleEdgeChanges).Methods("POST")
	ed.HandleFunc("/connect", s.HandleConnect).Methods("POST")
	ed.HandleFunc("/drop", s.HandleDrop).Methods("POST")
	ed.HandleFunc("/dragover", s.HandleDragOver).Methods("POST")
	ed.HandleFunc("/dragleave", s.HandleDragLeave).Methods("POST")
	ed.HandleFunc("/nodes/{id}/data", s.HandleNodeData).Methods("PATCH")
	ed.HandleFunc("/edges/{id}/data", s.HandleEdgeData).Methods("PATCH")

	ch := router.PathPrefix("/chat").Subrouter()
	ch.HandleFunc("", s.HandleGetChat).Methods("GET")
	ch.HandleFunc("", s.HandleDeleteChat).Methods("DELETE")
	ch.HandleFunc("/start", s.HandleStartChat).Methods("POST")
	ch.HandleFunc("/send", s.HandleSend).Methods("POST")
	ch.HandleFunc("/abort", s.HandleAbort).Methods("POST")
	ch.HandleFunc("/refresh", s.HandleRefreshChat).Methods("POST")
	ch.HandleFunc("/attachment", s.HandleStageAttachment).Methods("POST")
	ch.HandleFunc("/attachment", s.HandleUnstageAttachment).Methods("DELETE")
	ch.HandleFunc("/messages", s.HandleClearMessages).Methods("DELETE")

	router.HandleFunc("/tools", s.HandleListTools).Methods("GET")
	router.HandleFunc("/tools/{id}/parameter-configs", s.HandleParameterConfigs).Methods("GET")
	router.HandleFunc("/notices", s.HandleNotices).Methods("GET")
}

// Open makes the project with the given id the workspace. Pending edits of
// the previous project are flushed first. The chat session is reset and
// resumes the project's latest chat.
func (s *Service) Open(ctx context.Context, id int) (*project.Project, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if s.sync.Status().Dirty {
		if err := s.sync.Flush(ctx); err != nil {
			s.logger.Warn("flush before switching project failed", "project_id", s.sync.Status().ProjectID, "error", err)
		}
	}

	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.sync.Load(*p)
	s.editor.Load(p.Flow)

	s.mu.Lock()
	s.current = p
	s.mu.Unlock()

	if err := s.chat.Open(ctx, p.ID, p.Name); err != nil {
		s.logger.Warn("resume chat failed", "project_id", p.ID, "error", err)
	}
	return p, nil
}

// Current returns the open project, nil when none is open.
func (s *Service) Current() *project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Shutdown flushes pending edits and stops the autosave timer.
func (s *Service) Shutdown(ctx context.Context) error {
	defer s.sync.Close()
	if !s.sync.Status().Dirty {
		return nil
	}
	if err := s.sync.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	return nil
}

var errNoProject = errors.New("no project open")

func (s *Service) requireProject() error {
	if s.Current() == nil {
		return errNoProject
	}
	return nil
}
