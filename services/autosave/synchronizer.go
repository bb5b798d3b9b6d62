// Package autosave replicates the editor's working graph to the project
// store. Edits mark the graph dirty; after a quiet window the current graph
// is written with one store call.
package autosave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"agentflow/pkg/notice"
	"agentflow/pkg/telemetry"
	"agentflow/services/flow"
	"agentflow/services/project"
)

// DefaultWindow is the quiescence window between the last edit and a flush.
const DefaultWindow = 500 * time.Millisecond

// Source provides the graph to persist. *flow.Editor implements it.
type Source interface {
	Snapshot() flow.Flow
}

// Updater is the part of project.Store the synchronizer writes through.
type Updater interface {
	UpdateFlow(ctx context.Context, id int, f flow.Flow) (*project.Project, error)
}

// Synchronizer debounces dirty marks into flushes. Every MarkDirty restarts
// the window, so a burst of edits produces one flush carrying the graph as
// it is when the window elapses.
type Synchronizer struct {
	store    Updater
	source   Source
	window   time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  telemetry.MetricsRecorder
	notifier notice.Notifier

	flushMu sync.Mutex

	mu        sync.Mutex
	projectID int
	persisted flow.Flow
	savedAt   time.Time
	dirty     bool
	gen       uint64
	timer     *time.Timer
	guard     bool
	closed    bool
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithWindow sets the quiescence window. Non-positive values keep the default.
func WithWindow(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithTimeout bounds each store call made by a timer-driven flush.
func WithTimeout(d time.Duration) Option { return func(s *Synchronizer) { s.timeout = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Synchronizer) { s.logger = l } }

func WithMetrics(m telemetry.MetricsRecorder) Option { return func(s *Synchronizer) { s.metrics = m } }

func WithNotifier(n notice.Notifier) Option { return func(s *Synchronizer) { s.notifier = n } }

// New returns a synchronizer with no project loaded. Marks are ignored until
// Load is called.
func New(store Updater, source Source, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store:    store,
		source:   source,
		window:   DefaultWindow,
		timeout:  30 * time.Second,
		logger:   slog.Default(),
		metrics:  telemetry.NoopMetrics{},
		notifier: notice.Discard{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load sets p as the persisted copy and cancels any pending flush. The first
// mark after a load is dropped when the graph still equals p's flow, so
// hydrating the editor never writes back what was just read.
func (s *Synchronizer) Load(p project.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.projectID = p.ID
	s.persisted = p.Flow.Clone()
	s.savedAt = p.UpdatedAt
	s.dirty = false
	s.guard = true
	s.gen++
}

// MarkDirty records an edit and restarts the flush window.
func (s *Synchronizer) MarkDirty() {
	s.mu.Lock()
	if s.closed || s.projectID == 0 {
		s.mu.Unlock()
		return
	}
	if s.guard {
		s.guard = false
		persisted := s.persisted
		s.mu.Unlock()
		if !Changed(persisted, s.current()) {
			s.logger.Debug("initial load mark suppressed")
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
	}
	defer s.mu.Unlock()

	s.dirty = true
	s.gen++
	gen := s.gen
	s.stopTimerLocked()
	s.timer = time.AfterFunc(s.window, func() { s.fire(gen) })
}

// current is the graph as it would be stored. Hover markers are dropped.
func (s *Synchronizer) current() flow.Flow {
	return flow.WithoutHover(s.source.Snapshot())
}

func (s *Synchronizer) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.logger.Error("autosave failed", "error", err)
	}
}

// Flush writes the current graph if it is dirty and differs from the
// persisted copy. On failure the graph stays dirty and the next MarkDirty
// schedules another attempt. A response for a project that is no longer
// loaded is discarded.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	projectID, gen, persisted, dirty := s.projectID, s.gen, s.persisted, s.dirty
	s.mu.Unlock()
	if !dirty || projectID == 0 {
		return nil
	}

	snap := s.current()
	if !Changed(persisted, snap) {
		s.mu.Lock()
		if s.projectID == projectID && s.gen == gen {
			s.dirty = false
		}
		s.mu.Unlock()
		return nil
	}

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "autosave.flush", attribute.Int("project_id", projectID))
	p, err := s.store.UpdateFlow(ctx, projectID, snap)
	telemetry.EndSpan(span, err)
	s.metrics.RecordFlush(ctx, projectID, time.Since(start), err)

	s.mu.Lock()
	if s.projectID != projectID {
		s.mu.Unlock()
		s.logger.Debug("discarding stale flush result", "project_id", projectID)
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		s.notifier.Notify(notice.Notice{
			Title:       "Error",
			Description: "Failed to save project",
			Variant:     notice.Destructive,
		})
		return fmt.Errorf("save project %d: %w", projectID, err)
	}
	s.persisted = snap
	if p != nil {
		s.savedAt = p.UpdatedAt
	}
	if s.gen == gen {
		s.dirty = false
	}
	s.mu.Unlock()

	s.logger.Debug("project saved", "project_id", projectID, "nodes", len(snap.Nodes), "edges", len(snap.Edges))
	return nil
}

// Status reports the synchronizer's state.
type Status struct {
	ProjectID    int       `json:"projectId"`
	Dirty        bool      `json:"dirty"`
	PendingFlush bool      `json:"pendingFlush"`
	SavedAt      time.Time `json:"savedAt,omitzero"`
}

func (s *Synchronizer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ProjectID:    s.projectID,
		Dirty:        s.dirty,
		PendingFlush: s.timer != nil,
		SavedAt:      s.savedAt,
	}
}

// Close cancels a pending flush without running it. Later marks are ignored.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
	s.gen++
}

func (s *Synchronizer) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
