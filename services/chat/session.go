package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"agentflow/pkg/notice"
	"agentflow/pkg/telemetry"
	"agentflow/services/tool"
)

// ErrNoProject is returned when a session is started before a project is open.
var ErrNoProject = errors.New("chat: no project open")

// Session owns the chat state of the open project: the active chat, its
// transcript and the single staged attachment. Sends are serialized per
// bound project; Abort is not and always leaves the local status aborted.
type Session struct {
	backend  Backend
	identity Identity
	notifier notice.Notifier
	metrics  telemetry.MetricsRecorder
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	mu          sync.Mutex
	projectID   int
	projectName string
	chat        Chat
	messages    []Message
	sending     bool
	bindGen     uint64
	aborted     bool
	staged      *tool.Upload
}

// Option configures a Session.
type Option func(*Session)

func WithIdentity(id Identity) Option { return func(s *Session) { s.identity = id } }

func WithNotifier(n notice.Notifier) Option { return func(s *Session) { s.notifier = n } }

func WithMetrics(m telemetry.MetricsRecorder) Option { return func(s *Session) { s.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithIDGenerator overrides the generator for optimistic message ids.
func WithIDGenerator(f func() string) Option { return func(s *Session) { s.newID = f } }

func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// NewSession returns a session with no project and no chat.
func NewSession(backend Backend, opts ...Option) *Session {
	s := &Session{
		backend:  backend,
		identity: anonymous{},
		notifier: notice.Discard{},
		metrics:  telemetry.NoopMetrics{},
		logger:   slog.Default(),
		newID:    uuid.NewString,
		now:      time.Now,
		chat:     Chat{ID: NoSession, Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State is a point-in-time copy of the session.
type State struct {
	ID         int       `json:"id"`
	ProjectID  int       `json:"projectId"`
	Name       string    `json:"name,omitempty"`
	Status     Status    `json:"status"`
	Sending    bool      `json:"sending"`
	Attachment string    `json:"attachment,omitempty"`
	Messages   []Message `json:"messages"`
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		ID:        s.chat.ID,
		ProjectID: s.projectID,
		Name:      s.chat.Name,
		Status:    s.chat.Status,
		Sending:   s.sending,
		Messages:  slices.Clone(s.messages),
	}
	if st.Messages == nil {
		st.Messages = []Message{}
	}
	if s.staged != nil {
		st.Attachment = s.staged.Filename
	}
	return st
}

// Bind resets the session to the given project with no chat. Responses to
// requests issued before the reset are discarded.
func (s *Session) Bind(projectID int, projectName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projectID = projectID
	s.projectName = projectName
	s.chat = Chat{ID: NoSession, Status: StatusIdle}
	s.messages = nil
	s.aborted = false
	s.staged = nil
	s.bindGen++
	s.sending = false
}

// Open binds the project and resumes its most recent chat when the backend
// has one. Failing to list chats leaves the session without a chat.
func (s *Session) Open(ctx context.Context, projectID int, projectName string) error {
	s.Bind(projectID, projectName)

	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.logger.Warn("list chats failed", "project_id", projectID, "error", err)
		return nil
	}
	var latest *Chat
	for i := range chats {
		c := &chats[i]
		if c.FromProject != projectID {
			continue
		}
		if latest == nil || c.ID > latest.ID {
			latest = c
		}
	}
	if latest == nil {
		return nil
	}
	return s.Resume(ctx, *latest)
}

// Resume makes c the active chat and fetches its transcript.
func (s *Session) Resume(ctx context.Context, c Chat) error {
	if c.Status == "" {
		c.Status = StatusIdle
	}
	s.mu.Lock()
	s.chat = c
	s.messages = nil
	s.aborted = false
	s.mu.Unlock()
	return s.refresh(ctx, c.ID)
}

// Start creates a new chat for the bound project and makes it active.
func (s *Session) Start(ctx context.Context) (*Chat, error) {
	c, err := s.start(ctx)
	if err != nil && !errors.Is(err, ErrStale) {
		s.notify("Error", "Failed to start new chat", notice.Destructive)
	}
	return c, err
}

func (s *Session) start(ctx context.Context) (*Chat, error) {
	s.mu.Lock()
	projectID, name := s.projectID, s.projectName
	s.mu.Unlock()
	if projectID == 0 {
		return nil, ErrNoProject
	}

	c, err := s.backend.CreateChat(ctx, ForProject(projectID, name, s.identity.UserID()))
	if err != nil {
		s.logger.Error("create chat failed", "project_id", projectID, "error", err)
		return nil, fmt.Errorf("create chat: %w", err)
	}
	if c.Status == "" {
		c.Status = StatusIdle
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.projectID != projectID {
		s.logger.Debug("discarding stale chat", "project_id", projectID, "chat_id", c.ID)
		return nil, ErrStale
	}
	s.chat = *c
	s.messages = []Message{}
	s.aborted = false
	return c, nil
}

// Stage replaces the pending attachment for the next send.
func (s *Session) Stage(u tool.Upload) error {
	if u.Filename == "" {
		return errors.New("attachment filename is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = &u
	return nil
}

// Unstage drops the pending attachment.
func (s *Session) Unstage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = nil
}

// Send posts content as the user's next turn. An empty message, a send
// already in flight and a running agent are rejected without a message
// post. The optimistic transcript entry is replaced by the refetched
// transcript on success and removed on failure.
func (s *Session) Send(ctx context.Context, content string) error {
	start := s.now()
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		s.notify("Invalid message", "Message cannot be empty", notice.Destructive)
		s.metrics.RecordSend(ctx, telemetry.SendRejected, 0)
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		s.notify("Please wait", "A message is already being sent", notice.Default)
		s.metrics.RecordSend(ctx, telemetry.SendRejected, 0)
		return ErrSendInFlight
	}
	s.sending = true
	s.aborted = false
	chatID := s.chat.ID
	gen := s.bindGen
	s.mu.Unlock()

	// A send that outlives a Bind must not release the next project's lock.
	defer func() {
		s.mu.Lock()
		if s.bindGen == gen {
			s.sending = false
		}
		s.mu.Unlock()
	}()

	ctx, span := telemetry.StartSpan(ctx, "chat.send", attribute.Int("chat_id", chatID))
	err := s.send(ctx, chatID, trimmed)
	telemetry.EndSpan(span, err)

	switch {
	case err == nil:
		s.metrics.RecordSend(ctx, telemetry.SendOK, s.now().Sub(start))
	case errors.Is(err, ErrAgentRunning), errors.Is(err, ErrStale):
		s.metrics.RecordSend(ctx, telemetry.SendRejected, 0)
	default:
		s.metrics.RecordSend(ctx, telemetry.SendFailed, s.now().Sub(start))
	}
	return err
}

func (s *Session) send(ctx context.Context, chatID int, content string) error {
	if chatID == NoSession {
		c, err := s.Start(ctx)
		if err != nil {
			return err
		}
		chatID = c.ID
	}

	sender := s.identity.Email()
	temp := Message{
		ID:        MessageID(s.newID()),
		ChatID:    chatID,
		Type:      MessageUser,
		Sender:    sender,
		Content:   content,
		CreatedAt: s.now(),
		Pending:   true,
	}

	s.mu.Lock()
	if s.chat.ID != chatID {
		s.mu.Unlock()
		return ErrStale
	}
	s.messages = append(s.messages, temp)
	status := s.chat.Status
	staged := s.staged
	s.mu.Unlock()

	if status == StatusRunning {
		s.retract(chatID, temp.ID)
		s.notify("Agent is running", "Please wait until the agent completes.", notice.Default)
		return ErrAgentRunning
	}

	if sender == "" {
		sender = "unknown"
	}
	out := Outgoing{
		Type:    MessageUser,
		Content: content,
		Sender:  sender,
		UserID:  s.identity.UserID(),
	}

	if staged != nil {
		att, err := s.backend.UploadAttachment(ctx, *staged)
		if err != nil {
			return s.sendFailed(ctx, chatID, temp.ID, fmt.Errorf("upload attachment: %w", err))
		}
		s.mu.Lock()
		if s.staged == staged {
			s.staged = nil
		}
		s.mu.Unlock()
		out.Meta = att.Meta()
	}

	var err error
	if status == StatusWaitForHumanInput {
		err = s.backend.SupplyInput(ctx, chatID, out)
	} else {
		err = s.backend.PostMessage(ctx, chatID, out)
	}
	if err != nil {
		return s.sendFailed(ctx, chatID, temp.ID, fmt.Errorf("post message: %w", err))
	}

	if err := s.refresh(ctx, chatID); err != nil {
		s.logger.Warn("refresh after send failed", "chat_id", chatID, "error", err)
	}
	s.notify("Message sent", "Response received successfully", notice.Default)
	return nil
}

func (s *Session) sendFailed(ctx context.Context, chatID int, tempID MessageID, err error) error {
	s.logger.Error("send message failed", "chat_id", chatID, "error", err)
	s.retract(chatID, tempID)
	s.notify("Error", "Failed to send message", notice.Destructive)
	if rerr := s.refresh(ctx, chatID); rerr != nil {
		s.logger.Warn("refresh after failed send failed", "chat_id", chatID, "error", rerr)
	}
	return err
}

func (s *Session) retract(chatID int, id MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat.ID != chatID {
		return
	}
	s.messages = slices.DeleteFunc(s.messages, func(m Message) bool { return m.ID == id })
}

// Abort stops the active chat. The local status becomes aborted before the
// request is sent and again after it settles, whatever the outcome, and the
// transcript is refetched. Abort does not wait for an in-flight send.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.chat.ID
	if chatID == NoSession {
		s.mu.Unlock()
		return ErrNoSession
	}
	s.chat.Status = StatusAborted
	s.aborted = true
	s.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "chat.abort", attribute.Int("chat_id", chatID))
	res, err := s.backend.Abort(ctx, chatID)
	if err == nil && res != nil && res.Error != "" {
		err = errors.New(res.Error)
	}

	s.mu.Lock()
	if s.chat.ID == chatID {
		s.chat.Status = StatusAborted
		s.aborted = true
	}
	s.mu.Unlock()

	s.metrics.RecordAbort(ctx, err)
	if err != nil {
		s.logger.Error("abort failed", "chat_id", chatID, "error", err)
		s.notify("Agent Stop Requested", "Force stop command sent", notice.Destructive)
	} else {
		detail := "Agent successfully terminated"
		if res != nil && res.Detail != "" {
			detail = res.Detail
		}
		s.notify("Agent Stopped", detail, notice.Default)
	}

	if rerr := s.refresh(ctx, chatID); rerr != nil {
		s.logger.Warn("refresh after abort failed", "chat_id", chatID, "error", rerr)
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return fmt.Errorf("abort chat %d: %w", chatID, err)
	}
	return nil
}

// ClearMessages deletes the active chat's transcript.
func (s *Session) ClearMessages(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.chat.ID
	s.mu.Unlock()
	if chatID == NoSession {
		return ErrNoSession
	}

	if err := s.backend.ClearMessages(ctx, chatID); err != nil {
		s.logger.Error("clear messages failed", "chat_id", chatID, "error", err)
		s.notify("Error", "Failed to clear messages", notice.Destructive)
		return fmt.Errorf("clear messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat.ID == chatID {
		s.messages = []Message{}
	}
	return nil
}

// Delete removes the active chat on the backend and leaves the session
// without a chat.
func (s *Session) Delete(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.chat.ID
	s.mu.Unlock()
	if chatID == NoSession {
		return ErrNoSession
	}

	if err := s.backend.DeleteChat(ctx, chatID); err != nil {
		s.logger.Error("delete chat failed", "chat_id", chatID, "error", err)
		s.notify("Error", "Failed to delete chat", notice.Destructive)
		return fmt.Errorf("delete chat: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat.ID == chatID {
		s.chat = Chat{ID: NoSession, Status: StatusIdle}
		s.messages = nil
		s.aborted = false
	}
	return nil
}

// Refresh refetches the transcript and status of the active chat.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	chatID := s.chat.ID
	s.mu.Unlock()
	if chatID == NoSession {
		return ErrNoSession
	}
	return s.refresh(ctx, chatID)
}

// refresh replaces the transcript with the backend's copy and adopts the
// backend status unless the session was aborted locally. Responses for a
// chat that is no longer active are dropped.
func (s *Session) refresh(ctx context.Context, chatID int) error {
	msgs, err := s.backend.ListMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("fetch messages: %w", err)
	}

	var status Status
	chats, err := s.backend.ListChats(ctx)
	if err != nil {
		s.logger.Debug("status refresh failed", "chat_id", chatID, "error", err)
	}
	for _, c := range chats {
		if c.ID == chatID {
			status = c.Status
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chat.ID != chatID {
		s.logger.Debug("discarding stale messages", "chat_id", chatID, "active", s.chat.ID)
		return nil
	}
	if msgs == nil {
		msgs = []Message{}
	}
	s.messages = msgs
	if status != "" && !s.aborted {
		s.chat.Status = status
	}
	return nil
}

func (s *Session) notify(title, description string, v notice.Variant) {
	s.notifier.Notify(notice.Notice{Title: title, Description: description, Variant: v, At: s.now()})
}

type anonymous struct{}

func (anonymous) UserID() int   { return 0 }
func (anonymous) Email() string { return "" }
