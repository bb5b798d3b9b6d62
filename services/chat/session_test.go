package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/pkg/notice"
	"agentflow/services/tool"
)

type fakeBackend struct {
	mu       sync.Mutex
	chats    []Chat
	messages map[int][]Message
	created  []NewChat
	posts    []Outgoing
	inputs   []Outgoing
	uploads  []tool.Upload
	aborts   int
	fetches  int
	cleared  []int
	deleted  []int

	createErr error
	postErr   error
	uploadErr error
	abortErr  error

	// statusAfterPost is the chat status the server reports once a post lands.
	statusAfterPost Status

	postStarted chan struct{}
	postGate    chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{messages: map[int][]Message{}, statusAfterPost: StatusCompleted}
}

func (f *fakeBackend) ListChats(_ context.Context) ([]Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Chat(nil), f.chats...), nil
}

func (f *fakeBackend) CreateChat(_ context.Context, c NewChat) (*Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, c)
	if f.createErr != nil {
		return nil, f.createErr
	}
	chat := Chat{ID: 100 + len(f.chats), Name: c.Name, Status: StatusIdle, FromType: c.FromType, FromProject: c.FromProject}
	f.chats = append(f.chats, chat)
	return &chat, nil
}

func (f *fakeBackend) DeleteChat(_ context.Context, chatID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, chatID)
	return nil
}

func (f *fakeBackend) ListMessages(_ context.Context, chatID int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]Message(nil), f.messages[chatID]...), nil
}

func (f *fakeBackend) deliver(chatID int, m Outgoing, input bool) error {
	if f.postStarted != nil {
		f.postStarted <- struct{}{}
	}
	if f.postGate != nil {
		<-f.postGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if input {
		f.inputs = append(f.inputs, m)
	} else {
		f.posts = append(f.posts, m)
	}
	if f.postErr != nil {
		return f.postErr
	}
	n := len(f.messages[chatID])
	f.messages[chatID] = append(f.messages[chatID],
		Message{ID: MessageID(fmt.Sprint(n + 1)), ChatID: chatID, Type: MessageUser, Content: m.Content},
		Message{ID: MessageID(fmt.Sprint(n + 2)), ChatID: chatID, Type: MessageAssistant, Content: "reply to " + m.Content},
	)
	f.setStatusLocked(chatID, f.statusAfterPost)
	return nil
}

func (f *fakeBackend) PostMessage(_ context.Context, chatID int, m Outgoing) error {
	return f.deliver(chatID, m, false)
}

func (f *fakeBackend) SupplyInput(_ context.Context, chatID int, m Outgoing) error {
	return f.deliver(chatID, m, true)
}

func (f *fakeBackend) Abort(_ context.Context, chatID int) (*AbortResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	f.setStatusLocked(chatID, StatusAborted)
	return &AbortResult{Detail: "stopped"}, nil
}

func (f *fakeBackend) ClearMessages(_ context.Context, chatID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, chatID)
	delete(f.messages, chatID)
	return nil
}

func (f *fakeBackend) UploadAttachment(_ context.Context, u tool.Upload) (*tool.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, u)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &tool.Attachment{Path: "/files/" + u.Filename, Filename: u.Filename, Mime: u.ContentType}, nil
}

func (f *fakeBackend) setStatusLocked(chatID int, st Status) {
	for i := range f.chats {
		if f.chats[i].ID == chatID {
			f.chats[i].Status = st
		}
	}
}

func (f *fakeBackend) addChat(c Chat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, c)
}

func (f *fakeBackend) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts) + len(f.inputs)
}

type testUser struct{}

func (testUser) UserID() int   { return 42 }
func (testUser) Email() string { return "dev@example.com" }

func newTestSession(t *testing.T, b *fakeBackend) (*Session, *notice.Log) {
	t.Helper()
	log := notice.NewLog(20)
	n := 0
	s := NewSession(b,
		WithIdentity(testUser{}),
		WithNotifier(log),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("tmp%d", n) }),
	)
	return s, log
}

// openChat binds project 7 and resumes a chat with the given server status.
func openChat(t *testing.T, s *Session, b *fakeBackend, status Status) int {
	t.Helper()
	b.addChat(Chat{ID: 5, Name: "Chat for Demo", Status: status, FromType: "project", FromProject: 7})
	require.NoError(t, s.Open(context.Background(), 7, "Demo"))
	require.Equal(t, 5, s.Snapshot().ID)
	return 5
}

func TestSend_EmptyMessage(t *testing.T) {
	b := newFakeBackend()
	s, log := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	err := s.Send(context.Background(), "   \n\t")

	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, b.postCount())
	assert.Empty(t, s.Snapshot().Messages)
	assert.Equal(t, []string{"Invalid message"}, log.Titles())
}

func TestSend_CreatesChatWhenNone(t *testing.T) {
	b := newFakeBackend()
	s, log := newTestSession(t, b)
	s.Bind(7, "Demo")

	require.NoError(t, s.Send(context.Background(), "  hello  "))

	require.Len(t, b.created, 1)
	assert.Equal(t, NewChat{Name: "Chat for Demo", FromType: "project", FromProject: 7, UserID: 42}, b.created[0])

	require.Len(t, b.posts, 1)
	assert.Equal(t, Outgoing{Type: MessageUser, Content: "hello", Sender: "dev@example.com", UserID: 42}, b.posts[0])

	st := s.Snapshot()
	assert.Equal(t, 100, st.ID)
	assert.Equal(t, StatusCompleted, st.Status)
	require.Len(t, st.Messages, 2)
	assert.False(t, st.Messages[0].Pending)
	assert.Equal(t, "reply to hello", st.Messages[1].Content)
	assert.Equal(t, []string{"Message sent"}, log.Titles())
}

func TestSend_NoProject(t *testing.T) {
	b := newFakeBackend()
	s, log := newTestSession(t, b)

	err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoProject)
	assert.Empty(t, b.created)
	assert.Equal(t, []string{"Error"}, log.Titles())
}

func TestSend_AgentRunning(t *testing.T) {
	b := newFakeBackend()
	s, log := newTestSession(t, b)
	openChat(t, s, b, StatusRunning)

	err := s.Send(context.Background(), "hello")

	assert.ErrorIs(t, err, ErrAgentRunning)
	assert.Equal(t, 0, b.postCount())
	assert.Empty(t, s.Snapshot().Messages)
	assert.Equal(t, StatusRunning, s.Snapshot().Status)
	assert.Equal(t, []string{"Agent is running"}, log.Titles())
}

func TestSend_WaitingForInputUsesInputEndpoint(t *testing.T) {
	b := newFakeBackend()
	b.statusAfterPost = StatusRunning
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusWaitForHumanInput)

	require.NoError(t, s.Send(context.Background(), "yes"))

	assert.Empty(t, b.posts)
	require.Len(t, b.inputs, 1)
	assert.Equal(t, "yes", b.inputs[0].Content)
	assert.Equal(t, StatusRunning, s.Snapshot().Status)
}

func TestSend_FailureRetractsOptimisticMessage(t *testing.T) {
	b := newFakeBackend()
	b.messages[5] = []Message{{ID: "1", ChatID: 5, Type: MessageAssistant, Content: "earlier"}}
	b.postErr = errors.New("502 bad gateway")
	s, log := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	err := s.Send(context.Background(), "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, b.postErr)

	st := s.Snapshot()
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "earlier", st.Messages[0].Content)
	for _, m := range st.Messages {
		assert.NotEqual(t, MessageID("tmp1"), m.ID)
	}
	assert.False(t, st.Sending)
	assert.Equal(t, []string{"Error"}, log.Titles())
}

func TestSend_Serialized(t *testing.T) {
	b := newFakeBackend()
	b.postStarted = make(chan struct{}, 1)
	b.postGate = make(chan struct{})
	s, log := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "first") }()
	<-b.postStarted

	st := s.Snapshot()
	assert.True(t, st.Sending)
	require.Len(t, st.Messages, 1)
	assert.True(t, st.Messages[0].Pending)
	assert.Equal(t, MessageID("tmp1"), st.Messages[0].ID)

	assert.ErrorIs(t, s.Send(context.Background(), "second"), ErrSendInFlight)
	assert.Equal(t, []string{"Please wait"}, log.Titles())

	close(b.postGate)
	require.NoError(t, <-done)

	assert.Equal(t, 1, b.postCount())
	assert.False(t, s.Snapshot().Sending)
}

func TestAbort_WinsOverInFlightSend(t *testing.T) {
	b := newFakeBackend()
	b.statusAfterPost = StatusRunning
	b.postStarted = make(chan struct{}, 1)
	b.postGate = make(chan struct{})
	s, log := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "go") }()
	<-b.postStarted

	require.NoError(t, s.Abort(context.Background()))
	assert.Equal(t, StatusAborted, s.Snapshot().Status)

	// The server still reports running once the held post lands.
	close(b.postGate)
	require.NoError(t, <-done)

	assert.Equal(t, StatusAborted, s.Snapshot().Status)
	assert.Contains(t, log.Titles(), "Agent Stopped")
}

func TestAbort_FailureStillAborts(t *testing.T) {
	b := newFakeBackend()
	b.abortErr = errors.New("connection refused")
	s, log := newTestSession(t, b)
	openChat(t, s, b, StatusRunning)
	fetchesBefore := b.fetches

	err := s.Abort(context.Background())

	assert.ErrorIs(t, err, b.abortErr)
	assert.Equal(t, StatusAborted, s.Snapshot().Status)
	assert.Greater(t, b.fetches, fetchesBefore)
	assert.Equal(t, []string{"Agent Stop Requested"}, log.Titles())
}

func TestAbort_AnyStatus(t *testing.T) {
	for _, st := range []Status{StatusIdle, StatusRunning, StatusWaitForHumanInput, StatusCompleted, StatusFailed, StatusAborted} {
		t.Run(string(st), func(t *testing.T) {
			b := newFakeBackend()
			s, _ := newTestSession(t, b)
			openChat(t, s, b, st)

			require.NoError(t, s.Abort(context.Background()))
			assert.Equal(t, StatusAborted, s.Snapshot().Status)
		})
	}
}

func TestAbort_NoSession(t *testing.T) {
	b := newFakeBackend()
	s, _ := newTestSession(t, b)
	s.Bind(7, "Demo")

	assert.ErrorIs(t, s.Abort(context.Background()), ErrNoSession)
	assert.Equal(t, 0, b.aborts)
}

func TestSend_AfterAbortAdoptsServerStatus(t *testing.T) {
	b := newFakeBackend()
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusRunning)

	require.NoError(t, s.Abort(context.Background()))
	require.NoError(t, s.Send(context.Background(), "again"))

	assert.Equal(t, StatusCompleted, s.Snapshot().Status)
}

func TestSend_UploadsAttachmentFirst(t *testing.T) {
	b := newFakeBackend()
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	require.NoError(t, s.Stage(tool.Upload{Filename: "data.csv", ContentType: "text/csv", Data: []byte("a,b")}))
	assert.Equal(t, "data.csv", s.Snapshot().Attachment)

	require.NoError(t, s.Send(context.Background(), "use this"))

	require.Len(t, b.uploads, 1)
	require.Len(t, b.posts, 1)
	assert.Equal(t, map[string]any{
		"attachment_path": "/files/data.csv",
		"attachment_name": "data.csv",
		"attachment_mime": "text/csv",
	}, b.posts[0].Meta)
	assert.Empty(t, s.Snapshot().Attachment)
}

func TestSend_AttachmentClearedEvenIfPostFails(t *testing.T) {
	b := newFakeBackend()
	b.postErr = errors.New("boom")
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	require.NoError(t, s.Stage(tool.Upload{Filename: "a.txt"}))
	require.Error(t, s.Send(context.Background(), "x"))

	assert.Len(t, b.uploads, 1)
	assert.Empty(t, s.Snapshot().Attachment)
}

func TestSend_UploadFailureKeepsAttachment(t *testing.T) {
	b := newFakeBackend()
	b.uploadErr = errors.New("too large")
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	require.NoError(t, s.Stage(tool.Upload{Filename: "big.bin"}))
	err := s.Send(context.Background(), "x")

	assert.ErrorIs(t, err, b.uploadErr)
	assert.Equal(t, 0, b.postCount())
	assert.Equal(t, "big.bin", s.Snapshot().Attachment)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestSend_StaleResponseDiscarded(t *testing.T) {
	b := newFakeBackend()
	b.postStarted = make(chan struct{}, 1)
	b.postGate = make(chan struct{})
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	done := make(chan error, 1)
	go func() { done <- s.Send(context.Background(), "old") }()
	<-b.postStarted

	s.Bind(8, "Other")
	close(b.postGate)
	require.NoError(t, <-done)

	st := s.Snapshot()
	assert.Equal(t, NoSession, st.ID)
	assert.Equal(t, 8, st.ProjectID)
	assert.Empty(t, st.Messages)
}

func TestSend_BindReleasesSendLock(t *testing.T) {
	b := newFakeBackend()
	b.postStarted = make(chan struct{}, 1)
	b.postGate = make(chan struct{})
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusIdle)

	old := make(chan error, 1)
	go func() { old <- s.Send(context.Background(), "old") }()
	<-b.postStarted

	s.Bind(8, "Other")
	assert.False(t, s.Snapshot().Sending)

	next := make(chan error, 1)
	go func() { next <- s.Send(context.Background(), "hello other") }()
	select {
	case <-b.postStarted:
	case err := <-next:
		t.Fatalf("send on rebound project returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("send on rebound project never reached the backend")
	}
	assert.True(t, s.Snapshot().Sending)

	close(b.postGate)
	require.NoError(t, <-old)
	require.NoError(t, <-next)

	st := s.Snapshot()
	assert.False(t, st.Sending)
	assert.Equal(t, 8, st.ProjectID)
	assert.Equal(t, 2, b.postCount())
	require.NotEmpty(t, st.Messages)
	assert.Equal(t, "hello other", st.Messages[0].Content)
}

func TestOpen_ResumesLatestProjectChat(t *testing.T) {
	b := newFakeBackend()
	b.addChat(Chat{ID: 3, FromProject: 7, Status: StatusCompleted})
	b.addChat(Chat{ID: 9, FromProject: 7, Status: StatusWaitForHumanInput})
	b.addChat(Chat{ID: 12, FromProject: 8})
	b.messages[9] = []Message{{ID: "1", Content: "which city?"}}
	s, _ := newTestSession(t, b)

	require.NoError(t, s.Open(context.Background(), 7, "Demo"))

	st := s.Snapshot()
	assert.Equal(t, 9, st.ID)
	assert.Equal(t, StatusWaitForHumanInput, st.Status)
	require.Len(t, st.Messages, 1)
}

func TestClearAndDelete(t *testing.T) {
	b := newFakeBackend()
	b.messages[5] = []Message{{ID: "1", Content: "x"}}
	s, _ := newTestSession(t, b)
	openChat(t, s, b, StatusCompleted)
	require.Len(t, s.Snapshot().Messages, 1)

	require.NoError(t, s.ClearMessages(context.Background()))
	assert.Empty(t, s.Snapshot().Messages)
	assert.Equal(t, []int{5}, b.cleared)

	require.NoError(t, s.Delete(context.Background()))
	assert.Equal(t, NoSession, s.Snapshot().ID)
	assert.Equal(t, []int{5}, b.deleted)

	assert.ErrorIs(t, s.ClearMessages(context.Background()), ErrNoSession)
}

func TestStart_Failure(t *testing.T) {
	b := newFakeBackend()
	b.createErr = errors.New("unauthorized")
	s, log := newTestSession(t, b)
	s.Bind(7, "Demo")

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, b.createErr)
	assert.Equal(t, NoSession, s.Snapshot().ID)
	assert.Equal(t, []string{"Error"}, log.Titles())
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusIdle, ParseStatus(""))
	assert.Equal(t, StatusRunning, ParseStatus(" Running "))
	assert.Equal(t, StatusWaitForHumanInput, ParseStatus("waiting"))
	assert.True(t, StatusAborted.Terminal())
	assert.False(t, StatusWaitForHumanInput.Terminal())

	var c Chat
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"status":"WAIT_FOR_HUMAN_INPUT"}`), &c))
	assert.Equal(t, StatusWaitForHumanInput, c.Status)
}

func TestMessageID_Unmarshal(t *testing.T) {
	var msgs []Message
	raw := `[{"id":17,"type":"assistant","content":"a","created_at":"2026-01-01T00:00:00Z"},{"id":"tmp-1","type":"user","content":"b","created_at":"2026-01-01T00:00:00Z"}]`
	require.NoError(t, json.Unmarshal([]byte(raw), &msgs))
	assert.Equal(t, MessageID("17"), msgs[0].ID)
	assert.Equal(t, MessageID("tmp-1"), msgs[1].ID)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), msgs[0].CreatedAt)

	var bad Message
	assert.Error(t, json.Unmarshal([]byte(`{"id":true}`), &bad))
}
