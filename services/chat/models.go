package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"agentflow/services/tool"
)

// NoSession is the chat id before a session exists.
const NoSession = -1

var (
	ErrEmptyMessage = errors.New("chat: message cannot be empty")
	ErrSendInFlight = errors.New("chat: a send is already in flight")
	ErrAgentRunning = errors.New("chat: agent is running")
	ErrNoSession    = errors.New("chat: no session")
	ErrStale        = errors.New("chat: session changed")
)

// Status is the server-tracked lifecycle state of a session.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusRunning           Status = "running"
	StatusWaitForHumanInput Status = "wait_for_human_input"
	StatusCompleted         Status = "completed"
	StatusAborted           Status = "aborted"
	StatusFailed            Status = "failed"
)

// ParseStatus normalizes a status reported by the backend. Empty means idle
// and the legacy "waiting" spelling means waiting for human input.
func ParseStatus(s string) Status {
	switch v := Status(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return StatusIdle
	case "waiting":
		return StatusWaitForHumanInput
	default:
		return v
	}
}

// Terminal reports whether no further turns happen for this session id.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusFailed
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// Chat is one conversational session bound to a project.
type Chat struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	FromType    string    `json:"from_type,omitempty"`
	FromProject int       `json:"from_project,omitempty"`
	UserID      int       `json:"user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// NewChat is the payload for starting a session.
type NewChat struct {
	Name        string `json:"name"`
	FromType    string `json:"from_type"`
	FromProject int    `json:"from_project"`
	UserID      int    `json:"user_id,omitempty"`
}

// ForProject builds the create payload for a project-scoped chat.
func ForProject(projectID int, projectName string, userID int) NewChat {
	return NewChat{
		Name:        "Chat for " + projectName,
		FromType:    "project",
		FromProject: projectID,
		UserID:      userID,
	}
}

// MessageType tags who produced a message.
type MessageType string

const (
	MessageUser      MessageType = "user"
	MessageAssistant MessageType = "assistant"
	MessageSummary   MessageType = "summary"
	MessageStatus    MessageType = "status"
)

// MessageID accepts both the backend's numeric ids and client-generated
// string ids.
type MessageID string

func (id *MessageID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*id = MessageID(n.String())
	return nil
}

// Message is one entry of a session transcript.
type Message struct {
	ID        MessageID      `json:"id"`
	ChatID    int            `json:"chat_id,omitempty"`
	Type      MessageType    `json:"type"`
	Sender    string         `json:"sender,omitempty"`
	Receiver  string         `json:"receiver,omitempty"`
	Content   string         `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
	Meta      map[string]any `json:"meta,omitempty"`
	Pending   bool           `json:"pending,omitempty"`
}

// Outgoing is the body of a message post or an input answer.
type Outgoing struct {
	Type    MessageType    `json:"type"`
	Content string         `json:"content"`
	Sender  string         `json:"sender"`
	UserID  int            `json:"user_id,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// AbortResult is the backend's acknowledgment of an abort.
type AbortResult struct {
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Identity supplies the sender fields of outgoing messages.
type Identity interface {
	UserID() int
	Email() string
}

// Backend is the chat half of the backend contract.
type Backend interface {
	ListChats(ctx context.Context) ([]Chat, error)
	CreateChat(ctx context.Context, c NewChat) (*Chat, error)
	DeleteChat(ctx context.Context, chatID int) error
	ListMessages(ctx context.Context, chatID int) ([]Message, error)
	PostMessage(ctx context.Context, chatID int, m Outgoing) error
	SupplyInput(ctx context.Context, chatID int, m Outgoing) error
	Abort(ctx context.Context, chatID int) (*AbortResult, error)
	ClearMessages(ctx context.Context, chatID int) error
	UploadAttachment(ctx context.Context, u tool.Upload) (*tool.Attachment, error)
}
