// Package notice carries short user-visible outcomes (validation failures,
// network errors, agent state changes) from the editor core to the renderer.
package notice

import (
	"sync"
	"time"
)

// Variant selects how the renderer styles a notice.
type Variant string

const (
	Default     Variant = "default"
	Destructive Variant = "destructive"
)

// Notice is one transient message for the user.
type Notice struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Variant     Variant   `json:"variant"`
	At          time.Time `json:"at"`
}

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// Discard drops every notice.
type Discard struct{}

func (Discard) Notify(Notice) {}

// Log keeps the most recent notices in a bounded buffer.
type Log struct {
	mu    sync.Mutex
	items []Notice
	limit int
	now   func() time.Time
}

// NewLog returns a Log holding at most limit notices. A non-positive limit
// means 50.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 50
	}
	return &Log{limit: limit, now: time.Now}
}

// Notify appends n, evicting the oldest notice when full.
func (l *Log) Notify(n Notice) {
	if n.Variant == "" {
		n.Variant = Default
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n.At.IsZero() {
		n.At = l.now()
	}
	if len(l.items) == l.limit {
		copy(l.items, l.items[1:])
		l.items = l.items[:len(l.items)-1]
	}
	l.items = append(l.items, n)
}

// Recent returns the buffered notices, oldest first.
func (l *Log) Recent() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Notice, len(l.items))
	copy(out, l.items)
	return out
}

// Titles is a convenience for callers that only care which notices fired.
func (l *Log) Titles() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.items))
	for i, n := range l.items {
		out[i] = n.Title
	}
	return out
}
