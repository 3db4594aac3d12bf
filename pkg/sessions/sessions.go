// Package sessions tracks conversation-monitoring windows. When the
// contextual stage flags a sender, a time-bounded session opens for the
// user/sender pair; follow-up emails inside the window get tone-shift
// scrutiny.
package sessions

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Session is one open monitoring window.
type Session struct {
	UserID    string    `json:"user_id"`
	Sender    string    `json:"sender"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    string    `json:"status"`
}

// Tracker manages monitoring windows. Expired sessions are treated as
// absent; implementations may reclaim them lazily.
type Tracker interface {
	// Start opens (or restarts) a window for the pair.
	Start(ctx context.Context, userID, sender string) error
	// Active returns the open session, or nil when none exists.
	Active(ctx context.Context, userID, sender string) (*Session, error)
	Close() error
}

// Key builds the composite session key.
func Key(userID, sender string) string {
	return userID + "_" + strings.ToLower(sender)
}

// MemoryTracker keeps sessions in process. State is lost on restart and
// not shared across instances; use the Redis tracker for multi-node
// deployments.
type MemoryTracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timeout  time.Duration
}

// NewMemoryTracker creates a tracker with the given window duration.
func NewMemoryTracker(timeout time.Duration) *MemoryTracker {
	return &MemoryTracker{
		sessions: make(map[string]*Session),
		timeout:  timeout,
	}
}

func (t *MemoryTracker) Start(_ context.Context, userID, sender string) error {
	now := time.Now().UTC()
	session := &Session{
		UserID:    userID,
		Sender:    strings.ToLower(sender),
		StartedAt: now,
		ExpiresAt: now.Add(t.timeout),
		Status:    "monitoring",
	}
	t.mu.Lock()
	t.sessions[Key(userID, sender)] = session
	t.mu.Unlock()
	return nil
}

func (t *MemoryTracker) Active(_ context.Context, userID, sender string) (*Session, error) {
	key := Key(userID, sender)

	t.mu.RLock()
	session, ok := t.sessions[key]
	t.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if time.Now().After(session.ExpiresAt) {
		t.mu.Lock()
		delete(t.sessions, key)
		t.mu.Unlock()
		return nil, nil
	}
	out := *session
	return &out, nil
}

func (t *MemoryTracker) Close() error { return nil }
