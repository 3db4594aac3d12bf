package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryTrackerLifecycle(t *testing.T) {
	tracker := NewMemoryTracker(10 * time.Hour)
	ctx := context.Background()

	session, err := tracker.Active(ctx, "alice", "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if session != nil {
		t.Fatal("no session should exist before Start")
	}

	if err := tracker.Start(ctx, "alice", "Scammer@Evil.com"); err != nil {
		t.Fatal(err)
	}

	session, err = tracker.Active(ctx, "alice", "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if session == nil {
		t.Fatal("session not found after Start")
	}
	if session.Sender != "scammer@evil.com" {
		t.Errorf("sender not normalized: %q", session.Sender)
	}
	if got := session.ExpiresAt.Sub(session.StartedAt); got != 10*time.Hour {
		t.Errorf("window = %v, want 10h", got)
	}

	// Different user, same sender: independent window.
	other, err := tracker.Active(ctx, "bob", "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Error("session leaked across users")
	}
}

func TestMemoryTrackerExpiry(t *testing.T) {
	tracker := NewMemoryTracker(10 * time.Millisecond)
	ctx := context.Background()

	if err := tracker.Start(ctx, "alice", "scammer@evil.com"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	session, err := tracker.Active(ctx, "alice", "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if session != nil {
		t.Error("expired session should be treated as absent")
	}
}

func TestRedisTrackerLifecycle(t *testing.T) {
	srv := miniredis.RunT(t)
	ctx := context.Background()

	tracker, err := NewRedisTracker(ctx, srv.Addr(), 10*time.Hour)
	if err != nil {
		t.Fatalf("NewRedisTracker failed: %v", err)
	}
	defer tracker.Close()

	if err := tracker.Start(ctx, "alice", "scammer@evil.com"); err != nil {
		t.Fatal(err)
	}

	session, err := tracker.Active(ctx, "alice", "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if session == nil || session.Status != "monitoring" {
		t.Fatalf("unexpected session: %+v", session)
	}

	srv.FastForward(11 * time.Hour)
	session, err = tracker.Active(ctx, "alice", "scammer@evil.com")
	if err != nil {
		t.Fatal(err)
	}
	if session != nil {
		t.Error("session should expire with the redis TTL")
	}
}
