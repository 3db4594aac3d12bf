package httputil

import (
	"context"
	"sync/atomic"
)

// Semaphore bounds concurrent outbound work. The reasoning client uses
// one to keep a burst of escalated scans from stampeding the provider.
type Semaphore struct {
	slots   chan struct{}
	dropped atomic.Int64
}

// NewSemaphore creates a semaphore. A non-positive capacity defaults
// to 100.
func NewSemaphore(capacity int) *Semaphore {
	if capacity <= 0 {
		capacity = 100
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// TryAcquire grabs a slot without blocking. A false return means the
// caller should drop the work; the drop is counted.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Acquire blocks for a slot until the context is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot. Releasing more than was acquired is a no-op.
func (s *Semaphore) Release() {
	select {
	case <-s.slots:
	default:
	}
}

// DroppedCount reports work rejected by TryAcquire.
func (s *Semaphore) DroppedCount() int64 {
	return s.dropped.Load()
}

// Available reports free slots.
func (s *Semaphore) Available() int {
	return cap(s.slots) - len(s.slots)
}

// InUse reports held slots.
func (s *Semaphore) InUse() int {
	return len(s.slots)
}

// Stats snapshots the semaphore for the metrics surface.
func (s *Semaphore) Stats() SemaphoreStats {
	return SemaphoreStats{
		Capacity:  cap(s.slots),
		InUse:     len(s.slots),
		Available: cap(s.slots) - len(s.slots),
		Dropped:   s.dropped.Load(),
	}
}

// SemaphoreStats is the JSON shape of a semaphore snapshot.
type SemaphoreStats struct {
	Capacity  int   `json:"capacity"`
	InUse     int   `json:"in_use"`
	Available int   `json:"available"`
	Dropped   int64 `json:"dropped"`
}
