// Package rtsched reads and mirrors realtime scheduling between the host's
// audio thread and the surrogate's workers.
//
// All functions act on the calling OS thread, so goroutines using them
// should be locked with runtime.LockOSThread.
package rtsched

import (
	"sync"
	"time"
)

// DefaultPriority is used when no host priority is known yet.
const DefaultPriority = 5

// SyncInterval bounds how often the host's audio thread priority is sent
// along with a processing request.
const SyncInterval = 10 * time.Second

// Scheduler abstracts CurrentPriority and SetPriority so they can be
// observed in tests.
type Scheduler interface {
	CurrentPriority() (int, bool)
	SetPriority(fifo bool, priority int) bool
}

// Thread is the Scheduler acting on the calling OS thread.
type Thread struct{}

var _ Scheduler = Thread{}

func (Thread) CurrentPriority() (int, bool)             { return CurrentPriority() }
func (Thread) SetPriority(fifo bool, priority int) bool { return SetPriority(fifo, priority) }

// Synchronizer decides when the host's audio thread priority should be sent
// to the surrogate again.
type Synchronizer struct {
	sched    Scheduler
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSynchronizer returns a Synchronizer polling sched every SyncInterval.
func NewSynchronizer(sched Scheduler) *Synchronizer {
	return &Synchronizer{sched: sched, interval: SyncInterval, now: time.Now}
}

// Poll returns the calling thread's priority when the interval has passed
// since the last successful poll. It must be called from the host's audio
// thread.
func (s *Synchronizer) Poll() (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.last.IsZero() && now.Sub(s.last) < s.interval {
		return 0, false
	}
	prio, ok := s.sched.CurrentPriority()
	if !ok {
		return 0, false
	}
	s.last = now
	return int32(prio), true
}
