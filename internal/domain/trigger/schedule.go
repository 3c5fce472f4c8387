package trigger

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimerKind names one of the timers a request may have armed.
type TimerKind string

// Timer kinds.
const (
	TimerEarly    TimerKind = "early"
	TimerLate     TimerKind = "late"
	TimerDispatch TimerKind = "dispatch"
	TimerDeadline TimerKind = "deadline"
)

// Scheduler hands out per-request schedules sharing one clock and policy.
type Scheduler struct {
	clock  clockwork.Clock
	policy Policy
}

// NewScheduler creates a scheduler. A nil clock means the real clock.
func NewScheduler(clock clockwork.Clock, policy Policy) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, policy: policy}
}

// Policy returns the commit policy.
func (s *Scheduler) Policy() Policy { return s.policy }

// Now returns the scheduler clock's current time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// Since returns the time elapsed since t on the scheduler clock.
func (s *Scheduler) Since(t time.Time) time.Duration { return s.clock.Since(t) }

// NewSchedule creates an empty schedule for one request.
func (s *Scheduler) NewSchedule() *Schedule {
	return &Schedule{
		clock:  s.clock,
		timers: make(map[TimerKind]clockwork.Timer),
		gen:    make(map[TimerKind]uint64),
	}
}

// Schedule holds the armed timers of one request, at most one per kind.
// Callbacks run on their own goroutine and never under the schedule lock.
// A callback whose timer was cancelled or replaced before it ran is skipped.
type Schedule struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	timers  map[TimerKind]clockwork.Timer
	gen     map[TimerKind]uint64
	stopped bool
}

// At arms fn to run at the absolute time at, replacing any timer of the same
// kind. A time in the past fires right away.
func (s *Schedule) At(kind TimerKind, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t, ok := s.timers[kind]; ok {
		t.Stop()
		delete(s.timers, kind)
	}
	s.gen[kind]++
	gen := s.gen[kind]

	fire := func() {
		s.mu.Lock()
		if s.stopped || s.gen[kind] != gen {
			s.mu.Unlock()
			return
		}
		delete(s.timers, kind)
		s.mu.Unlock()
		fn()
	}

	delay := at.Sub(s.clock.Now())
	if delay <= 0 {
		go fire()
		return
	}
	s.timers[kind] = s.clock.AfterFunc(delay, fire)
}

// Cancel disarms the timer of the given kind.
func (s *Schedule) Cancel(kind TimerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[kind]++
	if t, ok := s.timers[kind]; ok {
		t.Stop()
		delete(s.timers, kind)
	}
}

// Armed reports whether a timer of the given kind is pending.
func (s *Schedule) Armed(kind TimerKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[kind]
	return ok
}

// Stop disarms every timer. No callback starts after Stop returns, and later
// calls to At are ignored.
func (s *Schedule) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for kind, t := range s.timers {
		t.Stop()
		delete(s.timers, kind)
	}
}

// Stopped reports whether Stop was called.
func (s *Schedule) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
