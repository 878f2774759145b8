package link

import (
	"fmt"
	"sync"
	"time"
)

// RetryState is the supervisor's view of the link.
type RetryState int

const (
	RetryStable RetryState = iota
	RetryAwaiting
	RetryGivingUp
)

func (s RetryState) String() string {
	switch s {
	case RetryStable:
		return "STABLE"
	case RetryAwaiting:
		return "AWAITING_RETRY"
	case RetryGivingUp:
		return "GIVING_UP"
	}
	return fmt.Sprintf("RetryState(%d)", int(s))
}

func (s RetryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RetryState) UnmarshalText(b []byte) error {
	for v := RetryStable; v <= RetryGivingUp; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown retry state %q", b)
}

// Timer is a pending single-shot callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs fn once after d on its own goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type clockScheduler struct{}

func (clockScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Backoff returns base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Supervisor is the bounded retry state machine. It only decides when a
// reopen should happen; the Manager performs it.
//
// Every scheduled retry carries a generation number. Reset bumps the
// generation, so a timer that already fired but has not been claimed yet
// can never trigger a reopen after a disconnect.
type Supervisor struct {
	base  time.Duration
	max   int
	sched Scheduler

	mu       sync.Mutex
	state    RetryState
	attempts int
	gen      uint64
	timer    Timer
}

func NewSupervisor(base time.Duration, maxAttempts int, sched Scheduler) (*Supervisor, error) {
	if base <= 0 {
		return nil, fmt.Errorf("reconnect backoff base must be > 0")
	}
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("reconnect max attempts must be > 0")
	}
	if sched == nil {
		sched = clockScheduler{}
	}
	return &Supervisor{base: base, max: maxAttempts, sched: sched}, nil
}

// Schedule records one more failure. If the attempt budget allows it, fire
// is scheduled after the backoff delay and receives the generation to pass
// to Claim. ok is false once the supervisor has given up; from then on
// Schedule does nothing until Reset.
func (s *Supervisor) Schedule(fire func(gen uint64)) (attempt int, delay time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == RetryGivingUp {
		return s.attempts, 0, false
	}
	s.stopTimerLocked()

	s.attempts++
	if s.attempts > s.max {
		s.state = RetryGivingUp
		return s.attempts, 0, false
	}

	s.gen++
	gen := s.gen
	delay = Backoff(s.base, s.attempts)
	s.state = RetryAwaiting
	s.timer = s.sched.AfterFunc(delay, func() { fire(gen) })
	return s.attempts, delay, true
}

// Claim reports whether the retry identified by gen is still wanted.
func (s *Supervisor) Claim(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != RetryAwaiting || gen != s.gen {
		return false
	}
	s.timer = nil
	return true
}

// Reset cancels any pending retry and clears the attempt counter.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.gen++
	s.state = RetryStable
	s.attempts = 0
}

func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Supervisor) State() RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) MaxAttempts() int { return s.max }

func (s *Supervisor) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
