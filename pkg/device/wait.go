package device

import (
	"sync"
	"time"
)

// PollInterval is the cadence of every wait loop. Drivers must not be polled
// faster than 10 Hz.
const PollInterval = 100 * time.Millisecond

// Poll evaluates done every PollInterval until it reports true or timeout
// elapses. A receive on wake triggers an early evaluation; wake may be nil.
// An error from done aborts the wait.
func Poll(timeout time.Duration, wake func() <-chan struct{}, done func() (bool, error)) (bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		var w <-chan struct{}
		if wake != nil {
			w = wake()
		}

		ok, err := done()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ticker.C:
		case <-w:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Signal is a broadcast primitive: every Wait channel handed out before a
// Broadcast is closed by it.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// Wait returns a channel closed on the next Broadcast.
func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Broadcast wakes all current waiters.
func (s *Signal) Broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}
