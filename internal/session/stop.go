package session

import "sync"

// Reason says why a run was asked to stop.
type Reason int

const (
	// NotFired is the reason of a stop that has not fired.
	NotFired Reason = iota
	// Shutdown means the process is terminating.
	Shutdown
	// Sleep means the host is about to suspend.
	Sleep
)

func (r Reason) String() string {
	switch r {
	case Shutdown:
		return "shutting down"
	case Sleep:
		return "sleeping"
	default:
		return "running"
	}
}

// Stop is a single-fire stop request shared by one run and whoever
// ends it. The first Fire wins; later calls are ignored.
type Stop struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason Reason
}

// NewStop returns an unfired stop.
func NewStop() *Stop {
	return &Stop{done: make(chan struct{})}
}

// Fire requests the stop with reason and reports whether this call was
// the one that fired it.
func (s *Stop) Fire(reason Reason) bool {
	fired := false
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
		fired = true
	})
	return fired
}

// Done is closed once the stop has fired.
func (s *Stop) Done() <-chan struct{} { return s.done }

// Reason returns the reason passed to the winning Fire, or NotFired.
func (s *Stop) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
