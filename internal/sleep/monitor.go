// Package sleep coordinates agent sessions with host suspend and resume.
// Before the host sleeps the current session publishes "offline" while
// an inhibitor lock holds the suspend back; after wake a fresh session
// starts.
package sleep

import (
	"context"
	"io"
)

// Event is a host power transition.
type Event int

const (
	// PreparingSleep is delivered before the host suspends.
	PreparingSleep Event = iota + 1
	// WakingUp is delivered after the host resumes.
	WakingUp
)

func (e Event) String() string {
	switch e {
	case PreparingSleep:
		return "preparing sleep"
	case WakingUp:
		return "waking up"
	default:
		return "unknown"
	}
}

// Monitor is the source of power events and sleep inhibitor locks.
type Monitor interface {
	// Events streams power events until ctx is done. The channel is
	// closed when the source goes away.
	Events(ctx context.Context) (<-chan Event, error)
	// Inhibit takes a delay lock that holds off suspend until it is
	// closed.
	Inhibit(ctx context.Context) (io.Closer, error)
}

// Nop is a [Monitor] that never reports events. It is used when sleep
// coordination is disabled.
type Nop struct{}

// Events returns a channel that never delivers.
func (Nop) Events(context.Context) (<-chan Event, error) {
	return make(chan Event), nil
}

// Inhibit returns a lock that holds nothing.
func (Nop) Inhibit(context.Context) (io.Closer, error) {
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
