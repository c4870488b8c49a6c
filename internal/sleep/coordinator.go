package sleep

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/nugget/hostreporter/internal/session"
)

// RunFunc performs one session until stop fires or the session fails.
type RunFunc func(ctx context.Context, stop *session.Stop) error

// Coordinator restarts sessions around host sleep. It owns the inhibitor
// lock: the lock is held while a session runs and released once that
// session has said "offline".
type Coordinator struct {
	monitor Monitor
	run     RunFunc
	logger  *slog.Logger
}

// NewCoordinator returns a coordinator driving run with events from m.
func NewCoordinator(m Monitor, run RunFunc, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{monitor: m, run: run, logger: logger}
}

// Run starts sessions until terminate is closed or ctx is done. It
// returns nil after a clean shutdown, or the error of a session that
// failed on its own and was never followed by a sleep/wake cycle.
func (c *Coordinator) Run(ctx context.Context, terminate <-chan struct{}) error {
	events, err := c.monitor.Events(ctx)
	if err != nil {
		return err
	}

	for {
		lock := c.inhibit(ctx)

		stop := session.NewStop()
		done := make(chan error, 1)
		go func() { done <- c.run(ctx, stop) }()

		woke, runErr := c.await(ctx, stop, done, terminate, &events)

		if err := lock.Close(); err != nil {
			c.logger.Warn("failed to release sleep inhibitor", "error", err)
		} else {
			c.logger.Debug("sleep inhibitor released")
		}

		switch stop.Reason() {
		case session.Shutdown:
			if runErr != nil {
				c.logger.Error("session ended with error during shutdown", "error", runErr)
			}
			return runErr
		case session.Sleep:
			if runErr != nil {
				c.logger.Error("session ended with error before sleep", "error", runErr)
			}
			if woke {
				c.logger.Info("host woke while session was stopping")
				break
			}
			c.logger.Info("host sleeping, waiting for wake")
			if !c.waitFor(ctx, terminate, &events, WakingUp) {
				return ctx.Err()
			}
		default:
			if runErr == nil {
				runErr = errors.New("session ended without a stop")
			}
			c.logger.Error("session failed, waiting for sleep/wake cycle or termination", "error", runErr)
			if !c.waitFor(ctx, terminate, &events, PreparingSleep) {
				return runErr
			}
			if !c.waitFor(ctx, terminate, &events, WakingUp) {
				return runErr
			}
		}
		c.logger.Info("host woke, starting new session")
	}
}

// await fires stop on termination or sleep and returns the session's
// result once it finishes. woke reports a wake that arrived after the
// sleep stop fired, while the session was still saying "offline".
func (c *Coordinator) await(ctx context.Context, stop *session.Stop, done <-chan error, terminate <-chan struct{}, events *<-chan Event) (woke bool, err error) {
	term, ctxDone := terminate, ctx.Done()
	for {
		select {
		case err := <-done:
			return woke, err
		case <-term:
			term = nil
			if stop.Fire(session.Shutdown) {
				c.logger.Info("stopping session", "reason", session.Shutdown.String())
			}
		case ev, ok := <-*events:
			if !ok {
				c.logger.Warn("power event source closed, sleep coordination disabled")
				*events = nil
				continue
			}
			switch {
			case ev == PreparingSleep && stop.Fire(session.Sleep):
				c.logger.Info("stopping session", "reason", session.Sleep.String())
			case ev == PreparingSleep:
				// A second sleep voids any wake already seen.
				woke = false
			case ev == WakingUp && stop.Reason() == session.Sleep:
				woke = true
			}
		case <-ctxDone:
			// The session observes ctx itself; keep waiting for it.
			ctxDone = nil
		}
	}
}

// waitFor blocks until want arrives. It returns false when terminate is
// closed or ctx is done first.
func (c *Coordinator) waitFor(ctx context.Context, terminate <-chan struct{}, events *<-chan Event, want Event) bool {
	for {
		select {
		case <-terminate:
			return false
		case <-ctx.Done():
			return false
		case ev, ok := <-*events:
			if !ok {
				c.logger.Warn("power event source closed, sleep coordination disabled")
				*events = nil
				continue
			}
			if ev == want {
				return true
			}
		}
	}
}

func (c *Coordinator) inhibit(ctx context.Context) io.Closer {
	lock, err := c.monitor.Inhibit(ctx)
	if err != nil {
		c.logger.Warn("failed to take sleep inhibitor, continuing without it", "error", err)
		return nopCloser{}
	}
	c.logger.Debug("sleep inhibitor acquired")
	return lock
}
