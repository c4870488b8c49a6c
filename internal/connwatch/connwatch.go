// Package connwatch retries the initial connection to an external
// dependency (the MQTT broker) with capped exponential backoff.
//
// The schedule is 2s, 4s, 8s, ... capped at 60s with no jitter, so the
// delay between attempts never decreases. Retrying continues until the
// operation succeeds, the context is cancelled, or MaxRetries (when
// non-zero) is exhausted.
package connwatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig controls the exponential backoff behavior.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each retry (default: 2.0).
	Multiplier float64

	// Jitter is the randomization factor in [0, 1). Zero keeps the
	// schedule monotonic.
	Jitter float64

	// MaxRetries bounds the number of retries after the first attempt.
	// Zero retries until the context is cancelled.
	MaxRetries uint64

	// AttemptTimeout limits each individual attempt (default: 30s).
	AttemptTimeout time.Duration
}

// DefaultBackoffConfig returns 2s doubling to a 60s cap, unlimited
// retries, and a 30s per-attempt timeout.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		AttemptTimeout: 30 * time.Second,
	}
}

// withDefaults replaces zero-valued fields with defaults.
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	return c
}

// policy builds the backoff.BackOff for one retry sequence.
func (c BackoffConfig) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.InitialDelay
	eb.MaxInterval = c.MaxDelay
	eb.Multiplier = c.Multiplier
	eb.RandomizationFactor = c.Jitter
	eb.MaxElapsedTime = 0 // never give up on elapsed time alone
	eb.Reset()

	var b backoff.BackOff = eb
	if c.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, c.MaxRetries)
	}
	return backoff.WithContext(b, ctx)
}

// Attempt describes one failed try, passed to [Options.OnRetry].
type Attempt struct {
	Number    int
	Err       error
	NextDelay time.Duration
}

// Options configures a single [Retry] call.
type Options struct {
	// Name identifies the dependency in logs (e.g. "mqtt").
	Name string

	Backoff BackoffConfig

	// OnRetry is called synchronously after each failed attempt. Optional.
	OnRetry func(Attempt)

	// Timer overrides the wait timer; tests use it to avoid sleeping.
	Timer backoff.Timer

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Retry calls op until it succeeds and returns its value together with
// the number of attempts made. Each attempt runs with its own timeout
// derived from ctx. Once ctx is cancelled no further attempt starts and
// the returned error wraps the context error.
func Retry[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, int, error) {
	cfg := opts.Backoff.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		result   T
		attempts int
	)

	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		defer cancel()

		v, err := op(attemptCtx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}

	notify := func(err error, next time.Duration) {
		logger.Warn("connection attempt failed, retrying",
			"service", opts.Name,
			"attempt", attempts,
			"next_delay", next.String(),
			"error", err,
		)
		if opts.OnRetry != nil {
			opts.OnRetry(Attempt{Number: attempts, Err: err, NextDelay: next})
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, cfg.policy(ctx), notify, opts.Timer)
	if err != nil {
		var zero T
		return zero, attempts, fmt.Errorf("%s: gave up after %d attempts: %w", opts.Name, attempts, err)
	}

	logger.Info("service connected",
		"service", opts.Name,
		"after_attempts", attempts,
	)
	return result, attempts, nil
}
