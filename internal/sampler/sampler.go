// Package sampler turns instantaneous OS counters into rate metrics.
//
// A [Sampler] reads one counter snapshot at construction, then on every
// window pairs the previous snapshot with a fresh one, derives a metric
// from the two and the elapsed wall time, and overwrites a single-slot
// [latest.Cell]. Readers that fall behind see only the newest metric.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/hostreporter/internal/config"
	"github.com/nugget/hostreporter/internal/latest"
)

// DefaultWindow is the sampling window used when none is configured.
const DefaultWindow = 60 * time.Second

// ErrSamplerStopped marks every error returned by a sampler that is no
// longer producing values.
var ErrSamplerStopped = errors.New("sampler stopped")

// ReadFunc reads one raw counter snapshot.
type ReadFunc[S any] func(ctx context.Context) (S, error)

// DeriveFunc computes a metric from two snapshots taken elapsed apart.
// elapsed is always positive.
type DeriveFunc[S, M any] func(prev, cur S, elapsed time.Duration) M

// Options configures a [Sampler].
type Options struct {
	// Name identifies the sampler in logs and errors.
	Name string

	// Window is the time between snapshots (default: 60s).
	Window time.Duration

	// Now and After replace the wall clock in tests.
	Now   func() time.Time
	After func(time.Duration) <-chan time.Time

	Logger *slog.Logger
}

// Sampler owns the background loop and the latest derived metric.
type Sampler[S, M any] struct {
	name   string
	window time.Duration
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	logger *slog.Logger

	read   ReadFunc[S]
	derive DeriveFunc[S, M]

	cell *latest.Cell[M]
	done chan struct{}
}

// Start takes the first snapshot synchronously and launches the
// sampling loop. The loop runs until ctx is cancelled or a read fails.
// Until the first window completes the latest metric is M's zero value.
func Start[S, M any](ctx context.Context, opts Options, read ReadFunc[S], derive DeriveFunc[S, M]) (*Sampler[S, M], error) {
	first, err := read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s sampler: initial read: %w", opts.Name, err)
	}
	return StartFrom(ctx, opts, first, read, derive), nil
}

// StartFrom launches the sampling loop with an already-read first
// snapshot. Callers use it when they need to inspect the first
// snapshot themselves, for example to fix the set of interfaces.
func StartFrom[S, M any](ctx context.Context, opts Options, first S, read ReadFunc[S], derive DeriveFunc[S, M]) *Sampler[S, M] {
	s := &Sampler[S, M]{
		name:   opts.Name,
		window: opts.Window,
		now:    opts.Now,
		after:  opts.After,
		logger: opts.Logger,
		read:   read,
		derive: derive,
		done:   make(chan struct{}),
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.after == nil {
		s.after = time.After
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	var zero M
	s.cell = latest.New(zero)

	go s.loop(ctx, first, s.now())
	return s
}

func (s *Sampler[S, M]) loop(ctx context.Context, prev S, prevAt time.Time) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			s.cell.Close(fmt.Errorf("%w: %s: %w", ErrSamplerStopped, s.name, ctx.Err()))
			return
		case <-s.after(s.window):
		}

		cur, err := s.read(ctx)
		if err != nil {
			s.fail(fmt.Errorf("read: %w", err))
			return
		}
		at := s.now()
		elapsed := at.Sub(prevAt)
		if elapsed <= 0 {
			s.fail(fmt.Errorf("non-positive elapsed time %v", elapsed))
			return
		}

		s.cell.Set(s.derive(prev, cur, elapsed))
		s.logger.Log(ctx, config.LevelTrace, "sample window complete",
			"sampler", s.name, "elapsed", elapsed.String())

		prev, prevAt = cur, at
	}
}

func (s *Sampler[S, M]) fail(err error) {
	s.logger.Error("sampler terminated", "sampler", s.name, "error", err)
	s.cell.Close(fmt.Errorf("%w: %s: %w", ErrSamplerStopped, s.name, err))
}

// Next waits for the next metric produced after the last one read and
// returns it. Only one caller reads at a time; others wait their turn.
// After the sampler stops it returns an error wrapping [ErrSamplerStopped].
func (s *Sampler[S, M]) Next(ctx context.Context) (M, error) {
	return s.cell.Wait(ctx)
}

// Peek returns the newest metric without waiting.
func (s *Sampler[S, M]) Peek() M {
	return s.cell.Peek()
}

// Err returns the terminal error, or nil while sampling.
func (s *Sampler[S, M]) Err() error {
	return s.cell.Err()
}

// Done is closed when the sampling loop has exited.
func (s *Sampler[S, M]) Done() <-chan struct{} {
	return s.done
}

// Delta returns cur - prev, saturating to zero when a counter went
// backwards (wrap or reset).
func Delta(prev, cur uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}

// Rate returns the per-second change of a counter over elapsed.
func Rate(prev, cur uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(Delta(prev, cur)) / elapsed.Seconds()
}
