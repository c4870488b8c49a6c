package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nugget/hostreporter/internal/connwatch"
	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/host"
	"github.com/nugget/hostreporter/internal/metrics"
	"github.com/nugget/hostreporter/internal/mqtt"
)

// Steady-state branches raced by [Supervisor.Run].
const (
	branchConnection = "connection"
	branchHeartbeat  = "heartbeat"
	branchDispatcher = "dispatcher"
	branchStatus     = "status"
)

// Options configures a [Supervisor].
type Options struct {
	Dialer   mqtt.Dialer
	Topics   entity.Topics
	Host     host.Info
	Sensors  []entity.Sensor
	Commands []entity.Command

	// Interval is the status publish interval.
	Interval time.Duration
	// Settle is the pause between discovery and the first status round.
	Settle time.Duration
	// Heartbeat is the "online" publish interval.
	Heartbeat time.Duration
	// QueueSize bounds the inbound command queue of each run.
	QueueSize int

	Backoff connwatch.BackoffConfig
	// Timer overrides the backoff timer; tests use it to avoid sleeping.
	Timer backoff.Timer

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Supervisor runs sessions. Every run builds and publishes a fresh
// discovery payload.
type Supervisor struct {
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New returns a supervisor for opts.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Discovery builds the device payload a run publishes.
func (s *Supervisor) Discovery() mqtt.DeviceDiscovery {
	return mqtt.BuildDiscovery(s.opts.Host, s.opts.Topics, s.opts.Sensors, s.opts.Commands, s.logger)
}

// Run performs one session and blocks until it ends. It returns nil only
// when stop fired and the heartbeat completed its offline sequence, or
// when stop fired before a connection was made.
func (s *Supervisor) Run(ctx context.Context, stop *Stop) (err error) {
	defer func() { s.metrics.RunFinished(err) }()

	queue := mqtt.NewTopicQueue(s.opts.QueueSize, s.logger, s.metrics)
	defer queue.Close()

	conn, err := s.connect(ctx, stop, queue)
	if err != nil {
		if stop.Reason() != NotFired {
			s.logger.Info("stopped before connecting", "reason", stop.Reason().String())
			return nil
		}
		return err
	}

	hb := mqtt.NewHeartbeat(conn, s.opts.Topics.Availability(), s.opts.Heartbeat, s.logger, s.metrics)
	dispatcher := mqtt.NewDispatcher(s.opts.Commands, queue, s.logger, s.metrics)

	if err := s.setup(ctx, stop, conn, dispatcher); err != nil {
		if errors.Is(err, errStopped) {
			s.logger.Info("stopped during setup", "reason", stop.Reason().String())
			return s.shutdown(ctx, hb)
		}
		s.disconnect(ctx, conn)
		return err
	}

	err = s.steady(ctx, stop, conn, hb, dispatcher, queue)
	if err != nil {
		s.disconnect(ctx, conn)
	}
	return err
}

// connect dials the broker with backoff. A stop aborts the retry loop.
func (s *Supervisor) connect(ctx context.Context, stop *Stop, queue *mqtt.TopicQueue) (mqtt.Conn, error) {
	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop.Done():
			cancel()
		case <-connectCtx.Done():
		}
	}()

	conn, _, err := connwatch.Retry(connectCtx, connwatch.Options{
		Name:    "mqtt",
		Backoff: s.opts.Backoff,
		Timer:   s.opts.Timer,
		Logger:  s.logger,
		OnRetry: func(connwatch.Attempt) { s.metrics.ConnectAttempt(false) },
	}, func(ctx context.Context) (mqtt.Conn, error) {
		return s.opts.Dialer.Dial(ctx, queue)
	})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s.metrics.ConnectAttempt(true)
	return conn, nil
}

var errStopped = errors.New("stop requested")

// setup subscribes to commands, publishes discovery and waits for the
// settle delay. It returns errStopped if stop fires along the way.
func (s *Supervisor) setup(ctx context.Context, stop *Stop, conn mqtt.Conn, dispatcher *mqtt.Dispatcher) error {
	if stopped(stop) {
		return errStopped
	}
	if err := dispatcher.Subscribe(ctx, conn); err != nil {
		return err
	}
	if stopped(stop) {
		return errStopped
	}
	if err := mqtt.PublishDiscovery(ctx, conn, s.opts.Topics.Discovery(), s.Discovery(), s.logger); err != nil {
		return err
	}
	if s.opts.Settle <= 0 {
		return nil
	}

	s.logger.Debug("waiting for broker to settle", "delay", s.opts.Settle.String())
	t := time.NewTimer(s.opts.Settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-stop.Done():
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

type outcome struct {
	branch string
	err    error
}

// steady races the steady-state branches until one resolves.
func (s *Supervisor) steady(ctx context.Context, stop *Stop, conn mqtt.Conn, hb *mqtt.Heartbeat, dispatcher *mqtt.Dispatcher, queue *mqtt.TopicQueue) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	publisher := mqtt.NewStatusPublisher(conn, s.opts.Sensors, s.opts.Interval, s.logger, s.metrics)

	results := make(chan outcome, 4)
	var wg sync.WaitGroup
	launch := func(branch string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- outcome{branch: branch, err: fn()}
		}()
	}
	launch(branchConnection, func() error { return conn.Wait(runCtx) })
	launch(branchHeartbeat, func() error { return hb.Run(runCtx, stop.Done()) })
	launch(branchDispatcher, func() error { return dispatcher.Run(runCtx) })
	launch(branchStatus, func() error { return publisher.Run(runCtx) })

	s.logger.Info("session running",
		"sensors", len(s.opts.Sensors),
		"commands", len(s.opts.Commands),
		"interval", s.opts.Interval.String(),
	)

	var err error
	for {
		o := <-results
		// A clean connection end is the heartbeat's own disconnect; the
		// heartbeat branch reports how the run finished.
		if o.branch == branchConnection && o.err == nil {
			continue
		}
		err = classify(o)
		break
	}

	cancel()
	queue.Close()
	wg.Wait()
	return err
}

func classify(o outcome) error {
	switch o.branch {
	case branchHeartbeat:
		if o.err != nil {
			return fmt.Errorf("heartbeat: %w", o.err)
		}
		return nil
	case branchConnection:
		return fmt.Errorf("connection lost: %w", o.err)
	case branchDispatcher:
		if o.err == nil {
			return errors.New("command dispatcher stopped unexpectedly")
		}
		return o.err
	default:
		if o.err == nil {
			return errors.New("status publisher stopped unexpectedly")
		}
		return fmt.Errorf("status publisher stopped unexpectedly: %w", o.err)
	}
}

// shutdown sends the offline sequence outside the steady state.
func (s *Supervisor) shutdown(ctx context.Context, hb *mqtt.Heartbeat) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mqtt.ShutdownTimeout)
	defer cancel()
	if err := hb.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// disconnect closes conn after a failed run. Errors are only logged
// since the connection is usually already gone.
func (s *Supervisor) disconnect(ctx context.Context, conn mqtt.Conn) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mqtt.ShutdownTimeout)
	defer cancel()
	if err := conn.Disconnect(dctx); err != nil {
		s.logger.Debug("disconnect after failed run", "error", err)
	}
}

func stopped(stop *Stop) bool {
	select {
	case <-stop.Done():
		return true
	default:
		return false
	}
}
