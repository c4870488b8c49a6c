package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/hostreporter/internal/config"
	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/metrics"
)

// RoundResult reports which sensors, by topic, were published or failed
// in one status round. Sensors still running when a round times out
// appear in neither list.
type RoundResult struct {
	Published []string
	Failed    []string
	TimedOut  bool
}

// StatusPublisher publishes every sensor's status on a fixed interval.
type StatusPublisher struct {
	pub      Publisher
	sensors  []entity.Sensor
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewStatusPublisher returns a publisher for sensors. Each round is
// bounded by 80% of interval.
func NewStatusPublisher(pub Publisher, sensors []entity.Sensor, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPublisher{
		pub:      pub,
		sensors:  sensors,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
}

// RoundTimeout is the time budget of one status round.
func (p *StatusPublisher) RoundTimeout() time.Duration {
	return p.interval * 4 / 5
}

// Run publishes a round immediately and then on every tick until ctx is
// done. Ticks that arrive while a round is running are skipped.
func (p *StatusPublisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Round(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Round reads and publishes every sensor concurrently. One sensor's
// failure does not affect the others. Sensors still running at the
// round timeout are left to finish under ctx and are not reported.
func (p *StatusPublisher) Round(ctx context.Context) RoundResult {
	timer := time.NewTimer(p.RoundTimeout())
	defer timer.Stop()

	var (
		mu       sync.Mutex
		outcomes = make([]error, len(p.sensors))
		finished = make([]bool, len(p.sensors))
		wg       sync.WaitGroup
	)
	for i, s := range p.sensors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.publishOne(ctx, s)
			mu.Lock()
			outcomes[i], finished[i] = err, true
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var res RoundResult
	select {
	case <-done:
	case <-timer.C:
		res.TimedOut = true
	case <-ctx.Done():
	}
	if res.TimedOut {
		p.logger.Warn("status round timed out", "timeout", p.RoundTimeout().String())
		p.metrics.RoundTimedOut()
	}

	mu.Lock()
	defer mu.Unlock()
	for i, s := range p.sensors {
		if !finished[i] {
			continue
		}
		if err := outcomes[i]; err != nil {
			res.Failed = append(res.Failed, s.Topic())
			p.logger.Error("failed to publish sensor status", "sensor", s.Topic(), "error", err)
			p.metrics.StatusPublished(false)
			continue
		}
		res.Published = append(res.Published, s.Topic())
		p.metrics.StatusPublished(true)
	}
	p.logger.Debug("status round complete",
		"published", len(res.Published),
		"failed", len(res.Failed),
	)
	return res
}

func (p *StatusPublisher) publishOne(ctx context.Context, s entity.Sensor) error {
	status, err := s.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("serialize status: %w", err)
	}
	p.logger.Log(ctx, config.LevelTrace, "publishing status", "topic", s.Topic(), "payload", string(payload))
	if err := p.pub.Publish(ctx, s.Topic(), payload, AtLeastOnce, false); err != nil {
		return err
	}
	return nil
}
