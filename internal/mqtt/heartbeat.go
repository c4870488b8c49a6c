package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/hostreporter/internal/metrics"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// DefaultHeartbeat is the interval between "online" publishes.
const DefaultHeartbeat = 60 * time.Second

// ShutdownTimeout bounds the offline publish and disconnect.
const ShutdownTimeout = 5 * time.Second

// Heartbeat keeps the availability topic "online" and, when stopped,
// publishes "offline" and closes the connection.
type Heartbeat struct {
	conn     Conn
	topic    string
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	shutdownTimeout time.Duration
}

// NewHeartbeat returns a heartbeat publishing to topic over conn.
func NewHeartbeat(conn Conn, topic string, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Heartbeat{
		conn:            conn,
		topic:           topic,
		interval:        interval,
		logger:          logger,
		metrics:         m,
		shutdownTimeout: ShutdownTimeout,
	}
}

// Run publishes "online" now and on every tick until stop is closed,
// then publishes "offline" and disconnects. Once stop is observed no
// further "online" is sent. The offline sequence runs on its own
// deadline and is not cut short by ctx. Run returns early with an error
// if an online publish fails or ctx is done.
func (h *Heartbeat) Run(ctx context.Context, stop <-chan struct{}) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return h.stop(ctx)
		default:
		}

		h.logger.Debug("sending availability", "status", Online)
		if err := h.conn.Publish(ctx, h.topic, []byte(Online), AtLeastOnce, false); err != nil {
			return fmt.Errorf("publish online: %w", err)
		}
		h.metrics.SetOnline(true)

		select {
		case <-stop:
			return h.stop(ctx)
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Heartbeat) stop(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.shutdownTimeout)
	defer cancel()
	return h.Shutdown(sctx)
}

// Shutdown publishes "offline" and disconnects.
func (h *Heartbeat) Shutdown(ctx context.Context) error {
	h.logger.Debug("sending availability", "status", Offline)
	if err := h.conn.Publish(ctx, h.topic, []byte(Offline), AtLeastOnce, false); err != nil {
		return fmt.Errorf("publish offline: %w", err)
	}
	h.metrics.SetOnline(false)
	if err := h.conn.Disconnect(ctx); err != nil {
		return err
	}
	return nil
}
