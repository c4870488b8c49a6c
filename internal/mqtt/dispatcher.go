package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nugget/hostreporter/internal/entity"
	"github.com/nugget/hostreporter/internal/metrics"
)

// Dispatcher routes inbound command topics to their [entity.Command].
// Payloads are ignored; the topic alone selects the command.
type Dispatcher struct {
	registry map[string]entity.Command
	queue    *TopicQueue
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher builds the topic registry. The registry is fixed for
// the life of the dispatcher.
func NewDispatcher(commands []entity.Command, queue *TopicQueue, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	reg := make(map[string]entity.Command, len(commands))
	for _, c := range commands {
		reg[c.Topic()] = c
	}
	return &Dispatcher{registry: reg, queue: queue, logger: logger, metrics: m}
}

// Topics returns the command topics in sorted order.
func (d *Dispatcher) Topics() []string {
	topics := make([]string, 0, len(d.registry))
	for t := range d.registry {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// Subscribe subscribes to every command topic at QoS 1.
func (d *Dispatcher) Subscribe(ctx context.Context, conn Conn) error {
	topics := d.Topics()
	for _, t := range topics {
		d.logger.Debug("subscribing to command topic", "topic", t)
	}
	if err := conn.Subscribe(ctx, topics, AtLeastOnce); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	return nil
}

// Run handles queued topics until the queue closes, which is reported as
// an error, or ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		topic, err := d.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				return fmt.Errorf("command dispatcher: %w", err)
			}
			return err
		}
		d.Handle(ctx, topic)
	}
}

// Handle executes the command registered for topic. Unknown topics and
// command failures are logged.
func (d *Dispatcher) Handle(ctx context.Context, topic string) {
	d.logger.Debug("received command message", "topic", topic)

	cmd, ok := d.registry[topic]
	if !ok {
		d.logger.Warn("received message on unknown topic", "topic", topic)
		d.metrics.InboundDropped(metrics.DropUnknown)
		return
	}

	id := commandID(cmd, topic)
	if err := cmd.Execute(ctx); err != nil {
		d.logger.Error("command failed", "command", id, "error", err)
		d.metrics.CommandExecuted(id, false)
		return
	}
	d.metrics.CommandExecuted(id, true)
}

func commandID(c entity.Command, topic string) string {
	if ds := c.Discovery(); len(ds) > 0 {
		return ds[0].ID
	}
	return topic
}
