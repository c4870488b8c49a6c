package mqtt

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nugget/hostreporter/internal/metrics"
)

// DefaultQueueSize is the inbound queue capacity when none is set.
const DefaultQueueSize = 8

// ErrQueueClosed is returned by [TopicQueue.Pop] once the queue has been
// closed and drained.
var ErrQueueClosed = errors.New("inbound queue closed")

// TopicQueue is a bounded queue of inbound topics between the client's
// receive path and the command dispatcher. Push never blocks.
type TopicQueue struct {
	mu     sync.Mutex
	ch     chan string
	closed bool

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTopicQueue returns a queue holding at most capacity topics.
func NewTopicQueue(capacity int, logger *slog.Logger, m *metrics.Metrics) *TopicQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicQueue{
		ch:      make(chan string, capacity),
		logger:  logger,
		metrics: m,
	}
}

// Push enqueues topic. When the queue is full or closed the topic is
// dropped with a warning and Push reports false.
func (q *TopicQueue) Push(topic string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("dropping inbound message, queue closed", "topic", topic)
		q.metrics.InboundDropped(metrics.DropClosed)
		return false
	}
	select {
	case q.ch <- topic:
		return true
	default:
		q.logger.Warn("dropping inbound message, queue full", "topic", topic, "capacity", cap(q.ch))
		q.metrics.InboundDropped(metrics.DropFull)
		return false
	}
}

// Pop returns the oldest topic, waiting until one arrives, the queue is
// closed and drained, or ctx is done.
func (q *TopicQueue) Pop(ctx context.Context) (string, error) {
	select {
	case topic, ok := <-q.ch:
		if !ok {
			return "", ErrQueueClosed
		}
		return topic, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops accepting topics. Queued topics remain poppable.
func (q *TopicQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Len returns the number of queued topics.
func (q *TopicQueue) Len() int {
	return len(q.ch)
}
