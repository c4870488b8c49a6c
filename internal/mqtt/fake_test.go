package mqtt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// message is one publish recorded by fakeConn.
type message struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

// fakeConn records publishes and subscriptions in memory.
type fakeConn struct {
	mu           sync.Mutex
	published    []message
	subscribed   []string
	disconnected bool
	publishErr   map[string]error

	done chan struct{}
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{}), publishErr: map[string]error{}}
}

func (c *fakeConn) Publish(_ context.Context, topic string, payload []byte, qos byte, retain bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.publishErr[topic]; err != nil {
		return err
	}
	if c.disconnected {
		return errors.New("publish after disconnect")
	}
	c.published = append(c.published, message{topic, string(payload), qos, retain})
	return nil
}

func (c *fakeConn) Subscribe(_ context.Context, topics []string, _ byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topics...)
	return nil
}

func (c *fakeConn) Disconnect(context.Context) error {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) messages() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.published...)
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
