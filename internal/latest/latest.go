// Package latest provides a single-slot value cell with change
// notification. Writers overwrite the slot and never block; a single
// consumer waits for the next change and reads the newest value.
// Intermediate values that nobody read are simply lost.
package latest

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by [Consumer.Next] after [Cell.Close] when the
// cell was closed without a specific error.
var ErrClosed = errors.New("latest: cell closed")

// ErrReaderBusy is returned by [Cell.TryAcquire] when another consumer holds
// the handle.
var ErrReaderBusy = errors.New("latest: consumer handle already held")

// Cell holds the most recent value of type T.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	version uint64
	changed chan struct{} // closed and replaced on every Set
	err     error         // non-nil once closed

	handle chan *Consumer[T] // capacity 1; holds the idle consumer
}

// New returns a cell whose initial value is initial. The initial value
// is visible to [Cell.Peek] but does not count as a change.
func New[T any](initial T) *Cell[T] {
	c := &Cell[T]{
		value:   initial,
		changed: make(chan struct{}),
		handle:  make(chan *Consumer[T], 1),
	}
	c.handle <- &Consumer[T]{cell: c}
	return c
}

// Set overwrites the value and wakes any waiting consumer. Set after
// Close is ignored.
func (c *Cell[T]) Set(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
}

// Peek returns the current value without waiting or marking it seen.
func (c *Cell[T]) Peek() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Close stops the cell. Waiting and future consumers receive err, or
// [ErrClosed] if err is nil. Closing twice keeps the first error.
func (c *Cell[T]) Close(err error) {
	if err == nil {
		err = ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.changed)
}

// Err returns the close error, or nil while the cell is open.
func (c *Cell[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Acquire waits for the consumer handle. Only one holder exists at a
// time; callers must Release it when done.
func (c *Cell[T]) Acquire(ctx context.Context) (*Consumer[T], error) {
	select {
	case h := <-c.handle:
		return h, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire returns the consumer handle if it is free, or [ErrReaderBusy].
func (c *Cell[T]) TryAcquire() (*Consumer[T], error) {
	select {
	case h := <-c.handle:
		return h, nil
	default:
		return nil, ErrReaderBusy
	}
}

// Consumer is the exclusive read handle of a [Cell]. It remembers the
// last version it observed across acquisitions.
type Consumer[T any] struct {
	cell *Cell[T]
	seen uint64
}

// Next waits until the cell holds a version newer than the last one this
// consumer observed, then returns that value and marks it seen.
func (h *Consumer[T]) Next(ctx context.Context) (T, error) {
	c := h.cell
	for {
		c.mu.Lock()
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			var zero T
			return zero, err
		}
		if c.version > h.seen {
			h.seen = c.version
			v := c.value
			c.mu.Unlock()
			return v, nil
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Release returns the handle to the cell for the next consumer.
func (h *Consumer[T]) Release() {
	h.cell.handle <- h
}

// Wait acquires the handle, waits for the next change, and releases the
// handle again. It is the one-call form used by sensors.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	h, err := c.Acquire(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	defer h.Release()
	return h.Next(ctx)
}
