// Package channel provides the in-memory hand-off between the cycle runner
// and the dispatch layer.
package channel

import (
	"context"
	"errors"
	"time"

	"paceline/internal/domain"
)

// ErrBufferFull is returned when an emit cannot be buffered within the emit
// timeout. One batch per cycle means a full buffer signals a stuck consumer,
// not bursty load.
var ErrBufferFull = errors.New("task bus buffer full")

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	EmitError()
}

// Option configures a TaskBus.
type Option func(*TaskBus)

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *TaskBus) {
		b.metrics = sink
	}
}

// WithEmitTimeout bounds how long Emit blocks on a full buffer.
// Zero means block until ctx is done.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *TaskBus) {
		b.emitTimeout = d
	}
}

// TaskBus carries one TaskBatch per cycle from the generator side to the
// dispatch side.
type TaskBus struct {
	ch          chan domain.TaskBatch
	metrics     MetricsSink // optional, nil = disabled
	emitTimeout time.Duration
}

// NewTaskBus creates a bus with the given buffer capacity.
func NewTaskBus(buffer int, opts ...Option) *TaskBus {
	b := &TaskBus{
		ch: make(chan domain.TaskBatch, buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit buffers batch for the consumer. It blocks until the batch is
// buffered, ctx is done, or the emit timeout elapses.
func (b *TaskBus) Emit(ctx context.Context, batch domain.TaskBatch) error {
	var timeout <-chan time.Time
	if b.emitTimeout > 0 {
		timer := time.NewTimer(b.emitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case b.ch <- batch:
		b.updateSize()
		return nil
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	case <-timeout:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	}
}

// Channel returns the receive side of the bus. Consumers should call
// Drained after each receive so the buffer gauge stays current.
func (b *TaskBus) Channel() <-chan domain.TaskBatch {
	return b.ch
}

// Drained records the post-receive buffer size.
func (b *TaskBus) Drained() {
	b.updateSize()
}

func (b *TaskBus) updateSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}
