package matching

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const DefaultAsyncBuffer = 1024

type queuedEvent struct {
	ctx context.Context
	ev  Event
}

// AsyncSink decouples matching from a slow sink. Emit never blocks: events
// are queued for a single worker, which keeps their order, and dropped when
// the queue is full.
type AsyncSink struct {
	next    Sink
	queue   chan queuedEvent
	logger  *slog.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

func NewAsyncSink(next Sink, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &AsyncSink{
		next:   next,
		queue:  make(chan queuedEvent, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for q := range s.queue {
		s.next.Emit(q.ctx, q.ev)
	}
}

func (s *AsyncSink) Emit(ctx context.Context, ev Event) {
	select {
	case s.queue <- queuedEvent{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		if n := s.dropped.Add(1); n == 1 || n%1000 == 0 {
			s.logger.Warn("matching event queue full, dropping", "event", ev.Type, "order_id", ev.OrderID, "dropped_total", n)
		}
	}
}

// Dropped is the number of events discarded because the queue was full.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits for the queue to drain or ctx to
// end. Emit must not be called after Close.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.queue) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
