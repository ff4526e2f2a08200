package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/logging"
)

// blockingPublisher holds every publish until release is closed.
type blockingPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	keys    []string
}

func (p *blockingPublisher) PublishJSON(_ context.Context, _ string, key string, _ any) (int32, int64, error) {
	<-p.release
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return 0, 0, nil
}

func (p *blockingPublisher) Close() error { return nil }

func TestAsyncSinkDoesNotBlockOnSlowPublisher(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	sink := NewAsyncSink(NewKafkaSink(pub, "exchange.matching", logging.Discard()), 2, logging.Discard())

	done := make(chan struct{})
	go func() {
		// One event is held by the worker, two fill the queue, the rest drop.
		for i := 0; i < 10; i++ {
			sink.Emit(context.Background(), Event{Type: EventOrderConsidered, Seq: i + 1, OrderID: uuid.New(), Ticker: "FOO"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit blocked on the publisher")
	}
	if sink.Dropped() < 7 {
		t.Fatalf("expected at least 7 dropped events, got %d", sink.Dropped())
	}

	close(pub.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if published := int64(len(pub.keys)); published+sink.Dropped() != 10 {
		t.Fatalf("expected published+dropped = 10, got %d+%d", published, sink.Dropped())
	}
}

func TestAsyncSinkKeepsOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seqs []int
	)
	sink := NewAsyncSink(SinkFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		seqs = append(seqs, ev.Seq)
		mu.Unlock()
	}), 16, logging.Discard())

	for i := 1; i <= 5; i++ {
		sink.Emit(context.Background(), Event{Seq: i})
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(seqs) != 5 {
		t.Fatalf("expected 5 events, got %v", seqs)
	}
	for i, seq := range seqs {
		if seq != i+1 {
			t.Fatalf("events out of order: %v", seqs)
		}
	}
}

func TestAsyncSinkEmitSurvivesCancelledContext(t *testing.T) {
	got := make(chan error, 1)
	sink := NewAsyncSink(SinkFunc(func(ctx context.Context, _ Event) {
		got <- ctx.Err()
	}), 1, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	sink.Emit(ctx, Event{Seq: 1})
	cancel()

	if err := <-got; err != nil {
		t.Fatalf("queued event saw request cancellation: %v", err)
	}
	_ = sink.Close(context.Background())
}
