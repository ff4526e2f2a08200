package matching

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/logging"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type publishCall struct {
	topic string
	key   string
	value any
}

type stubPublisher struct {
	calls []publishCall
	err   error
}

func (s *stubPublisher) PublishJSON(_ context.Context, topic, key string, value any) (int32, int64, error) {
	s.calls = append(s.calls, publishCall{topic: topic, key: key, value: value})
	return 0, int64(len(s.calls)), s.err
}

func (s *stubPublisher) Close() error { return nil }

func TestKafkaSinkPublishesKeyedByTicker(t *testing.T) {
	pub := &stubPublisher{}
	sink := NewKafkaSink(pub, "exchange.matching", logging.Discard())

	orderID := uuid.New()
	ev := Event{Type: EventCandidateSettled, Seq: 2, OrderID: orderID, Ticker: "FOO", Qty: 3, Price: 50}
	sink.Emit(context.Background(), ev)
	sink.Emit(context.Background(), ev)

	if len(pub.calls) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.calls))
	}
	call := pub.calls[0]
	if call.topic != "exchange.matching" || call.key != "FOO" {
		t.Fatalf("unexpected topic/key %s/%s", call.topic, call.key)
	}

	raw, err := json.Marshal(call.value)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["event_type"] != string(EventCandidateSettled) || decoded["type"] != string(EventCandidateSettled) {
		t.Fatalf("unexpected payload %s", raw)
	}
	if decoded["order_id"] != orderID.String() || decoded["correlation_id"] != orderID.String() {
		t.Fatalf("unexpected ids in payload %s", raw)
	}

	second, _ := json.Marshal(pub.calls[1].value)
	var again map[string]any
	_ = json.Unmarshal(second, &again)
	if again["event_id"] != decoded["event_id"] {
		t.Fatalf("expected the same event id for the same step")
	}
}

func TestKafkaSinkSwallowsPublishErrors(t *testing.T) {
	pub := &stubPublisher{err: errors.New("broker down")}
	var buf bytes.Buffer
	sink := NewKafkaSink(pub, "exchange.matching", logging.NewWithWriter(&buf, "debug", "exchange", "test"))

	sink.Emit(context.Background(), Event{Type: EventOrderCompleted, Seq: 3, OrderID: uuid.New(), Ticker: "FOO"})

	if len(pub.calls) != 1 {
		t.Fatalf("expected 1 publish attempt")
	}
	if !strings.Contains(buf.String(), "publish matching event failed") {
		t.Fatalf("expected a warning, got %s", buf.String())
	}
}

func TestLogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(logging.NewWithWriter(&buf, "info", "exchange", "test"))
	counter := uuid.New()

	sink.Emit(context.Background(), Event{Type: EventOrderConsidered, OrderID: uuid.New(), Ticker: "FOO"})
	if buf.Len() != 0 {
		t.Fatalf("expected order.considered at debug, got %s", buf.String())
	}

	sink.Emit(context.Background(), Event{
		Type:      EventCandidateSkipped,
		OrderID:   uuid.New(),
		Ticker:    "FOO",
		CounterID: &counter,
		Reason:    SkipSettlementFailed,
	})
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one json line, got %q: %v", buf.String(), err)
	}
	if line["level"] != "WARN" || line["reason"] != SkipSettlementFailed || line["counter_id"] != counter.String() {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestMultiSkipsNilSinks(t *testing.T) {
	var got []EventType
	sink := Multi(nil, SinkFunc(func(_ context.Context, ev Event) { got = append(got, ev.Type) }))
	sink.Emit(context.Background(), Event{Type: EventOrderCompleted, Status: storage.StatusExecuted})
	if len(got) != 1 || got[0] != EventOrderCompleted {
		t.Fatalf("unexpected fan-out %v", got)
	}
}
