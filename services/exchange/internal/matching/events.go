package matching

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vvoyage/exchange-API-tochka/libs/kafka"
	"github.com/vvoyage/exchange-API-tochka/services/exchange/internal/storage"
)

type EventType string

const (
	EventOrderConsidered  EventType = "order.considered"
	EventCandidateSettled EventType = "candidate.settled"
	EventCandidateSkipped EventType = "candidate.skipped"
	EventOrderCompleted   EventType = "order.completed"
)

// Skip reasons carried by candidate.skipped events.
const (
	SkipNoPrice          = "no_price"
	SkipNotResting       = "not_resting"
	SkipInsufficientFund = "insufficient_funds"
	SkipInsufficientInv  = "insufficient_inventory"
	SkipUnknownTicker    = "unknown_ticker"
	SkipSettlementFailed = "settlement_failed"
)

// Event is one step of a matching pass.
type Event struct {
	Type       EventType           `json:"type"`
	Seq        int                 `json:"seq"`
	OrderID    uuid.UUID           `json:"order_id"`
	Ticker     string              `json:"ticker"`
	Direction  storage.Direction   `json:"direction"`
	CounterID  *uuid.UUID          `json:"counter_id,omitempty"`
	Candidates int                 `json:"candidates,omitempty"`
	Qty        int64               `json:"qty,omitempty"`
	Price      int64               `json:"price,omitempty"`
	TradeID    *uuid.UUID          `json:"trade_id,omitempty"`
	Reason     string              `json:"reason,omitempty"`
	Filled     int64               `json:"filled"`
	Status     storage.OrderStatus `json:"status,omitempty"`
	At         time.Time           `json:"at"`
}

type Sink interface {
	Emit(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Emit(ctx context.Context, ev Event) { f(ctx, ev) }

type multiSink []Sink

func (m multiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// Multi fans an event out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, ev Event) {
	attrs := []slog.Attr{
		slog.String("event", string(ev.Type)),
		slog.String("order_id", ev.OrderID.String()),
		slog.String("ticker", ev.Ticker),
		slog.Int64("filled", ev.Filled),
	}
	if ev.CounterID != nil {
		attrs = append(attrs, slog.String("counter_id", ev.CounterID.String()))
	}
	if ev.Qty > 0 {
		attrs = append(attrs, slog.Int64("qty", ev.Qty), slog.Int64("price", ev.Price))
	}
	if ev.Reason != "" {
		attrs = append(attrs, slog.String("reason", ev.Reason))
	}
	if ev.Status != "" {
		attrs = append(attrs, slog.String("status", string(ev.Status)))
	}

	level := slog.LevelDebug
	switch ev.Type {
	case EventCandidateSettled, EventOrderCompleted:
		level = slog.LevelInfo
	case EventCandidateSkipped:
		if ev.Reason == SkipSettlementFailed {
			level = slog.LevelWarn
		}
	}
	s.logger.LogAttrs(ctx, level, "matching", attrs...)
}

type kafkaMessage struct {
	kafka.Envelope
	Event
}

// KafkaSink publishes events keyed by ticker so one book stays ordered
// within a partition. Publish failures are logged and dropped.
type KafkaSink struct {
	publisher kafka.Publisher
	topic     string
	logger    *slog.Logger
}

func NewKafkaSink(publisher kafka.Publisher, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{publisher: publisher, topic: topic, logger: logger}
}

func (s *KafkaSink) Emit(ctx context.Context, ev Event) {
	if s == nil || s.publisher == nil {
		return
	}
	id := kafka.DeterministicEventID(ev.OrderID.String(), string(ev.Type), strconv.Itoa(ev.Seq))
	env, err := kafka.NewEnvelopeWithID(id, string(ev.Type), 1, ev.OrderID.String())
	if err != nil {
		s.logger.Error("build matching envelope", "error", err)
		return
	}
	if _, _, err := s.publisher.PublishJSON(ctx, s.topic, ev.Ticker, kafkaMessage{Envelope: env, Event: ev}); err != nil {
		s.logger.Warn("publish matching event failed", "event", ev.Type, "order_id", ev.OrderID, "error", err)
	}
}
