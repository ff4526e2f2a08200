package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
)

type ProducerMetrics struct {
	PublishTotal   *prometheus.CounterVec
	PublishLatency prometheus.Histogram
}

func NewProducerMetrics(registry *prometheus.Registry) *ProducerMetrics {
	m := &ProducerMetrics{
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "exchange",
				Name:      "kafka_publish_total",
				Help:      "Total Kafka publish attempts.",
			},
			[]string{"topic", "status"},
		),
		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "exchange",
				Name:      "kafka_publish_latency_seconds",
				Help:      "Kafka publish latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	registry.MustRegister(m.PublishTotal, m.PublishLatency)
	return m
}

func (m *ProducerMetrics) observe(topic string, err error, started time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.PublishTotal.WithLabelValues(topic, status).Inc()
	m.PublishLatency.Observe(time.Since(started).Seconds())
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
	Close() error
}

// DLQPublisher forwards failed publishes to a dead-letter topic. The
// original error is still returned to the caller.
type DLQPublisher struct {
	primary  Publisher
	dlq      Publisher
	dlqTopic string
	logger   *slog.Logger
}

func NewDLQPublisher(primary Publisher, dlq Publisher, dlqTopic string, logger *slog.Logger) *DLQPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &DLQPublisher{
		primary:  primary,
		dlq:      dlq,
		dlqTopic: dlqTopic,
		logger:   logger,
	}
}

func (p *DLQPublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if p == nil || p.primary == nil {
		return 0, 0, fmt.Errorf("kafka producer not configured")
	}
	partition, offset, err := p.primary.PublishJSON(ctx, topic, key, value)
	if err == nil {
		return partition, offset, nil
	}
	if p.dlq == nil || p.dlqTopic == "" {
		return partition, offset, err
	}
	payload := BuildDeadLetter(topic, key, value, err, "publish_failed")
	if _, _, dlqErr := p.dlq.PublishJSON(ctx, p.dlqTopic, key, payload); dlqErr != nil {
		p.logger.Error("publish dlq failed", "topic", p.dlqTopic, "error", dlqErr)
	}
	return partition, offset, err
}

// Close closes the primary publisher. The dead-letter publisher usually
// shares the same producer and is not closed twice.
func (p *DLQPublisher) Close() error {
	if p == nil || p.primary == nil {
		return nil
	}
	return p.primary.Close()
}

type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// Version is a Kafka protocol version such as "2.8.0". Empty uses 3.6.0.
	Version string
}

func NewSaramaConfig(pc ProducerConfig) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_6_0_0
	if pc.Version != "" {
		v, err := sarama.ParseKafkaVersion(pc.Version)
		if err != nil {
			return nil, fmt.Errorf("parse kafka version: %w", err)
		}
		cfg.Version = v
	}
	if pc.ClientID != "" {
		cfg.ClientID = pc.ClientID
	}
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	return cfg, nil
}

type SyncProducer struct {
	producer sarama.SyncProducer
	logger   *slog.Logger
	metrics  *ProducerMetrics
}

func NewSyncProducer(pc ProducerConfig, logger *slog.Logger, metrics *ProducerMetrics) (*SyncProducer, error) {
	if len(pc.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	cfg, err := NewSaramaConfig(pc)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(pc.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return WrapSyncProducer(producer, logger, metrics), nil
}

// WrapSyncProducer adapts an existing sarama producer, e.g. a mock.
func WrapSyncProducer(producer sarama.SyncProducer, logger *slog.Logger, metrics *ProducerMetrics) *SyncProducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncProducer{
		producer: producer,
		logger:   logger,
		metrics:  metrics,
	}
}

func (p *SyncProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	default:
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal kafka payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	if env, ok := value.(interface{ EventType() string }); ok {
		msg.Headers = []sarama.RecordHeader{{Key: []byte("event_type"), Value: []byte(env.EventType())}}
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.observe(topic, err, start)
	if err != nil {
		p.logger.Error("kafka publish failed", "topic", topic, "error", err)
		return 0, 0, fmt.Errorf("kafka publish failed: %w", err)
	}

	return partition, offset, nil
}

func (p *SyncProducer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
