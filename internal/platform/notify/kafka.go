package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	dErrors "custodia/pkg/domain-errors"
)

// KafkaConfig holds producer configuration for the kafka sink.
type KafkaConfig struct {
	Brokers string
	Topic   string
	Retries int
}

// KafkaSink forwards bus events to a Kafka topic for dashboards and alerting.
// Delivery is fire-and-forget; the core never blocks on consumption.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// NewKafkaSink creates a sink producing to cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *slog.Logger) (*KafkaSink, error) {
	if cfg.Brokers == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "kafka brokers not configured")
	}
	if cfg.Topic == "" {
		cfg.Topic = "custodia.notifications"
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create kafka producer")
	}
	return &KafkaSink{client: client, topic: cfg.Topic, logger: logger}, nil
}

// Run consumes events from the channel until it closes, producing each to
// Kafka asynchronously. Intended to be attached to a Bus subscription:
//
//	go sink.Run(bus.Subscribe())
func (s *KafkaSink) Run(events <-chan Event) {
	for event := range events {
		s.produce(event)
	}
}

func (s *KafkaSink) produce(event Event) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.mu.RUnlock()

	value, err := json.Marshal(event)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to encode notification", "event", event.Name, "error", err)
		}
		return
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.Subject),
		Value: value,
	}
	s.client.Produce(context.Background(), record, func(r *kgo.Record, err error) {
		if err != nil && s.logger != nil {
			s.logger.Error("kafka delivery failed",
				"topic", r.Topic,
				"event", event.Name,
				"error", err,
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.client.Flush(ctx); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "flush kafka producer")
	}
	s.client.Close()
	return nil
}
