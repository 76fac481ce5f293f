// Package publish writes alerts to the outbound alert topic.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/models"
)

// DefaultTopic is the outbound alert topic.
const DefaultTopic = "fraud-alerts"

// Sink receives every alert the pipeline generates.
type Sink interface {
	Publish(ctx context.Context, alert *models.Alert) error
	Close() error
}

// ProducerConfig returns the reliability-oriented producer settings.
func ProducerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_1_0_0

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	// SyncProducer must have Return.Successes=true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	return cfg
}

// KafkaSink publishes alerts keyed by tenant id, so one tenant's alerts stay
// ordered within a partition.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
}

// NewKafkaSink connects a SyncProducer to brokers.
func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("publish: no brokers")
	}
	if cfg == nil {
		cfg = ProducerConfig("guardian")
	}
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create producer: %w", err)
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer.
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{topic: topic, p: p}
}

// Publish sends alert and waits for the broker ack.
func (s *KafkaSink) Publish(ctx context.Context, alert *models.Alert) error {
	// SyncProducer doesn't take a context; only check it up front.
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(alert.TenantID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("alert_kind"), Value: []byte(alert.Kind)},
		},
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}
