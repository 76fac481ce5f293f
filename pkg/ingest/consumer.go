// Package ingest pulls upstream records from Kafka, decodes them and hands
// each event to the pipeline in partition order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/events"
	"github.com/weilalicia7/Warehouse-Guardian-AI-Alert/pkg/metrics"
)

const (
	consumeRetryDelay = 300 * time.Millisecond

	// Malformed records: log the first few, then one per interval.
	malformedLogFirst    = 10
	malformedLogInterval = 10 * time.Second
)

// Default upstream topics.
const (
	DefaultScanTopic     = "token-scans"
	DefaultPhysicalTopic = "inventory-physical"
	DefaultDigitalTopic  = "inventory-digital"
)

// Processor consumes decoded events.
type Processor interface {
	Process(ctx context.Context, ev events.Event) error
}

// Source binds a topic to the event kind its records decode as.
type Source struct {
	Topic string
	Kind  events.Kind
}

// DefaultSources returns the three upstream sources on their default topics.
func DefaultSources() []Source {
	return []Source{
		{Topic: DefaultScanTopic, Kind: events.KindTokenScan},
		{Topic: DefaultPhysicalTopic, Kind: events.KindSensor},
		{Topic: DefaultDigitalTopic, Kind: events.KindLedger},
	}
}

// ConsumerConfig builds the sarama config shared by every source.
func ConsumerConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Consumer reads one source through a consumer group.
type Consumer struct {
	source  Source
	group   sarama.ConsumerGroup
	proc    Processor
	metrics *metrics.Metrics
	logger  *zap.Logger

	malformedLog *rate.Sometimes

	// Stats
	received  atomic.Uint64
	processed atomic.Uint64
	malformed atomic.Uint64
	ignored   atomic.Uint64
	failed    atomic.Uint64
}

// NewConsumer joins groupID on brokers for src. The group id is suffixed with
// the event kind so each source commits its own offsets.
func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, src Source, proc Processor, m *metrics.Metrics, logger *zap.Logger) (*Consumer, error) {
	if src.Topic == "" {
		return nil, errors.New("ingest: topic required")
	}
	cg, err := sarama.NewConsumerGroup(brokers, groupID+"-"+string(src.Kind), cfg)
	if err != nil {
		return nil, fmt.Errorf("consumer group %s: %w", src.Topic, err)
	}
	return newConsumer(cg, src, proc, m, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, src Source, proc Processor, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		source:  src,
		group:   group,
		proc:    proc,
		metrics: m,
		logger:  logger.Named("ingest").With(zap.String("topic", src.Topic)),
		malformedLog: &rate.Sometimes{
			First:    malformedLogFirst,
			Interval: malformedLogInterval,
		},
	}
}

// Run consumes until ctx is done. Consume returns on every rebalance, so it
// is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	if c.group == nil {
		return errors.New("ingest: consumer not connected")
	}
	go c.drainErrors(ctx)

	c.logger.Info("consuming", zap.String("kind", string(c.source.Kind)))
	for {
		if err := c.group.Consume(ctx, []string{c.source.Topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Warn("consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(consumeRetryDelay):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) drainErrors(ctx context.Context) {
	errs := c.group.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			c.logger.Warn("consumer group error", zap.Error(err))
		}
	}
}

// Close leaves the group.
func (c *Consumer) Close() error {
	if c.group == nil {
		return nil
	}
	return c.group.Close()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes a partition in order. Every record is marked,
// including the ones that fail to decode; there is no redelivery.
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.handleMessage(ctx, msg)
			sess.MarkMessage(msg, "")
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	c.received.Add(1)
	source := string(c.source.Kind)
	c.metrics.EventsConsumed.WithLabelValues(source).Inc()

	ev, err := events.Parse(c.source.Kind, msg.Value)
	switch {
	case errors.Is(err, events.ErrIgnored):
		c.ignored.Add(1)
		c.metrics.EventsDropped.WithLabelValues(source, "ignored").Inc()
		return
	case err != nil:
		c.malformed.Add(1)
		c.metrics.EventsDropped.WithLabelValues(source, "malformed").Inc()
		c.malformedLog.Do(func() {
			c.logger.Warn("malformed record",
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Uint64("malformed_total", c.malformed.Load()),
				zap.Error(err))
		})
		return
	}

	if err := c.proc.Process(ctx, ev); err != nil {
		c.failed.Add(1)
		c.logger.Warn("process failed",
			zap.String("key", ev.Key()),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}
	c.processed.Add(1)
}

// Stats returns current statistics.
func (c *Consumer) Stats() map[string]any {
	return map[string]any{
		"topic":     c.source.Topic,
		"kind":      string(c.source.Kind),
		"received":  c.received.Load(),
		"processed": c.processed.Load(),
		"malformed": c.malformed.Load(),
		"ignored":   c.ignored.Load(),
		"failed":    c.failed.Load(),
	}
}

// SplitCSV splits a comma separated broker list, dropping blanks.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, x := range parts {
		x = strings.TrimSpace(x)
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}

var _ sarama.ConsumerGroupHandler = (*Consumer)(nil)
