package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// MultiConsumer runs one Consumer per upstream source.
type MultiConsumer struct {
	consumers []*Consumer
	running   atomic.Bool
}

// NewMultiConsumer groups already connected consumers.
func NewMultiConsumer(consumers ...*Consumer) *MultiConsumer {
	return &MultiConsumer{consumers: consumers}
}

// Run blocks until ctx is done or a consumer fails.
func (mc *MultiConsumer) Run(ctx context.Context) error {
	if mc.running.Swap(true) {
		return errors.New("ingest: already running")
	}
	defer mc.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range mc.consumers {
		c := c
		g.Go(func() error { return c.Run(ctx) })
	}
	return g.Wait()
}

// Close leaves every group.
func (mc *MultiConsumer) Close() error {
	var errs []error
	for _, c := range mc.consumers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns aggregated statistics from all consumers.
func (mc *MultiConsumer) Stats() map[string]any {
	var totalReceived, totalProcessed, totalMalformed, totalIgnored, totalFailed uint64
	sourceStats := make([]map[string]any, len(mc.consumers))

	for i, c := range mc.consumers {
		stats := c.Stats()
		sourceStats[i] = stats
		totalReceived += stats["received"].(uint64)
		totalProcessed += stats["processed"].(uint64)
		totalMalformed += stats["malformed"].(uint64)
		totalIgnored += stats["ignored"].(uint64)
		totalFailed += stats["failed"].(uint64)
	}

	return map[string]any{
		"running":         mc.running.Load(),
		"sources":         sourceStats,
		"total_received":  totalReceived,
		"total_processed": totalProcessed,
		"total_malformed": totalMalformed,
		"total_ignored":   totalIgnored,
		"total_failed":    totalFailed,
	}
}
