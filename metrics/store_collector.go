package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/delivery"
)

// deliveryStore is the slice of the delivery repository the collector
// reads from. Both the redis and in-memory repositories satisfy it.
type deliveryStore interface {
	StatusCounts(ctx context.Context) (map[string]int64, error)
	DueCount(ctx context.Context) (int64, error)
}

var _ deliveryStore = (delivery.Repository)(nil)

// StoreCollector implements Collector on top of the delivery store's
// rolling counters and schedule indexes, so a metrics scrape never
// walks the record keyspace.
type StoreCollector struct {
	store deliveryStore
}

// NewStoreCollector creates a collector backed by the delivery store
func NewStoreCollector(store deliveryStore) *StoreCollector {
	return &StoreCollector{store: store}
}

// Collect gathers all metrics from the store
func (c *StoreCollector) Collect(ctx context.Context) (Metrics, error) {
	statusCounts, err := c.GetStatusCounts(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting status counts: %w", err)
	}

	scheduled, err := c.GetScheduledRetries(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("getting scheduled retries: %w", err)
	}

	return Metrics{
		StatusCounts:     statusCounts,
		ScheduledRetries: scheduled,
		Timestamp:        time.Now(),
	}, nil
}

// GetStatusCounts returns counts of delivery records grouped by status
func (c *StoreCollector) GetStatusCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := c.store.StatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading status counts: %w", err)
	}

	// Always report every known status, even at zero
	for _, status := range []delivery.Status{
		delivery.Pending, delivery.Delivering, delivery.Succeeded, delivery.Failed, delivery.Exhausted,
	} {
		if _, ok := counts[status.String()]; !ok {
			counts[status.String()] = 0
		}
	}

	return counts, nil
}

// GetScheduledRetries returns the retry schedule depth
func (c *StoreCollector) GetScheduledRetries(ctx context.Context) (int64, error) {
	count, err := c.store.DueCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading retry schedule depth: %w", err)
	}
	return count, nil
}
