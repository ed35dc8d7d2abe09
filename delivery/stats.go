package delivery

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Stats aggregates delivery outcomes for one webhook over a time window
type Stats struct {
	WebhookID      string        `json:"webhook_id"`
	From           time.Time     `json:"from"`
	To             time.Time     `json:"to"`
	TotalAttempts  int           `json:"total_attempts"`
	SuccessCount   int           `json:"success_count"`
	FailureCount   int           `json:"failure_count"`
	SuccessRate    float64       `json:"success_rate"`
	AverageLatency time.Duration `json:"average_latency"`
	P95Latency     time.Duration `json:"p95_latency"`
}

/* Aggregator derives statistics from the delivery store.
 * It relies on the store's indexed time-range scan (Window) so a stats
 * read never walks a webhook's full history.
 */
type Aggregator struct {
	store Reader
}

// NewAggregator creates a statistics aggregator over the given store
func NewAggregator(store Reader) *Aggregator {
	return &Aggregator{store: store}
}

// Stats computes aggregates over records whose CreatedAt falls in
// [from, to). Success and failure are counted per record by terminal
// status; latency is measured per attempt.
func (a *Aggregator) Stats(ctx context.Context, webhookID string, from, to time.Time) (Stats, error) {
	records, err := a.store.Window(ctx, webhookID, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("scanning window: %w", err)
	}

	stats := Stats{
		WebhookID: webhookID,
		From:      from,
		To:        to,
	}

	var latencies []time.Duration
	var totalLatency time.Duration

	for _, rec := range records {
		stats.TotalAttempts += rec.AttemptCount

		switch rec.Status {
		case Succeeded:
			stats.SuccessCount++
		case Failed, Exhausted:
			stats.FailureCount++
		}

		for _, attempt := range rec.Attempts {
			if attempt.ResponseTime <= 0 {
				continue
			}
			latencies = append(latencies, attempt.ResponseTime)
			totalLatency += attempt.ResponseTime
		}
	}

	if completed := stats.SuccessCount + stats.FailureCount; completed > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(completed)
	}

	if len(latencies) > 0 {
		stats.AverageLatency = totalLatency / time.Duration(len(latencies))
		stats.P95Latency = percentile(latencies, 0.95)
	}

	return stats, nil
}

// Deliveries returns a page of delivery records, newest-first
func (a *Aggregator) Deliveries(ctx context.Context, webhookID string, filter ListFilter) (Page, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 {
		filter.PageSize = 20
	}

	page, err := a.store.ListByWebhook(ctx, webhookID, filter)
	if err != nil {
		return Page{}, fmt.Errorf("listing deliveries: %w", err)
	}
	return page, nil
}

// percentile returns the p-th percentile of the given durations
func percentile(values []time.Duration, p float64) time.Duration {
	sorted := make([]time.Duration, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted))*p+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
