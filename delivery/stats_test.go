package delivery_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/delivery"
	deliverymemory "github.com/marcelsud/webhook-dispatch/delivery/memory"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeRecord(t *testing.T, store *deliverymemory.Repository, webhookID string, status delivery.Status, createdAt time.Time, latencies ...time.Duration) delivery.Delivery {
	t.Helper()
	ev, err := event.New("bid.created", map[string]string{"bid_id": "b-1"})
	require.NoError(t, err)

	rec := delivery.Delivery{
		ID:        uuid.New().String(),
		WebhookID: webhookID,
		Event:     ev,
		Status:    status,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	for _, latency := range latencies {
		attempt := delivery.Attempt{At: createdAt, ResponseTime: latency}
		if status != delivery.Succeeded {
			attempt.ErrorKind = delivery.ErrorKindNon2xx
			attempt.StatusCode = 500
		} else {
			attempt.StatusCode = 200
		}
		rec.RecordAttempt(attempt)
	}
	_, err = store.Store(context.Background(), rec)
	require.NoError(t, err)
	return rec
}

func TestAggregator_Stats(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	from := now.Add(-time.Hour)
	to := now.Add(time.Hour)

	t.Run("aggregates outcomes and latencies", func(t *testing.T) {
		store := deliverymemory.NewRepository()
		storeRecord(t, store, "wh-1", delivery.Succeeded, now, 100*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Succeeded, now, 200*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Failed, now, 300*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Exhausted, now, 400*time.Millisecond, 500*time.Millisecond)

		stats, err := delivery.NewAggregator(store).Stats(ctx, "wh-1", from, to)
		require.NoError(t, err)

		assert.Equal(t, "wh-1", stats.WebhookID)
		assert.Equal(t, 5, stats.TotalAttempts)
		assert.Equal(t, 2, stats.SuccessCount)
		assert.Equal(t, 2, stats.FailureCount)
		assert.InDelta(t, 0.5, stats.SuccessRate, 0.001)
		assert.Equal(t, 300*time.Millisecond, stats.AverageLatency)
		assert.Equal(t, 500*time.Millisecond, stats.P95Latency)
	})

	t.Run("window excludes records outside the range", func(t *testing.T) {
		store := deliverymemory.NewRepository()
		storeRecord(t, store, "wh-1", delivery.Succeeded, now, 100*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Succeeded, now.Add(-2*time.Hour), 100*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Failed, now.Add(2*time.Hour), 100*time.Millisecond)

		stats, err := delivery.NewAggregator(store).Stats(ctx, "wh-1", from, to)
		require.NoError(t, err)

		assert.Equal(t, 1, stats.SuccessCount)
		assert.Equal(t, 0, stats.FailureCount)
		assert.Equal(t, 1, stats.TotalAttempts)
	})

	t.Run("only the requested webhook is counted", func(t *testing.T) {
		store := deliverymemory.NewRepository()
		storeRecord(t, store, "wh-1", delivery.Succeeded, now, 100*time.Millisecond)
		storeRecord(t, store, "wh-2", delivery.Failed, now, 100*time.Millisecond)

		stats, err := delivery.NewAggregator(store).Stats(ctx, "wh-1", from, to)
		require.NoError(t, err)

		assert.Equal(t, 1, stats.SuccessCount)
		assert.Equal(t, 0, stats.FailureCount)
	})

	t.Run("pending and in-flight records do not skew the success rate", func(t *testing.T) {
		store := deliverymemory.NewRepository()
		storeRecord(t, store, "wh-1", delivery.Succeeded, now, 100*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Pending, now)
		storeRecord(t, store, "wh-1", delivery.Delivering, now)

		stats, err := delivery.NewAggregator(store).Stats(ctx, "wh-1", from, to)
		require.NoError(t, err)

		assert.Equal(t, 1, stats.SuccessCount)
		assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
	})

	t.Run("empty window", func(t *testing.T) {
		store := deliverymemory.NewRepository()

		stats, err := delivery.NewAggregator(store).Stats(ctx, "wh-1", from, to)
		require.NoError(t, err)

		assert.Zero(t, stats.TotalAttempts)
		assert.Zero(t, stats.SuccessRate)
		assert.Zero(t, stats.AverageLatency)
		assert.Zero(t, stats.P95Latency)
	})
}

func TestAggregator_Deliveries(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("pages newest first with defaults", func(t *testing.T) {
		store := deliverymemory.NewRepository()
		for i := 0; i < 25; i++ {
			storeRecord(t, store, "wh-1", delivery.Succeeded, now.Add(time.Duration(i)*time.Second), 10*time.Millisecond)
		}

		page, err := delivery.NewAggregator(store).Deliveries(ctx, "wh-1", delivery.ListFilter{})
		require.NoError(t, err)

		assert.Equal(t, 25, page.Total)
		assert.Equal(t, 1, page.Page)
		assert.Equal(t, 20, page.PageSize)
		require.Len(t, page.Deliveries, 20)
		assert.True(t, page.Deliveries[0].CreatedAt.After(page.Deliveries[1].CreatedAt))
	})

	t.Run("filters by status", func(t *testing.T) {
		store := deliverymemory.NewRepository()
		storeRecord(t, store, "wh-1", delivery.Succeeded, now, 10*time.Millisecond)
		storeRecord(t, store, "wh-1", delivery.Failed, now, 10*time.Millisecond)

		page, err := delivery.NewAggregator(store).Deliveries(ctx, "wh-1", delivery.ListFilter{Status: delivery.Failed})
		require.NoError(t, err)

		assert.Equal(t, 1, page.Total)
		require.Len(t, page.Deliveries, 1)
		assert.Equal(t, delivery.Failed, page.Deliveries[0].Status)
	})
}
