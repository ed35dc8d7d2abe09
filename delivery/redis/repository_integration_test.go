//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/delivery"
	"github.com/marcelsud/webhook-dispatch/delivery/redis"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(t *testing.T, webhookID string, createdAt time.Time) delivery.Delivery {
	t.Helper()
	ev, err := event.New("bid.created", map[string]string{"bid_id": "b-1"})
	require.NoError(t, err)

	return delivery.Delivery{
		ID:        uuid.New().String(),
		WebhookID: webhookID,
		Event:     ev,
		Status:    delivery.Pending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestRepository_StoreAndGet_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("store and retrieve delivery record", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		rec := newRecord(t, "wh-1", time.Now())
		rec.RecordAttempt(delivery.Attempt{
			At:           time.Now(),
			StatusCode:   502,
			ErrorKind:    delivery.ErrorKindNon2xx,
			Error:        "non-2xx status: 502",
			ResponseTime: 120 * time.Millisecond,
		})
		rec.Status = delivery.Failed

		id, err := repo.Store(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, id)

		got, err := repo.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, rec.WebhookID, got.WebhookID)
		assert.Equal(t, rec.Event.Type, got.Event.Type)
		assert.Equal(t, delivery.Failed, got.Status)
		assert.Equal(t, 1, got.AttemptCount)
		require.Len(t, got.Attempts, 1)
		assert.Equal(t, delivery.ErrorKindNon2xx, got.Attempts[0].ErrorKind)
		assert.Equal(t, 120*time.Millisecond, got.Attempts[0].ResponseTime)
	})

	t.Run("get non-existent record", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		_, err = repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, delivery.ErrNotFound)
	})
}

func TestRepository_RetrySchedule_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("failed record enters the schedule and is claimed once", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		rec := newRecord(t, "wh-1", time.Now())
		_, err = repo.Store(ctx, rec)
		require.NoError(t, err)

		next := time.Now().Add(-time.Second)
		rec.Status = delivery.Failed
		rec.AttemptCount = 1
		rec.NextAttemptAt = &next
		require.NoError(t, repo.Update(ctx, rec))

		count, err := repo.DueCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		claimed, err := repo.ClaimDue(ctx, time.Now(), 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, rec.ID, claimed[0].ID)
		assert.Nil(t, claimed[0].NextAttemptAt)

		// The claim removed the record from the schedule
		again, err := repo.ClaimDue(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, again)

		count, err = repo.DueCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("future retries are not claimed", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		rec := newRecord(t, "wh-1", time.Now())
		_, err = repo.Store(ctx, rec)
		require.NoError(t, err)

		next := time.Now().Add(time.Hour)
		rec.Status = delivery.Failed
		rec.NextAttemptAt = &next
		require.NoError(t, repo.Update(ctx, rec))

		claimed, err := repo.ClaimDue(ctx, time.Now(), 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("stale delivering records are reclaimable", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		rec := newRecord(t, "wh-1", time.Now().Add(-10*time.Minute))
		_, err = repo.Store(ctx, rec)
		require.NoError(t, err)

		rec.Status = delivery.Delivering
		rec.UpdatedAt = time.Now().Add(-10 * time.Minute)
		require.NoError(t, repo.Update(ctx, rec))

		stale, err := repo.ReclaimStale(ctx, time.Now().Add(-2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, rec.ID, stale[0].ID)
	})
}

func TestRepository_ListByWebhook_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("pages newest first", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		base := time.Now()
		for i := 0; i < 5; i++ {
			rec := newRecord(t, "wh-1", base.Add(time.Duration(i)*time.Second))
			_, err := repo.Store(ctx, rec)
			require.NoError(t, err)
		}
		// Another webhook's records stay out of the page
		other := newRecord(t, "wh-2", base)
		_, err = repo.Store(ctx, other)
		require.NoError(t, err)

		page, err := repo.ListByWebhook(ctx, "wh-1", delivery.ListFilter{Page: 1, PageSize: 3})
		require.NoError(t, err)

		assert.Equal(t, 5, page.Total)
		require.Len(t, page.Deliveries, 3)
		assert.True(t, page.Deliveries[0].CreatedAt.After(page.Deliveries[1].CreatedAt))
	})

	t.Run("filters by status", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		succeeded := newRecord(t, "wh-1", time.Now())
		succeeded.Status = delivery.Succeeded
		_, err = repo.Store(ctx, succeeded)
		require.NoError(t, err)

		failed := newRecord(t, "wh-1", time.Now())
		failed.Status = delivery.Failed
		_, err = repo.Store(ctx, failed)
		require.NoError(t, err)

		page, err := repo.ListByWebhook(ctx, "wh-1", delivery.ListFilter{Status: delivery.Failed})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
		require.Len(t, page.Deliveries, 1)
		assert.Equal(t, failed.ID, page.Deliveries[0].ID)
	})
}

func TestRepository_WindowAndCounters_Integration(t *testing.T) {
	ctx := context.Background()

	t.Run("window scan is bounded by created_at", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		now := time.Now()
		inside := newRecord(t, "wh-1", now)
		outside := newRecord(t, "wh-1", now.Add(-2*time.Hour))
		for _, rec := range []delivery.Delivery{inside, outside} {
			_, err := repo.Store(ctx, rec)
			require.NoError(t, err)
		}

		got, err := repo.Window(ctx, "wh-1", now.Add(-time.Hour), now.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, inside.ID, got[0].ID)
	})

	t.Run("status counters roll with transitions", func(t *testing.T) {
		redisContainer, cleanup := SetupRedisContainer(t, ctx)
		defer cleanup()

		repo, err := redis.NewRepository(redisContainer.Addr, "", 0)
		require.NoError(t, err)
		defer repo.Close(ctx)

		rec := newRecord(t, "wh-1", time.Now())
		_, err = repo.Store(ctx, rec)
		require.NoError(t, err)

		counts, err := repo.StatusCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[delivery.Pending.String()])

		rec.Status = delivery.Succeeded
		require.NoError(t, repo.Update(ctx, rec))

		counts, err = repo.StatusCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), counts[delivery.Pending.String()])
		assert.Equal(t, int64(1), counts[delivery.Succeeded.String()])
	})
}
