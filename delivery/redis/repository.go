package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/marcelsud/webhook-dispatch/delivery"
	"github.com/marcelsud/webhook-dispatch/event"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of delivery.Repository
 * Uses a Hash per record plus sorted-set indexes:
 *   deliveries:webhook:{id}  scored by created_at, backs newest-first
 *                            pagination and windowed statistics scans
 *   deliveries:due           scored by next_attempt_at, the retry
 *                            schedule; claiming removes the member, so
 *                            a claimed record has exactly one owner
 *   deliveries:delivering    scored by updated_at, backs reclaim of
 *                            records abandoned mid-attempt
 * Status counts are rolling counters bumped on every transition, never
 * a full keyspace scan.
 */

const (
	hashPrefix       = "delivery"            // Hash naming: delivery:{id}
	webhookZSet      = "deliveries:webhook"  // ZSet naming: deliveries:webhook:{webhook_id}
	dueZSet          = "deliveries:due"      // Global retry schedule
	deliveringZSet   = "deliveries:delivering"
	statusCountsHash = "deliveries:status_counts"
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a new Redis repository
func NewRepository(addr, password string, db int) (*Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Repository{
		client: client,
	}, nil
}

// NewRepositoryWithClient wraps an existing client, sharing a
// connection pool with other repositories.
func NewRepositoryWithClient(client *redis.Client) *Repository {
	return &Repository{client: client}
}

// Store persists a new delivery record and indexes it
func (r *Repository) Store(ctx context.Context, d delivery.Delivery) (string, error) {
	if err := r.write(ctx, d); err != nil {
		return "", err
	}

	err := r.client.ZAdd(ctx, webhookKey(d.WebhookID), redis.Z{
		Score:  float64(d.CreatedAt.UnixNano()),
		Member: d.ID,
	}).Err()
	if err != nil {
		return "", fmt.Errorf("indexing delivery by webhook: %w", err)
	}

	if err := r.client.HIncrBy(ctx, statusCountsHash, d.Status.String(), 1).Err(); err != nil {
		return "", fmt.Errorf("incrementing status counter: %w", err)
	}

	return d.ID, nil
}

// Get retrieves a delivery record by ID
func (r *Repository) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return delivery.Delivery{}, delivery.ErrNotFound
	}

	return parseDelivery(data)
}

// Update replaces a delivery record and reconciles the schedule indexes
// and rolling status counters.
func (r *Repository) Update(ctx context.Context, d delivery.Delivery) error {
	oldStatus, err := r.client.HGet(ctx, hashKey(d.ID), "status").Result()
	if err == redis.Nil {
		return delivery.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading delivery status: %w", err)
	}

	if err := r.write(ctx, d); err != nil {
		return err
	}

	if oldStatus != d.Status.String() {
		pipe := r.client.Pipeline()
		pipe.HIncrBy(ctx, statusCountsHash, oldStatus, -1)
		pipe.HIncrBy(ctx, statusCountsHash, d.Status.String(), 1)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("updating status counters: %w", err)
		}
	}

	return r.reindex(ctx, d)
}

// ListByWebhook returns a page of the webhook's records, newest-first
func (r *Repository) ListByWebhook(ctx context.Context, webhookID string, filter delivery.ListFilter) (delivery.Page, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	// Fast path: no filters means the zset order is the result order
	if filter.Status == 0 && filter.Event == "" {
		total, err := r.client.ZCard(ctx, webhookKey(webhookID)).Result()
		if err != nil {
			return delivery.Page{}, fmt.Errorf("counting deliveries: %w", err)
		}

		start := int64((page - 1) * pageSize)
		ids, err := r.client.ZRevRange(ctx, webhookKey(webhookID), start, start+int64(pageSize)-1).Result()
		if err != nil {
			return delivery.Page{}, fmt.Errorf("reading delivery index: %w", err)
		}

		records, err := r.load(ctx, ids)
		if err != nil {
			return delivery.Page{}, err
		}

		return delivery.Page{
			Deliveries: records,
			Total:      int(total),
			Page:       page,
			PageSize:   pageSize,
		}, nil
	}

	// Filtered path: walk the index newest-first and filter as we load
	ids, err := r.client.ZRevRange(ctx, webhookKey(webhookID), 0, -1).Result()
	if err != nil {
		return delivery.Page{}, fmt.Errorf("reading delivery index: %w", err)
	}

	records, err := r.load(ctx, ids)
	if err != nil {
		return delivery.Page{}, err
	}

	var matched []delivery.Delivery
	for _, d := range records {
		if filter.Status != 0 && d.Status != filter.Status {
			continue
		}
		if filter.Event != "" && d.Event.Type != filter.Event {
			continue
		}
		matched = append(matched, d)
	}

	total := len(matched)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	return delivery.Page{
		Deliveries: matched[start:end],
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Window returns the webhook's records with CreatedAt in [from, to)
func (r *Repository) Window(ctx context.Context, webhookID string, from, to time.Time) ([]delivery.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, webhookKey(webhookID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixNano(), 10),
		Max: "(" + strconv.FormatInt(to.UnixNano(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scanning delivery window: %w", err)
	}

	return r.load(ctx, ids)
}

// StatusCounts returns the rolling per-status record counts
func (r *Repository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	data, err := r.client.HGetAll(ctx, statusCountsHash).Result()
	if err != nil {
		return nil, fmt.Errorf("reading status counters: %w", err)
	}

	counts := make(map[string]int64, len(data))
	for status, value := range data {
		counts[status] = parseInt64(value)
	}
	return counts, nil
}

// ClaimDue atomically claims due retries. Removal from the schedule
// zset is the claim: whichever caller's ZRem succeeds owns the record.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]delivery.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, dueZSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixNano(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reading retry schedule: %w", err)
	}

	var claimed []delivery.Delivery
	for _, id := range ids {
		removed, err := r.client.ZRem(ctx, dueZSet, id).Result()
		if err != nil {
			return nil, fmt.Errorf("claiming retry: %w", err)
		}
		if removed == 0 {
			// Another worker claimed it first
			continue
		}

		d, err := r.Get(ctx, id)
		if err == delivery.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		d.NextAttemptAt = nil
		claimed = append(claimed, d)
	}

	return claimed, nil
}

// DueCount returns the size of the retry schedule
func (r *Repository) DueCount(ctx context.Context) (int64, error) {
	count, err := r.client.ZCard(ctx, dueZSet).Result()
	if err != nil {
		return 0, fmt.Errorf("counting retry schedule: %w", err)
	}
	return count, nil
}

// ReclaimStale returns records stuck in Delivering since before cutoff
func (r *Repository) ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]delivery.Delivery, error) {
	ids, err := r.client.ZRangeByScore(ctx, deliveringZSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(cutoff.UnixNano(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scanning stale deliveries: %w", err)
	}

	return r.load(ctx, ids)
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// write stores the delivery hash
func (r *Repository) write(ctx context.Context, d delivery.Delivery) error {
	eventJSON, err := json.Marshal(d.Event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	attemptsJSON, err := json.Marshal(d.Attempts)
	if err != nil {
		return fmt.Errorf("marshaling attempts: %w", err)
	}

	var nextAttemptAt, completedAt int64
	if d.NextAttemptAt != nil {
		nextAttemptAt = d.NextAttemptAt.UnixNano()
	}
	if d.CompletedAt != nil {
		completedAt = d.CompletedAt.UnixNano()
	}

	err = r.client.HSet(ctx, hashKey(d.ID), map[string]interface{}{
		"id":              d.ID,
		"webhook_id":      d.WebhookID,
		"event":           string(eventJSON),
		"status":          d.Status.String(),
		"attempt_count":   d.AttemptCount,
		"attempts":        string(attemptsJSON),
		"next_attempt_at": nextAttemptAt,
		"created_at":      d.CreatedAt.UnixNano(),
		"updated_at":      d.UpdatedAt.UnixNano(),
		"completed_at":    completedAt,
	}).Err()
	if err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}

	return nil
}

// reindex puts the record in the schedule structure matching its state
func (r *Repository) reindex(ctx context.Context, d delivery.Delivery) error {
	pipe := r.client.Pipeline()

	switch {
	case d.Status == delivery.Failed && d.NextAttemptAt != nil:
		pipe.ZAdd(ctx, dueZSet, redis.Z{
			Score:  float64(d.NextAttemptAt.UnixNano()),
			Member: d.ID,
		})
		pipe.ZRem(ctx, deliveringZSet, d.ID)
	case d.Status == delivery.Delivering:
		pipe.ZAdd(ctx, deliveringZSet, redis.Z{
			Score:  float64(d.UpdatedAt.UnixNano()),
			Member: d.ID,
		})
		pipe.ZRem(ctx, dueZSet, d.ID)
	default:
		pipe.ZRem(ctx, dueZSet, d.ID)
		pipe.ZRem(ctx, deliveringZSet, d.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reindexing delivery: %w", err)
	}
	return nil
}

// load fetches records for a list of ids, skipping dangling index entries
func (r *Repository) load(ctx context.Context, ids []string) ([]delivery.Delivery, error) {
	var records []delivery.Delivery
	for _, id := range ids {
		d, err := r.Get(ctx, id)
		if err == delivery.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, d)
	}
	return records, nil
}

// Helper functions

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func webhookKey(webhookID string) string {
	return fmt.Sprintf("%s:%s", webhookZSet, webhookID)
}

func parseDelivery(data map[string]string) (delivery.Delivery, error) {
	var ev event.Event
	if s, ok := data["event"]; ok && s != "" {
		if err := json.Unmarshal([]byte(s), &ev); err != nil {
			return delivery.Delivery{}, fmt.Errorf("unmarshaling event: %w", err)
		}
	}

	var attempts []delivery.Attempt
	if s, ok := data["attempts"]; ok && s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &attempts); err != nil {
			return delivery.Delivery{}, fmt.Errorf("unmarshaling attempts: %w", err)
		}
	}

	d := delivery.Delivery{
		ID:           data["id"],
		WebhookID:    data["webhook_id"],
		Event:        ev,
		Status:       delivery.NewStatus(data["status"]),
		AttemptCount: int(parseInt64(data["attempt_count"])),
		Attempts:     attempts,
		CreatedAt:    time.Unix(0, parseInt64(data["created_at"])),
		UpdatedAt:    time.Unix(0, parseInt64(data["updated_at"])),
	}

	if nanos := parseInt64(data["next_attempt_at"]); nanos != 0 {
		next := time.Unix(0, nanos)
		d.NextAttemptAt = &next
	}
	if nanos := parseInt64(data["completed_at"]); nanos != 0 {
		completed := time.Unix(0, nanos)
		d.CompletedAt = &completed
	}

	return d, nil
}

func parseInt64(s string) int64 {
	var result int64
	fmt.Sscanf(s, "%d", &result)
	return result
}
