package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/marcelsud/webhook-dispatch/subscription"
	"github.com/redis/go-redis/v9"
)

/* Redis implementation of subscription.Repository
 * Uses Redis Hashes for subscription data and Sets as secondary
 * indexes: one per owner and one per subscribed event type. The event
 * sets back the dispatch fan-out query.
 */

const (
	hashPrefix     = "subscription"         // Hash naming: subscription:{id}
	ownerSetPrefix = "subscriptions:owner"  // Set naming: subscriptions:owner:{owner_id}
	eventSetPrefix = "subscriptions:event"  // Set naming: subscriptions:event:{event_type}
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

// Store persists a subscription and its index entries
func (r *Repository) Store(ctx context.Context, sub subscription.Subscription) (string, error) {
	if err := r.write(ctx, sub); err != nil {
		return "", err
	}

	if err := r.client.SAdd(ctx, ownerKey(sub.OwnerID), sub.ID).Err(); err != nil {
		return "", fmt.Errorf("indexing subscription by owner: %w", err)
	}
	for _, eventType := range sub.Events {
		if err := r.client.SAdd(ctx, eventKey(eventType), sub.ID).Err(); err != nil {
			return "", fmt.Errorf("indexing subscription by event: %w", err)
		}
	}

	return sub.ID, nil
}

// Get retrieves a subscription by ID
func (r *Repository) Get(ctx context.Context, id string) (subscription.Subscription, error) {
	data, err := r.client.HGetAll(ctx, hashKey(id)).Result()
	if err != nil {
		return subscription.Subscription{}, fmt.Errorf("getting subscription: %w", err)
	}
	if len(data) == 0 {
		return subscription.Subscription{}, subscription.ErrNotFound
	}

	return parseSubscription(data)
}

// Update replaces a subscription and reconciles its event indexes
func (r *Repository) Update(ctx context.Context, sub subscription.Subscription) error {
	old, err := r.Get(ctx, sub.ID)
	if err != nil {
		return err
	}

	if err := r.write(ctx, sub); err != nil {
		return err
	}

	// Reconcile event index membership when the subscribed set changed
	for _, eventType := range old.Events {
		if !sub.SubscribesTo(eventType) {
			if err := r.client.SRem(ctx, eventKey(eventType), sub.ID).Err(); err != nil {
				return fmt.Errorf("removing stale event index: %w", err)
			}
		}
	}
	for _, eventType := range sub.Events {
		if err := r.client.SAdd(ctx, eventKey(eventType), sub.ID).Err(); err != nil {
			return fmt.Errorf("indexing subscription by event: %w", err)
		}
	}

	return nil
}

// Delete removes a subscription and its index entries
func (r *Repository) Delete(ctx context.Context, id string) error {
	sub, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := r.client.Del(ctx, hashKey(id)).Err(); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if err := r.client.SRem(ctx, ownerKey(sub.OwnerID), id).Err(); err != nil {
		return fmt.Errorf("removing owner index: %w", err)
	}
	for _, eventType := range sub.Events {
		if err := r.client.SRem(ctx, eventKey(eventType), id).Err(); err != nil {
			return fmt.Errorf("removing event index: %w", err)
		}
	}

	return nil
}

// ListByOwner returns the owner's subscriptions, newest-first
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, filter subscription.Filter) ([]subscription.Subscription, error) {
	ids, err := r.client.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading owner index: %w", err)
	}

	var result []subscription.Subscription
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err == subscription.ErrNotFound {
			// Index entry outlived the hash; skip it
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Active != nil && sub.Active != *filter.Active {
			continue
		}
		if filter.Event != "" && !sub.SubscribesTo(filter.Event) {
			continue
		}
		result = append(result, sub)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// ActiveByEvent returns active subscriptions listening for the event type
func (r *Repository) ActiveByEvent(ctx context.Context, eventType string) ([]subscription.Subscription, error) {
	ids, err := r.client.SMembers(ctx, eventKey(eventType)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading event index: %w", err)
	}

	var result []subscription.Subscription
	for _, id := range ids {
		sub, err := r.Get(ctx, id)
		if err == subscription.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if sub.Active {
			result = append(result, sub)
		}
	}
	return result, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client for advanced operations
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// write stores the subscription hash
func (r *Repository) write(ctx context.Context, sub subscription.Subscription) error {
	eventsJSON, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshaling events: %w", err)
	}
	headersJSON, err := json.Marshal(sub.Headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}

	active := 0
	if sub.Active {
		active = 1
	}

	err = r.client.HSet(ctx, hashKey(sub.ID), map[string]interface{}{
		"id":          sub.ID,
		"owner_id":    sub.OwnerID,
		"url":         sub.URL,
		"secret":      sub.Secret,
		"events":      string(eventsJSON),
		"active":      active,
		"description": sub.Description,
		"headers":     string(headersJSON),
		"created_at":  sub.CreatedAt.UnixNano(),
		"updated_at":  sub.UpdatedAt.UnixNano(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing subscription: %w", err)
	}

	return nil
}

// Helper functions

func hashKey(id string) string {
	return fmt.Sprintf("%s:%s", hashPrefix, id)
}

func ownerKey(ownerID string) string {
	return fmt.Sprintf("%s:%s", ownerSetPrefix, ownerID)
}

func eventKey(eventType string) string {
	return fmt.Sprintf("%s:%s", eventSetPrefix, eventType)
}

func parseSubscription(data map[string]string) (subscription.Subscription, error) {
	var events []string
	if s, ok := data["events"]; ok && s != "" {
		if err := json.Unmarshal([]byte(s), &events); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling events: %w", err)
		}
	}

	var headers map[string]string
	if s, ok := data["headers"]; ok && s != "" && s != "null" {
		if err := json.Unmarshal([]byte(s), &headers); err != nil {
			return subscription.Subscription{}, fmt.Errorf("unmarshaling headers: %w", err)
		}
	}

	return subscription.Subscription{
		ID:          data["id"],
		OwnerID:     data["owner_id"],
		URL:         data["url"],
		Secret:      data["secret"],
		Events:      events,
		Active:      data["active"] == "1",
		Description: data["description"],
		Headers:     headers,
		CreatedAt:   time.Unix(0, parseInt64(data["created_at"])),
		UpdatedAt:   time.Unix(0, parseInt64(data["updated_at"])),
	}, nil
}

func parseInt64(s string) int64 {
	var result int64
	fmt.Sscanf(s, "%d", &result)
	return result
}
