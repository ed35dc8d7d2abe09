package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/marcelsud/webhook-dispatch/subscription"
)

/* In-memory implementation of subscription.Repository
 * Used in unit tests and single-process local development.
 */

type Repository struct {
	mu   sync.RWMutex
	subs map[string]subscription.Subscription
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		subs: make(map[string]subscription.Subscription),
	}
}

// Store adds a subscription
func (r *Repository) Store(_ context.Context, sub subscription.Subscription) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID] = cloned(sub)
	return sub.ID, nil
}

// Get retrieves a subscription by ID
func (r *Repository) Get(_ context.Context, id string) (subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return subscription.Subscription{}, subscription.ErrNotFound
	}
	return cloned(sub), nil
}

// Update replaces a stored subscription
func (r *Repository) Update(_ context.Context, sub subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; !ok {
		return subscription.ErrNotFound
	}
	r.subs[sub.ID] = cloned(sub)
	return nil
}

// Delete removes a subscription
func (r *Repository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return subscription.ErrNotFound
	}
	delete(r.subs, id)
	return nil
}

// ListByOwner returns the owner's subscriptions, newest-first
func (r *Repository) ListByOwner(_ context.Context, ownerID string, filter subscription.Filter) ([]subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []subscription.Subscription
	for _, sub := range r.subs {
		if sub.OwnerID != ownerID {
			continue
		}
		if filter.Active != nil && sub.Active != *filter.Active {
			continue
		}
		if filter.Event != "" && !sub.SubscribesTo(filter.Event) {
			continue
		}
		result = append(result, cloned(sub))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return result, nil
}

// ActiveByEvent returns active subscriptions listening for the event type
func (r *Repository) ActiveByEvent(_ context.Context, eventType string) ([]subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []subscription.Subscription
	for _, sub := range r.subs {
		if sub.Active && sub.SubscribesTo(eventType) {
			result = append(result, cloned(sub))
		}
	}
	return result, nil
}

// Close is a no-op for the in-memory repository
func (r *Repository) Close(_ context.Context) error {
	return nil
}

// cloned copies the subscription's reference fields so callers never
// share slices or maps with the store.
func cloned(sub subscription.Subscription) subscription.Subscription {
	if sub.Events != nil {
		events := make([]string, len(sub.Events))
		copy(events, sub.Events)
		sub.Events = events
	}
	if sub.Headers != nil {
		headers := make(map[string]string, len(sub.Headers))
		for k, v := range sub.Headers {
			headers[k] = v
		}
		sub.Headers = headers
	}
	return sub
}
