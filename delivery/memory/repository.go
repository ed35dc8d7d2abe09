package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-dispatch/delivery"
)

/* In-memory implementation of delivery.Repository
 * Used in unit tests and single-process local development. The retry
 * schedule is derived from record state rather than kept as a separate
 * structure; ClaimDue flips claimed records to Delivering under the
 * lock, which gives the same exclusivity as the redis zset removal.
 */

type Repository struct {
	mu      sync.RWMutex
	records map[string]delivery.Delivery
}

// NewRepository creates an empty in-memory repository
func NewRepository() *Repository {
	return &Repository{
		records: make(map[string]delivery.Delivery),
	}
}

// Store adds a delivery record
func (r *Repository) Store(_ context.Context, d delivery.Delivery) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[d.ID] = cloned(d)
	return d.ID, nil
}

// Get retrieves a delivery record by ID
func (r *Repository) Get(_ context.Context, id string) (delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.records[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return cloned(d), nil
}

// Update replaces a stored delivery record
func (r *Repository) Update(_ context.Context, d delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[d.ID]; !ok {
		return delivery.ErrNotFound
	}
	r.records[d.ID] = cloned(d)
	return nil
}

// ListByWebhook returns a page of the webhook's records, newest-first
func (r *Repository) ListByWebhook(_ context.Context, webhookID string, filter delivery.ListFilter) (delivery.Page, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []delivery.Delivery
	for _, d := range r.records {
		if d.WebhookID != webhookID {
			continue
		}
		if filter.Status != 0 && d.Status != filter.Status {
			continue
		}
		if filter.Event != "" && d.Event.Type != filter.Event {
			continue
		}
		matched = append(matched, cloned(d))
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
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
func (r *Repository) Window(_ context.Context, webhookID string, from, to time.Time) ([]delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []delivery.Delivery
	for _, d := range r.records {
		if d.WebhookID != webhookID {
			continue
		}
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloned(d))
	}
	return result, nil
}

// StatusCounts returns record counts grouped by status
func (r *Repository) StatusCounts(_ context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, d := range r.records {
		counts[d.Status.String()]++
	}
	return counts, nil
}

// ClaimDue atomically claims records whose retry time has come
func (r *Repository) ClaimDue(_ context.Context, now time.Time, limit int) ([]delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []delivery.Delivery
	for id, d := range r.records {
		if len(due) >= limit {
			break
		}
		if d.Status != delivery.Failed || d.NextAttemptAt == nil || d.NextAttemptAt.After(now) {
			continue
		}

		claimed := cloned(d)
		claimed.NextAttemptAt = nil
		due = append(due, claimed)

		// Mark as in flight so no other pass claims the same record
		d.Status = delivery.Delivering
		d.NextAttemptAt = nil
		d.UpdatedAt = now
		r.records[id] = d
	}

	return due, nil
}

// DueCount returns the number of records waiting in the retry schedule
func (r *Repository) DueCount(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, d := range r.records {
		if d.Status == delivery.Failed && d.NextAttemptAt != nil {
			count++
		}
	}
	return count, nil
}

// ReclaimStale returns records stuck in Delivering since before cutoff
func (r *Repository) ReclaimStale(_ context.Context, cutoff time.Time, limit int) ([]delivery.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []delivery.Delivery
	for _, d := range r.records {
		if len(stale) >= limit {
			break
		}
		if d.Status == delivery.Delivering && d.UpdatedAt.Before(cutoff) {
			stale = append(stale, cloned(d))
		}
	}
	return stale, nil
}

// Close is a no-op for the in-memory repository
func (r *Repository) Close(_ context.Context) error {
	return nil
}

// cloned copies the record's reference fields so callers never share
// the attempts slice with the store.
func cloned(d delivery.Delivery) delivery.Delivery {
	if d.Attempts != nil {
		attempts := make([]delivery.Attempt, len(d.Attempts))
		copy(attempts, d.Attempts)
		d.Attempts = attempts
	}
	if d.NextAttemptAt != nil {
		next := *d.NextAttemptAt
		d.NextAttemptAt = &next
	}
	if d.CompletedAt != nil {
		completed := *d.CompletedAt
		d.CompletedAt = &completed
	}
	return d
}
