package delivery

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Each delivery record is exclusively owned by its attempt sequence:
 * the dispatcher settles the first attempt, the scheduler claims due
 * retries atomically, so no two writers ever race on one record.
 */

// ListFilter narrows and pages ListByWebhook results
type ListFilter struct {
	Page     int
	PageSize int
	// Status keeps only records in this state when non-zero
	Status Status
	// Event keeps only records for this event type
	Event string
}

// Page is one page of delivery records, newest-first
type Page struct {
	Deliveries []Delivery
	Total      int
	Page       int
	PageSize   int
}

// Reader provides read operations for delivery records
type Reader interface {
	Get(ctx context.Context, id string) (Delivery, error)
	ListByWebhook(ctx context.Context, webhookID string, filter ListFilter) (Page, error)
	/* Window returns records for a webhook whose CreatedAt falls in
	 * [from, to), served by an indexed time-range scan so statistics
	 * never walk the full history.
	 */
	Window(ctx context.Context, webhookID string, from, to time.Time) ([]Delivery, error)
	// StatusCounts returns record counts grouped by status across all webhooks
	StatusCounts(ctx context.Context) (map[string]int64, error)
}

// Writer provides write operations for delivery records
type Writer interface {
	Store(ctx context.Context, d Delivery) (string, error)
	Update(ctx context.Context, d Delivery) error
}

// RetryQueue provides the scheduler's view of the store
type RetryQueue interface {
	/* ClaimDue atomically removes up to limit records whose
	 * NextAttemptAt is at or before now from the retry schedule and
	 * returns them. A claimed record belongs to the caller until it is
	 * settled or rescheduled.
	 */
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
	// DueCount returns the number of records waiting in the retry schedule
	DueCount(ctx context.Context) (int64, error)
	/* ReclaimStale returns records stuck in Delivering since before
	 * cutoff, e.g. abandoned by a process shutdown mid-attempt.
	 */
	ReclaimStale(ctx context.Context, cutoff time.Time, limit int) ([]Delivery, error)
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	RetryQueue
	Close(ctx context.Context) error
}
