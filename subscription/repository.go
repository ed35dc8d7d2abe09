package subscription

import "context"

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Written for users of the API, not just for testing
 */

// Filter narrows List results
type Filter struct {
	// Active filters on the active flag when non-nil
	Active *bool
	// Event keeps only subscriptions listening for this event type
	Event string
}

// Reader provides read operations for subscriptions
type Reader interface {
	Get(ctx context.Context, id string) (Subscription, error)
	ListByOwner(ctx context.Context, ownerID string, filter Filter) ([]Subscription, error)
	/* ActiveByEvent returns every active subscription listening for the
	 * given event type. This is the dispatch fan-out query.
	 */
	ActiveByEvent(ctx context.Context, eventType string) ([]Subscription, error)
}

// Writer provides write operations for subscriptions
type Writer interface {
	Store(ctx context.Context, sub Subscription) (string, error)
	Update(ctx context.Context, sub Subscription) error
	Delete(ctx context.Context, id string) error
}

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	Reader
	Writer
	Close(ctx context.Context) error
}
