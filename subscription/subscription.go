package subscription

import "time"

/* Subscription represents a registered webhook endpoint in the system
 * Uses value semantics as it represents data, not behavior
 */
type Subscription struct {
	ID          string
	OwnerID     string
	URL         string
	Secret      string
	Events      []string
	Active      bool
	Description string
	Headers     map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SubscribesTo reports whether the subscription listens for the given
// event type.
func (s Subscription) SubscribesTo(eventType string) bool {
	for _, t := range s.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// Redacted returns a copy with the signing secret removed. Read paths
// never expose the secret after creation.
func (s Subscription) Redacted() Subscription {
	s.Secret = ""
	return s
}

/* Patch carries the mutable fields of an update request.
 * Nil pointers and nil slices mean "leave unchanged".
 */
type Patch struct {
	URL         *string
	Events      []string
	Active      *bool
	Description *string
	Headers     map[string]string
}
