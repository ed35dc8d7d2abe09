package delivery

import (
	"errors"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/event"
)

// ErrNotFound is returned when no delivery record exists with the given id
var ErrNotFound = errors.New("delivery not found")

/* Status represents the current state of a delivery record
 * Follows the lifecycle: Pending -> Delivering -> Succeeded/Failed/Exhausted
 * Failed means "failed but scheduled for retry"; Succeeded and Exhausted
 * are terminal.
 */
type Status int

const (
	Pending Status = iota + 1
	Delivering
	Succeeded
	Failed
	Exhausted
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivering:
		return "delivering"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string. Unknown strings map to the
// zero Status, which fails Validate.
func NewStatus(str string) Status {
	switch str {
	case "pending":
		return Pending
	case "delivering":
		return Delivering
	case "succeeded":
		return Succeeded
	case "failed":
		return Failed
	case "exhausted":
		return Exhausted
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Exhausted {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Succeeded || s == Exhausted
}

/* ErrorKind classifies a failed transport attempt for diagnostics.
 * Subscriber-side failures are data on the record, never Go errors
 * surfaced to the dispatch caller.
 */
type ErrorKind string

const (
	ErrorKindNone                ErrorKind = ""
	ErrorKindTimeout             ErrorKind = "timeout"
	ErrorKindConnectionRefused   ErrorKind = "connection_refused"
	ErrorKindDNSFailure          ErrorKind = "dns_failure"
	ErrorKindConnection          ErrorKind = "connection_error"
	ErrorKindNon2xx              ErrorKind = "non_2xx"
	ErrorKindSubscriptionRemoved ErrorKind = "subscription_removed"
)

// Attempt records one transport call for a delivery
type Attempt struct {
	At              time.Time     `json:"at"`
	StatusCode      int           `json:"status_code,omitempty"`
	ErrorKind       ErrorKind     `json:"error_kind,omitempty"`
	Error           string        `json:"error,omitempty"`
	ResponseTime    time.Duration `json:"response_time"`
	ResponseExcerpt string        `json:"response_excerpt,omitempty"`
}

/* Delivery tracks one event's delivery to one subscription across all
 * retry attempts. The event snapshot is immutable once the record is
 * created; re-delivery reuses the stored payload, never a re-fetch.
 */
type Delivery struct {
	ID            string
	WebhookID     string
	Event         event.Event
	Status        Status
	AttemptCount  int
	Attempts      []Attempt
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// RecordAttempt appends an attempt and keeps AttemptCount in sync
func (d *Delivery) RecordAttempt(a Attempt) {
	d.Attempts = append(d.Attempts, a)
	d.AttemptCount = len(d.Attempts)
}

// LastAttempt returns the most recent attempt, if any
func (d *Delivery) LastAttempt() (Attempt, bool) {
	if len(d.Attempts) == 0 {
		return Attempt{}, false
	}
	return d.Attempts[len(d.Attempts)-1], true
}
