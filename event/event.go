package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// typePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var typePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// TypePing is the synthetic type used by the manual webhook test path.
// It is never dispatchable and never subscribable.
const TypePing = "ping"

/* Event is the unit handed to the dispatch engine by producers.
 * Uses value semantics as it represents data, not behavior.
 * Data is kept as raw JSON so the payload snapshot stored on a
 * delivery record is byte-identical to what the producer supplied.
 */
type Event struct {
	// ID identifies the event. The engine does not deduplicate on it;
	// callers that need idempotent dispatch must supply a stable ID and
	// deduplicate upstream.
	ID string `json:"id"`

	// Type is a full-stop delimited type such as "bid.created"
	Type string `json:"type"`

	// Timestamp is when the event occurred at the producer
	Timestamp time.Time `json:"timestamp"`

	// Data is the event payload
	Data json.RawMessage `json:"data"`
}

// New creates an Event with a generated ID and the current timestamp
func New(eventType string, data interface{}) (Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling data: %w", err)
	}

	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}

	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return ev, nil
}

// Parse parses a JSON body into an Event, filling in ID and Timestamp
// when the producer omitted them.
func Parse(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshaling event: %w", err)
	}

	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return ev, nil
}

// Validate checks the structural requirements of an event
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if err := ValidateType(e.Type); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}
	return nil
}

// Body returns the canonical JSON encoding of the event. This is the
// exact byte form that gets signed and POSTed to subscribers.
func (e Event) Body() ([]byte, error) {
	type alias Event
	return json.Marshal(&struct {
		Timestamp string `json:"timestamp"`
		*alias
	}{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		alias:     (*alias)(&e),
	})
}

// ValidateType validates an event type format
func ValidateType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if !typePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}
	return nil
}

// Ping builds the synthetic event used by the manual test path
func Ping() Event {
	data, _ := json.Marshal(map[string]string{"message": "test delivery"})
	return Event{
		ID:        uuid.New().String(),
		Type:      TypePing,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
