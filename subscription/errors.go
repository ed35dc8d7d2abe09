package subscription

import (
	"errors"
	"fmt"
)

/* Error taxonomy for the registry.
 * Ownership mismatch is deliberately distinct from "not found": a caller
 * probing another owner's subscription id learns it exists but nothing
 * more, and route layers can map the two to 403 and 404 respectively.
 */

// ErrNotFound is returned when no subscription exists with the given id
var ErrNotFound = errors.New("subscription not found")

// ErrForbidden is returned when the caller is not the subscription owner
var ErrForbidden = errors.New("subscription does not belong to caller")

// ValidationError describes a rejected registration or update
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
