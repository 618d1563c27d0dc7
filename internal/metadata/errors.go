package metadata

import "fmt"

// ErrValidationFailed indicates a Metadata record violates one of its
// invariants. Field names the offending field so callers can surface a
// machine-readable reason.
type ErrValidationFailed struct {
	Field  string
	Reason string
}

func (e ErrValidationFailed) Error() string {
	return fmt.Sprintf("validation_failed: field %q: %s", e.Field, e.Reason)
}
