package readiness

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when a dependency did not accept connections within the policy.
var ErrNotReady = errors.New("dependency not ready")

// NotReadyError describes an exhausted wait. It matches ErrNotReady and the last probe error.
type NotReadyError struct {
	Target   string
	Attempts int
	Err      error
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s not ready after %d attempts: %v", e.Target, e.Attempts, e.Err)
}

// Unwrap exposes both ErrNotReady and the last probe error to errors.Is.
func (e *NotReadyError) Unwrap() []error {
	return []error{ErrNotReady, e.Err}
}
