package ledger

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen indicates the ledger is considered unavailable
var ErrCircuitOpen = errors.New("ledger circuit breaker is open")

// ValidationError is a business rule rejection from the ledger. It is terminal.
type ValidationError struct {
	Op      string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger rejected %s: %s", e.Op, e.Message)
}

// TransientError wraps network, timeout and rate-limit failures that may succeed on retry
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// ErrReferenceNotFound indicates a configuration record (tax, journal, fiscal
// position, country) that the ledger does not have
type ErrReferenceNotFound struct {
	Model string
	Key   string
}

func (e ErrReferenceNotFound) Error() string {
	return fmt.Sprintf("ledger %s not found: %s", e.Model, e.Key)
}

// Is implements the errors.Is interface for ErrReferenceNotFound
func (e ErrReferenceNotFound) Is(target error) bool {
	t, ok := target.(ErrReferenceNotFound)
	if !ok {
		return false
	}
	if t.Model == "" && t.Key == "" {
		return true
	}
	return e.Model == t.Model && e.Key == t.Key
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient) || errors.Is(err, ErrCircuitOpen)
}

// IsValidation reports whether err is a terminal ledger rejection
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}
