package identity

import (
	"errors"
	"fmt"
)

// ErrAuthenticationRequired means the taker must authenticate before the test
// can be opened.
var ErrAuthenticationRequired = errors.New("authentication required")

// StaleSessionError reports why a stored identity could not admit its holder.
// It always matches ErrAuthenticationRequired.
type StaleSessionError struct {
	TestID string
	Reason string
}

func (e *StaleSessionError) Error() string {
	return fmt.Sprintf("identity for test %s: %s", e.TestID, e.Reason)
}

func (e *StaleSessionError) Unwrap() error { return ErrAuthenticationRequired }

// ValidationError is returned by Issue when the submitted identity is rejected.
// Field and Reason describe the first failing field; Fields holds all of them.
type ValidationError struct {
	Field  string
	Reason string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
