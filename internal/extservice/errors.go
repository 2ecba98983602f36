package extservice

import (
	"fmt"
	"time"
)

// MismatchError is returned when a stateless call answers with the wrong
// status, body or condition result.
type MismatchError struct {
	Method string
	URL    string
	Reason string
	// Status is the status code that was received.
	Status int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("external service %s %s mismatch (status %d): %s", e.Method, e.URL, e.Status, e.Reason)
}

// TimeoutError is returned when a polling call never matched within its budget.
type TimeoutError struct {
	Method   string
	URL      string
	Attempts int
	Timeout  time.Duration
	// Last is the final attempt's failure.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("external service %s %s did not match within %s (%d attempts)", e.Method, e.URL, e.Timeout, e.Attempts)
	if e.Last != nil {
		msg += ": " + e.Last.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return e.Last }

// InvalidCheckError is a check that no response can satisfy, such as an
// expected body that is not JSON or a condition that does not compile.
// Polling stops on it at once.
type InvalidCheckError struct {
	Err error
}

func (e *InvalidCheckError) Error() string { return "invalid external check: " + e.Err.Error() }

func (e *InvalidCheckError) Unwrap() error { return e.Err }
