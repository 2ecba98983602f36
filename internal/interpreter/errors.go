// internal/interpreter/errors.go
package interpreter

import (
	"fmt"

	"github.com/xkilldash9x/flowreplay/api/schemas"
)

// Typed errors let the runner and the summary writer classify failures with
// errors.As instead of matching on message text.

// UnknownLocatorError is returned for a locator type outside the closed set.
type UnknownLocatorError struct {
	Type schemas.LocatorType
}

func (e *UnknownLocatorError) Error() string {
	return fmt.Sprintf("unknown locator type %q", e.Type)
}

// UnsupportedAssertionError is returned for an assertion type outside the closed set.
type UnsupportedAssertionError struct {
	Type schemas.AssertionType
}

func (e *UnsupportedAssertionError) Error() string {
	return fmt.Sprintf("unsupported assertion type %q", e.Type)
}

// AmbiguousMatchError is returned in strict mode when a locator without an
// explicit index matches more than one element.
type AmbiguousMatchError struct {
	Locator string
	Count   int
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("locator %s matched %d elements", e.Locator, e.Count)
}

// AssertionError carries the expected and observed values of a failed check.
type AssertionError struct {
	Type     schemas.AssertionType
	Expected string
	Actual   string
	// Message overrides the default rendering.
	Message string
}

func (e *AssertionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Type == schemas.AssertToBeVisible {
		return "assertion toBeVisible failed: element is not visible"
	}
	return fmt.Sprintf("assertion %s failed: expected %q, got %q", e.Type, e.Expected, e.Actual)
}

// StatusPollTimeoutError is returned when the refresh poll never sees a known status.
type StatusPollTimeoutError struct {
	Attempts int
	Err      error
}

func (e *StatusPollTimeoutError) Error() string {
	return fmt.Sprintf("status did not advance after %d refresh attempts", e.Attempts)
}

func (e *StatusPollTimeoutError) Unwrap() error { return e.Err }

// TabNavigationError is returned when the tab search gives up.
type TabNavigationError struct {
	Tab      string
	Attempts int
	Err      error
}

func (e *TabNavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigating to tab %q: %v", e.Tab, e.Err)
	}
	return fmt.Sprintf("tab %q not reached after %d attempts", e.Tab, e.Attempts)
}

func (e *TabNavigationError) Unwrap() error { return e.Err }

// ActionExecutionError wraps any failure while executing one action. A
// diagnostic screenshot has been attempted before it is returned.
type ActionExecutionError struct {
	Verb       schemas.ActionVerb
	Raw        string
	Screen     string
	Step       int
	Screenshot string
	Cause      error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("step %d (%s) %s %q failed: %v", e.Step, e.Screen, e.Verb, e.Raw, e.Cause)
}

func (e *ActionExecutionError) Unwrap() error { return e.Cause }
