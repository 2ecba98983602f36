// internal/browser/interface.go
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when an element does not reach the awaited state in time.
var ErrTimeout = errors.New("timed out waiting for element")

// ErrNotFound is returned when an operation needs an element and none matches.
var ErrNotFound = errors.New("no element matches locator")

// Driver launches pages on a browser it owns.
type Driver interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close(ctx context.Context) error
}

// PageOptions configures a single page.
type PageOptions struct {
	// VideoDir enables recording into the directory when non-empty.
	VideoDir string
}

// Page is one browser tab under automation.
type Page interface {
	Goto(ctx context.Context, url string) error
	Locate(sel Selector) Locator
	// Press sends a key chord such as "Control+A" to the focused element.
	Press(ctx context.Context, key string) error
	Screenshot(ctx context.Context, path string) error
	// VideoPath is the finished recording. It is only valid after Close.
	VideoPath() string
	Close(ctx context.Context) error
}

// Locator is a lazy description of a set of elements. Nothing touches the
// page until an operation with a context is called.
type Locator interface {
	Locate(sel Selector) Locator
	Filter(hasText, hasNot string) Locator
	Nth(i int) Locator

	Count(ctx context.Context) (int, error)
	WaitVisible(ctx context.Context, timeout time.Duration) error
	IsVisible(ctx context.Context) (bool, error)

	Click(ctx context.Context) error
	Hover(ctx context.Context) error
	// Highlight outlines the element so it stands out in recordings.
	Highlight(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Press(ctx context.Context, key string) error
	SelectOption(ctx context.Context, value string) error

	TextContent(ctx context.Context) (string, error)
	InputValue(ctx context.Context) (string, error)
	// Attribute returns the value and whether the attribute is present.
	Attribute(ctx context.Context, name string) (string, bool, error)

	// String describes the locator chain for logs and errors.
	String() string
}
