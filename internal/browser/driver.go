package browser

import (
	"context"
	"errors"
)

// ErrDriverClosed is returned by every Driver call after Close
var ErrDriverClosed = errors.New("browser driver closed")

// ErrElementNotFound is returned when a locator matches nothing
var ErrElementNotFound = errors.New("element not found")

// Driver is the element-level contract consumed from the browser automation
// library. Calls block until the action completes, ctx is done, or the
// driver is closed. Timeouts are carried by ctx.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, loc Locator) error
	WaitPresent(ctx context.Context, loc Locator) error
	WaitGone(ctx context.Context, loc Locator) error
	Click(ctx context.Context, loc Locator) error
	// JSClick dispatches a synthetic click through the page's JavaScript.
	JSClick(ctx context.Context, loc Locator) error
	SetText(ctx context.Context, loc Locator, text string) error
	PressKey(ctx context.Context, key string) error
	// Texts returns the visible text of every match in document order.
	Texts(ctx context.Context, loc Locator) ([]string, error)
	Count(ctx context.Context, loc Locator) (int, error)
	ClickNth(ctx context.Context, loc Locator, index int) error
	// Close quits the browser. Pending calls fail shortly after.
	Close() error
}

// DriverFactory starts an isolated browser whose downloads land in
// downloadDir without prompting.
type DriverFactory func(ctx context.Context, downloadDir string) (Driver, error)
