// Package driver defines the browser port the automation layer is written against.
// Backends (chromedp, playwright, rod and the in-memory document model) adapt their
// library to these interfaces and normalize failures to the sentinel errors below.
package driver

import (
	"context"
	"errors"
	"fmt"
)

// Normalized failure modes. Backends wrap their native errors with these so the
// session layer can choose a recovery path without knowing the library.
var (
	// ErrStaleElement indicates a handle no longer corresponds to the live document.
	ErrStaleElement = errors.New("element is stale or detached from the document")
	// ErrClickIntercepted indicates another element would receive a native click.
	ErrClickIntercepted = errors.New("element click intercepted")
	// ErrNotInteractable indicates the element has no usable box (hidden, zero-sized, offscreen).
	ErrNotInteractable = errors.New("element not interactable")
	// ErrInvalidElementState indicates the element refuses the requested operation.
	ErrInvalidElementState = errors.New("invalid element state")
	// ErrReadOnly indicates a write was rejected because the element is read-only.
	ErrReadOnly = fmt.Errorf("%w: element is read-only", ErrInvalidElementState)
	// ErrNoSuchWindow indicates the requested window handle does not exist.
	ErrNoSuchWindow = errors.New("no such window")
	// ErrNoSuchFrame indicates a frame switch target is not a frame or is not reachable.
	ErrNoSuchFrame = errors.New("no such frame")
	// ErrNoSuchOption indicates a select control has no option with the requested text.
	ErrNoSuchOption = errors.New("no such option")
	// ErrSessionClosed indicates the browser behind the driver is gone.
	ErrSessionClosed = errors.New("browser session closed")
)

// ReadyStateComplete is the document.readyState value of a fully loaded document.
const ReadyStateComplete = "complete"

// Finder resolves XPath expressions. Driver resolves against the current
// browsing context; Element resolves relative to itself.
type Finder interface {
	FindElements(ctx context.Context, xpath string) ([]Element, error)
}

// Driver controls one browser instance. A Driver is not safe for concurrent use;
// the session layer serializes access.
type Driver interface {
	Finder

	// Navigate loads url in the current window. When eager is true it returns once
	// the DOM is interactive instead of waiting for every subresource.
	Navigate(ctx context.Context, url string, eager bool) error
	CurrentURL(ctx context.Context) (string, error)
	PageSource(ctx context.Context) (string, error)
	ReadyState(ctx context.Context) (string, error)

	// ExecuteScript runs a function body in the current browsing context. The body
	// sees its JSON arguments as `arguments` and may `return` a JSON value.
	ExecuteScript(ctx context.Context, script string, args ...any) (any, error)

	// OpenWindow asks the page to open url in a new window through script injection.
	// It does not switch to the new window.
	OpenWindow(ctx context.Context, url string) error
	WindowHandles(ctx context.Context) ([]string, error)
	CurrentWindow(ctx context.Context) (string, error)
	SwitchToWindow(ctx context.Context, handle string) error
	// CloseWindow closes the current window. The driver has no current window
	// until SwitchToWindow is called again.
	CloseWindow(ctx context.Context) error

	SwitchToFrame(ctx context.Context, frame Element) error
	SwitchToParentFrame(ctx context.Context) error
	SwitchToDefaultContent(ctx context.Context) error

	DeleteAllCookies(ctx context.Context) error
	// Quit terminates the browser. It is safe to call more than once.
	Quit(ctx context.Context) error
}

// Element is a handle to a node in the current document. It is only valid until
// the document drops the node, after which every method returns ErrStaleElement.
type Element interface {
	Finder

	// Click performs a native (input-event) click.
	Click(ctx context.Context) error
	// JSClick dispatches a click through script, bypassing hit testing.
	JSClick(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error

	SendKeys(ctx context.Context, text string) error
	Clear(ctx context.Context) error
	// Value returns the live value property (input text, selected option value).
	Value(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (value string, ok bool, err error)
	RemoveAttribute(ctx context.Context, name string) error
	Text(ctx context.Context) (string, error)

	IsDisplayed(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	IsSelected(ctx context.Context) (bool, error)

	// SelectByText selects the option of a select control whose visible text
	// equals text. It returns ErrNoSuchOption when there is none.
	SelectByText(ctx context.Context, text string) error
}

// IsRecoverableClickError reports whether a native click failure should be
// retried as a script-level click.
func IsRecoverableClickError(err error) bool {
	return errors.Is(err, ErrClickIntercepted) ||
		errors.Is(err, ErrNotInteractable) ||
		errors.Is(err, ErrStaleElement)
}
