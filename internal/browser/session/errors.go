package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// Error taxonomy surfaced to callers. All but ErrSessionUnavailable are recoverable.
var (
	// ErrNotFound means a locate or interact call exhausted its timeout before the condition held.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout means a multi-step interaction exhausted its own retry budget.
	ErrTimeout = errors.New("interaction timed out")
	// ErrWindowNotFound means no matching window appeared within the polling budget.
	ErrWindowNotFound = errors.New("window not found")
	// ErrSessionUnavailable means the session failed to initialize or was closed.
	// No further calls should be made on it.
	ErrSessionUnavailable = errors.New("session unavailable")
)

// LocateError reports a locator that never satisfied its condition.
// It matches ErrNotFound under errors.Is and unwraps to the wait failure.
type LocateError struct {
	Locator Locator
	Timeout time.Duration
	Err     error
}

func (e *LocateError) Error() string {
	return fmt.Sprintf("element '%s' not found (condition %s, timeout %s): %v",
		e.Locator.XPath, e.Locator.Condition, e.Timeout, e.Err)
}

func (e *LocateError) Unwrap() []error { return []error{ErrNotFound, e.Err} }

// classify converts driver level session death into ErrSessionUnavailable and
// leaves every other error untouched.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrSessionUnavailable) {
		return err
	}
	if errors.Is(err, driver.ErrSessionClosed) {
		return fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
	}
	return err
}

// fatal reports errors that no retry loop may absorb.
func fatal(err error) bool {
	return errors.Is(err, ErrSessionUnavailable) || errors.Is(err, driver.ErrSessionClosed)
}
