package pw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

var staleMessages = []string{
	"Element is not attached to the DOM",
	"JSHandle is disposed",
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"frame was detached",
}

// mapError translates playwright failures into driver sentinels. connected
// reports whether the browser is still reachable.
func mapError(err error, connected bool) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if !connected {
		return fmt.Errorf("%w: %v", driver.ErrSessionClosed, err)
	}
	if classified := atoms.Classify(err); classified != err {
		return classified
	}
	msg := err.Error()
	for _, s := range staleMessages {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
		}
	}
	// A closed page while the browser lives means the handle outlived its window.
	if errors.Is(err, playwright.ErrTargetClosed) || strings.Contains(msg, "has been closed") {
		return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
	}
	return err
}
