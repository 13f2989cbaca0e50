package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// Protocol messages that mean the remote object died with its document.
var staleMessages = []string{
	"Could not find object with given id",
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"No node with given id found",
	"Node is detached from document",
}

// mapError translates protocol and page script failures into driver sentinels.
// browserGone reports whether the browser itself has terminated.
func mapError(err error, browserGone bool) error {
	if err == nil {
		return nil
	}
	if browserGone || errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrChannelClosed) {
		return fmt.Errorf("%w: %v", driver.ErrSessionClosed, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
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
	if strings.Contains(msg, "No target with given id") {
		return fmt.Errorf("%w: %v", driver.ErrNoSuchWindow, err)
	}
	return err
}
