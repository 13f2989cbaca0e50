// internal/browser/cdp/context_utils.go
package cdp

import (
	"context"
)

// CombineContext derives a context from tabCtx, which carries the chromedp
// target in its values, that is also canceled when opCtx ends. opCtx's
// deadline is carried over so protocol calls stop at the caller's deadline.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	if deadline, ok := opCtx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		base := cancel
		cancel = func() {
			cancelDeadline()
			base()
		}
	}

	stop := context.AfterFunc(opCtx, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
