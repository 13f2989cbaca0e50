package rodriver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-rod/rod"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

var staleMessages = []string{
	"Could not find object with given id",
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"No node with given id found",
	"Node is detached from document",
}

// connectionLost reports whether err means the devtools websocket is gone.
func connectionLost(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close")
}

// mapError translates rod and protocol failures into driver sentinels.
func mapError(err error, browserGone bool) error {
	if err == nil {
		return nil
	}
	if browserGone || connectionLost(err) {
		return fmt.Errorf("%w: %v", driver.ErrSessionClosed, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var evalErr *rod.EvalError
	if errors.As(err, &evalErr) {
		return atoms.Classify(err)
	}
	var objErr *rod.ObjectNotFoundError
	if errors.As(err, &objErr) {
		return fmt.Errorf("%w: %v", driver.ErrStaleElement, err)
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
	return atoms.Classify(err)
}
