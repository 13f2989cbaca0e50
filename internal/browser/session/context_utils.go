// internal/browser/session/context_utils.go
package session

import (
	"context"
	"time"
)

// valueOnlyContext inherits values from its parent but ignores the parent's
// deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                       { return nil }
func (valueOnlyContext) Err() error                                  { return nil }

// Detach returns a context that keeps ctx's values but is not canceled with it.
// Scope restoration runs on a detached context so an expired caller deadline
// cannot leave the browser in the wrong window.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}

// sleepCtx pauses for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
