package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// DefaultPollInterval is used when a Waiter is built with a non-positive interval.
const DefaultPollInterval = 500 * time.Millisecond

// ErrConditionTimeout is returned when a condition did not hold before the timeout.
var ErrConditionTimeout = errors.New("condition not met before timeout")

// Waiter polls a condition at a fixed interval under a deadline.
type Waiter struct {
	interval time.Duration
	logger   *zap.Logger
}

// NewWaiter creates a Waiter polling every interval.
func NewWaiter(interval time.Duration, logger *zap.Logger) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Waiter{interval: interval, logger: logger.Named("wait")}
}

// Interval returns the poll interval.
func (w *Waiter) Interval() time.Duration { return w.interval }

// Until polls the predicate for cond until it holds or timeout elapses.
//
// At least one check is always made, even with a non-positive timeout. On
// expiry the error wraps both ErrConditionTimeout and context.DeadlineExceeded.
// If the parent context ends first its error is returned as is. Predicate
// errors other than staleness end the wait immediately.
func (w *Waiter) Until(ctx context.Context, f driver.Finder, xpath string, cond Condition, timeout time.Duration) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	check := PredicateFor(cond)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Burst of one: the first token is free, every later check waits a full interval.
	limiter := rate.NewLimiter(rate.Every(w.interval), 1)
	start := time.Now()
	attempts := 0

	for {
		if attempts > 0 {
			if err := limiter.Wait(waitCtx); err != nil {
				// The limiter refuses early when the next token lands after the deadline.
				break
			}
		} else {
			limiter.Allow()
		}
		attempts++

		checkCtx := waitCtx
		if timeout <= 0 {
			checkCtx = ctx
		}
		els, ok, err := check(checkCtx, f, xpath)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// The deadline landed mid-check.
				break
			}
			return nil, err
		}
		if ok {
			w.logger.Debug("Condition met.",
				zap.String("xpath", xpath),
				zap.Stringer("condition", cond),
				zap.Int("attempt", attempts),
				zap.Duration("elapsed", time.Since(start)))
			return els, nil
		}
		if waitCtx.Err() != nil {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.logger.Debug("Condition timed out.",
		zap.String("xpath", xpath),
		zap.Stringer("condition", cond),
		zap.Int("attempts", attempts),
		zap.Duration("timeout", timeout))
	return nil, fmt.Errorf("%w: '%s' not %s after %s: %w", ErrConditionTimeout, xpath, cond, timeout, context.DeadlineExceeded)
}
