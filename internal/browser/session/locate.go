package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/wait"
)

// Locator pairs an XPath expression with the condition its matches must satisfy.
type Locator struct {
	XPath     string
	Condition wait.Condition
}

// XPath returns a presence Locator.
func XPath(expr string) Locator { return Locator{XPath: expr, Condition: wait.Presence} }

// With returns a copy of l using cond.
func (l Locator) With(cond wait.Condition) Locator {
	l.Condition = cond
	return l
}

func (l Locator) String() string { return fmt.Sprintf("%s[%s]", l.XPath, l.Condition) }

// within waits up to timeout for loc in the current browsing context.
func (s *Session) within(ctx context.Context, loc Locator, timeout time.Duration) ([]driver.Element, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	els, err := s.waiter.Until(ctx, s.drv, loc.XPath, loc.Condition, timeout)
	if err != nil {
		if errors.Is(err, wait.ErrConditionTimeout) {
			return nil, &LocateError{Locator: loc, Timeout: timeout, Err: err}
		}
		return nil, classify(err)
	}
	return els, nil
}

// Find returns the first element satisfying loc within the session timeout.
// For the many-element conditions it returns the first qualifying element.
func (s *Session) Find(ctx context.Context, loc Locator) (driver.Element, error) {
	els, err := s.within(ctx, loc, s.timeout)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

// FindAll returns every element qualifying for loc within the session timeout.
// An unusable session yields an empty result rather than an error.
func (s *Session) FindAll(ctx context.Context, loc Locator) ([]driver.Element, error) {
	els, err := s.within(ctx, loc, s.timeout)
	if err != nil {
		if errors.Is(err, ErrSessionUnavailable) {
			s.logger.Warn("Session unavailable, returning no elements.", zap.Stringer("locator", loc), zap.Error(err))
			return []driver.Element{}, nil
		}
		return nil, err
	}
	return els, nil
}

// Locate resolves loc to one element, or to all qualifying elements when the
// condition is one of the many-element conditions.
func (s *Session) Locate(ctx context.Context, loc Locator) ([]driver.Element, error) {
	if loc.Condition.Many() {
		return s.FindAll(ctx, loc)
	}
	el, err := s.Find(ctx, loc)
	if err != nil {
		return nil, err
	}
	return []driver.Element{el}, nil
}

// Probe reports whether xpath satisfies cond within timeout without failing
// on absence. A non-positive timeout uses the configured probe timeout. The
// session timeout is untouched.
func (s *Session) Probe(ctx context.Context, xpath string, cond wait.Condition, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = s.opts.ProbeTimeout
	}
	_, err := s.within(ctx, XPath(xpath).With(cond), timeout)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Text returns the rendered text of the visible element at xpath. Reads that
// fail on a node replaced mid-read are retried until the text budget runs out.
func (s *Session) Text(ctx context.Context, xpath string) (string, error) {
	deadline := time.Now().Add(s.opts.TextTimeout)
	loc := XPath(xpath).With(wait.Visible)
	for {
		els, err := s.within(ctx, loc, time.Until(deadline))
		if err != nil {
			return "", err
		}
		text, err := els[0].Text(ctx)
		if err == nil {
			return text, nil
		}
		err = classify(err)
		if fatal(err) || time.Until(deadline) <= s.opts.TextRetryInterval {
			return "", fmt.Errorf("failed to read text of '%s': %w", xpath, err)
		}
		s.logger.Debug("Text read failed, retrying.", zap.String("xpath", xpath), zap.Error(err))
		if err := sleepCtx(ctx, s.opts.TextRetryInterval); err != nil {
			return "", err
		}
	}
}

// OptionTexts returns the text of every option of the select element at xpath, in document order.
func (s *Session) OptionTexts(ctx context.Context, xpath string) ([]string, error) {
	return s.optionTexts(ctx, xpath, s.opts.TextTimeout)
}

func (s *Session) optionTexts(ctx context.Context, xpath string, timeout time.Duration) ([]string, error) {
	els, err := s.within(ctx, XPath(xpath).With(wait.Visible), timeout)
	if err != nil {
		return nil, err
	}
	opts, err := els[0].FindElements(ctx, ".//option")
	if err != nil {
		return nil, fmt.Errorf("failed to list options of '%s': %w", xpath, classify(err))
	}
	texts := make([]string, 0, len(opts))
	for i, o := range opts {
		t, err := o.Text(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read option %d of '%s': %w", i, xpath, classify(err))
		}
		texts = append(texts, t)
	}
	return texts, nil
}
