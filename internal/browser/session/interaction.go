package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/wait"
	"github.com/xkilldash9x/rpa-cli/internal/textmatch"
)

// TypeOptions controls TypeText.
type TypeOptions struct {
	// Clear empties the field before each attempt.
	Clear bool
	// Timeout is the retry budget. Zero uses the configured typing timeout.
	Timeout time.Duration
	// Verify reads the value back and retries until it equals the typed text.
	Verify bool
	// HumanPaced sends one rune at a time with a jittered pause.
	HumanPaced bool
}

// SelectOptions controls SelectOption.
type SelectOptions struct {
	// Timeout is the retry budget. Zero uses the configured select timeout.
	Timeout time.Duration
	Verify  bool
}

// SimilarityOptions controls SelectOptionBySimilarity.
type SimilarityOptions struct {
	// Cutoff is the minimum similarity in (0, 1]. Zero uses the configured cutoff.
	Cutoff  float64
	Timeout time.Duration
	Verify  bool
}

// Click clicks the clickable element at xpath. When the native click is
// intercepted, goes stale, or is refused as not interactable, a script click
// is dispatched to the same node. Other failures propagate unchanged.
func (s *Session) Click(ctx context.Context, xpath string) error {
	el, err := s.Find(ctx, XPath(xpath).With(wait.Clickable))
	if err != nil {
		return fmt.Errorf("click on '%s' failed: %w", xpath, err)
	}
	if err := el.ScrollIntoView(ctx); err != nil && !driver.IsRecoverableClickError(err) {
		return fmt.Errorf("failed to scroll '%s' into view: %w", xpath, classify(err))
	}

	clickErr := el.Click(ctx)
	if clickErr == nil {
		return nil
	}
	if !driver.IsRecoverableClickError(clickErr) {
		return fmt.Errorf("click on '%s' failed: %w", xpath, classify(clickErr))
	}

	s.logger.Debug("Native click failed, falling back to script click.",
		zap.String("xpath", xpath), zap.Error(clickErr))
	if err := el.JSClick(ctx); err != nil {
		return fmt.Errorf("script click on '%s' failed after native click error (%v): %w", xpath, clickErr, classify(err))
	}
	return nil
}

// TypeText enters text into the field at xpath.
//
// Each attempt locates the field as clickable, optionally clears it, and sends
// the text. A read-only refusal strips the readonly attribute and retries at
// once without spending budget. Any other failure, or a verify mismatch,
// spends one retry interval. When the budget is exhausted the error wraps
// ErrTimeout together with the last failure.
func (s *Session) TypeText(ctx context.Context, xpath, text string, opts TypeOptions) error {
	if err := s.usable(); err != nil {
		return err
	}
	budget := opts.Timeout
	if budget <= 0 {
		budget = s.opts.TypeTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	loc := XPath(xpath).With(wait.Clickable)
	remaining := budget
	attempts := 0
	var lastErr error

	for {
		attempts++
		els, err := s.within(opCtx, loc, time.Until(deadlineOf(opCtx)))
		if err == nil {
			err = s.typeOnce(opCtx, els[0], text, opts)
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, driver.ErrReadOnly):
			s.logger.Debug("Field is read-only, removing the attribute.", zap.String("xpath", xpath))
			rmErr := els[0].RemoveAttribute(opCtx, "readonly")
			if rmErr == nil {
				continue
			}
			err = fmt.Errorf("%w (removing readonly failed: %v)", err, rmErr)
		case fatal(err):
			return fmt.Errorf("typing into '%s' failed: %w", xpath, classify(err))
		case ctx.Err() != nil:
			return ctx.Err()
		}

		lastErr = err
		remaining -= s.opts.RetryInterval
		if remaining <= 0 || opCtx.Err() != nil {
			break
		}
		s.logger.Debug("Typing attempt failed, retrying.",
			zap.String("xpath", xpath), zap.Int("attempt", attempts), zap.Error(err))
		if sleepCtx(opCtx, s.opts.RetryInterval) != nil {
			break
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: typing into '%s' did not succeed within %s (%d attempts): %w",
		ErrTimeout, xpath, budget, attempts, lastErr)
}

// typeOnce writes text into el and, when asked, checks the result.
func (s *Session) typeOnce(ctx context.Context, el driver.Element, text string, opts TypeOptions) error {
	if opts.Clear {
		if err := el.Clear(ctx); err != nil {
			return err
		}
	}
	var err error
	if opts.HumanPaced {
		err = s.typist.Type(ctx, el, text)
	} else {
		err = el.SendKeys(ctx, text)
	}
	if err != nil || !opts.Verify {
		return err
	}
	got, err := el.Value(ctx)
	if err != nil {
		return err
	}
	if got != text {
		return fmt.Errorf("field holds %q, want %q", got, text)
	}
	return nil
}

// SelectOption picks the option of the select at xpath whose visible text equals text.
// With Verify set the selection is read back and the attempt repeated until it
// sticks or the budget is spent, which yields ErrTimeout.
func (s *Session) SelectOption(ctx context.Context, xpath, text string, opts SelectOptions) error {
	if err := s.usable(); err != nil {
		return err
	}
	budget := opts.Timeout
	if budget <= 0 {
		budget = s.opts.SelectTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	loc := XPath(xpath).With(wait.Clickable)
	remaining := budget
	attempts := 0
	var lastErr error

	for {
		attempts++
		els, err := s.within(opCtx, loc, time.Until(deadlineOf(opCtx)))
		if err == nil {
			err = s.selectOnce(opCtx, els[0], text, opts.Verify)
		}
		switch {
		case err == nil:
			return nil
		case fatal(err):
			return fmt.Errorf("selecting %q in '%s' failed: %w", text, xpath, classify(err))
		case ctx.Err() != nil:
			return ctx.Err()
		}

		lastErr = err
		remaining -= s.opts.RetryInterval
		if remaining <= 0 || opCtx.Err() != nil {
			break
		}
		s.logger.Debug("Select attempt failed, retrying.",
			zap.String("xpath", xpath), zap.String("option", text), zap.Int("attempt", attempts), zap.Error(err))
		if sleepCtx(opCtx, s.opts.RetryInterval) != nil {
			break
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: selecting %q in '%s' did not succeed within %s (%d attempts): %w",
		ErrTimeout, text, xpath, budget, attempts, lastErr)
}

func (s *Session) selectOnce(ctx context.Context, sel driver.Element, text string, verify bool) error {
	if err := sel.SelectByText(ctx, text); err != nil {
		return err
	}
	if !verify {
		return nil
	}
	got, err := selectedText(ctx, sel)
	if err != nil {
		return err
	}
	if got != text {
		return fmt.Errorf("selection reads %q, want %q", got, text)
	}
	return nil
}

// selectedText resolves the option matching the select's current value and
// returns its visible text. Options without a value attribute are matched by
// their selected state instead.
func selectedText(ctx context.Context, sel driver.Element) (string, error) {
	value, err := sel.Value(ctx)
	if err != nil {
		return "", err
	}
	byValue, err := sel.FindElements(ctx, ".//option[@value="+driver.XPathLiteral(value)+"]")
	if err != nil {
		return "", err
	}
	if len(byValue) > 0 {
		return byValue[0].Text(ctx)
	}
	all, err := sel.FindElements(ctx, ".//option")
	if err != nil {
		return "", err
	}
	for _, o := range all {
		ok, err := o.IsSelected(ctx)
		if err != nil {
			return "", err
		}
		if ok {
			return o.Text(ctx)
		}
	}
	return "", fmt.Errorf("%w: no option is selected", driver.ErrNoSuchOption)
}

// SelectOptionBySimilarity selects the option whose text is most similar to
// query after case folding and returns that option's text. Ties go to the
// earliest option. When no option reaches the cutoff the error wraps ErrNotFound.
// A positive opts.Timeout bounds reading the options as well as selecting.
func (s *Session) SelectOptionBySimilarity(ctx context.Context, xpath, query string, opts SimilarityOptions) (string, error) {
	cutoff := opts.Cutoff
	if cutoff <= 0 {
		cutoff = s.opts.SimilarityCutoff
	}
	readTimeout := s.opts.TextTimeout
	if opts.Timeout > 0 {
		readTimeout = opts.Timeout
	}
	texts, err := s.optionTexts(ctx, xpath, readTimeout)
	if err != nil {
		return "", err
	}
	m, ok := textmatch.Best(query, texts, cutoff)
	if !ok {
		return "", fmt.Errorf("%w: no option of '%s' is similar to %q (cutoff %.2f)", ErrNotFound, xpath, query, cutoff)
	}
	s.logger.Debug("Resolved option by similarity.",
		zap.String("query", query), zap.String("option", m.Text), zap.Float64("score", m.Score))
	if err := s.SelectOption(ctx, xpath, m.Text, SelectOptions{Timeout: opts.Timeout, Verify: opts.Verify}); err != nil {
		return "", err
	}
	return m.Text, nil
}

func deadlineOf(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now()
}
