package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// browsingContext identifies where commands are routed: a window and the
// frame chain entered inside it.
type browsingContext struct {
	window string
	frames []string
}

func (s *Session) snapshot(ctx context.Context) (browsingContext, error) {
	if err := s.usable(); err != nil {
		return browsingContext{}, err
	}
	handle, err := s.drv.CurrentWindow(ctx)
	if err != nil {
		return browsingContext{}, fmt.Errorf("failed to read current window: %w", classify(err))
	}
	return browsingContext{window: handle, frames: slices.Clone(s.frames)}, nil
}

// restore switches back to bc's window and re-enters its frame chain.
func (s *Session) restore(ctx context.Context, bc browsingContext) error {
	if err := s.drv.SwitchToWindow(ctx, bc.window); err != nil {
		return fmt.Errorf("failed to switch back to window %s: %w", bc.window, classify(err))
	}
	s.frames = nil
	if err := s.drv.SwitchToDefaultContent(ctx); err != nil {
		return classify(err)
	}
	for _, xpath := range bc.frames {
		if err := s.enterFrame(ctx, xpath); err != nil {
			return fmt.Errorf("failed to re-enter frame '%s': %w", xpath, err)
		}
	}
	return nil
}

func (s *Session) enterFrame(ctx context.Context, xpath string) error {
	el, err := s.Find(ctx, XPath(xpath))
	if err != nil {
		return err
	}
	if err := s.drv.SwitchToFrame(ctx, el); err != nil {
		return classify(err)
	}
	s.frames = append(s.frames, xpath)
	return nil
}

// scoped runs fn and then restore, on success, on error and during a panic.
// A body error is returned unchanged; a restore failure is logged and only
// returned when the body succeeded.
func (s *Session) scoped(ctx context.Context, scope string, restore func(context.Context) error, fn func(context.Context) error) (err error) {
	defer func() {
		rctx, cancel := context.WithTimeout(Detach(ctx), s.defaultTimeout)
		defer cancel()
		if rerr := restore(rctx); rerr != nil {
			s.logger.Error("Failed to restore browsing context.", zap.String("scope", scope), zap.Error(rerr))
			if err == nil {
				err = fmt.Errorf("failed to restore browsing context after %s scope: %w", scope, rerr)
			}
		}
	}()
	return fn(ctx)
}

// WithFrame runs fn inside the frame at xpath and returns to the enclosing
// context afterwards, whatever fn does.
func (s *Session) WithFrame(ctx context.Context, xpath string, fn func(context.Context) error) error {
	before, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := s.enterFrame(ctx, xpath); err != nil {
		return fmt.Errorf("failed to enter frame '%s': %w", xpath, err)
	}
	s.logger.Debug("Entered frame.", zap.String("xpath", xpath), zap.Int("depth", len(s.frames)))

	return s.scoped(ctx, "frame", func(rctx context.Context) error {
		if perr := s.drv.SwitchToParentFrame(rctx); perr == nil {
			s.frames = before.frames
			return nil
		} else if fatal(perr) {
			return classify(perr)
		}
		return s.restore(rctx, before)
	}, fn)
}

// WithNewWindow opens url in a new window, waits until a window opened by the
// call shows url and has finished loading, and runs fn there. Windows that
// existed beforehand are never selected, even when they show the same url. The new
// window is closed and the original window and frames restored afterwards.
// Polling is bounded by the session timeout; on expiry stray windows opened by
// the call are closed and the error wraps ErrWindowNotFound.
func (s *Session) WithNewWindow(ctx context.Context, rawURL string, fn func(context.Context) error) error {
	before, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	existing, err := s.drv.WindowHandles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", classify(err))
	}
	if err := s.drv.OpenWindow(ctx, rawURL); err != nil {
		return fmt.Errorf("failed to open window for '%s': %w", rawURL, classify(err))
	}

	handle, err := s.awaitWindow(ctx, existing, rawURL)
	if err != nil {
		rctx, cancel := context.WithTimeout(Detach(ctx), s.defaultTimeout)
		defer cancel()
		s.closeStrays(rctx, existing)
		if rerr := s.restore(rctx, before); rerr != nil {
			s.logger.Error("Failed to restore browsing context.", zap.String("scope", "new-window"), zap.Error(rerr))
		}
		return err
	}
	s.frames = nil
	s.logger.Debug("Switched to new window.", zap.String("handle", handle), zap.String("url", rawURL))

	return s.scoped(ctx, "new-window", func(rctx context.Context) error {
		var errs []error
		if cur, err := s.drv.CurrentWindow(rctx); err != nil || cur != handle {
			if err := s.drv.SwitchToWindow(rctx, handle); err != nil && !errors.Is(err, driver.ErrNoSuchWindow) {
				errs = append(errs, classify(err))
			}
		}
		if cur, err := s.drv.CurrentWindow(rctx); err == nil && cur == handle {
			if err := s.drv.CloseWindow(rctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to close window %s: %w", handle, classify(err)))
			}
		}
		if err := s.restore(rctx, before); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}, fn)
}

// awaitWindow polls until a window absent from existing shows target and
// reports a complete ready state. It leaves the driver switched to the window
// it returns.
func (s *Session) awaitWindow(ctx context.Context, existing []string, target string) (string, error) {
	waitCtx, cancel := s.bounded(ctx)
	defer cancel()

	for {
		handles, err := s.drv.WindowHandles(waitCtx)
		if err != nil {
			if fatal(err) {
				return "", classify(err)
			}
			if waitCtx.Err() != nil {
				break
			}
		}
		for _, h := range freshHandles(handles, existing) {
			ok, err := s.windowShows(waitCtx, h, target)
			if err != nil && fatal(err) {
				return "", classify(err)
			}
			if ok {
				return h, nil
			}
		}
		if s.timeout <= 0 || sleepCtx(waitCtx, s.waiter.Interval()) != nil {
			break
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return "", fmt.Errorf("%w: no window reached '%s' within %s", ErrWindowNotFound, target, s.timeout)
}

func (s *Session) windowShows(ctx context.Context, handle, target string) (bool, error) {
	if err := s.drv.SwitchToWindow(ctx, handle); err != nil {
		return false, err
	}
	cur, err := s.drv.CurrentURL(ctx)
	if err != nil || !sameURL(cur, target) {
		return false, err
	}
	state, err := s.drv.ReadyState(ctx)
	if err != nil {
		return false, err
	}
	return state == driver.ReadyStateComplete, nil
}

// freshHandles returns the handles absent from existing, in order.
func freshHandles(handles, existing []string) []string {
	var fresh []string
	for _, h := range handles {
		if !slices.Contains(existing, h) {
			fresh = append(fresh, h)
		}
	}
	return fresh
}

// closeStrays closes every window not listed in existing.
func (s *Session) closeStrays(ctx context.Context, existing []string) {
	handles, err := s.drv.WindowHandles(ctx)
	if err != nil {
		return
	}
	for _, h := range handles {
		if slices.Contains(existing, h) {
			continue
		}
		if err := s.drv.SwitchToWindow(ctx, h); err == nil {
			if err := s.drv.CloseWindow(ctx); err != nil {
				s.logger.Warn("Failed to close stray window.", zap.String("handle", h), zap.Error(err))
			}
		}
	}
}

// sameURL compares URLs the way a browser reports them back: scheme and host
// are case-insensitive and an empty path equals "/".
func sameURL(a, b string) bool {
	if a == b {
		return true
	}
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return strings.TrimSuffix(a, "/") == strings.TrimSuffix(b, "/")
	}
	norm := func(u *url.URL) string {
		p := u.EscapedPath()
		if p == "" {
			p = "/"
		}
		return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + p + "?" + u.RawQuery + "#" + u.Fragment
	}
	return norm(ua) == norm(ub)
}

// WithExistingWindow finds a window other than the current one containing an
// element at probe, runs fn there, and switches back afterwards. Each round
// checks every other window once; rounds are spaced by the configured window
// poll interval. A non-positive retries uses the configured count. When no
// round succeeds the original window is active again and the error wraps
// ErrWindowNotFound.
func (s *Session) WithExistingWindow(ctx context.Context, probe string, retries int, fn func(context.Context) error) error {
	before, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if retries <= 0 {
		retries = s.opts.WindowRetries
	}

	restore := func(rctx context.Context) error { return s.restore(rctx, before) }

	for round := 1; round <= retries; round++ {
		handles, err := s.drv.WindowHandles(ctx)
		if err != nil {
			return fmt.Errorf("failed to list windows: %w", classify(err))
		}
		for _, h := range handles {
			if h == before.window {
				continue
			}
			if err := s.drv.SwitchToWindow(ctx, h); err != nil {
				if fatal(err) {
					return classify(err)
				}
				continue
			}
			s.frames = nil
			_, err := s.within(ctx, XPath(probe), 0)
			if err != nil && !errors.Is(err, ErrNotFound) {
				s.restoreQuietly(ctx, before)
				return err
			}
			if err == nil {
				s.logger.Debug("Switched to existing window.", zap.String("handle", h), zap.String("probe", probe), zap.Int("round", round))
				return s.scoped(ctx, "existing-window", restore, fn)
			}
		}

		s.restoreQuietly(ctx, before)
		if round < retries {
			if err := sleepCtx(ctx, s.opts.WindowPollInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: no window contains '%s' after %d rounds", ErrWindowNotFound, probe, retries)
}

func (s *Session) restoreQuietly(ctx context.Context, bc browsingContext) {
	rctx, cancel := context.WithTimeout(Detach(ctx), s.defaultTimeout)
	defer cancel()
	if err := s.restore(rctx, bc); err != nil {
		s.logger.Warn("Failed to return to the original window.", zap.Error(err))
	}
}
