package rodriver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

const readyPollInterval = 50 * time.Millisecond

// Driver adapts a rod browser to driver.Driver. Window handles are target ids.
type Driver struct {
	logger   *zap.Logger
	browser  *rod.Browser
	launcher *launcher.Launcher

	mu      sync.Mutex
	current *rod.Page
	// frames holds the frame pages entered from the top-level page, innermost last.
	frames []*rod.Page

	gone     atomic.Bool
	quitOnce sync.Once
	quitErr  error
}

var _ driver.Driver = (*Driver)(nil)

func newDriver(browser *rod.Browser, l *launcher.Launcher, page *rod.Page, logger *zap.Logger) *Driver {
	return &Driver{
		logger:   logger,
		browser:  browser,
		launcher: l,
		current:  page,
	}
}

// check maps err and remembers a lost connection.
func (d *Driver) check(err error) error {
	if err != nil && connectionLost(err) {
		d.gone.Store(true)
	}
	return mapError(err, d.gone.Load())
}

func (d *Driver) pages() (top, frame *rod.Page, err error) {
	if d.gone.Load() {
		return nil, nil, driver.ErrSessionClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil, nil, fmt.Errorf("%w: no current window", driver.ErrNoSuchWindow)
	}
	frame = d.current
	if n := len(d.frames); n > 0 {
		frame = d.frames[n-1]
	}
	return d.current, frame, nil
}

func (d *Driver) root(ctx context.Context) (*element, error) {
	top, frame, err := d.pages()
	if err != nil {
		return nil, err
	}
	res, err := frame.Context(ctx).Evaluate(rod.Eval(`() => document`).ByObject())
	if err != nil {
		return nil, d.check(err)
	}
	return &element{d: d, top: top, page: frame, obj: res}, nil
}

func (d *Driver) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return nil, err
	}
	return doc.FindElements(ctx, xpath)
}

func (d *Driver) Navigate(ctx context.Context, url string, eager bool) error {
	top, _, err := d.pages()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()

	page := top.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return d.check(err)
	}
	if !eager {
		return d.check(page.WaitLoad())
	}
	for {
		state, err := d.ReadyState(ctx)
		if err == nil && state != "loading" {
			return nil
		}
		if err != nil && (errors.Is(err, driver.ErrSessionClosed) || ctx.Err() != nil) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	top, _, err := d.pages()
	if err != nil {
		return "", err
	}
	info, err := top.Context(ctx).Info()
	if err != nil {
		return "", d.check(err)
	}
	return info.URL, nil
}

func (d *Driver) PageSource(ctx context.Context) (string, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return "", err
	}
	res, err := doc.eval(ctx, atoms.OuterHTML)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (d *Driver) ReadyState(ctx context.Context) (string, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return "", err
	}
	res, err := doc.eval(ctx, atoms.ReadyState)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (d *Driver) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	_, frame, err := d.pages()
	if err != nil {
		return nil, err
	}
	res, err := frame.Context(ctx).Evaluate(rod.Eval(atoms.ScriptBody(script), args...).ByPromise())
	if err != nil {
		return nil, d.check(err)
	}
	return res.Value.Val(), nil
}

func (d *Driver) OpenWindow(ctx context.Context, url string) error {
	_, frame, err := d.pages()
	if err != nil {
		return err
	}
	_, err = frame.Context(ctx).Evaluate(rod.Eval(`(u) => { window.open(u, '_blank'); }`, url).ByUser())
	return d.check(err)
}

func (d *Driver) WindowHandles(ctx context.Context) ([]string, error) {
	if d.gone.Load() {
		return nil, driver.ErrSessionClosed
	}
	list, err := proto.TargetGetTargets{}.Call(d.browser.Context(ctx))
	if err != nil {
		return nil, d.check(err)
	}
	var handles []string
	for _, info := range list.TargetInfos {
		if info.Type == proto.TargetTargetInfoTypePage {
			handles = append(handles, string(info.TargetID))
		}
	}
	return handles, nil
}

func (d *Driver) CurrentWindow(ctx context.Context) (string, error) {
	top, _, err := d.pages()
	if err != nil {
		return "", err
	}
	return string(top.TargetID), nil
}

func (d *Driver) SwitchToWindow(ctx context.Context, handle string) error {
	handles, err := d.WindowHandles(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(handles, handle) {
		return fmt.Errorf("%w: %s", driver.ErrNoSuchWindow, handle)
	}
	page, err := d.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return d.check(err)
	}
	if _, err := page.Activate(); err != nil {
		d.logger.Debug("Could not activate window.", zap.String("handle", handle), zap.Error(err))
	}
	d.mu.Lock()
	// Keep the page bound to the browser's lifetime, not this call's.
	d.current = page.Context(context.Background())
	d.frames = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) CloseWindow(ctx context.Context) error {
	top, _, err := d.pages()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.current = nil
	d.frames = nil
	d.mu.Unlock()
	return d.check(top.Context(ctx).Close())
}

func (d *Driver) SwitchToFrame(ctx context.Context, frame driver.Element) error {
	el, ok := frame.(*element)
	if !ok || el.d != d {
		return fmt.Errorf("%w: element does not belong to this browser", driver.ErrNoSuchFrame)
	}
	// rod reaches cross-origin frames too, so only the tag is checked here.
	res, err := el.eval(ctx, `function() { return this.tagName === 'IFRAME' || this.tagName === 'FRAME'; }`)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: element is not a frame", driver.ErrNoSuchFrame)
	}
	re, err := el.page.Context(ctx).ElementFromObject(el.obj)
	if err != nil {
		return d.check(err)
	}
	fp, err := re.Frame()
	if err != nil {
		return fmt.Errorf("%w: %v", driver.ErrNoSuchFrame, d.check(err))
	}
	d.mu.Lock()
	d.frames = append(d.frames, fp.Context(context.Background()))
	d.mu.Unlock()
	return nil
}

func (d *Driver) SwitchToParentFrame(ctx context.Context) error {
	if _, _, err := d.pages(); err != nil {
		return err
	}
	d.mu.Lock()
	if n := len(d.frames); n > 0 {
		d.frames = d.frames[:n-1]
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) SwitchToDefaultContent(ctx context.Context) error {
	if _, _, err := d.pages(); err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) DeleteAllCookies(ctx context.Context) error {
	if d.gone.Load() {
		return driver.ErrSessionClosed
	}
	return d.check(d.browser.Context(ctx).SetCookies(nil))
}

// Quit closes the browser and, for launched browsers, waits for the process
// to exit and its profile to be removed.
func (d *Driver) Quit(ctx context.Context) error {
	d.quitOnce.Do(func() {
		d.gone.Store(true)
		d.mu.Lock()
		d.current = nil
		d.frames = nil
		d.mu.Unlock()

		done := make(chan error, 1)
		go func() {
			err := d.browser.Close()
			if d.launcher != nil {
				d.launcher.Cleanup()
			}
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil && !connectionLost(err) {
				d.quitErr = err
			}
		case <-ctx.Done():
			if d.launcher != nil {
				d.launcher.Kill()
			}
			d.quitErr = ctx.Err()
		}
	})
	return d.quitErr
}
