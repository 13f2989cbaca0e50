package cdp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

const readyPollInterval = 50 * time.Millisecond

// tab is one attached page target.
type tab struct {
	id     target.ID
	ctx    context.Context
	cancel context.CancelFunc
	// first marks the tab chromedp opened with the browser. Canceling its
	// context would terminate the browser, so it is closed by target id instead.
	first bool
}

// Driver controls a Chrome instance through chromedp. Window handles are
// target ids.
type Driver struct {
	logger *zap.Logger

	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc

	mu      sync.Mutex
	tabs    map[target.ID]*tab
	current *tab
	// frames holds the frame elements entered from the top-level document, outermost first.
	frames []*element

	quitOnce sync.Once
}

var _ driver.Driver = (*Driver)(nil)

func newDriver(browserCtx context.Context, browserCancel, allocCancel context.CancelFunc, logger *zap.Logger) *Driver {
	first := &tab{ctx: browserCtx, first: true}
	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		first.id = c.Target.TargetID
	}
	return &Driver{
		logger:        logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		tabs:          map[target.ID]*tab{first.id: first},
		current:       first,
	}
}

func (d *Driver) browserGone() bool {
	return d.browserCtx.Err() != nil
}

func (d *Driver) currentTab() (*tab, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browserGone() {
		return nil, driver.ErrSessionClosed
	}
	if d.current == nil {
		return nil, fmt.Errorf("%w: no current window", driver.ErrNoSuchWindow)
	}
	return d.current, nil
}

// runOn executes actions against t, bounded by the caller's ctx.
func (d *Driver) runOn(ctx context.Context, t *tab, actions ...chromedp.Action) error {
	cctx, cancel := CombineContext(t.ctx, ctx)
	defer cancel()
	err := chromedp.Run(cctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && t.ctx.Err() != nil && !d.browserGone() {
		return fmt.Errorf("%w: window %s was closed", driver.ErrStaleElement, t.id)
	}
	return mapError(err, d.browserGone())
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	t, err := d.currentTab()
	if err != nil {
		return err
	}
	return d.runOn(ctx, t, actions...)
}

// root resolves the document of the current browsing context.
func (d *Driver) root(ctx context.Context) (*element, error) {
	t, err := d.currentTab()
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	var frame *element
	if n := len(d.frames); n > 0 {
		frame = d.frames[n-1]
	}
	d.mu.Unlock()

	if frame != nil {
		doc, err := frame.callObject(ctx, atoms.ContentDocument)
		if err != nil {
			return nil, err
		}
		return doc, nil
	}

	var obj *runtime.RemoteObject
	if err := d.runOn(ctx, t, chromedp.Evaluate("document", &obj)); err != nil {
		return nil, err
	}
	return &element{d: d, tab: t, obj: obj}, nil
}

func (d *Driver) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return nil, err
	}
	return doc.FindElements(ctx, xpath)
}

func (d *Driver) Navigate(ctx context.Context, url string, eager bool) error {
	t, err := d.currentTab()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()

	if !eager {
		return d.runOn(ctx, t, chromedp.Navigate(url))
	}

	err = d.runOn(ctx, t, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("page load error %s", errorText)
		}
		return nil
	}))
	if err != nil {
		return err
	}
	// Eager loading returns once the parser is done, before subresources finish.
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
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (d *Driver) PageSource(ctx context.Context) (string, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return "", err
	}
	var html string
	if err := doc.call(ctx, atoms.OuterHTML, &html); err != nil {
		return "", err
	}
	return html, nil
}

func (d *Driver) ReadyState(ctx context.Context) (string, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return "", err
	}
	var state string
	if err := doc.call(ctx, atoms.ReadyState, &state); err != nil {
		return "", err
	}
	return state, nil
}

// ExecuteScript runs script with this bound to the current document. Scripts
// inside frames still run in the realm of the top-level page.
func (d *Driver) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return nil, err
	}
	var res any
	if err := doc.call(ctx, atoms.ScriptBody(script), &res, args...); err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Driver) OpenWindow(ctx context.Context, url string) error {
	doc, err := d.root(ctx)
	if err != nil {
		return err
	}
	// Popup blockers only let window.open through with a user gesture.
	return d.runOn(ctx, doc.tab, chromedp.CallFunctionOn(
		`function(u) { (this.defaultView || window).open(u, '_blank'); }`,
		nil,
		func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(doc.obj.ObjectID).WithUserGesture(true)
		},
		url,
	))
}

func (d *Driver) WindowHandles(ctx context.Context) ([]string, error) {
	if d.browserGone() {
		return nil, driver.ErrSessionClosed
	}
	cctx, cancel := CombineContext(d.browserCtx, ctx)
	defer cancel()
	infos, err := chromedp.Targets(cctx)
	if err != nil {
		return nil, mapError(err, d.browserGone())
	}
	handles := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Type == "page" {
			handles = append(handles, string(info.TargetID))
		}
	}
	return handles, nil
}

func (d *Driver) CurrentWindow(ctx context.Context) (string, error) {
	t, err := d.currentTab()
	if err != nil {
		return "", err
	}
	return string(t.id), nil
}

func (d *Driver) SwitchToWindow(ctx context.Context, handle string) error {
	if d.browserGone() {
		return driver.ErrSessionClosed
	}
	id := target.ID(handle)

	d.mu.Lock()
	t, ok := d.tabs[id]
	d.mu.Unlock()

	if !ok {
		handles, err := d.WindowHandles(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(handles, handle) {
			return fmt.Errorf("%w: %s", driver.ErrNoSuchWindow, handle)
		}
		tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithTargetID(id))
		t = &tab{id: id, ctx: tabCtx, cancel: cancel}
		// The first Run attaches to the target.
		if err := d.runOn(ctx, t); err != nil {
			cancel()
			return err
		}
		d.mu.Lock()
		d.tabs[id] = t
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.current = t
	d.frames = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) CloseWindow(ctx context.Context) error {
	t, err := d.currentTab()
	if err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.tabs, t.id)
	d.current = nil
	d.frames = nil
	d.mu.Unlock()

	if !t.first {
		// Canceling a secondary chromedp context closes its target.
		t.cancel()
		return nil
	}
	cctx, cancel := CombineContext(d.browserCtx, ctx)
	defer cancel()
	err = chromedp.Run(cctx, chromedp.ActionFunc(func(ctx context.Context) error {
		c := chromedp.FromContext(ctx)
		return target.CloseTarget(t.id).Do(cdp.WithExecutor(ctx, c.Browser))
	}))
	return mapError(err, d.browserGone())
}

func (d *Driver) SwitchToFrame(ctx context.Context, frame driver.Element) error {
	el, ok := frame.(*element)
	if !ok || el.d != d {
		return fmt.Errorf("%w: element does not belong to this browser", driver.ErrNoSuchFrame)
	}
	// Resolving the frame document validates the element before it is pushed.
	if _, err := el.callObject(ctx, atoms.ContentDocument); err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = append(d.frames, el)
	d.mu.Unlock()
	return nil
}

func (d *Driver) SwitchToParentFrame(ctx context.Context) error {
	if _, err := d.currentTab(); err != nil {
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
	if _, err := d.currentTab(); err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) DeleteAllCookies(ctx context.Context) error {
	return d.run(ctx, network.ClearBrowserCookies())
}

// Quit closes the browser gracefully, then tears down the allocator.
func (d *Driver) Quit(ctx context.Context) error {
	var err error
	d.quitOnce.Do(func() {
		d.mu.Lock()
		for _, t := range d.tabs {
			if !t.first {
				t.cancel()
			}
		}
		d.tabs = map[target.ID]*tab{}
		d.current = nil
		d.frames = nil
		d.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(d.browserCtx) }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		d.browserCancel()
		d.allocCancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Debug("Browser did not close gracefully.", zap.Error(err))
		} else {
			err = nil
		}
	})
	return err
}
