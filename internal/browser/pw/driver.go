package pw

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// Driver adapts one playwright browser context to driver.Driver. Pages get
// stable handles the first time they are seen.
type Driver struct {
	logger  *zap.Logger
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext

	mu      sync.Mutex
	handles map[playwright.Page]string
	current playwright.Page
	frames  []*element

	quitOnce sync.Once
	quitErr  error
}

var _ driver.Driver = (*Driver)(nil)

func newDriver(pw *playwright.Playwright, browser playwright.Browser, bctx playwright.BrowserContext, page playwright.Page, logger *zap.Logger) *Driver {
	d := &Driver{
		logger:  logger,
		pw:      pw,
		browser: browser,
		bctx:    bctx,
		handles: make(map[playwright.Page]string),
		current: page,
	}
	d.handleOf(page)
	return d
}

func (d *Driver) connected() bool {
	return d.browser != nil && d.browser.IsConnected()
}

// do runs a blocking playwright call, returning early when ctx ends. The
// call itself keeps running until playwright's own timeout.
func (d *Driver) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()
	select {
	case err := <-errCh:
		return mapError(err, d.connected())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Driver) handleOf(p playwright.Page) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.handles[p]
	if !ok {
		h = uuid.NewString()
		d.handles[p] = h
	}
	return h
}

func (d *Driver) currentPage() (playwright.Page, error) {
	if !d.connected() {
		return nil, driver.ErrSessionClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil || d.current.IsClosed() {
		return nil, fmt.Errorf("%w: no current window", driver.ErrNoSuchWindow)
	}
	return d.current, nil
}

// frame resolves the playwright frame of the current browsing context.
func (d *Driver) frame(ctx context.Context) (playwright.Page, playwright.Frame, error) {
	page, err := d.currentPage()
	if err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	var top *element
	if n := len(d.frames); n > 0 {
		top = d.frames[n-1]
	}
	d.mu.Unlock()
	if top == nil {
		return page, page.MainFrame(), nil
	}
	var f playwright.Frame
	err = d.do(ctx, func() error {
		var err error
		f, err = top.h.AsElement().ContentFrame()
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if f == nil {
		return nil, nil, driver.ErrNoSuchFrame
	}
	return page, f, nil
}

// root returns the document of the current browsing context as a handle.
func (d *Driver) root(ctx context.Context) (*element, error) {
	page, f, err := d.frame(ctx)
	if err != nil {
		return nil, err
	}
	var h playwright.JSHandle
	err = d.do(ctx, func() error {
		var err error
		h, err = f.EvaluateHandle("document")
		return err
	})
	if err != nil {
		return nil, err
	}
	return &element{d: d, page: page, h: h}, nil
}

func (d *Driver) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	doc, err := d.root(ctx)
	if err != nil {
		return nil, err
	}
	return doc.FindElements(ctx, xpath)
}

func (d *Driver) Navigate(ctx context.Context, url string, eager bool) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()

	opts := playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad}
	if eager {
		opts.WaitUntil = playwright.WaitUntilStateDomcontentloaded
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts.Timeout = playwright.Float(float64(time.Until(deadline).Milliseconds()))
	}
	return d.do(ctx, func() error {
		_, err := page.Goto(url, opts)
		return err
	})
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	page, err := d.currentPage()
	if err != nil {
		return "", err
	}
	return page.URL(), nil
}

func (d *Driver) PageSource(ctx context.Context) (string, error) {
	_, f, err := d.frame(ctx)
	if err != nil {
		return "", err
	}
	var src string
	err = d.do(ctx, func() error {
		var err error
		src, err = f.Content()
		return err
	})
	return src, err
}

func (d *Driver) ReadyState(ctx context.Context) (string, error) {
	_, f, err := d.frame(ctx)
	if err != nil {
		return "", err
	}
	var res interface{}
	err = d.do(ctx, func() error {
		var err error
		res, err = f.Evaluate("() => document.readyState")
		return err
	})
	if err != nil {
		return "", err
	}
	state, _ := res.(string)
	return state, nil
}

func (d *Driver) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	_, f, err := d.frame(ctx)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []any{}
	}
	var res interface{}
	err = d.do(ctx, func() error {
		var err error
		res, err = f.Evaluate("(args) => ("+atoms.ScriptBody(script)+").apply(document, args)", args)
		return err
	})
	return res, err
}

func (d *Driver) OpenWindow(ctx context.Context, url string) error {
	_, f, err := d.frame(ctx)
	if err != nil {
		return err
	}
	return d.do(ctx, func() error {
		_, err := f.Evaluate("(u) => { window.open(u, '_blank'); }", url)
		return err
	})
}

func (d *Driver) livePages() []playwright.Page {
	var out []playwright.Page
	for _, p := range d.bctx.Pages() {
		if !p.IsClosed() {
			out = append(out, p)
		}
	}
	return out
}

func (d *Driver) WindowHandles(ctx context.Context) ([]string, error) {
	if !d.connected() {
		return nil, driver.ErrSessionClosed
	}
	pages := d.livePages()
	handles := make([]string, 0, len(pages))
	for _, p := range pages {
		handles = append(handles, d.handleOf(p))
	}
	return handles, nil
}

func (d *Driver) CurrentWindow(ctx context.Context) (string, error) {
	page, err := d.currentPage()
	if err != nil {
		return "", err
	}
	return d.handleOf(page), nil
}

func (d *Driver) SwitchToWindow(ctx context.Context, handle string) error {
	if !d.connected() {
		return driver.ErrSessionClosed
	}
	for _, p := range d.livePages() {
		if d.handleOf(p) != handle {
			continue
		}
		if err := d.do(ctx, p.BringToFront); err != nil {
			d.logger.Debug("Could not bring window to front.", zap.String("handle", handle), zap.Error(err))
		}
		d.mu.Lock()
		d.current = p
		d.frames = nil
		d.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", driver.ErrNoSuchWindow, handle)
}

func (d *Driver) CloseWindow(ctx context.Context) error {
	page, err := d.currentPage()
	if err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.handles, page)
	d.current = nil
	d.frames = nil
	d.mu.Unlock()
	return d.do(ctx, func() error { return page.Close() })
}

func (d *Driver) SwitchToFrame(ctx context.Context, frame driver.Element) error {
	el, ok := frame.(*element)
	if !ok || el.d != d || el.h.AsElement() == nil {
		return fmt.Errorf("%w: element does not belong to this browser", driver.ErrNoSuchFrame)
	}
	var f playwright.Frame
	err := d.do(ctx, func() error {
		var err error
		f, err = el.h.AsElement().ContentFrame()
		return err
	})
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: element is not a frame", driver.ErrNoSuchFrame)
	}
	d.mu.Lock()
	d.frames = append(d.frames, el)
	d.mu.Unlock()
	return nil
}

func (d *Driver) SwitchToParentFrame(ctx context.Context) error {
	if _, err := d.currentPage(); err != nil {
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
	if _, err := d.currentPage(); err != nil {
		return err
	}
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()
	return nil
}

func (d *Driver) DeleteAllCookies(ctx context.Context) error {
	if !d.connected() {
		return driver.ErrSessionClosed
	}
	return d.do(ctx, func() error { return d.bctx.ClearCookies() })
}

// Quit closes the context, the browser and the playwright driver in order.
func (d *Driver) Quit(ctx context.Context) error {
	d.quitOnce.Do(func() {
		d.mu.Lock()
		d.current = nil
		d.frames = nil
		d.mu.Unlock()

		errCh := make(chan error, 1)
		go func() {
			if err := d.bctx.Close(); err != nil {
				d.logger.Debug("Error closing browser context.", zap.Error(err))
			}
			if err := d.browser.Close(); err != nil {
				d.logger.Debug("Error closing browser.", zap.Error(err))
			}
			errCh <- d.pw.Stop()
		}()
		select {
		case d.quitErr = <-errCh:
		case <-ctx.Done():
			d.quitErr = ctx.Err()
		}
	})
	return d.quitErr
}

// indexed returns the elements of an array handle's properties in index order.
func indexed(props map[string]playwright.JSHandle) []playwright.JSHandle {
	out := make([]playwright.JSHandle, 0, len(props))
	for i := 0; ; i++ {
		h, ok := props[strconv.Itoa(i)]
		if !ok {
			return out
		}
		out = append(out, h)
	}
}
