// Package memdriver implements driver.Driver over an in-process HTML document model.
//
// It executes no JavaScript. Pages are registered up front (or replaced at runtime),
// XPath is evaluated with htmlquery, and browser behaviours that matter to the
// automation layer are driven by plain HTML attributes:
//
//	hidden, style="display:none"   element is not displayed
//	disabled                       element is not enabled
//	readonly                       writes fail with driver.ErrReadOnly
//	maxlength="N"                  typed text is silently truncated
//	data-mem-intercept             native clicks fail with driver.ErrClickIntercepted
//	data-mem-stale-click           native clicks fail with driver.ErrStaleElement
//	data-mem-ignore-keys           typed text is silently dropped
//
// Frames come from an iframe's srcdoc attribute, or from the page registered for
// its src. Windows opened with OpenWindow report readyState "loading" for a
// configurable number of polls before turning "complete".
package memdriver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

const blankPage = "<html><head></head><body></body></html>"

// ScriptFunc handles one registered script for ExecuteScript.
type ScriptFunc func(b *Browser, args []any) (any, error)

// ClickRecord is one click observed by the browser.
type ClickRecord struct {
	// Target is the element's id attribute, or its tag name when it has none.
	Target string
	Native bool
}

type window struct {
	handle       string
	url          string
	doc          *html.Node
	pendingPolls int
}

// Browser is an in-memory driver.Driver.
type Browser struct {
	mu sync.Mutex

	pages     map[string]string
	loader    func(url string) (string, bool)
	scripts   map[string]ScriptFunc
	loadPolls int

	windows   []*window
	current   *window
	frames    []*html.Node
	frameDocs map[*html.Node]*html.Node
	nextID    int

	clicks       []ClickRecord
	cookieClears int
	quit         bool
}

// Option configures a Browser.
type Option func(*Browser)

// WithPage registers the document served for url.
func WithPage(url, markup string) Option {
	return func(b *Browser) { b.pages[url] = markup }
}

// WithLoadPolls sets how many ReadyState polls a newly opened window answers
// with "loading" before it is complete.
func WithLoadPolls(n int) Option {
	return func(b *Browser) { b.loadPolls = n }
}

// WithLoader supplies documents for urls that were not registered with WithPage.
func WithLoader(fn func(url string) (markup string, ok bool)) Option {
	return func(b *Browser) { b.loader = fn }
}

// WithScript registers a handler for an exact script body.
func WithScript(script string, fn ScriptFunc) Option {
	return func(b *Browser) { b.scripts[script] = fn }
}

// New returns a browser with a single blank window.
func New(opts ...Option) *Browser {
	b := &Browser{
		pages:     make(map[string]string),
		scripts:   make(map[string]ScriptFunc),
		frameDocs: make(map[*html.Node]*html.Node),
	}
	for _, opt := range opts {
		opt(b)
	}
	w := &window{handle: b.newHandle(), url: "about:blank", doc: mustParse(blankPage)}
	b.windows = append(b.windows, w)
	b.current = w
	return b
}

var _ driver.Driver = (*Browser)(nil)

func (b *Browser) newHandle() string {
	b.nextID++
	return fmt.Sprintf("window-%d", b.nextID)
}

func mustParse(markup string) *html.Node {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		// x/net/html is error tolerant; only a failing reader gets here.
		panic(fmt.Sprintf("memdriver: parse document: %v", err))
	}
	return doc
}

func (b *Browser) documentFor(url string) *html.Node {
	if markup, ok := b.pages[url]; ok {
		return mustParse(markup)
	}
	if b.loader != nil {
		if markup, ok := b.loader(url); ok {
			return mustParse(markup)
		}
	}
	return mustParse(blankPage)
}

// checkLocked validates that the browser is alive and has a current window.
func (b *Browser) checkLocked() error {
	if b.quit {
		return driver.ErrSessionClosed
	}
	if b.current == nil {
		return driver.ErrNoSuchWindow
	}
	return nil
}

// rootLocked returns the document of the current browsing context.
func (b *Browser) rootLocked() *html.Node {
	if n := len(b.frames); n > 0 {
		return b.frameDocs[b.frames[n-1]]
	}
	return b.current.doc
}

// liveLocked reports whether root is still reachable from an open window.
func (b *Browser) liveLocked(root *html.Node) bool {
	for _, w := range b.windows {
		if w.doc == root {
			return true
		}
	}
	for frame, doc := range b.frameDocs {
		if doc == root {
			return b.liveLocked(topOf(frame))
		}
	}
	return false
}

func topOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func (b *Browser) wrap(nodes []*html.Node, root *html.Node) []driver.Element {
	out := make([]driver.Element, 0, len(nodes))
	for _, n := range nodes {
		if n.Type != html.ElementNode {
			continue
		}
		out = append(out, &element{b: b, node: n, root: root})
	}
	return out
}

// FindElements evaluates xpath against the current browsing context.
func (b *Browser) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return nil, err
	}
	root := b.rootLocked()
	nodes, err := htmlquery.QueryAll(root, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath '%s': %w", xpath, err)
	}
	return b.wrap(nodes, root), nil
}

func (b *Browser) Navigate(ctx context.Context, url string, eager bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	b.current.url = url
	b.current.doc = b.documentFor(url)
	b.current.pendingPolls = 0
	b.frames = nil
	return nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return "", err
	}
	return b.current.url, nil
}

func (b *Browser) PageSource(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return "", err
	}
	return htmlquery.OutputHTML(b.rootLocked(), false), nil
}

func (b *Browser) ReadyState(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return "", err
	}
	if b.current.pendingPolls > 0 {
		b.current.pendingPolls--
		return "loading", nil
	}
	return driver.ReadyStateComplete, nil
}

// ExecuteScript runs the handler registered for script. The lock is released
// while the handler runs so it may call back into the browser.
func (b *Browser) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	b.mu.Lock()
	if err := b.checkLocked(); err != nil {
		b.mu.Unlock()
		return nil, err
	}
	fn, ok := b.scripts[script]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("memdriver: no handler registered for script %q", script)
	}
	return fn(b, args)
}

func (b *Browser) OpenWindow(ctx context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	b.windows = append(b.windows, &window{
		handle:       b.newHandle(),
		url:          url,
		doc:          b.documentFor(url),
		pendingPolls: b.loadPolls,
	})
	return nil
}

func (b *Browser) WindowHandles(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return nil, driver.ErrSessionClosed
	}
	handles := make([]string, 0, len(b.windows))
	for _, w := range b.windows {
		handles = append(handles, w.handle)
	}
	return handles, nil
}

func (b *Browser) CurrentWindow(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return "", err
	}
	return b.current.handle, nil
}

func (b *Browser) SwitchToWindow(ctx context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return driver.ErrSessionClosed
	}
	for _, w := range b.windows {
		if w.handle == handle {
			b.current = w
			b.frames = nil
			return nil
		}
	}
	return fmt.Errorf("%w: %s", driver.ErrNoSuchWindow, handle)
}

func (b *Browser) CloseWindow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	for i, w := range b.windows {
		if w == b.current {
			b.windows = append(b.windows[:i], b.windows[i+1:]...)
			break
		}
	}
	b.current = nil
	b.frames = nil
	return nil
}

func (b *Browser) SwitchToFrame(ctx context.Context, frame driver.Element) error {
	el, ok := frame.(*element)
	if !ok || el.b != b {
		return fmt.Errorf("%w: foreign element", driver.ErrNoSuchFrame)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	if err := el.staleLocked(); err != nil {
		return err
	}
	if el.node.Data != "iframe" && el.node.Data != "frame" {
		return fmt.Errorf("%w: <%s> is not a frame", driver.ErrNoSuchFrame, el.node.Data)
	}
	if _, ok := b.frameDocs[el.node]; !ok {
		if srcdoc, ok := getAttr(el.node, "srcdoc"); ok {
			b.frameDocs[el.node] = mustParse(srcdoc)
		} else if src, ok := getAttr(el.node, "src"); ok && b.pages[src] != "" {
			b.frameDocs[el.node] = mustParse(b.pages[src])
		} else {
			return fmt.Errorf("%w: frame has no content", driver.ErrNoSuchFrame)
		}
	}
	b.frames = append(b.frames, el.node)
	return nil
}

func (b *Browser) SwitchToParentFrame(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	if n := len(b.frames); n > 0 {
		b.frames = b.frames[:n-1]
	}
	return nil
}

func (b *Browser) SwitchToDefaultContent(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	b.frames = nil
	return nil
}

func (b *Browser) DeleteAllCookies(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit {
		return driver.ErrSessionClosed
	}
	b.cookieClears++
	return nil
}

func (b *Browser) Quit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quit = true
	b.windows = nil
	b.current = nil
	b.frames = nil
	return nil
}
