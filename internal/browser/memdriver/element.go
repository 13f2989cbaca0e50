package memdriver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

type element struct {
	b    *Browser
	node *html.Node
	root *html.Node
}

var _ driver.Element = (*element)(nil)

// staleLocked reports driver.ErrStaleElement once the node left its document
// or the document left the browser.
func (e *element) staleLocked() error {
	if e.b.quit {
		return driver.ErrSessionClosed
	}
	if topOf(e.node) != e.root || !e.b.liveLocked(e.root) {
		return driver.ErrStaleElement
	}
	return nil
}

// do runs fn under the browser lock after the staleness check.
func (e *element) do(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.b.mu.Lock()
	defer e.b.mu.Unlock()
	if err := e.staleLocked(); err != nil {
		return err
	}
	return fn()
}

func (e *element) label() string {
	if id, ok := getAttr(e.node, "id"); ok {
		return id
	}
	return e.node.Data
}

func (e *element) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	var out []driver.Element
	err := e.do(ctx, func() error {
		nodes, err := htmlquery.QueryAll(e.node, xpath)
		if err != nil {
			return fmt.Errorf("invalid xpath '%s': %w", xpath, err)
		}
		out = e.b.wrap(nodes, e.root)
		return nil
	})
	return out, err
}

func (e *element) Click(ctx context.Context) error {
	return e.do(ctx, func() error {
		if hasAttr(e.node, "data-mem-stale-click") {
			return driver.ErrStaleElement
		}
		if hasAttr(e.node, "data-mem-intercept") {
			return fmt.Errorf("%w: <%s> is covered by an overlay", driver.ErrClickIntercepted, e.label())
		}
		if !displayed(e.node) {
			return fmt.Errorf("%w: <%s> is not displayed", driver.ErrNotInteractable, e.label())
		}
		e.activateLocked(true)
		return nil
	})
}

func (e *element) JSClick(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.activateLocked(false)
		return nil
	})
}

// activateLocked records the click and applies its default action.
func (e *element) activateLocked(native bool) {
	e.b.clicks = append(e.b.clicks, ClickRecord{Target: e.label(), Native: native})
	switch {
	case e.node.Data == "input" && (attr(e.node, "type") == "checkbox" || attr(e.node, "type") == "radio"):
		if hasAttr(e.node, "checked") {
			removeAttr(e.node, "checked")
		} else {
			setAttr(e.node, "checked", "checked")
		}
	case e.node.Data == "option":
		if sel := enclosingSelect(e.node); sel != nil {
			selectOption(sel, e.node)
		}
	}
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.do(ctx, func() error { return nil })
}

// writableLocked mirrors the checks a browser makes before accepting keyboard input.
func (e *element) writableLocked() error {
	if !displayed(e.node) {
		return fmt.Errorf("%w: <%s> is not displayed", driver.ErrNotInteractable, e.label())
	}
	if hasAttr(e.node, "disabled") {
		return fmt.Errorf("%w: <%s> is disabled", driver.ErrInvalidElementState, e.label())
	}
	if hasAttr(e.node, "readonly") {
		return driver.ErrReadOnly
	}
	return nil
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	return e.do(ctx, func() error {
		if err := e.writableLocked(); err != nil {
			return err
		}
		if hasAttr(e.node, "data-mem-ignore-keys") {
			return nil
		}
		value := valueOf(e.node) + text
		if limit, err := strconv.Atoi(attr(e.node, "maxlength")); err == nil && limit >= 0 && utf8.RuneCountInString(value) > limit {
			value = string([]rune(value)[:limit])
		}
		setAttr(e.node, "value", value)
		return nil
	})
}

func (e *element) Clear(ctx context.Context) error {
	return e.do(ctx, func() error {
		if err := e.writableLocked(); err != nil {
			return err
		}
		setAttr(e.node, "value", "")
		return nil
	})
}

func (e *element) Value(ctx context.Context) (string, error) {
	var v string
	err := e.do(ctx, func() error {
		v = valueOf(e.node)
		return nil
	})
	return v, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var (
		v  string
		ok bool
	)
	err := e.do(ctx, func() error {
		v, ok = getAttr(e.node, name)
		return nil
	})
	return v, ok, err
}

func (e *element) RemoveAttribute(ctx context.Context, name string) error {
	return e.do(ctx, func() error {
		removeAttr(e.node, name)
		return nil
	})
}

func (e *element) Text(ctx context.Context) (string, error) {
	var v string
	err := e.do(ctx, func() error {
		if displayed(e.node) {
			v = normalizeSpace(htmlquery.InnerText(e.node))
		}
		return nil
	})
	return v, err
}

func (e *element) IsDisplayed(ctx context.Context) (bool, error) {
	var v bool
	err := e.do(ctx, func() error {
		v = displayed(e.node)
		return nil
	})
	return v, err
}

func (e *element) IsEnabled(ctx context.Context) (bool, error) {
	var v bool
	err := e.do(ctx, func() error {
		v = !hasAttr(e.node, "disabled")
		return nil
	})
	return v, err
}

func (e *element) IsSelected(ctx context.Context) (bool, error) {
	var v bool
	err := e.do(ctx, func() error {
		v = hasAttr(e.node, "selected") || hasAttr(e.node, "checked")
		return nil
	})
	return v, err
}

func (e *element) SelectByText(ctx context.Context, text string) error {
	return e.do(ctx, func() error {
		if e.node.Data != "select" {
			return fmt.Errorf("%w: <%s> is not a select", driver.ErrInvalidElementState, e.label())
		}
		if hasAttr(e.node, "disabled") {
			return fmt.Errorf("%w: <%s> is disabled", driver.ErrInvalidElementState, e.label())
		}
		for _, opt := range options(e.node) {
			if normalizeSpace(htmlquery.InnerText(opt)) == text {
				selectOption(e.node, opt)
				return nil
			}
		}
		return fmt.Errorf("%w: %q", driver.ErrNoSuchOption, text)
	})
}

// -- node helpers --

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := getAttr(n, name)
	return v
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := getAttr(n, name)
	return ok
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

// displayed walks the ancestors looking for anything that hides the node.
func displayed(n *html.Node) bool {
	if n.Data == "input" && attr(n, "type") == "hidden" {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if cur.Data == "head" || cur.Data == "script" || cur.Data == "style" {
			return false
		}
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ReplaceAll(strings.ToLower(attr(cur, "style")), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func options(sel *html.Node) []*html.Node {
	nodes, _ := htmlquery.QueryAll(sel, ".//option")
	return nodes
}

func enclosingSelect(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.Data == "select" {
			return cur
		}
	}
	return nil
}

func selectOption(sel, chosen *html.Node) {
	for _, opt := range options(sel) {
		removeAttr(opt, "selected")
	}
	setAttr(chosen, "selected", "selected")
}

func optionValue(opt *html.Node) string {
	if v, ok := getAttr(opt, "value"); ok {
		return v
	}
	return normalizeSpace(htmlquery.InnerText(opt))
}

// valueOf returns the live value property of form controls.
func valueOf(n *html.Node) string {
	switch n.Data {
	case "select":
		opts := options(n)
		for _, opt := range opts {
			if hasAttr(opt, "selected") {
				return optionValue(opt)
			}
		}
		if len(opts) > 0 {
			return optionValue(opts[0])
		}
		return ""
	case "option":
		return optionValue(n)
	case "textarea":
		if v, ok := getAttr(n, "value"); ok {
			return v
		}
		return htmlquery.InnerText(n)
	}
	return attr(n, "value")
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
