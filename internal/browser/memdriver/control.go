package memdriver

import (
	"fmt"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// The methods below let tests and dry runs drive the document from outside,
// the way page scripts would in a real browser.

// AddPage registers (or replaces) the document served for url.
func (b *Browser) AddPage(url, markup string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages[url] = markup
}

// ReplaceDocument swaps the current window's document. Every element resolved
// from the old document becomes stale.
func (b *Browser) ReplaceDocument(markup string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	b.current.doc = mustParse(markup)
	b.frames = nil
	return nil
}

// Mutate runs fn against the document of the current browsing context.
func (b *Browser) Mutate(fn func(doc *html.Node) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLocked(); err != nil {
		return err
	}
	return fn(b.rootLocked())
}

// SetAttribute sets an attribute on every node matching xpath in the current context.
func (b *Browser) SetAttribute(xpath, name, value string) error {
	return b.Mutate(func(doc *html.Node) error {
		nodes, err := matchAll(doc, xpath)
		for _, n := range nodes {
			setAttr(n, name, value)
		}
		return err
	})
}

// RemoveAttributeAt removes an attribute from every node matching xpath in the current context.
func (b *Browser) RemoveAttributeAt(xpath, name string) error {
	return b.Mutate(func(doc *html.Node) error {
		nodes, err := matchAll(doc, xpath)
		for _, n := range nodes {
			removeAttr(n, name)
		}
		return err
	})
}

// Detach removes every node matching xpath from the current document.
func (b *Browser) Detach(xpath string) error {
	return b.Mutate(func(doc *html.Node) error {
		nodes, err := matchAll(doc, xpath)
		for _, n := range nodes {
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
		return err
	})
}

func matchAll(doc *html.Node, xpath string) ([]*html.Node, error) {
	nodes, err := htmlquery.QueryAll(doc, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath '%s': %w", xpath, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no node matches '%s'", xpath)
	}
	return nodes, nil
}

// Clicks returns every click observed so far.
func (b *Browser) Clicks() []ClickRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ClickRecord(nil), b.clicks...)
}

// CookieClears reports how many times DeleteAllCookies was called.
func (b *Browser) CookieClears() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cookieClears
}

// Quitted reports whether Quit was called.
func (b *Browser) Quitted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quit
}

// CurrentHandle returns the current window handle, or "" when there is none.
func (b *Browser) CurrentHandle() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ""
	}
	return b.current.handle
}

// FrameDepth reports how many frames deep the current browsing context is.
func (b *Browser) FrameDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// ValueAt returns the live value of the first node matching xpath in the current context.
func (b *Browser) ValueAt(xpath string) (string, error) {
	var v string
	err := b.Mutate(func(doc *html.Node) error {
		nodes, err := matchAll(doc, xpath)
		if err != nil {
			return err
		}
		v = valueOf(nodes[0])
		return nil
	})
	return v, err
}
