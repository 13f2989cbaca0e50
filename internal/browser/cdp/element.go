package cdp

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// element is a remote object handle in the tab it was found in. Documents are
// represented the same way so lookups share one code path.
type element struct {
	d   *Driver
	tab *tab
	obj *runtime.RemoteObject
}

var _ driver.Element = (*element)(nil)

func (e *element) on() chromedp.CallOption {
	id := e.obj.ObjectID
	return func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return p.WithObjectID(id)
	}
}

// call invokes fn with this bound to the element, decoding the result into res.
func (e *element) call(ctx context.Context, fn string, res any, args ...any) error {
	if e.obj == nil || e.obj.ObjectID == "" {
		return driver.ErrStaleElement
	}
	return e.d.runOn(ctx, e.tab, chromedp.CallFunctionOn(fn, res, e.on(), args...))
}

// callObject invokes fn and returns the resulting object as a new handle.
func (e *element) callObject(ctx context.Context, fn string, args ...any) (*element, error) {
	var obj *runtime.RemoteObject
	if err := e.call(ctx, fn, &obj, args...); err != nil {
		return nil, err
	}
	if obj == nil || obj.ObjectID == "" {
		return nil, fmt.Errorf("%w: script returned no object", driver.ErrStaleElement)
	}
	return &element{d: e.d, tab: e.tab, obj: obj}, nil
}

func (e *element) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	list, err := e.callObject(ctx, atoms.FindXPath, xpath)
	if err != nil {
		return nil, err
	}
	var n int
	if err := list.call(ctx, `function() { return this.length; }`, &n); err != nil {
		return nil, err
	}
	out := make([]driver.Element, 0, n)
	for i := 0; i < n; i++ {
		item, err := list.callObject(ctx, `function(i) { return this[i]; }`, i)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (e *element) Click(ctx context.Context) error {
	var p point
	if err := e.call(ctx, atoms.ClickPoint, &p); err != nil {
		return err
	}
	return e.d.runOn(ctx, e.tab, chromedp.MouseClickXY(p.X, p.Y))
}

func (e *element) JSClick(ctx context.Context) error {
	return e.call(ctx, atoms.JSClick, nil)
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return e.call(ctx, atoms.ScrollIntoView, nil)
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	if err := e.call(ctx, atoms.Focus, nil); err != nil {
		return err
	}
	return e.d.runOn(ctx, e.tab, chromedp.KeyEvent(text))
}

func (e *element) Clear(ctx context.Context) error {
	return e.call(ctx, atoms.Clear, nil)
}

type stringResult struct {
	V  string `json:"v"`
	OK bool   `json:"ok"`
}

func (e *element) Value(ctx context.Context) (string, error) {
	var r stringResult
	if err := e.call(ctx, atoms.Value, &r); err != nil {
		return "", err
	}
	return r.V, nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var r stringResult
	if err := e.call(ctx, atoms.Attribute, &r, name); err != nil {
		return "", false, err
	}
	return r.V, r.OK, nil
}

func (e *element) RemoveAttribute(ctx context.Context, name string) error {
	return e.call(ctx, atoms.RemoveAttribute, nil, name)
}

func (e *element) Text(ctx context.Context) (string, error) {
	var r stringResult
	if err := e.call(ctx, atoms.Text, &r); err != nil {
		return "", err
	}
	return r.V, nil
}

func (e *element) boolAtom(ctx context.Context, fn string) (bool, error) {
	var ok bool
	if err := e.call(ctx, fn, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (e *element) IsDisplayed(ctx context.Context) (bool, error) {
	return e.boolAtom(ctx, atoms.Displayed)
}

func (e *element) IsEnabled(ctx context.Context) (bool, error) {
	return e.boolAtom(ctx, atoms.Enabled)
}

func (e *element) IsSelected(ctx context.Context) (bool, error) {
	return e.boolAtom(ctx, atoms.Selected)
}

func (e *element) SelectByText(ctx context.Context, text string) error {
	return e.call(ctx, atoms.SelectByText, nil, text)
}
