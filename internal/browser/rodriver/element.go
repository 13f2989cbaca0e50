package rodriver

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// element is a remote object in page (a frame page for framed content). top is
// the window's page, which owns the mouse and keyboard.
type element struct {
	d    *Driver
	top  *rod.Page
	page *rod.Page
	obj  *proto.RuntimeRemoteObject
}

var _ driver.Element = (*element)(nil)

func (e *element) evaluate(ctx context.Context, opts *rod.EvalOptions) (*proto.RuntimeRemoteObject, error) {
	if e.obj == nil || e.obj.ObjectID == "" {
		return nil, driver.ErrStaleElement
	}
	res, err := e.page.Context(ctx).Evaluate(opts.This(e.obj))
	if err != nil {
		return nil, e.d.check(err)
	}
	return res, nil
}

func (e *element) eval(ctx context.Context, atom string, args ...any) (*proto.RuntimeRemoteObject, error) {
	return e.evaluate(ctx, rod.Eval(atom, args...))
}

func (e *element) object(ctx context.Context, atom string, args ...any) (*element, error) {
	res, err := e.evaluate(ctx, rod.Eval(atom, args...).ByObject())
	if err != nil {
		return nil, err
	}
	return &element{d: e.d, top: e.top, page: e.page, obj: res}, nil
}

func (e *element) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	list, err := e.object(ctx, atoms.FindXPath, xpath)
	if err != nil {
		return nil, err
	}
	res, err := list.eval(ctx, `function() { return this.length; }`)
	if err != nil {
		return nil, err
	}
	n := res.Value.Int()
	out := make([]driver.Element, 0, n)
	for i := 0; i < n; i++ {
		item, err := list.object(ctx, `function(i) { return this[i]; }`, i)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (e *element) Click(ctx context.Context) error {
	res, err := e.eval(ctx, atoms.ClickPoint)
	if err != nil {
		return err
	}
	pt := proto.Point{X: res.Value.Get("x").Num(), Y: res.Value.Get("y").Num()}
	mouse := e.top.Context(ctx).Mouse
	if err := mouse.MoveTo(pt); err != nil {
		return e.d.check(err)
	}
	return e.d.check(mouse.Click(proto.InputMouseButtonLeft, 1))
}

func (e *element) JSClick(ctx context.Context) error {
	_, err := e.eval(ctx, atoms.JSClick)
	return err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	_, err := e.eval(ctx, atoms.ScrollIntoView)
	return err
}

// SendKeys focuses the element and inserts text the way an IME commit does.
func (e *element) SendKeys(ctx context.Context, text string) error {
	if _, err := e.eval(ctx, atoms.Focus); err != nil {
		return err
	}
	return e.d.check(e.top.Context(ctx).InsertText(text))
}

func (e *element) Clear(ctx context.Context) error {
	_, err := e.eval(ctx, atoms.Clear)
	return err
}

func (e *element) Value(ctx context.Context) (string, error) {
	res, err := e.eval(ctx, atoms.Value)
	if err != nil {
		return "", err
	}
	return res.Value.Get("v").Str(), nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := e.eval(ctx, atoms.Attribute, name)
	if err != nil {
		return "", false, err
	}
	return res.Value.Get("v").Str(), res.Value.Get("ok").Bool(), nil
}

func (e *element) RemoveAttribute(ctx context.Context, name string) error {
	_, err := e.eval(ctx, atoms.RemoveAttribute, name)
	return err
}

func (e *element) Text(ctx context.Context) (string, error) {
	res, err := e.eval(ctx, atoms.Text)
	if err != nil {
		return "", err
	}
	return res.Value.Get("v").Str(), nil
}

func (e *element) boolAtom(ctx context.Context, atom string) (bool, error) {
	res, err := e.eval(ctx, atom)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
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
	_, err := e.eval(ctx, atoms.SelectByText, text)
	return err
}
