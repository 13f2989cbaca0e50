package pw

import (
	"context"
	"fmt"

	"github.com/playwright-community/playwright-go"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

// element wraps a JS handle to a node (or a document) of one page.
type element struct {
	d    *Driver
	page playwright.Page
	h    playwright.JSHandle
}

var _ driver.Element = (*element)(nil)

// bind turns an atom into the (handle, args) arrow playwright evaluates.
func bind(atom string) string {
	return "(el, args) => (" + atom + ").apply(el, args)"
}

func argList(args []any) []any {
	if args == nil {
		return []any{}
	}
	return args
}

func (e *element) eval(ctx context.Context, atom string, args ...any) (interface{}, error) {
	var res interface{}
	err := e.d.do(ctx, func() error {
		var err error
		res, err = e.h.Evaluate(bind(atom), argList(args))
		return err
	})
	return res, err
}

func (e *element) FindElements(ctx context.Context, xpath string) ([]driver.Element, error) {
	var props map[string]playwright.JSHandle
	err := e.d.do(ctx, func() error {
		list, err := e.h.EvaluateHandle(bind(atoms.FindXPath), []any{xpath})
		if err != nil {
			return err
		}
		props, err = list.GetProperties()
		return err
	})
	if err != nil {
		return nil, err
	}
	handles := indexed(props)
	out := make([]driver.Element, 0, len(handles))
	for _, h := range handles {
		if el := h.AsElement(); el != nil {
			out = append(out, &element{d: e.d, page: e.page, h: el})
		}
	}
	return out, nil
}

func (e *element) Click(ctx context.Context) error {
	res, err := e.eval(ctx, atoms.ClickPoint)
	if err != nil {
		return err
	}
	m, _ := res.(map[string]interface{})
	x, okX := number(m["x"])
	y, okY := number(m["y"])
	if !okX || !okY {
		return fmt.Errorf("%w: no click point", driver.ErrNotInteractable)
	}
	return e.d.do(ctx, func() error { return e.page.Mouse().Click(x, y) })
}

func (e *element) JSClick(ctx context.Context) error {
	_, err := e.eval(ctx, atoms.JSClick)
	return err
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	_, err := e.eval(ctx, atoms.ScrollIntoView)
	return err
}

func (e *element) SendKeys(ctx context.Context, text string) error {
	if _, err := e.eval(ctx, atoms.Focus); err != nil {
		return err
	}
	return e.d.do(ctx, func() error { return e.page.Keyboard().Type(text) })
}

func (e *element) Clear(ctx context.Context) error {
	_, err := e.eval(ctx, atoms.Clear)
	return err
}

func (e *element) stringField(ctx context.Context, atom string, args ...any) (string, bool, error) {
	res, err := e.eval(ctx, atom, args...)
	if err != nil {
		return "", false, err
	}
	m, _ := res.(map[string]interface{})
	v, _ := m["v"].(string)
	ok, _ := m["ok"].(bool)
	return v, ok, nil
}

func (e *element) Value(ctx context.Context) (string, error) {
	v, _, err := e.stringField(ctx, atoms.Value)
	return v, err
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	return e.stringField(ctx, atoms.Attribute, name)
}

func (e *element) RemoveAttribute(ctx context.Context, name string) error {
	_, err := e.eval(ctx, atoms.RemoveAttribute, name)
	return err
}

func (e *element) Text(ctx context.Context) (string, error) {
	v, _, err := e.stringField(ctx, atoms.Text)
	return v, err
}

func (e *element) boolAtom(ctx context.Context, atom string) (bool, error) {
	res, err := e.eval(ctx, atom)
	if err != nil {
		return false, err
	}
	b, _ := res.(bool)
	return b, nil
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

// number accepts the numeric types playwright decodes script results into.
func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
