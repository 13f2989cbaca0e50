package memdriver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
)

const formPage = `<html><body>
  <div id="overlay-target" data-mem-intercept>Covered</div>
  <input id="name" type="text" maxlength="5">
  <input id="locked" type="text" readonly value="x">
  <input id="gone" type="text" style="display: none">
  <button id="off" disabled>Off</button>
  <select id="city">
    <option value="sp">São Paulo</option>
    <option value="rj" selected>Rio de Janeiro</option>
  </select>
  <iframe id="inner" srcdoc="&lt;p id='deep'&gt;inside&lt;/p&gt;"></iframe>
</body></html>`

func newForm(t *testing.T) (*Browser, context.Context) {
	t.Helper()
	b := New(WithPage("https://form.test/", formPage))
	ctx := context.Background()
	require.NoError(t, b.Navigate(ctx, "https://form.test/", true))
	return b, ctx
}

func first(t *testing.T, ctx context.Context, f driver.Finder, xpath string) driver.Element {
	t.Helper()
	els, err := f.FindElements(ctx, xpath)
	require.NoError(t, err)
	require.NotEmpty(t, els, "no match for %s", xpath)
	return els[0]
}

func TestElementBehaviours(t *testing.T) {
	b, ctx := newForm(t)

	t.Run("intercepted click falls through to script click", func(t *testing.T) {
		el := first(t, ctx, b, `//*[@id="overlay-target"]`)
		assert.ErrorIs(t, el.Click(ctx), driver.ErrClickIntercepted)
		require.NoError(t, el.JSClick(ctx))
		assert.Equal(t, []ClickRecord{{Target: "overlay-target", Native: false}}, b.Clicks())
	})

	t.Run("maxlength truncates typed text", func(t *testing.T) {
		el := first(t, ctx, b, `//*[@id="name"]`)
		require.NoError(t, el.SendKeys(ctx, "abcdefgh"))
		v, err := el.Value(ctx)
		require.NoError(t, err)
		assert.Equal(t, "abcde", v)
	})

	t.Run("readonly rejects writes until removed", func(t *testing.T) {
		el := first(t, ctx, b, `//*[@id="locked"]`)
		err := el.SendKeys(ctx, "y")
		assert.ErrorIs(t, err, driver.ErrReadOnly)
		assert.ErrorIs(t, err, driver.ErrInvalidElementState)
		require.NoError(t, el.RemoveAttribute(ctx, "readonly"))
		require.NoError(t, el.Clear(ctx))
		require.NoError(t, el.SendKeys(ctx, "y"))
		v, _ := el.Value(ctx)
		assert.Equal(t, "y", v)
	})

	t.Run("hidden and disabled state", func(t *testing.T) {
		hidden := first(t, ctx, b, `//*[@id="gone"]`)
		shown, err := hidden.IsDisplayed(ctx)
		require.NoError(t, err)
		assert.False(t, shown)
		assert.ErrorIs(t, hidden.Click(ctx), driver.ErrNotInteractable)

		off := first(t, ctx, b, `//*[@id="off"]`)
		enabled, err := off.IsEnabled(ctx)
		require.NoError(t, err)
		assert.False(t, enabled)
	})

	t.Run("select by text", func(t *testing.T) {
		sel := first(t, ctx, b, `//*[@id="city"]`)
		v, _ := sel.Value(ctx)
		assert.Equal(t, "rj", v)

		require.NoError(t, sel.SelectByText(ctx, "São Paulo"))
		v, _ = sel.Value(ctx)
		assert.Equal(t, "sp", v)

		assert.ErrorIs(t, sel.SelectByText(ctx, "Recife"), driver.ErrNoSuchOption)

		opts, err := sel.FindElements(ctx, ".//option")
		require.NoError(t, err)
		require.Len(t, opts, 2)
		selected, _ := opts[0].IsSelected(ctx)
		assert.True(t, selected)
	})
}

func TestStaleness(t *testing.T) {
	b, ctx := newForm(t)
	el := first(t, ctx, b, `//*[@id="name"]`)

	require.NoError(t, b.ReplaceDocument(formPage))
	_, err := el.Text(ctx)
	assert.ErrorIs(t, err, driver.ErrStaleElement)

	fresh := first(t, ctx, b, `//*[@id="name"]`)
	require.NoError(t, b.Detach(`//*[@id="name"]`))
	assert.ErrorIs(t, fresh.SendKeys(ctx, "a"), driver.ErrStaleElement)
}

func TestWindows(t *testing.T) {
	b := New(WithPage("https://popup.test/", `<html><body><h1>Popup</h1></body></html>`), WithLoadPolls(2))
	ctx := context.Background()

	original, err := b.CurrentWindow(ctx)
	require.NoError(t, err)
	require.NoError(t, b.OpenWindow(ctx, "https://popup.test/"))

	handles, err := b.WindowHandles(ctx)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	assert.Equal(t, original, handles[0])

	require.NoError(t, b.SwitchToWindow(ctx, handles[1]))
	for _, want := range []string{"loading", "loading", driver.ReadyStateComplete} {
		state, err := b.ReadyState(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, state)
	}
	first(t, ctx, b, "//h1")

	require.NoError(t, b.CloseWindow(ctx))
	_, err = b.CurrentURL(ctx)
	assert.ErrorIs(t, err, driver.ErrNoSuchWindow)
	assert.ErrorIs(t, b.SwitchToWindow(ctx, handles[1]), driver.ErrNoSuchWindow)
	require.NoError(t, b.SwitchToWindow(ctx, original))
}

func TestFrames(t *testing.T) {
	b, ctx := newForm(t)
	frame := first(t, ctx, b, `//iframe[@id="inner"]`)

	require.NoError(t, b.SwitchToFrame(ctx, frame))
	assert.Equal(t, 1, b.FrameDepth())
	deep := first(t, ctx, b, `//p[@id="deep"]`)
	text, err := deep.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "inside", text)

	require.NoError(t, b.SwitchToParentFrame(ctx))
	assert.Equal(t, 0, b.FrameDepth())
	els, err := b.FindElements(ctx, `//p[@id="deep"]`)
	require.NoError(t, err)
	assert.Empty(t, els, "frame content must not leak into the parent document")

	notFrame := first(t, ctx, b, `//*[@id="name"]`)
	assert.ErrorIs(t, b.SwitchToFrame(ctx, notFrame), driver.ErrNoSuchFrame)
}

func TestQuit(t *testing.T) {
	b, ctx := newForm(t)
	el := first(t, ctx, b, `//*[@id="name"]`)

	require.NoError(t, b.Quit(ctx))
	require.NoError(t, b.Quit(ctx), "quit is idempotent")
	assert.True(t, b.Quitted())

	_, err := b.FindElements(ctx, "//body")
	assert.ErrorIs(t, err, driver.ErrSessionClosed)
	assert.ErrorIs(t, el.Click(ctx), driver.ErrSessionClosed)
}

func TestExecuteScript(t *testing.T) {
	b := New(WithScript("return arguments[0] * 2", func(_ *Browser, args []any) (any, error) {
		return args[0].(int) * 2, nil
	}))
	ctx := context.Background()

	v, err := b.ExecuteScript(ctx, "return arguments[0] * 2", 21)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = b.ExecuteScript(ctx, "return 1")
	assert.Error(t, err)
}

func TestLoader(t *testing.T) {
	b := New(
		WithPage("https://known.test/", `<p id="registered">r</p>`),
		WithLoader(func(url string) (string, bool) {
			if url == "file:///tmp/form.html" {
				return `<p id="loaded">l</p>`, true
			}
			return "", false
		}),
	)
	ctx := context.Background()

	require.NoError(t, b.Navigate(ctx, "file:///tmp/form.html", false))
	first(t, ctx, b, `//p[@id="loaded"]`)

	require.NoError(t, b.Navigate(ctx, "https://known.test/", false))
	first(t, ctx, b, `//p[@id="registered"]`)

	require.NoError(t, b.Navigate(ctx, "https://unknown.test/", false))
	els, err := b.FindElements(ctx, "//p")
	require.NoError(t, err)
	assert.Empty(t, els, "unknown urls load a blank page")
}
