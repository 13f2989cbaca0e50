package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/config"
)

// hasOption inspects the printed form of each option since the allocator
// options are opaque closures.
func hasOption(opts []chromedp.ExecAllocatorOption, substring string) bool {
	for _, opt := range opts {
		if strings.Contains(fmt.Sprintf("%#v", opt), substring) {
			return true
		}
	}
	return false
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		arg   string
		name  string
		value any
	}{
		{"--mute-audio", "mute-audio", true},
		{"window-size=1280,800", "window-size", "1280,800"},
		{"  --lang=de-DE ", "lang", "de-DE"},
		{"--proxy-server=", "proxy-server", ""},
		{"--", "", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			name, value := ParseFlag(tt.arg)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.value, value)
		})
	}
}

func TestExecOptions(t *testing.T) {
	base := len(ExecOptions(config.BrowserConfig{Headless: true}))
	assert.Greater(t, base, len(chromedp.DefaultExecAllocatorOptions))

	headful := ExecOptions(config.BrowserConfig{Headless: false})
	assert.Len(t, headful, base+1)

	custom := ExecOptions(config.BrowserConfig{
		Headless: true,
		ExecPath: "/opt/chrome/chrome",
		Args:     []string{"--custom-arg1", "", "--custom-arg2=on"},
	})
	assert.Len(t, custom, base+3, "empty switches are skipped")

	// The default options slice must not be mutated by appends.
	again := ExecOptions(config.BrowserConfig{Headless: true})
	assert.Len(t, again, base)
}

func TestMapError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, mapError(nil, false))
	})
	t.Run("browser gone wins", func(t *testing.T) {
		err := mapError(errors.New("anything"), true)
		assert.ErrorIs(t, err, driver.ErrSessionClosed)
	})
	t.Run("invalid context", func(t *testing.T) {
		assert.ErrorIs(t, mapError(chromedp.ErrInvalidContext, false), driver.ErrSessionClosed)
	})
	t.Run("context errors pass through", func(t *testing.T) {
		assert.Equal(t, context.DeadlineExceeded, mapError(context.DeadlineExceeded, false))
	})
	t.Run("atom markers", func(t *testing.T) {
		err := mapError(errors.New("Error: "+atoms.MarkReadOnly+": element is read-only"), false)
		assert.ErrorIs(t, err, driver.ErrReadOnly)
		err = mapError(errors.New("Error: "+atoms.MarkIntercepted+": click would land on div#overlay"), false)
		assert.ErrorIs(t, err, driver.ErrClickIntercepted)
	})
	t.Run("stale protocol messages", func(t *testing.T) {
		err := mapError(errors.New("Could not find object with given id (-32000)"), false)
		assert.ErrorIs(t, err, driver.ErrStaleElement)
	})
	t.Run("closed target", func(t *testing.T) {
		err := mapError(errors.New("No target with given id found (-32602)"), false)
		assert.ErrorIs(t, err, driver.ErrNoSuchWindow)
	})
	t.Run("unknown errors are untouched", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Equal(t, boom, mapError(boom, false))
	})
}

func TestCombineContext(t *testing.T) {
	type key struct{}
	tabCtx := context.WithValue(context.Background(), key{}, "tab")

	t.Run("values come from the tab", func(t *testing.T) {
		ctx, cancel := CombineContext(tabCtx, context.Background())
		defer cancel()
		assert.Equal(t, "tab", ctx.Value(key{}))
		_, ok := ctx.Deadline()
		assert.False(t, ok)
	})

	t.Run("operation cancel propagates", func(t *testing.T) {
		opCtx, opCancel := context.WithCancel(context.Background())
		ctx, cancel := CombineContext(tabCtx, opCtx)
		defer cancel()
		opCancel()
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not canceled")
		}
	})

	t.Run("operation deadline is carried", func(t *testing.T) {
		opCtx, opCancel := context.WithTimeout(context.Background(), time.Minute)
		defer opCancel()
		ctx, cancel := CombineContext(tabCtx, opCtx)
		defer cancel()
		want, _ := opCtx.Deadline()
		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("tab cancel propagates", func(t *testing.T) {
		parent, parentCancel := context.WithCancel(tabCtx)
		ctx, cancel := CombineContext(parent, context.Background())
		defer cancel()
		parentCancel()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})
}

const integrationPage = `<html><body>
<button id="go" onclick="document.getElementById('out').textContent='clicked'">Go</button>
<div id="out"></div>
<input id="name" type="text">
<input id="locked" type="text" readonly>
<select id="city"><option value="a">Lisbon</option><option value="b">Porto</option></select>
<iframe id="inner" srcdoc="<p id='deep'>inside</p>"></iframe>
</body></html>`

// TestChromeIntegration drives a real Chrome. It is skipped unless
// RPA_CHROME_TESTS is set.
func TestChromeIntegration(t *testing.T) {
	if os.Getenv("RPA_CHROME_TESTS") == "" || testing.Short() {
		t.Skip("set RPA_CHROME_TESTS=1 to run against a local Chrome")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(integrationPage))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := Launch(ctx, config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Quit(context.Background())

	require.NoError(t, d.Navigate(ctx, srv.URL, false))

	find := func(xpath string) driver.Element {
		t.Helper()
		els, err := d.FindElements(ctx, xpath)
		require.NoError(t, err)
		require.Len(t, els, 1)
		return els[0]
	}

	require.NoError(t, find("//button[@id='go']").Click(ctx))
	text, err := find("//div[@id='out']").Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "clicked", text)

	name := find("//input[@id='name']")
	require.NoError(t, name.SendKeys(ctx, "hello"))
	value, err := name.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	locked := find("//input[@id='locked']")
	assert.ErrorIs(t, locked.SendKeys(ctx, "x"), driver.ErrReadOnly)
	require.NoError(t, locked.RemoveAttribute(ctx, "readonly"))
	require.NoError(t, locked.SendKeys(ctx, "x"))

	city := find("//select[@id='city']")
	require.NoError(t, city.SelectByText(ctx, "Porto"))
	value, err = city.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", value)
	assert.ErrorIs(t, city.SelectByText(ctx, "Faro"), driver.ErrNoSuchOption)

	require.NoError(t, d.SwitchToFrame(ctx, find("//iframe[@id='inner']")))
	deep, err := d.FindElements(ctx, "//p[@id='deep']")
	require.NoError(t, err)
	assert.Len(t, deep, 1)
	require.NoError(t, d.SwitchToDefaultContent(ctx))

	first, err := d.CurrentWindow(ctx)
	require.NoError(t, err)
	require.NoError(t, d.OpenWindow(ctx, srv.URL+"/second"))
	require.Eventually(t, func() bool {
		handles, err := d.WindowHandles(ctx)
		return err == nil && len(handles) == 2
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, d.Quit(context.Background()))
	_, err = d.CurrentWindow(ctx)
	assert.ErrorIs(t, err, driver.ErrSessionClosed)
	assert.NotEmpty(t, first)
}
