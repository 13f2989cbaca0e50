package pw

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rpa-cli/internal/browser/atoms"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/config"
)

func TestEngine(t *testing.T) {
	for in, want := range map[string]string{
		"":          EngineChromium,
		"Chromium":  EngineChromium,
		"chrome":    EngineChromium,
		" firefox ": EngineFirefox,
	} {
		got, err := Engine(config.BrowserConfig{Engine: in})
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Engine(config.BrowserConfig{Engine: "webkit"})
	assert.Error(t, err)
}

func TestLaunchOptions(t *testing.T) {
	t.Run("chromium", func(t *testing.T) {
		opts := LaunchOptions(config.BrowserConfig{Headless: true, Args: []string{"--lang=de"}}, EngineChromium, "")
		require.NotNil(t, opts.Headless)
		assert.True(t, *opts.Headless)
		assert.Contains(t, opts.Args, "--no-sandbox")
		assert.Equal(t, "--lang=de", opts.Args[len(opts.Args)-1], "user args come last")
		assert.Nil(t, opts.FirefoxUserPrefs)
		assert.Nil(t, opts.DownloadsPath)
		assert.Nil(t, opts.ExecutablePath)
	})

	t.Run("firefox with downloads", func(t *testing.T) {
		cfg := config.BrowserConfig{
			MimeTypes: []string{"application/pdf", "text/csv"},
			ExecPath:  "/opt/firefox/firefox",
		}
		opts := LaunchOptions(cfg, EngineFirefox, "/tmp/dl")
		assert.Empty(t, opts.Args)
		require.NotNil(t, opts.DownloadsPath)
		assert.Equal(t, "/tmp/dl", *opts.DownloadsPath)
		require.NotNil(t, opts.ExecutablePath)
		assert.Equal(t, "/opt/firefox/firefox", *opts.ExecutablePath)
		assert.Equal(t, "application/pdf,text/csv", opts.FirefoxUserPrefs["browser.helperApps.neverAsk.saveToDisk"])
		assert.Equal(t, "/tmp/dl", opts.FirefoxUserPrefs["browser.download.dir"])
	})
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, true))
	assert.ErrorIs(t, mapError(errors.New("pipe closed"), false), driver.ErrSessionClosed)
	assert.Equal(t, context.Canceled, mapError(context.Canceled, false))
	assert.ErrorIs(t, mapError(errors.New("Error: "+atoms.MarkNoOption+": \"Faro\""), true), driver.ErrNoSuchOption)
	assert.ErrorIs(t, mapError(errors.New("Element is not attached to the DOM"), true), driver.ErrStaleElement)
	assert.ErrorIs(t, mapError(errors.New("Target page, context or browser has been closed"), true), driver.ErrStaleElement)
	boom := errors.New("boom")
	assert.Equal(t, boom, mapError(boom, true))
}

func TestNumber(t *testing.T) {
	for _, v := range []interface{}{float64(3), float32(3), 3, int64(3)} {
		n, ok := number(v)
		assert.True(t, ok)
		assert.Equal(t, 3.0, n)
	}
	_, ok := number("3")
	assert.False(t, ok)
}

func TestIndexed(t *testing.T) {
	props := map[string]playwright.JSHandle{"0": nil, "1": nil, "2": nil, "length": nil}
	assert.Len(t, indexed(props), 3)
	assert.Empty(t, indexed(nil))
}

// TestPlaywrightIntegration launches a real browser through playwright. It is
// skipped unless RPA_PLAYWRIGHT_TESTS is set.
func TestPlaywrightIntegration(t *testing.T) {
	if os.Getenv("RPA_PLAYWRIGHT_TESTS") == "" || testing.Short() {
		t.Skip("set RPA_PLAYWRIGHT_TESTS=1 to run against a playwright browser")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	d, err := Launch(ctx, config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer d.Quit(context.Background())

	require.NoError(t, d.Navigate(ctx, `data:text/html,<select id="s"><option>Lisbon</option><option>Porto</option></select>`, true))
	els, err := d.FindElements(ctx, "//select[@id='s']")
	require.NoError(t, err)
	require.Len(t, els, 1)
	require.NoError(t, els[0].SelectByText(ctx, "Porto"))
	value, err := els[0].Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Porto", value)

	options, err := els[0].FindElements(ctx, ".//option")
	require.NoError(t, err)
	assert.Len(t, options, 2)
}
