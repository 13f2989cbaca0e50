// Package pw implements driver.Driver on top of playwright-go, supporting the
// Chromium and Firefox engines.
package pw

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/config"
)

const (
	installTimeout  = 5 * time.Minute
	launchTimeoutMs = 60000

	EngineChromium = "chromium"
	EngineFirefox  = "firefox"
)

// Engine normalizes the configured engine name. Empty means chromium.
func Engine(cfg config.BrowserConfig) (string, error) {
	switch e := strings.ToLower(strings.TrimSpace(cfg.Engine)); e {
	case "", EngineChromium, "chrome":
		return EngineChromium, nil
	case EngineFirefox:
		return EngineFirefox, nil
	default:
		return "", fmt.Errorf("unsupported playwright engine '%s'", cfg.Engine)
	}
}

// LaunchOptions assembles the launch options for engine. Firefox receives the
// download preferences that let listed mime types save without a prompt.
func LaunchOptions(cfg config.BrowserConfig, engine, downloadDir string) playwright.BrowserTypeLaunchOptions {
	opts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Timeout:  playwright.Float(launchTimeoutMs),
	}
	var args []string
	if engine == EngineChromium {
		args = append(args, "--no-sandbox", "--disable-dev-shm-usage", "--disable-popup-blocking")
	}
	opts.Args = append(args, cfg.Args...)
	if cfg.ExecPath != "" {
		opts.ExecutablePath = playwright.String(cfg.ExecPath)
	}
	if downloadDir != "" {
		opts.DownloadsPath = playwright.String(downloadDir)
	}
	if engine == EngineFirefox {
		prefs := map[string]interface{}{
			"dom.disable_open_during_load": false,
		}
		if downloadDir != "" {
			prefs["browser.download.folderList"] = 2
			prefs["browser.download.dir"] = downloadDir
			prefs["browser.download.useDownloadDir"] = true
		}
		if len(cfg.MimeTypes) > 0 {
			prefs["browser.helperApps.neverAsk.saveToDisk"] = strings.Join(cfg.MimeTypes, ",")
		}
		opts.FirefoxUserPrefs = prefs
	}
	return opts
}

// Launch starts playwright, launches (or connects to) the configured engine
// and opens the first page.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("playwright")

	engine, err := Engine(cfg)
	if err != nil {
		return nil, err
	}
	downloadDir, err := cfg.ResolvedDownloadDir()
	if err != nil {
		return nil, err
	}

	if cfg.RemoteURL == "" {
		if err := ensureInstallation(ctx, engine, logger); err != nil {
			return nil, err
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright driver: %w", err)
	}

	browser, err := launchBrowser(pw, engine, cfg, downloadDir)
	if err != nil {
		_ = pw.Stop()
		return nil, err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		AcceptDownloads: playwright.Bool(true),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to open first page: %w", err)
	}

	logger.Info("Playwright browser ready.",
		zap.String("engine", engine),
		zap.String("browser_version", browser.Version()),
		zap.Bool("headless", cfg.Headless),
	)
	return newDriver(pw, browser, bctx, page, logger), nil
}

func launchBrowser(pw *playwright.Playwright, engine string, cfg config.BrowserConfig, downloadDir string) (playwright.Browser, error) {
	bt := pw.Chromium
	if engine == EngineFirefox {
		bt = pw.Firefox
	}
	if cfg.RemoteURL != "" {
		var (
			browser playwright.Browser
			err     error
		)
		if engine == EngineChromium && strings.HasPrefix(cfg.RemoteURL, "http") {
			browser, err = bt.ConnectOverCDP(cfg.RemoteURL)
		} else {
			browser, err = bt.Connect(cfg.RemoteURL)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s browser at %s: %w", engine, cfg.RemoteURL, err)
		}
		return browser, nil
	}
	browser, err := bt.Launch(LaunchOptions(cfg, engine, downloadDir))
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", engine, err)
	}
	return browser, nil
}

func ensureInstallation(ctx context.Context, engine string, logger *zap.Logger) error {
	logger.Info("Verifying Playwright browser installation...", zap.String("engine", engine))
	installCtx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	// Install blocks without honoring a context.
	errCh := make(chan error, 1)
	go func() {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{engine}}); err != nil {
			errCh <- fmt.Errorf("failed to install playwright browsers: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-installCtx.Done():
		return fmt.Errorf("timeout waiting for Playwright installation: %w", installCtx.Err())
	}
}
