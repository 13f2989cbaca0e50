// Package cdp implements driver.Driver over the Chrome DevTools Protocol with chromedp.
package cdp

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/config"
)

const launchTimeout = 60 * time.Second

// ExecOptions builds the allocator options for a local Chrome launch.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		name, value := ParseFlag(arg)
		if name == "" {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// ParseFlag splits a command line switch such as "--window-size=1280,800" into
// the name and value chromedp expects. Switches without a value are boolean.
func ParseFlag(arg string) (string, any) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil
	}
	name, value, ok := strings.Cut(arg, "=")
	if !ok {
		return name, true
	}
	return name, value
}

// Launch starts (or attaches to) Chrome and returns a Driver bound to its first tab.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cdp")

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if cfg.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), cfg.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), ExecOptions(cfg)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	fail := func(err error) (*Driver, error) {
		browserCancel()
		allocCancel()
		return nil, err
	}

	// The first Run allocates the browser; it must not carry a deadline of its
	// own or the browser dies with it, so the launch budget is enforced around it.
	started := make(chan error, 1)
	go func() { started <- chromedp.Run(browserCtx) }()
	select {
	case err := <-started:
		if err != nil {
			return fail(fmt.Errorf("failed to start chrome: %w", err))
		}
	case <-time.After(launchTimeout):
		return fail(fmt.Errorf("chrome did not start within %s", launchTimeout))
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	d := newDriver(browserCtx, browserCancel, allocCancel, logger)

	dir, err := cfg.ResolvedDownloadDir()
	if err != nil {
		d.Quit(context.Background())
		return nil, err
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			d.Quit(context.Background())
			return nil, fmt.Errorf("failed to create download directory '%s': %w", dir, err)
		}
		err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			c := chromedp.FromContext(ctx)
			return browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(dir).
				Do(cdp.WithExecutor(ctx, c.Browser))
		}))
		if err != nil {
			logger.Warn("Failed to configure download directory.", zap.String("dir", dir), zap.Error(err))
		}
	}

	logger.Info("Chrome ready.", zap.Bool("headless", cfg.Headless), zap.Bool("remote", cfg.RemoteURL != ""))
	return d, nil
}
