// Package rodriver implements driver.Driver with go-rod.
package rodriver

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/config"
)

// NewLauncher configures a local Chrome launch from cfg.
func NewLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-popup-blocking")
	if cfg.ExecPath != "" {
		l = l.Bin(cfg.ExecPath)
	}
	for _, arg := range cfg.Args {
		name, value, ok := splitFlag(arg)
		if name == "" {
			continue
		}
		if ok {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l
}

// splitFlag breaks "--name=value" into its parts.
func splitFlag(arg string) (name, value string, hasValue bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	return strings.Cut(arg, "=")
}

// Launch starts Chrome (or connects to RemoteURL) and attaches to a fresh page.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("rod")
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		l          *launcher.Launcher
		controlURL string
		err        error
	)
	if cfg.RemoteURL != "" {
		controlURL, err = launcher.ResolveURL(cfg.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve remote browser '%s': %w", cfg.RemoteURL, err)
		}
	} else {
		l = NewLauncher(cfg)
		controlURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch chrome: %w", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to open first page: %w", err)
	}

	dir, err := cfg.ResolvedDownloadDir()
	if err == nil && dir != "" {
		err = os.MkdirAll(dir, 0o755)
		if err == nil {
			err = proto.BrowserSetDownloadBehavior{
				Behavior:     proto.BrowserSetDownloadBehaviorBehaviorAllow,
				DownloadPath: dir,
			}.Call(browser)
		}
	}
	if err != nil {
		logger.Warn("Failed to configure download directory.", zap.Error(err))
	}

	logger.Info("Rod browser ready.", zap.Bool("headless", cfg.Headless), zap.Bool("remote", cfg.RemoteURL != ""))
	return newDriver(browser, l, page, logger), nil
}
