package cmd

import (
	"context"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser"
	"github.com/xkilldash9x/rpa-cli/internal/browser/session"
	"github.com/xkilldash9x/rpa-cli/internal/config"
	"github.com/xkilldash9x/rpa-cli/internal/observability"
)

const shutdownTimeout = 20 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// withSession launches one browser session, runs fn on it and shuts the
// browser down afterwards, even when ctx has been cancelled.
func withSession(ctx context.Context, cfg config.Interface, fn func(context.Context, *session.Session) error) error {
	logger := observability.GetLogger()
	mgr := browser.NewManager(cfg, logger)

	s, err := mgr.NewSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := mgr.Shutdown(sctx); err != nil {
			logger.Warn("Browser shutdown incomplete.", zap.Error(err))
		}
	}()
	return fn(ctx, s)
}

func availableBackends(cfg config.Interface) []string {
	return browser.NewManager(cfg, zap.NewNop()).Backends()
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
