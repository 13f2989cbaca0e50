// Package browser launches browser backends and hands out automation sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rpa-cli/internal/browser/cdp"
	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/memdriver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/pw"
	"github.com/xkilldash9x/rpa-cli/internal/browser/rodriver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/session"
	"github.com/xkilldash9x/rpa-cli/internal/config"
)

const (
	shutdownGracePeriod = 15 * time.Second
	cleanupTimeout      = 10 * time.Second
)

var errManagerShutdown = errors.New("browser manager is shut down")

// LaunchFunc starts one browser for a session.
type LaunchFunc func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Driver, error)

// Manager creates sessions on the configured backend and tracks them until
// they close.
type Manager struct {
	cfg    config.Interface
	logger *zap.Logger

	mu       sync.RWMutex
	backends map[string]LaunchFunc
	sessions map[string]*session.Session
	// wg counts live sessions so Shutdown can wait for them.
	wg       sync.WaitGroup
	shutdown bool
}

// NewManager returns a manager with the built-in backends registered.
func NewManager(cfg config.Interface, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*session.Session),
		backends: map[string]LaunchFunc{
			config.BackendChromedp: func(ctx context.Context, c config.BrowserConfig, l *zap.Logger) (driver.Driver, error) {
				return cdp.Launch(ctx, c, l)
			},
			config.BackendPlaywright: func(ctx context.Context, c config.BrowserConfig, l *zap.Logger) (driver.Driver, error) {
				return pw.Launch(ctx, c, l)
			},
			config.BackendRod: func(ctx context.Context, c config.BrowserConfig, l *zap.Logger) (driver.Driver, error) {
				return rodriver.Launch(ctx, c, l)
			},
			config.BackendMemory: launchMemory,
		},
	}
	return m
}

// Register installs (or replaces) the launcher for a backend name.
func (m *Manager) Register(name string, fn LaunchFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backends[strings.ToLower(name)] = fn
}

// Backends lists the registered backend names.
func (m *Manager) Backends() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.backends))
	for name := range m.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewSession launches a browser on the configured backend and wraps it in a
// session. The session deregisters itself when closed.
func (m *Manager) NewSession(ctx context.Context) (*session.Session, error) {
	bcfg := m.cfg.Browser()
	name := strings.ToLower(bcfg.Backend)

	m.mu.RLock()
	launch, ok := m.backends[name]
	closed := m.shutdown
	m.mu.RUnlock()
	if closed {
		return nil, errManagerShutdown
	}
	if !ok {
		return nil, fmt.Errorf("unknown browser backend '%s'", bcfg.Backend)
	}

	m.logger.Info("Launching browser.", zap.String("backend", name), zap.Bool("headless", bcfg.Headless))
	drv, err := launch(ctx, bcfg, m.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s browser: %w", name, err)
	}

	s, err := session.New(ctx, drv, session.OptionsFromConfig(m.cfg), m.logger)
	if err != nil {
		return nil, err
	}

	// Shutdown may have started while the browser was launching.
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		m.logger.Warn("Discarding session launched during shutdown.", zap.String("session_id", s.ID()))
		CloseSession(s)
		return nil, errManagerShutdown
	}
	m.wg.Add(1)
	s.SetOnClose(func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	})
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", s.ID()), zap.String("backend", name))
	return s, nil
}

// Session returns a live session by id.
func (m *Manager) Session(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ActiveSessions reports how many sessions are open.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session concurrently and waits for them, up to ctx.
// New sessions are refused afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.mu.Lock()
	m.shutdown = true
	open := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(ctx, shutdownGracePeriod)
	defer cancel()

	var g errgroup.Group
	for _, s := range open {
		s := s
		g.Go(func() error {
			return s.Close(closeCtx)
		})
	}
	// Session.Close reports nothing; it logs quit failures itself.
	_ = g.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions closed gracefully.")
		return nil
	case <-closeCtx.Done():
		m.logger.Warn("Timeout waiting for sessions to close.", zap.Error(closeCtx.Err()))
		return fmt.Errorf("sessions still open after shutdown: %w", closeCtx.Err())
	}
}

// CloseSession closes s with a bounded cleanup context, for deferred use.
func CloseSession(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	_ = s.Close(ctx)
}

// launchMemory starts the in-memory document browser. file:// urls are read
// from disk, which makes workflows testable against saved pages.
func launchMemory(_ context.Context, _ config.BrowserConfig, logger *zap.Logger) (driver.Driver, error) {
	logger.Debug("Using in-memory browser; scripts are not executed.")
	return memdriver.New(memdriver.WithLoader(loadFileURL)), nil
}

func loadFileURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	data, err := os.ReadFile(u.Path)
	if err != nil {
		return "", false
	}
	return string(data), true
}
