// Package session is the resilient control layer over a browser driver: element
// location under wait conditions, interactions with recovery, and scoped
// switching between windows and frames.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/driver"
	"github.com/xkilldash9x/rpa-cli/internal/browser/wait"
	"github.com/xkilldash9x/rpa-cli/internal/config"
	"github.com/xkilldash9x/rpa-cli/internal/humanoid"
	"github.com/xkilldash9x/rpa-cli/internal/textmatch"
)

// closeTimeout bounds browser shutdown in Close.
const closeTimeout = 15 * time.Second

// Options tunes a Session. Zero fields take the values of DefaultOptions.
type Options struct {
	// DefaultTimeout is the locate timeout a session starts with and returns to on ResetTimeout.
	DefaultTimeout time.Duration
	PollInterval   time.Duration
	ProbeTimeout   time.Duration
	// EagerLoad makes Navigate return once the DOM is interactive.
	EagerLoad bool

	Typing            humanoid.Config
	TypeTimeout       time.Duration
	RetryInterval     time.Duration
	SelectTimeout     time.Duration
	SimilarityCutoff  float64
	TextTimeout       time.Duration
	TextRetryInterval time.Duration

	WindowRetries      int
	WindowPollInterval time.Duration
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout:     30 * time.Second,
		PollInterval:       wait.DefaultPollInterval,
		ProbeTimeout:       5 * time.Second,
		Typing:             humanoid.Config{MinDelay: 30 * time.Millisecond, MaxDelay: 90 * time.Millisecond},
		TypeTimeout:        15 * time.Second,
		RetryInterval:      2 * time.Second,
		SelectTimeout:      10 * time.Second,
		SimilarityCutoff:   textmatch.DefaultCutoff,
		TextTimeout:        10 * time.Second,
		TextRetryInterval:  time.Second,
		WindowRetries:      10,
		WindowPollInterval: time.Second,
	}
}

// OptionsFromConfig builds Options from the application configuration.
func OptionsFromConfig(cfg config.Interface) Options {
	o := DefaultOptions()
	w, t, s, win := cfg.Wait(), cfg.Typing(), cfg.Select(), cfg.Windows()
	o.DefaultTimeout = w.DefaultTimeout
	o.PollInterval = w.PollInterval
	o.ProbeTimeout = w.ProbeTimeout
	o.EagerLoad = cfg.Browser().EagerLoad
	o.Typing = humanoid.Config{MinDelay: t.MinDelay, MaxDelay: t.MaxDelay}
	o.TypeTimeout = t.DefaultTimeout
	o.RetryInterval = t.RetryInterval
	o.SelectTimeout = s.DefaultTimeout
	o.SimilarityCutoff = s.Cutoff
	o.WindowRetries = win.Retries
	o.WindowPollInterval = win.PollInterval
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = d.DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.TypeTimeout <= 0 {
		o.TypeTimeout = d.TypeTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = d.RetryInterval
	}
	if o.SelectTimeout <= 0 {
		o.SelectTimeout = d.SelectTimeout
	}
	if o.SimilarityCutoff <= 0 {
		o.SimilarityCutoff = d.SimilarityCutoff
	}
	if o.TextTimeout <= 0 {
		o.TextTimeout = d.TextTimeout
	}
	if o.TextRetryInterval <= 0 {
		o.TextRetryInterval = d.TextRetryInterval
	}
	if o.WindowRetries <= 0 {
		o.WindowRetries = d.WindowRetries
	}
	if o.WindowPollInterval <= 0 {
		o.WindowPollInterval = d.WindowPollInterval
	}
	return o
}

// Session owns one live browser. It is not safe for concurrent use: operations
// switch the driver's active window and frame, which is process-wide state.
type Session struct {
	id     string
	drv    driver.Driver
	opts   Options
	logger *zap.Logger
	waiter *wait.Waiter
	typist *humanoid.Typist

	defaultTimeout time.Duration
	timeout        time.Duration

	// frames is the chain of frame locators entered from the top-level document
	// of the current window, outermost first.
	frames []string

	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func()
}

// New prepares drv for automation and wraps it in a Session. Cookies are
// cleared so no state leaks in from an earlier run. On failure the driver is
// shut down and the error wraps ErrSessionUnavailable.
func New(ctx context.Context, drv driver.Driver, opts Options, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	id := uuid.New().String()
	logger = logger.Named("session").With(zap.String("session_id", id))

	if err := drv.DeleteAllCookies(ctx); err != nil {
		if qerr := drv.Quit(Detach(ctx)); qerr != nil {
			logger.Debug("Browser shutdown after failed setup also failed.", zap.Error(qerr))
		}
		return nil, fmt.Errorf("%w: failed to clear cookies: %w", ErrSessionUnavailable, err)
	}

	s := &Session{
		id:             id,
		drv:            drv,
		opts:           opts,
		logger:         logger,
		waiter:         wait.NewWaiter(opts.PollInterval, logger),
		typist:         humanoid.NewTypist(opts.Typing),
		defaultTimeout: opts.DefaultTimeout,
		timeout:        opts.DefaultTimeout,
	}
	logger.Debug("Session initialized.", zap.Duration("default_timeout", s.defaultTimeout))
	return s, nil
}

// ID returns the unique identifier for this session.
func (s *Session) ID() string { return s.id }

// SetOnClose registers a callback run once when the session closes.
func (s *Session) SetOnClose(fn func()) { s.onClose = fn }

// Timeout returns the locate timeout currently in effect.
func (s *Session) Timeout() time.Duration { return s.timeout }

// SetTimeout overrides the locate timeout until ResetTimeout.
// Non-positive values mean a single check with no waiting.
func (s *Session) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.timeout = d
}

// ResetTimeout restores the timeout the session was created with.
func (s *Session) ResetTimeout() { s.timeout = s.defaultTimeout }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) usable() error {
	if s.closed.Load() {
		return fmt.Errorf("%w: session %s is closed", ErrSessionUnavailable, s.id)
	}
	return nil
}

// bounded derives a context limited by the current locate timeout for single driver calls.
func (s *Session) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Navigate loads url in the current window and leaves any entered frames.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.usable(); err != nil {
		return err
	}
	opCtx, cancel := s.bounded(ctx)
	defer cancel()
	s.logger.Debug("Navigating.", zap.String("url", url), zap.Bool("eager", s.opts.EagerLoad))
	if err := s.drv.Navigate(opCtx, url, s.opts.EagerLoad); err != nil {
		return fmt.Errorf("failed to navigate to '%s': %w", url, classify(err))
	}
	s.frames = nil
	return nil
}

// CurrentURL returns the URL of the current top-level document.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	if err := s.usable(); err != nil {
		return "", err
	}
	opCtx, cancel := s.bounded(ctx)
	defer cancel()
	u, err := s.drv.CurrentURL(opCtx)
	return u, classify(err)
}

// PageSource returns the serialized markup of the current document.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	if err := s.usable(); err != nil {
		return "", err
	}
	opCtx, cancel := s.bounded(ctx)
	defer cancel()
	src, err := s.drv.PageSource(opCtx)
	return src, classify(err)
}

// ExecuteScript runs a script in the current document and returns its JSON-compatible result.
func (s *Session) ExecuteScript(ctx context.Context, script string, args ...any) (any, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	opCtx, cancel := s.bounded(ctx)
	defer cancel()
	res, err := s.drv.ExecuteScript(opCtx, script, args...)
	if err != nil {
		return nil, fmt.Errorf("script execution failed: %w", classify(err))
	}
	return res, nil
}

// Close shuts the browser down. It is idempotent and never fails; shutdown
// errors are logged and dropped. The returned error is always nil.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing session.")
		s.closed.Store(true)

		quitCtx, cancel := context.WithTimeout(Detach(ctx), closeTimeout)
		defer cancel()
		if err := s.drv.Quit(quitCtx); err != nil {
			s.logger.Warn("Error while shutting down browser, ignoring.", zap.Error(err))
		}
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}
