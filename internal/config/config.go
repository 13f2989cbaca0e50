// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Wait() WaitConfig
	Typing() TypingConfig
	Select() SelectConfig
	Windows() WindowsConfig

	// Browser Setters
	SetBrowserBackend(string)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
// Sections are exported so viper can unmarshal them; the getters satisfy Interface.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	WaitCfg    WaitConfig    `mapstructure:"wait" yaml:"wait"`
	TypingCfg  TypingConfig  `mapstructure:"typing" yaml:"typing"`
	SelectCfg  SelectConfig  `mapstructure:"select" yaml:"select"`
	WindowsCfg WindowsConfig `mapstructure:"windows" yaml:"windows"`
}

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Wait() WaitConfig       { return c.WaitCfg }
func (c *Config) Typing() TypingConfig   { return c.TypingCfg }
func (c *Config) Select() SelectConfig   { return c.SelectCfg }
func (c *Config) Windows() WindowsConfig { return c.WindowsCfg }

func (c *Config) SetBrowserBackend(b string) { c.BrowserCfg.Backend = b }
func (c *Config) SetBrowserHeadless(b bool)  { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// Supported browser backends.
const (
	BackendChromedp   = "chromedp"
	BackendPlaywright = "playwright"
	BackendRod        = "rod"
	BackendMemory     = "memory"
)

// BrowserConfig describes how the automation browser is launched.
type BrowserConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	// Engine picks the browser family for backends that support more than one (playwright).
	Engine    string `mapstructure:"engine" yaml:"engine"`
	Headless  bool   `mapstructure:"headless" yaml:"headless"`
	EagerLoad bool   `mapstructure:"eager_load" yaml:"eager_load"`
	// DownloadDir may start with "~"; use ResolvedDownloadDir to expand it.
	DownloadDir string   `mapstructure:"download_dir" yaml:"download_dir"`
	MimeTypes   []string `mapstructure:"mime_types" yaml:"mime_types"`
	Args        []string `mapstructure:"args" yaml:"args"`
	// RemoteURL attaches to an already running browser instead of launching one.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath  string `mapstructure:"exec_path" yaml:"exec_path"`
}

// ResolvedDownloadDir expands a leading "~" in DownloadDir.
func (b BrowserConfig) ResolvedDownloadDir() (string, error) {
	if b.DownloadDir == "" {
		return "", nil
	}
	dir, err := homedir.Expand(b.DownloadDir)
	if err != nil {
		return "", fmt.Errorf("failed to expand download_dir '%s': %w", b.DownloadDir, err)
	}
	return dir, nil
}

// WaitConfig configures the condition polling engine.
type WaitConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// TypingConfig configures text entry. MinDelay and MaxDelay bound the
// per-keystroke pause used in human-paced mode.
type TypingConfig struct {
	MinDelay       time.Duration `mapstructure:"min_delay" yaml:"min_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	RetryInterval  time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

// SelectConfig configures option selection.
type SelectConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	Cutoff         float64       `mapstructure:"cutoff" yaml:"cutoff"`
}

// WindowsConfig configures existing-window discovery.
type WindowsConfig struct {
	Retries      int           `mapstructure:"retries" yaml:"retries"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// DefaultMimeTypes are the content types downloaded without a prompt.
var DefaultMimeTypes = []string{
	"application/pdf",
	"application/octet-stream",
	"text/csv",
	"application/vnd.ms-excel",
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rpa-cli")
	v.SetDefault("logger.log_file", "rpa.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.backend", BackendChromedp)
	v.SetDefault("browser.engine", "chromium")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.eager_load", true)
	v.SetDefault("browser.download_dir", "~/Downloads/RPA_DOWNLOADS")
	v.SetDefault("browser.mime_types", DefaultMimeTypes)
	v.SetDefault("browser.args", []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
	})

	// -- Wait --
	v.SetDefault("wait.default_timeout", "30s")
	v.SetDefault("wait.poll_interval", "500ms")
	v.SetDefault("wait.probe_timeout", "5s")

	// -- Typing --
	v.SetDefault("typing.min_delay", "30ms")
	v.SetDefault("typing.max_delay", "90ms")
	v.SetDefault("typing.retry_interval", "2s")
	v.SetDefault("typing.default_timeout", "15s")

	// -- Select --
	v.SetDefault("select.default_timeout", "10s")
	v.SetDefault("select.cutoff", 0.6)

	// -- Windows --
	v.SetDefault("windows.retries", 10)
	v.SetDefault("windows.poll_interval", "1s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch strings.ToLower(c.BrowserCfg.Backend) {
	case BackendChromedp, BackendPlaywright, BackendRod, BackendMemory:
	default:
		return fmt.Errorf("browser.backend '%s' is not supported", c.BrowserCfg.Backend)
	}
	if err := c.WaitCfg.Validate(); err != nil {
		return fmt.Errorf("wait configuration invalid: %w", err)
	}
	if err := c.TypingCfg.Validate(); err != nil {
		return fmt.Errorf("typing configuration invalid: %w", err)
	}
	if c.SelectCfg.Cutoff < 0.0 || c.SelectCfg.Cutoff > 1.0 {
		return fmt.Errorf("select.cutoff must be between 0.0 and 1.0")
	}
	if c.SelectCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("select.default_timeout must be a positive duration")
	}
	if c.WindowsCfg.Retries <= 0 {
		return fmt.Errorf("windows.retries must be a positive integer")
	}
	if c.WindowsCfg.PollInterval <= 0 {
		return fmt.Errorf("windows.poll_interval must be a positive duration")
	}
	return nil
}

// Validate checks the WaitConfig settings.
func (w *WaitConfig) Validate() error {
	if w.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be a positive duration")
	}
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if w.PollInterval >= time.Second {
		return fmt.Errorf("poll_interval must be sub-second, got %s", w.PollInterval)
	}
	if w.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the TypingConfig settings.
func (t *TypingConfig) Validate() error {
	if t.MinDelay < 0 || t.MaxDelay < t.MinDelay {
		return fmt.Errorf("min_delay and max_delay must form a non-negative range")
	}
	if t.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be a positive duration")
	}
	if t.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be a positive duration")
	}
	return nil
}
