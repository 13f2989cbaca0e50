package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/config"
	"github.com/xkilldash9x/rpa-cli/internal/observability"
)

const envPrefix = "RPA"

type configKeyType struct{}

// configKey stores the loaded *config.Config in the command context.
var configKey configKeyType

// NewRootCommand builds a fresh command tree. Every call returns independent
// flag state, so the interactive shell and tests can run commands repeatedly.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "rpa",
		Short:         "rpa drives web pages through resilient, scripted browser sessions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(cmd, v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Configuration loaded.",
				zap.String("version", Version),
				zap.String("config_file", v.ConfigFileUsed()),
				zap.String("backend", cfg.Browser().Backend))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}
	root.SetVersionTemplate("rpa version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "config file (default is ./rpa.yaml)")
	pf.String("backend", "", "browser backend: chromedp, playwright, rod or memory")
	pf.Bool("headless", true, "run the browser without a window")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newProbeCmd())
	root.AddCommand(newSourceCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newBackendsCmd())
	return root
}

// Execute runs the command line against ctx and logs a failure before
// returning it.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	err := root.ExecuteContext(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed.", zap.Error(err))
		}
		root.PrintErrln("Error:", err)
	}
	observability.Sync()
	return err
}

// initializeConfig layers the config file, RPA_* environment variables and
// command line flags onto v, in increasing precedence.
func initializeConfig(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("rpa")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	bindings := map[string]string{
		"browser.backend":  "backend",
		"browser.headless": "headless",
		"logger.level":     "log-level",
	}
	for key, name := range bindings {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// configFrom returns the configuration loaded by the root command.
func configFrom(cmd *cobra.Command) (*config.Config, error) {
	cfg, ok := cmd.Context().Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
