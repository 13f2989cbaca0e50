package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/session"
	"github.com/xkilldash9x/rpa-cli/internal/browser/wait"
	"github.com/xkilldash9x/rpa-cli/internal/observability"
)

type probeResult struct {
	URL   string `json:"url"`
	XPath     string `json:"xpath"`
	Condition string `json:"condition"`
	Found     bool   `json:"found"`
	Text  string `json:"text,omitempty"`
}

func newProbeCmd() *cobra.Command {
	var (
		timeout   time.Duration
		withText  bool
		condition string
	)
	cmd := &cobra.Command{
		Use:   "probe <url> <xpath>",
		Short: "Reports whether an element is present on a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			cond, ok := wait.ParseCondition(condition)
			if !ok {
				observability.GetLogger().Warn("Unknown condition, using presence.", zap.String("condition", condition))
			}
			res := probeResult{URL: args[0], XPath: args[1], Condition: cond.String()}
			err = withSession(cmd.Context(), cfg, func(ctx context.Context, s *session.Session) error {
				if err := s.Navigate(ctx, res.URL); err != nil {
					return err
				}
				found, err := s.Probe(ctx, res.XPath, cond, timeout)
				if err != nil {
					return err
				}
				res.Found = found
				if found && withText {
					res.Text, err = s.Text(ctx, res.XPath)
				}
				return err
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "how long to wait for the element (default: wait.probe_timeout)")
	cmd.Flags().BoolVar(&withText, "text", false, "include the element's visible text")
	cmd.Flags().StringVar(&condition, "condition", wait.Presence.String(), "condition the element must satisfy (presence, visible, clickable, selected, visible-any, visible-all, all-located)")
	return cmd
}

func newSourceCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "source <url>",
		Short: "Prints the markup of a page after it loads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			var src string
			err = withSession(cmd.Context(), cfg, func(ctx context.Context, s *session.Session) error {
				if err := s.Navigate(ctx, args[0]); err != nil {
					return err
				}
				src, err = s.PageSource(ctx)
				return err
			})
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), src)
				return err
			}
			return os.WriteFile(output, []byte(src), 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the markup to this file")
	return cmd
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "Lists the browser backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			for _, name := range availableBackends(cfg) {
				marker := " "
				if name == cfg.Browser().Backend {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}
