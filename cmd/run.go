package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/session"
	"github.com/xkilldash9x/rpa-cli/internal/observability"
	"github.com/xkilldash9x/rpa-cli/internal/script"
)

func newRunCmd() *cobra.Command {
	var (
		output string
		vars   map[string]string
		check  bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Runs a workflow file in a new browser session",
		Long: `Runs the steps of a YAML workflow in order and prints a JSON result with
every step's outcome and the variables the workflow saved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := script.LoadFile(args[0])
			if err != nil {
				return err
			}
			if wf.Vars == nil {
				wf.Vars = make(map[string]string, len(vars))
			}
			for k, v := range vars {
				wf.Vars[k] = v
			}
			if check {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "workflow %q is valid (%d steps)\n", wf.Name, len(wf.Steps))
				return err
			}

			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			var res *script.Result
			runErr := withSession(cmd.Context(), cfg, func(ctx context.Context, s *session.Session) error {
				var err error
				res, err = script.NewRunner(logger).Run(ctx, s, wf)
				return err
			})
			if res != nil {
				if err := emitResult(cmd, output, res); err != nil {
					logger.Error("Failed to write result.", zap.Error(err))
					if runErr == nil {
						runErr = err
					}
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the JSON result to this file instead of stdout")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "set a workflow variable (name=value), repeatable")
	cmd.Flags().BoolVar(&check, "check", false, "validate the workflow without launching a browser")
	return cmd
}

func emitResult(cmd *cobra.Command, path string, res *script.Result) error {
	if path == "" {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := writeJSON(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
