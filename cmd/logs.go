package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/hpcloud/tail"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func newLogsCmd() *cobra.Command {
	var (
		follow bool
		lines  int
		level  string
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Shows the JSON log file written by previous runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			path := cfg.Logger().LogFile
			if path == "" {
				return fmt.Errorf("no log file is configured (logger.log_file)")
			}

			var minLevel *zapcore.Level
			if level != "" {
				lvl, err := zapcore.ParseLevel(level)
				if err != nil {
					return err
				}
				minLevel = &lvl
			}

			offset, err := lastLinesOffset(path, lines)
			if err != nil {
				return err
			}
			t, err := tail.TailFile(path, tail.Config{
				Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Logger:    tail.DiscardingLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer t.Cleanup()

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					_ = t.Stop()
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return t.Wait()
					}
					if line.Err != nil {
						return line.Err
					}
					if minLevel != nil && !atLeast(line.Text, *minLevel) {
						continue
					}
					if _, err := fmt.Fprintln(out, line.Text); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new entries as they are written")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of trailing lines to start from (0 for the whole file)")
	cmd.Flags().StringVar(&level, "level", "", "only show entries at or above this level")
	return cmd
}

// atLeast reports whether a JSON log line has a level of at least min. Lines
// that are not JSON log entries are kept.
func atLeast(line string, min zapcore.Level) bool {
	raw := jsoniter.Get([]byte(line), "level").ToString()
	if raw == "" {
		return true
	}
	lvl, err := zapcore.ParseLevel(raw)
	if err != nil {
		return true
	}
	return lvl >= min
}

// lastLinesOffset returns the byte offset at which the last n lines of path
// begin. A non-positive n selects the whole file.
func lastLinesOffset(path string, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	starts := make([]int64, 0, n)
	var pos int64
	r := bufio.NewReader(f)
	for {
		chunk, err := r.ReadBytes('\n')
		if len(chunk) > 0 {
			if len(starts) == n {
				starts = starts[1:]
			}
			starts = append(starts, pos)
			pos += int64(len(chunk))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read log file: %w", err)
		}
	}
	if len(starts) == 0 {
		return 0, nil
	}
	return starts[0], nil
}
