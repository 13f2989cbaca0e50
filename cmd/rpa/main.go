package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/xkilldash9x/rpa-cli/cmd"
	"github.com/xkilldash9x/rpa-cli/internal/observability"
)

const panicLogFile = "rpa-panic.log"

// Function variables so tests can replace process level effects.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) > 1 {
		if err := cmd.Execute(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				osExit(0)
				return
			}
			osExit(1)
		}
		return
	}

	if err := runShell(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error reading from stdin:", err)
		osExit(1)
	}
}

// runShell reads commands line by line until EOF, "exit" or "quit". Each
// line runs on a fresh command tree so flags do not leak between lines.
func runShell(ctx context.Context, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "rpa %s interactive shell. Type 'help' for commands, 'exit' to leave.\n", cmd.Version)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "rpa > ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		executeLine(ctx, line, out)
		if ctx.Err() != nil {
			break
		}
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

// executeLine runs one shell command. Errors and panics are reported without
// ending the shell.
func executeLine(ctx context.Context, line string, out io.Writer) {
	root := cmd.NewRootCommand()
	root.SetArgs(strings.Fields(line))
	root.SetOut(out)
	root.SetErr(out)

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(out, "Error: command panicked: %v\n", r)
		}
	}()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(out, "Error:", err)
	}
}

// handlePanic records a crash in panicLogFile and exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(msg), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: failed to write panic log: %v\n%s\n", err, msg)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "rpa crashed; details were written to %s\n", panicLogFile)
	osExit(2)
}
