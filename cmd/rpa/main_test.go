package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestRunShell(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("\n--version\nexit\nbackends\n")
	require.NoError(t, runShell(context.Background(), in, &out))

	text := out.String()
	assert.Contains(t, text, "interactive shell")
	assert.Contains(t, text, "rpa version")
	assert.NotContains(t, text, "memory", "commands after exit are not run")
}

func TestRunShellReportsErrors(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("no-such-command\n")
	require.NoError(t, runShell(context.Background(), in, &out))
	assert.Contains(t, out.String(), `unknown command "no-such-command"`)
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("writes the panic log", func(t *testing.T) {
		var written string
		var code int
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Contains(t, written, "panic: boom")
		assert.Contains(t, written, "goroutine")
		assert.Equal(t, 2, code)
	})

	t.Run("falls back to stderr", func(t *testing.T) {
		var code int
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()
		assert.Equal(t, 2, code)
	})

	t.Run("no panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}
