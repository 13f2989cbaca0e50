package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/rpa-cli/internal/observability"
	"github.com/xkilldash9x/rpa-cli/internal/script"
)

const loginPage = `<html><body>
  <h1 id="title">Sign in</h1>
  <input id="user" type="text">
  <select id="team"><option>Platform</option><option>Payments</option></select>
  <button id="go">Go</button>
</body></html>`

type testEnv struct {
	dir     string
	config  string
	logFile string
	pageURL string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		config:  filepath.Join(dir, "rpa.yaml"),
		logFile: filepath.Join(dir, "rpa.log"),
		pageURL: "file://" + filepath.Join(dir, "login.html"),
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "login.html"), []byte(loginPage), 0o644))
	cfg := fmt.Sprintf(`
logger:
  level: error
  format: json
  log_file: %s
browser:
  backend: memory
wait:
  default_timeout: 500ms
  poll_interval: 10ms
  probe_timeout: 100ms
`, env.logFile)
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0o644))
	return env
}

func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "rpa version "+Version+"\n", out.String())
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.execute(t, "--backend", "netscape", "backends")
	assert.ErrorContains(t, err, "browser.backend 'netscape' is not supported")
}

func TestMissingConfigFile(t *testing.T) {
	env := newTestEnv(t)
	root := NewRootCommand()
	root.SetArgs([]string{"--config", filepath.Join(env.dir, "absent.yaml"), "backends"})
	root.SetOut(new(bytes.Buffer))
	err := root.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "error reading config file")
}

func TestBackendsCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "backends")
	require.NoError(t, err)
	assert.Contains(t, out, "* memory")
	assert.Contains(t, out, "  chromedp")
	assert.Contains(t, out, "  rod")
}

func TestEnvironmentOverridesConfigFile(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("RPA_BROWSER_BACKEND", "rod")
	out, err := env.execute(t, "backends")
	require.NoError(t, err)
	assert.Contains(t, out, "* rod")

	out, err = env.execute(t, "--backend", "memory", "backends")
	require.NoError(t, err)
	assert.Contains(t, out, "* memory", "flags beat the environment")
}

func TestRunCommand(t *testing.T) {
	env := newTestEnv(t)
	wfPath := filepath.Join(env.dir, "login.yaml")
	require.NoError(t, os.WriteFile(wfPath, []byte(`
name: login
steps:
  - navigate: ${page}
  - type: {xpath: "//input[@id='user']", text: "${user}"}
  - select_similar: {xpath: "//select[@id='team']", text: payment, save: team}
  - text: {xpath: "//h1[@id='title']", save: title}
  - click: "//button[@id='go']"
`), 0o644))

	out, err := env.execute(t, "run", wfPath, "--var", "page="+env.pageURL, "--var", "user=ada")
	require.NoError(t, err, out)

	var res script.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Succeeded)
	assert.Equal(t, "login", res.Workflow)
	assert.Len(t, res.Steps, 5)
	assert.Equal(t, "Payments", res.Vars["team"])
	assert.Equal(t, "Sign in", res.Vars["title"])
	assert.Equal(t, "ada", res.Vars["user"])
}

func TestRunCommandFailureStillReports(t *testing.T) {
	env := newTestEnv(t)
	wfPath := filepath.Join(env.dir, "broken.yaml")
	require.NoError(t, os.WriteFile(wfPath, []byte(`
steps:
  - navigate: ${page}
  - set_timeout: 50ms
  - click: "//button[@id='missing']"
`), 0o644))
	resultPath := filepath.Join(env.dir, "result.json")

	_, err := env.execute(t, "run", wfPath, "--var", "page="+env.pageURL, "-o", resultPath)
	require.Error(t, err)

	data, rerr := os.ReadFile(resultPath)
	require.NoError(t, rerr)
	var res script.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.False(t, res.Succeeded)
	require.Len(t, res.Steps, 3)
	assert.Equal(t, script.StatusFailed, res.Steps[2].Status)
}

func TestRunCheck(t *testing.T) {
	env := newTestEnv(t)
	wfPath := filepath.Join(env.dir, "ok.yaml")
	require.NoError(t, os.WriteFile(wfPath, []byte("name: ok\nsteps:\n  - navigate: https://x.test/\n"), 0o644))
	out, err := env.execute(t, "run", "--check", wfPath)
	require.NoError(t, err)
	assert.Contains(t, out, `workflow "ok" is valid (1 steps)`)

	badPath := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badPath, []byte("steps:\n  - {}\n"), 0o644))
	_, err = env.execute(t, "run", "--check", badPath)
	assert.ErrorContains(t, err, "exactly one action")
}

func TestProbeCommand(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.execute(t, "probe", env.pageURL, "//h1[@id='title']", "--text")
	require.NoError(t, err)
	var res probeResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, "Sign in", res.Text)

	out, err = env.execute(t, "probe", env.pageURL, "//h2", "-t", "20ms")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Found)
	assert.Equal(t, "presence", res.Condition)

	out, err = env.execute(t, "probe", env.pageURL, "//button[@id='go']", "--condition", "clickable")
	require.NoError(t, err)
	res = probeResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, "clickable", res.Condition)

	out, err = env.execute(t, "probe", env.pageURL, "//button[@id='go']", "--condition", "glowing")
	require.NoError(t, err)
	res = probeResult{}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Found)
	assert.Equal(t, "presence", res.Condition, "unknown names fall back to presence")
}

func TestSourceCommand(t *testing.T) {
	env := newTestEnv(t)
	target := filepath.Join(env.dir, "saved.html")
	_, err := env.execute(t, "source", env.pageURL, "-o", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), `<h1 id="title">Sign in</h1>`)
}

func TestLogsCommand(t *testing.T) {
	env := newTestEnv(t)
	lines := []string{
		`{"level":"DEBUG","msg":"one"}`,
		`{"level":"INFO","msg":"two"}`,
		`{"level":"WARN","msg":"three"}`,
		`{"level":"ERROR","msg":"four"}`,
		`not json`,
	}
	require.NoError(t, os.WriteFile(env.logFile, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	out, err := env.execute(t, "logs", "-n", "0", "--level", "warn")
	require.NoError(t, err)
	assert.Equal(t, []string{lines[2], lines[3], lines[4]}, strings.Split(strings.TrimSpace(out), "\n"))

	out, err = env.execute(t, "logs", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{lines[3], lines[4]}, strings.Split(strings.TrimSpace(out), "\n"))
}

func TestLastLinesOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.log")
	require.NoError(t, os.WriteFile(path, []byte("aa\nbbb\nc"), 0o644))

	tests := []struct {
		n    int
		want int64
	}{
		{0, 0},
		{1, 7},
		{2, 3},
		{3, 0},
		{10, 0},
	}
	for _, tt := range tests {
		got, err := lastLinesOffset(path, tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "n=%d", tt.n)
	}
}

func TestAtLeast(t *testing.T) {
	assert.True(t, atLeast(`{"level":"ERROR"}`, zapcore.WarnLevel))
	assert.False(t, atLeast(`{"level":"info"}`, zapcore.WarnLevel))
	assert.True(t, atLeast(`plain text`, zapcore.WarnLevel))
	assert.True(t, atLeast(`{"level":"chatty"}`, zapcore.WarnLevel))
}
