package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rpa-cli/internal/browser/session"
	"github.com/xkilldash9x/rpa-cli/internal/browser/wait"
)

// Status values of a StepResult.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// StepResult records the outcome of one executed step.
type StepResult struct {
	Step     string        `json:"step"`
	Action   Action        `json:"action"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	Depth    int           `json:"depth,omitempty"`
}

// Result is the outcome of a workflow run.
type Result struct {
	Workflow  string         `json:"workflow"`
	SessionID string         `json:"session_id"`
	Succeeded bool           `json:"succeeded"`
	Steps     []StepResult   `json:"steps"`
	Vars      map[string]any `json:"vars"`
	Started   time.Time      `json:"started"`
	Elapsed   time.Duration  `json:"elapsed_ns"`
}

type handler func(ctx context.Context, r *run, st Step) error

// Runner executes workflows step by step.
type Runner struct {
	logger   *zap.Logger
	handlers map[Action]handler
}

// NewRunner returns a runner with every action registered.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		logger:   logger.Named("script"),
		handlers: make(map[Action]handler),
	}
	r.registerHandlers()
	return r
}

func (r *Runner) registerHandlers() {
	r.handlers[ActionNavigate] = handleNavigate
	r.handlers[ActionClick] = handleClick
	r.handlers[ActionType] = handleType
	r.handlers[ActionSelect] = handleSelect
	r.handlers[ActionSelectSimilar] = handleSelectSimilar
	r.handlers[ActionProbe] = handleProbe
	r.handlers[ActionLocate] = handleLocate
	r.handlers[ActionText] = handleText
	r.handlers[ActionOptions] = handleOptions
	r.handlers[ActionSetTimeout] = handleSetTimeout
	r.handlers[ActionResetTimeout] = handleResetTimeout
	r.handlers[ActionSource] = handleSource
	r.handlers[ActionFrame] = handleFrame
	r.handlers[ActionNewWindow] = handleNewWindow
	r.handlers[ActionWindow] = handleWindow
	r.handlers[ActionScript] = handleScript
}

// run is the state of one workflow execution.
type run struct {
	runner *Runner
	s      *session.Session
	vars   map[string]any
	steps  []StepResult
	depth  int
	logger *zap.Logger
}

// Run executes wf on s. It stops at the first failing step that is not
// optional and returns that step's error alongside the partial result.
func (r *Runner) Run(ctx context.Context, s *session.Session, wf *Workflow) (*Result, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if wf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wf.Timeout)
		defer cancel()
	}

	st := &run{
		runner: r,
		s:      s,
		vars:   make(map[string]any, len(wf.Vars)),
		logger: r.logger.With(zap.String("workflow", wf.Name), zap.String("session_id", s.ID())),
	}
	for k, v := range wf.Vars {
		st.vars[k] = v
	}

	res := &Result{Workflow: wf.Name, SessionID: s.ID(), Started: time.Now()}
	st.logger.Info("Starting workflow.", zap.Int("steps", len(wf.Steps)))
	err := st.execute(ctx, wf.Steps)

	res.Steps = st.steps
	res.Vars = st.vars
	res.Elapsed = time.Since(res.Started)
	res.Succeeded = err == nil
	if err != nil {
		st.logger.Error("Workflow failed.", zap.Error(err), zap.Duration("elapsed", res.Elapsed))
		return res, err
	}
	st.logger.Info("Workflow completed.", zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func (st *run) execute(ctx context.Context, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		action := step.Action()
		h, ok := st.runner.handlers[action]
		if !ok {
			return fmt.Errorf("no handler registered for action '%s'", action)
		}

		label := step.Label(i)
		st.logger.Debug("Executing step.", zap.String("step", label), zap.Int("depth", st.depth))
		start := time.Now()
		err := h(ctx, st, step)
		rec := StepResult{Step: label, Action: action, Status: StatusOK, Duration: time.Since(start), Depth: st.depth}

		if err != nil {
			rec.Error = err.Error()
			rec.Status = StatusFailed
			if step.Optional && !errors.Is(err, context.Canceled) && !errors.Is(err, session.ErrSessionUnavailable) {
				rec.Status = StatusSkipped
				st.steps = append(st.steps, rec)
				st.logger.Warn("Optional step failed; continuing.", zap.String("step", label), zap.Error(err))
				continue
			}
			st.steps = append(st.steps, rec)
			return fmt.Errorf("%s: %w", label, err)
		}
		st.steps = append(st.steps, rec)
	}
	return nil
}

// nested runs steps inside a scope at one more level of depth.
func (st *run) nested(ctx context.Context, steps []Step) error {
	st.depth++
	defer func() { st.depth-- }()
	return st.execute(ctx, steps)
}

// expand replaces ${name} references with variable values. Unknown names
// fall back to the environment and are otherwise left as written.
func (st *run) expand(s string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := st.vars[name]; ok {
			return fmt.Sprint(v)
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}

// condition resolves a condition name. An empty name means presence; an
// unknown one falls back to presence with a warning.
func (st *run) condition(name string) wait.Condition {
	if name == "" {
		return wait.Presence
	}
	c, ok := wait.ParseCondition(name)
	if !ok {
		st.logger.Warn("Unknown condition, using presence.", zap.String("condition", name))
	}
	return c
}

func (st *run) save(name string, v any) {
	if name != "" {
		st.vars[name] = v
	}
}

func handleNavigate(ctx context.Context, st *run, step Step) error {
	return st.s.Navigate(ctx, st.expand(step.Navigate))
}

func handleClick(ctx context.Context, st *run, step Step) error {
	return st.s.Click(ctx, st.expand(step.Click))
}

func handleType(ctx context.Context, st *run, step Step) error {
	t := step.Type
	return st.s.TypeText(ctx, st.expand(t.XPath), st.expand(t.Text), session.TypeOptions{
		Clear:      t.Clear,
		Timeout:    t.Timeout,
		Verify:     t.Verify,
		HumanPaced: t.Human,
	})
}

func handleSelect(ctx context.Context, st *run, step Step) error {
	sel := step.Select
	text := st.expand(sel.Text)
	if err := st.s.SelectOption(ctx, st.expand(sel.XPath), text, session.SelectOptions{
		Timeout: sel.Timeout,
		Verify:  sel.Verify,
	}); err != nil {
		return err
	}
	st.save(sel.Save, text)
	return nil
}

func handleSelectSimilar(ctx context.Context, st *run, step Step) error {
	sel := step.SelectSimilar
	chosen, err := st.s.SelectOptionBySimilarity(ctx, st.expand(sel.XPath), st.expand(sel.Text), session.SimilarityOptions{
		Cutoff:  sel.Cutoff,
		Timeout: sel.Timeout,
		Verify:  sel.Verify,
	})
	if err != nil {
		return err
	}
	st.save(sel.Save, chosen)
	return nil
}

func handleProbe(ctx context.Context, st *run, step Step) error {
	p := step.Probe
	xpath := st.expand(p.XPath)
	found, err := st.s.Probe(ctx, xpath, st.condition(st.expand(p.Condition)), p.Timeout)
	if err != nil {
		return err
	}
	st.save(p.Save, found)
	if p.Require && !found {
		return fmt.Errorf("%w: '%s'", session.ErrNotFound, xpath)
	}
	return nil
}

func handleLocate(ctx context.Context, st *run, step Step) error {
	l := step.Locate
	els, err := st.s.Locate(ctx, session.Locator{
		XPath:     st.expand(l.XPath),
		Condition: st.condition(st.expand(l.Condition)),
	})
	if err != nil {
		return err
	}
	if !l.Texts {
		st.save(l.Save, len(els))
		return nil
	}
	texts := make([]string, 0, len(els))
	for i, el := range els {
		t, err := el.Text(ctx)
		if err != nil {
			return fmt.Errorf("failed to read text of match %d: %w", i, err)
		}
		texts = append(texts, t)
	}
	st.save(l.Save, texts)
	return nil
}

func handleText(ctx context.Context, st *run, step Step) error {
	text, err := st.s.Text(ctx, st.expand(step.Text.XPath))
	if err != nil {
		return err
	}
	st.save(step.Text.Save, text)
	return nil
}

func handleOptions(ctx context.Context, st *run, step Step) error {
	texts, err := st.s.OptionTexts(ctx, st.expand(step.Options.XPath))
	if err != nil {
		return err
	}
	st.save(step.Options.Save, texts)
	return nil
}

func handleSetTimeout(_ context.Context, st *run, step Step) error {
	st.s.SetTimeout(step.SetTimeout)
	return nil
}

func handleResetTimeout(_ context.Context, st *run, _ Step) error {
	st.s.ResetTimeout()
	return nil
}

func handleSource(ctx context.Context, st *run, step Step) error {
	src, err := st.s.PageSource(ctx)
	if err != nil {
		return err
	}
	st.save(step.Source.Save, src)
	return nil
}

func handleFrame(ctx context.Context, st *run, step Step) error {
	return st.s.WithFrame(ctx, st.expand(step.Frame.XPath), func(ctx context.Context) error {
		return st.nested(ctx, step.Frame.Steps)
	})
}

func handleNewWindow(ctx context.Context, st *run, step Step) error {
	return st.s.WithNewWindow(ctx, st.expand(step.NewWindow.URL), func(ctx context.Context) error {
		return st.nested(ctx, step.NewWindow.Steps)
	})
}

func handleWindow(ctx context.Context, st *run, step Step) error {
	w := step.Window
	return st.s.WithExistingWindow(ctx, st.expand(w.Probe), w.Retries, func(ctx context.Context) error {
		return st.nested(ctx, w.Steps)
	})
}

func handleScript(ctx context.Context, st *run, step Step) error {
	args := make([]any, len(step.Script.Args))
	for i, a := range step.Script.Args {
		if s, ok := a.(string); ok {
			a = st.expand(s)
		}
		args[i] = a
	}
	v, err := st.s.ExecuteScript(ctx, step.Script.Body, args...)
	if err != nil {
		return err
	}
	st.save(step.Script.Save, v)
	return nil
}
