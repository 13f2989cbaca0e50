// Package script runs YAML workflows of browser steps against a session.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Action names one kind of step.
type Action string

const (
	ActionNavigate      Action = "navigate"
	ActionClick         Action = "click"
	ActionType          Action = "type"
	ActionSelect        Action = "select"
	ActionSelectSimilar Action = "select_similar"
	ActionProbe         Action = "probe"
	ActionLocate        Action = "locate"
	ActionText          Action = "text"
	ActionOptions       Action = "options"
	ActionSetTimeout    Action = "set_timeout"
	ActionResetTimeout  Action = "reset_timeout"
	ActionSource        Action = "source"
	ActionFrame         Action = "frame"
	ActionNewWindow     Action = "new_window"
	ActionWindow        Action = "window"
	ActionScript        Action = "script"
)

// Workflow is a named list of steps with initial variables.
type Workflow struct {
	Name string            `yaml:"name"`
	Vars map[string]string `yaml:"vars"`
	// Timeout bounds the whole run. Zero means unbounded.
	Timeout time.Duration `yaml:"timeout"`
	Steps   []Step        `yaml:"steps"`
}

// Step is a single action. Exactly one action field is set; the others
// qualify it. String fields may reference variables as ${name}.
type Step struct {
	Name string `yaml:"name,omitempty"`
	// Optional steps log their failure and the run continues.
	Optional bool `yaml:"optional,omitempty"`

	Navigate      string        `yaml:"navigate,omitempty"`
	Click         string        `yaml:"click,omitempty"`
	Type          *TypeStep     `yaml:"type,omitempty"`
	Select        *SelectStep   `yaml:"select,omitempty"`
	SelectSimilar *SelectStep   `yaml:"select_similar,omitempty"`
	Probe         *ProbeStep    `yaml:"probe,omitempty"`
	Locate        *LocateStep   `yaml:"locate,omitempty"`
	Text          *CaptureStep  `yaml:"text,omitempty"`
	Options       *CaptureStep  `yaml:"options,omitempty"`
	SetTimeout    time.Duration `yaml:"set_timeout,omitempty"`
	ResetTimeout  bool          `yaml:"reset_timeout,omitempty"`
	Source        *CaptureStep  `yaml:"source,omitempty"`
	Frame         *ScopeStep    `yaml:"frame,omitempty"`
	NewWindow     *ScopeStep    `yaml:"new_window,omitempty"`
	Window        *ScopeStep    `yaml:"window,omitempty"`
	Script        *ScriptStep   `yaml:"script,omitempty"`
}

// TypeStep types text into a field.
type TypeStep struct {
	XPath   string        `yaml:"xpath"`
	Text    string        `yaml:"text"`
	Clear   bool          `yaml:"clear,omitempty"`
	Human   bool          `yaml:"human,omitempty"`
	Verify  bool          `yaml:"verify,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SelectStep picks an option of a select element. For select_similar Text is
// the query and Cutoff the minimum similarity.
type SelectStep struct {
	XPath   string        `yaml:"xpath"`
	Text    string        `yaml:"text"`
	Cutoff  float64       `yaml:"cutoff,omitempty"`
	Verify  bool          `yaml:"verify,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Save    string        `yaml:"save,omitempty"`
}

// ProbeStep checks for an element without failing. Condition names the state
// to wait for and defaults to presence.
type ProbeStep struct {
	XPath     string        `yaml:"xpath"`
	Condition string        `yaml:"condition,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
	Save    string        `yaml:"save,omitempty"`
	// Require fails the step when the element is absent.
	Require bool `yaml:"require,omitempty"`
}

// LocateStep waits for elements under the session timeout and saves how many
// qualified, or their texts when Texts is set. Many-element conditions such as
// visible-any collect every match.
type LocateStep struct {
	XPath     string `yaml:"xpath"`
	Condition string `yaml:"condition,omitempty"`
	Texts     bool   `yaml:"texts,omitempty"`
	Save      string `yaml:"save,omitempty"`
}

// CaptureStep reads something from the page into a variable.
type CaptureStep struct {
	XPath string `yaml:"xpath,omitempty"`
	Save  string `yaml:"save,omitempty"`
}

// ScopeStep runs nested steps inside a frame or window. XPath locates the
// frame, URL names the new window, and Probe identifies an existing window.
type ScopeStep struct {
	XPath   string `yaml:"xpath,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Probe   string `yaml:"probe,omitempty"`
	Retries int    `yaml:"retries,omitempty"`
	Steps   []Step `yaml:"steps"`
}

// ScriptStep runs script in the page.
type ScriptStep struct {
	Body string `yaml:"body"`
	Args []any  `yaml:"args,omitempty"`
	Save string `yaml:"save,omitempty"`
}

// Action reports which action the step carries, or "" when none or several are set.
func (s Step) Action() Action {
	var found []Action
	add := func(set bool, a Action) {
		if set {
			found = append(found, a)
		}
	}
	add(s.Navigate != "", ActionNavigate)
	add(s.Click != "", ActionClick)
	add(s.Type != nil, ActionType)
	add(s.Select != nil, ActionSelect)
	add(s.SelectSimilar != nil, ActionSelectSimilar)
	add(s.Probe != nil, ActionProbe)
	add(s.Locate != nil, ActionLocate)
	add(s.Text != nil, ActionText)
	add(s.Options != nil, ActionOptions)
	add(s.SetTimeout != 0, ActionSetTimeout)
	add(s.ResetTimeout, ActionResetTimeout)
	add(s.Source != nil, ActionSource)
	add(s.Frame != nil, ActionFrame)
	add(s.NewWindow != nil, ActionNewWindow)
	add(s.Window != nil, ActionWindow)
	add(s.Script != nil, ActionScript)
	if len(found) != 1 {
		return ""
	}
	return found[0]
}

// Label names the step in logs and results.
func (s Step) Label(index int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("step %d (%s)", index+1, s.Action())
}

// Load decodes a workflow and validates it.
func Load(r io.Reader) (*Workflow, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("workflow is empty")
		}
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return &wf, nil
}

// LoadFile reads a workflow from path.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	wf, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Validate checks that every step, nested ones included, is well formed.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow has no steps")
	}
	return validateSteps(w.Steps, "")
}

func validateSteps(steps []Step, prefix string) error {
	var errs []error
	for i, st := range steps {
		where := fmt.Sprintf("%ssteps[%d]", prefix, i)
		if err := validateStep(st); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
			continue
		}
		for _, scope := range []*ScopeStep{st.Frame, st.NewWindow, st.Window} {
			if scope != nil {
				if err := validateSteps(scope.Steps, where+"."); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func validateStep(st Step) error {
	switch st.Action() {
	case "":
		return fmt.Errorf("exactly one action is required")
	case ActionType:
		if st.Type.XPath == "" {
			return fmt.Errorf("type requires an xpath")
		}
	case ActionSelect, ActionSelectSimilar:
		sel := st.Select
		if sel == nil {
			sel = st.SelectSimilar
		}
		if sel.XPath == "" || sel.Text == "" {
			return fmt.Errorf("%s requires an xpath and text", st.Action())
		}
		if sel.Cutoff < 0 || sel.Cutoff > 1 {
			return fmt.Errorf("cutoff %.2f is outside [0, 1]", sel.Cutoff)
		}
	case ActionProbe:
		if st.Probe.XPath == "" {
			return fmt.Errorf("probe requires an xpath")
		}
	case ActionLocate:
		if st.Locate.XPath == "" {
			return fmt.Errorf("locate requires an xpath")
		}
	case ActionText, ActionOptions:
		c := st.Text
		if c == nil {
			c = st.Options
		}
		if c.XPath == "" || c.Save == "" {
			return fmt.Errorf("%s requires an xpath and save", st.Action())
		}
	case ActionSetTimeout:
		if st.SetTimeout < 0 {
			return fmt.Errorf("set_timeout must be positive")
		}
	case ActionSource:
		if st.Source.Save == "" {
			return fmt.Errorf("source requires save")
		}
	case ActionFrame:
		if st.Frame.XPath == "" {
			return fmt.Errorf("frame requires an xpath")
		}
	case ActionNewWindow:
		if st.NewWindow.URL == "" {
			return fmt.Errorf("new_window requires a url")
		}
	case ActionWindow:
		if st.Window.Probe == "" {
			return fmt.Errorf("window requires a probe xpath")
		}
		if st.Window.Retries < 0 {
			return fmt.Errorf("window retries must not be negative")
		}
	case ActionScript:
		if st.Script.Body == "" {
			return fmt.Errorf("script requires a body")
		}
	}
	return nil
}
