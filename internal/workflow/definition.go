// Package workflow loads declarative multi-step workflows and runs them,
// passing each step's output to later steps through a variable map.
package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/templates"
)

// Output fields bound for every executed step as "<id>.<field>".
const (
	FieldOutput           = "output"
	FieldModel            = "model"
	FieldCategory         = "category"
	FieldStatus           = "status"
	FieldError            = "error"
	FieldTokensPrompt     = "tokens_prompt"
	FieldTokensCompletion = "tokens_completion"
	FieldDurationMs       = "duration_ms"
)

var fields = map[string]bool{
	FieldOutput:           true,
	FieldModel:            true,
	FieldCategory:         true,
	FieldStatus:           true,
	FieldError:            true,
	FieldTokensPrompt:     true,
	FieldTokensCompletion: true,
	FieldDurationMs:       true,
}

var (
	refRE   = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_-]*)\.([A-Za-z_]+)$`)
	stepIDs = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
)

// Ref is a parsed "$<step>.<field>" binding.
type Ref struct {
	Step  string
	Field string
}

// Key is the variable-map key the reference reads.
func (r Ref) Key() string { return r.Step + "." + r.Field }

// ParseRef reports whether value is a step reference.
func ParseRef(value string) (Ref, bool) {
	m := refRE.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return Ref{}, false
	}
	return Ref{Step: m[1], Field: m[2]}, true
}

// VarKey is the variable-map key of a step's output field.
func VarKey(stepID, field string) string { return stepID + "." + field }

// ParseFile parses one workflow file.
func ParseFile(path string) (domain.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Workflow{}, err
	}
	wf, err := Parse(data)
	if err != nil {
		return wf, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	wf.Source = path
	return wf, nil
}

// Parse decodes a workflow, fills default step ids, and checks its
// structure. Unknown keys are rejected.
func Parse(data []byte) (domain.Workflow, error) {
	var wf domain.Workflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		if errors.Is(err, io.EOF) {
			return wf, errors.New("empty workflow")
		}
		return wf, err
	}
	for i := range wf.Steps {
		if wf.Steps[i].ID == "" {
			wf.Steps[i].ID = fmt.Sprintf("step%d", i+1)
		}
	}
	return wf, Check(wf)
}

// Check validates a workflow's structure: step ids are unique, every
// step has a model and exactly one prompt source, and references point
// only at earlier steps. The graph is acyclic by construction.
func Check(wf domain.Workflow) error {
	if strings.TrimSpace(wf.Name) == "" {
		return errors.New("name is required")
	}
	if len(wf.Steps) == 0 {
		return fmt.Errorf("workflow %q: no steps", wf.Name)
	}

	all := make(map[string]bool, len(wf.Steps))
	for _, s := range wf.Steps {
		all[s.ID] = true
	}
	earlier := make(map[string]bool, len(wf.Steps))
	for i, s := range wf.Steps {
		where := fmt.Sprintf("workflow %q step %d (%s)", wf.Name, i+1, s.ID)
		if !stepIDs.MatchString(s.ID) {
			return fmt.Errorf("%s: invalid id", where)
		}
		if earlier[s.ID] {
			return fmt.Errorf("%s: duplicate id", where)
		}
		if strings.TrimSpace(s.Model) == "" {
			return fmt.Errorf("%s: model is required (an id or %q)", where, domain.ModelAuto)
		}
		hasTmpl, hasPrompt := s.Template != "", strings.TrimSpace(s.Prompt) != ""
		if hasTmpl == hasPrompt {
			return fmt.Errorf("%s: exactly one of template or prompt is required", where)
		}
		for name, value := range s.Bindings {
			if !stepIDs.MatchString(name) {
				return fmt.Errorf("%s: invalid binding name %q", where, name)
			}
			ref, ok := ParseRef(value)
			if !ok {
				continue
			}
			if !earlier[ref.Step] {
				return fmt.Errorf("%s: binding %s references %q, which is not an earlier step", where, name, ref.Step)
			}
			if !fields[ref.Field] {
				return fmt.Errorf("%s: binding %s references unknown field %q", where, name, ref.Field)
			}
		}
		if s.When != nil {
			if strings.TrimSpace(s.When.Var) == "" {
				return fmt.Errorf("%s: when.var is required", where)
			}
			if s.When.Equals != nil && s.When.Present != nil {
				return fmt.Errorf("%s: when takes equals or present, not both", where)
			}
			if id, _, ok := strings.Cut(s.When.Var, "."); ok && all[id] && !earlier[id] {
				return fmt.Errorf("%s: when references %q, which is not an earlier step", where, id)
			}
		}
		if _, err := domain.NormalizeParams(s.Params); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		earlier[s.ID] = true
	}
	return nil
}

// Lookup answers whether models and templates exist.
type Lookup struct {
	Model    func(id string) bool
	Template func(name string) bool
}

// Validate runs Check and then resolves every model and template name.
func Validate(wf domain.Workflow, lk Lookup) error {
	if err := Check(wf); err != nil {
		return err
	}
	for i, s := range wf.Steps {
		where := fmt.Sprintf("workflow %q step %d (%s)", wf.Name, i+1, s.ID)
		if s.Model != domain.ModelAuto && lk.Model != nil && !lk.Model(s.Model) {
			return fmt.Errorf("%s: unknown model %q", where, s.Model)
		}
		if s.Template != "" && lk.Template != nil && !lk.Template(s.Template) {
			return fmt.Errorf("%s: unknown template %q", where, s.Template)
		}
	}
	return nil
}

// InlineTemplate turns a step's inline prompt into a template whose
// declared variables are the placeholders that have a value in vars.
// Other placeholders are left as written.
func InlineTemplate(s domain.WorkflowStep, vars map[string]string) domain.PromptTemplate {
	t := domain.PromptTemplate{Name: s.ID, Body: s.Prompt, System: s.System}
	for _, p := range templates.Placeholders(s.System + "\n" + s.Prompt) {
		if _, ok := vars[p]; ok {
			t.Variables = append(t.Variables, p)
		}
	}
	return t
}
