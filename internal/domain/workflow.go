package domain

import "time"

// ModelAuto asks the selector to choose the model for a step.
const ModelAuto = "auto"

// Workflow is a declarative, ordered multi-step plan.
type Workflow struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []WorkflowStep `yaml:"steps" json:"steps"`

	Source string `yaml:"-" json:"source,omitempty"`
}

// WorkflowStep names a model, a prompt source, bindings, and a guard.
type WorkflowStep struct {
	ID              string            `yaml:"id,omitempty" json:"id"`
	Model           string            `yaml:"model" json:"model"`
	Template        string            `yaml:"template,omitempty" json:"template,omitempty"`
	Prompt          string            `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	System          string            `yaml:"system,omitempty" json:"system,omitempty"`
	Bindings        map[string]string `yaml:"bindings,omitempty" json:"bindings,omitempty"`
	When            *Condition        `yaml:"when,omitempty" json:"when,omitempty"`
	ContinueOnError bool              `yaml:"continue_on_error,omitempty" json:"continue_on_error,omitempty"`
	Params          map[string]any    `yaml:"params,omitempty" json:"params,omitempty"`
}

// Condition is an equality or presence check against the variable map.
type Condition struct {
	Var     string  `yaml:"var" json:"var"`
	Equals  *string `yaml:"equals,omitempty" json:"equals,omitempty"`
	Present *bool   `yaml:"present,omitempty" json:"present,omitempty"`
}

// Holds evaluates the condition. With neither Equals nor Present set, the
// variable must be present and non-empty.
func (c *Condition) Holds(vars map[string]string) bool {
	if c == nil {
		return true
	}
	v, ok := vars[c.Var]
	switch {
	case c.Equals != nil:
		return ok && v == *c.Equals
	case c.Present != nil:
		return ok == *c.Present
	default:
		return ok && v != ""
	}
}

// StepStatus records how a workflow step ended.
type StepStatus string

const (
	StepDone    StepStatus = "done"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepOutcome is the result of one executed or skipped step.
type StepOutcome struct {
	StepID   string          `json:"step_id"`
	Status   StepStatus      `json:"status"`
	Model    string          `json:"model,omitempty"`
	Category Category        `json:"category,omitempty"`
	Prompt   string          `json:"prompt,omitempty"`
	Result   ExecutionResult `json:"result"`
}

// WorkflowRun is one live instantiation of a workflow.
type WorkflowRun struct {
	ID        string            `json:"id"`
	Workflow  string            `json:"workflow"`
	SessionID string            `json:"session_id"`
	State     RunState          `json:"status"`
	NextStep  int               `json:"next_step"`
	Vars      map[string]string `json:"vars"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}
