package workflow

import (
	"context"
	"strconv"

	"github.com/joss/llmrouter/internal/compose"
	"github.com/joss/llmrouter/internal/dispatch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// Store is the persistence the engine needs. The session store implements it.
type Store interface {
	CreateSession(ctx context.Context, title string, tags []string) (domain.Session, error)
	SaveWorkflowRun(ctx context.Context, run domain.WorkflowRun) (domain.WorkflowRun, error)
	GetWorkflowRun(ctx context.Context, id string) (domain.WorkflowRun, error)
	ListWorkflowRuns(ctx context.Context, limit int) ([]domain.WorkflowRun, error)
}

// Templates resolves template names.
type Templates interface {
	Resolve(name string) (domain.PromptTemplate, error)
}

// Workflows resolves workflow names for Resume.
type Workflows interface {
	Resolve(name string) (domain.Workflow, error)
}

// Result is a run and the steps executed by one Start or Resume call.
type Result struct {
	Run   domain.WorkflowRun
	Steps []domain.StepOutcome
}

// Engine executes workflows step by step in declared order.
type Engine struct {
	store      Store
	dispatcher *dispatch.Dispatcher
	templates  Templates
	workflows  Workflows
	log        *logging.Logger

	// Budget bounds each composed step prompt. Zero disables the limit.
	Budget int
	// OnStep receives every executed or skipped step.
	OnStep func(domain.StepOutcome)
}

// NewEngine creates an engine.
func NewEngine(store Store, d *dispatch.Dispatcher, templates Templates, workflows Workflows) *Engine {
	return &Engine{
		store:      store,
		dispatcher: d,
		templates:  templates,
		workflows:  workflows,
		log:        logging.New("workflow"),
	}
}

// Validate checks a workflow against the catalog and template library.
func (e *Engine) Validate(wf domain.Workflow) error {
	err := Validate(wf, Lookup{
		Model: func(id string) bool {
			_, ok := e.dispatcher.Catalog().Get(id)
			return ok
		},
		Template: func(name string) bool {
			if e.templates == nil {
				return false
			}
			_, err := e.templates.Resolve(name)
			return err == nil
		},
	})
	return errkind.Config("validate workflow", err)
}

// Start validates wf, opens a session for it, and runs it. vars seeds
// the variable map.
func (e *Engine) Start(ctx context.Context, wf domain.Workflow, vars map[string]string) (Result, error) {
	if err := e.Validate(wf); err != nil {
		return Result{}, err
	}
	sess, err := e.store.CreateSession(ctx, "workflow "+wf.Name, []string{"workflow"})
	if err != nil {
		return Result{}, err
	}
	seed := make(map[string]string, len(vars))
	for k, v := range vars {
		seed[k] = v
	}
	run, err := e.store.SaveWorkflowRun(ctx, domain.WorkflowRun{
		Workflow:  wf.Name,
		SessionID: sess.ID,
		State:     domain.StateDraft,
		Vars:      seed,
	})
	if err != nil {
		return Result{}, err
	}
	e.log.WithSession(sess.ID).Info("workflow_started", logging.Fields{
		"run_id":   run.ID,
		"workflow": wf.Name,
		"steps":    len(wf.Steps),
	})
	return e.run(ctx, wf, run)
}

// Resume continues a paused or interrupted run from its next step.
func (e *Engine) Resume(ctx context.Context, runID string) (Result, error) {
	run, err := e.store.GetWorkflowRun(ctx, runID)
	if err != nil {
		return Result{}, err
	}
	if !run.State.Resumable() {
		return Result{Run: run}, errkind.Newf(errkind.KindResolution, "resume workflow",
			"run %s is %s and cannot resume", runID, run.State)
	}
	if e.workflows == nil {
		return Result{Run: run}, errkind.Newf(errkind.KindConfig, "resume workflow", "no workflow library loaded")
	}
	wf, err := e.workflows.Resolve(run.Workflow)
	if err != nil {
		return Result{Run: run}, err
	}
	if err := e.Validate(wf); err != nil {
		return Result{Run: run}, err
	}
	e.log.WithSession(run.SessionID).Info("workflow_resumed", logging.Fields{
		"run_id":    run.ID,
		"next_step": run.NextStep,
	})
	return e.run(ctx, wf, run)
}

// Runs lists recent runs, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]domain.WorkflowRun, error) {
	return e.store.ListWorkflowRuns(ctx, limit)
}

func (e *Engine) run(ctx context.Context, wf domain.Workflow, run domain.WorkflowRun) (Result, error) {
	res := Result{Run: run}
	log := e.log.WithSession(run.SessionID)
	// progress is persisted even when ctx is cancelled mid-step
	persist := context.WithoutCancel(ctx)

	run.State = domain.StateRunning
	run, err := e.store.SaveWorkflowRun(ctx, run)
	if err != nil {
		return res, err
	}
	res.Run = run

	for i := run.NextStep; i < len(wf.Steps); i++ {
		step := wf.Steps[i]
		if ctx.Err() != nil {
			return e.pause(ctx, res)
		}

		if !step.When.Holds(run.Vars) {
			out := domain.StepOutcome{StepID: step.ID, Status: domain.StepSkipped}
			res.Steps = append(res.Steps, out)
			log.Info("step_skipped", logging.Fields{"run_id": run.ID, "step": step.ID})
			if e.OnStep != nil {
				e.OnStep(out)
			}
			run.NextStep = i + 1
			if run, err = e.store.SaveWorkflowRun(persist, run); err != nil {
				return res, err
			}
			res.Run = run
			continue
		}

		out, err := e.step(ctx, run, step)
		if errkind.Is(err, errkind.KindCancellation) || (err != nil && ctx.Err() != nil) {
			return e.pause(ctx, res)
		}
		if err != nil {
			return res, err
		}

		bind(run.Vars, step.ID, out)
		res.Steps = append(res.Steps, out)
		log.Info("step_done", logging.Fields{
			"run_id": run.ID,
			"step":   step.ID,
			"model":  out.Model,
			"status": string(out.Status),
		})
		if e.OnStep != nil {
			e.OnStep(out)
		}

		run.NextStep = i + 1
		if out.Status == domain.StepFailed && !step.ContinueOnError {
			run.State = domain.StateFailed
			if run, err = e.store.SaveWorkflowRun(persist, run); err != nil {
				return res, err
			}
			res.Run = run
			log.Warn("workflow_failed", logging.Fields{"run_id": run.ID, "step": step.ID, "error": out.Result.Error}, nil)
			return res, nil
		}
		if run, err = e.store.SaveWorkflowRun(persist, run); err != nil {
			return res, err
		}
		res.Run = run
	}

	run.State = domain.StateSucceeded
	if run, err = e.store.SaveWorkflowRun(persist, run); err != nil {
		return res, err
	}
	res.Run = run
	log.Info("workflow_done", logging.Fields{"run_id": run.ID, "steps": len(res.Steps)})
	return res, nil
}

// step resolves bindings, expands the prompt, picks the model, and
// executes one step. Prompt preparation failures become failed steps.
func (e *Engine) step(ctx context.Context, run domain.WorkflowRun, step domain.WorkflowStep) (domain.StepOutcome, error) {
	out := domain.StepOutcome{StepID: step.ID}
	failed := func(model string, err error) (domain.StepOutcome, error) {
		out.Status = domain.StepFailed
		out.Model = model
		out.Result = domain.ExecutionResult{ModelID: model, Status: domain.StatusError, Error: err.Error()}
		return out, nil
	}

	vars := Resolve(run.Vars, step.Bindings)

	var tmpl domain.PromptTemplate
	var named *domain.PromptTemplate
	if step.Template != "" {
		t, err := e.templates.Resolve(step.Template)
		if err != nil {
			return failed("", err)
		}
		tmpl, named = t, &t
	} else {
		tmpl = InlineTemplate(step, vars)
	}
	system, body, err := compose.Expand(tmpl, vars, "")
	if err != nil {
		return failed("", err)
	}
	if step.System != "" {
		system = step.System
	}
	out.Prompt = body

	var hint *domain.PromptTemplate
	if step.Model != domain.ModelAuto {
		hint = named
	}
	m, cat, _, err := e.dispatcher.Resolve(body, step.Model, hint)
	if err != nil {
		return failed(step.Model, err)
	}
	out.Model, out.Category = m.ID, cat

	comp, err := e.dispatcher.Composer().Compose(compose.Input{Prompt: body, System: system, Budget: e.Budget})
	if err != nil {
		return failed(m.ID, err)
	}
	params, err := domain.NormalizeParams(step.Params)
	if err != nil {
		return failed(m.ID, err)
	}

	dctx := logging.WithDispatchID(ctx, "")
	o, err := e.dispatcher.Execute(dctx, dispatch.Plan{
		SessionID:   run.SessionID,
		Model:       m,
		Category:    cat,
		Composition: comp,
		Params:      params,
	})
	out.Result = o.Result
	if errkind.Is(err, errkind.KindConfig) {
		return failed(m.ID, err)
	}
	if err != nil {
		return out, err
	}
	out.Status = domain.StepDone
	if o.Result.Failed() {
		out.Status = domain.StepFailed
	}
	return out, nil
}

func (e *Engine) pause(ctx context.Context, res Result) (Result, error) {
	run := res.Run
	run.State = domain.StatePaused
	saved, err := e.store.SaveWorkflowRun(context.WithoutCancel(ctx), run)
	if err != nil {
		return res, err
	}
	res.Run = saved
	e.log.WithSession(run.SessionID).Info("workflow_paused", logging.Fields{"run_id": run.ID, "next_step": run.NextStep})
	return res, errkind.Cancelled("run workflow")
}

// Resolve builds the variable map a step sees: the run's variables
// overlaid with the step's bindings. A reference to an unbound output,
// such as one from a skipped step, resolves to the empty string.
func Resolve(runVars map[string]string, bindings map[string]string) map[string]string {
	out := make(map[string]string, len(runVars)+len(bindings))
	for k, v := range runVars {
		out[k] = v
	}
	for name, value := range bindings {
		if ref, ok := ParseRef(value); ok {
			out[name] = runVars[ref.Key()]
			continue
		}
		out[name] = value
	}
	return out
}

// bind records a step's outcome in the run's variable map.
func bind(vars map[string]string, id string, o domain.StepOutcome) {
	vars[VarKey(id, FieldOutput)] = o.Result.Text
	vars[VarKey(id, FieldModel)] = o.Model
	vars[VarKey(id, FieldCategory)] = string(o.Category)
	vars[VarKey(id, FieldStatus)] = string(o.Status)
	vars[VarKey(id, FieldError)] = o.Result.Error
	vars[VarKey(id, FieldTokensPrompt)] = strconv.Itoa(o.Result.PromptTokens)
	vars[VarKey(id, FieldTokensCompletion)] = strconv.Itoa(o.Result.CompletionTokens)
	vars[VarKey(id, FieldDurationMs)] = strconv.FormatInt(o.Result.Duration.Milliseconds(), 10)
}
