// Package dispatch runs one prompt end to end: model resolution,
// composition, execution, and persistence of the exchange.
package dispatch

import (
	"context"
	"time"

	"github.com/joss/llmrouter/internal/catalog"
	"github.com/joss/llmrouter/internal/compose"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/selector"
	"github.com/joss/llmrouter/pkg/llm"
)

// Recorder persists exchanges. The session store implements it.
type Recorder interface {
	AppendMessages(ctx context.Context, sessionID string, msgs ...domain.Message) ([]domain.Message, error)
}

// Request is one dispatch. An empty ModelID asks the selector.
type Request struct {
	SessionID string
	ModelID   string
	Input     compose.Input
	Params    domain.Params
}

// Plan is a resolved, composed request awaiting execution.
type Plan struct {
	SessionID   string
	Model       domain.ModelDescriptor
	Category    domain.Category
	Selection   *selector.Selection
	Composition compose.Composition
	Params      domain.Params
}

// Outcome is the result of an executed plan.
type Outcome struct {
	Plan
	Result    domain.ExecutionResult
	User      domain.Message
	Assistant domain.Message
}

// Dispatcher wires the selector, composer, adapters, and recorder.
type Dispatcher struct {
	catalog  *catalog.Catalog
	selector *selector.Selector
	adapters *llm.AdapterSet
	composer *compose.Composer
	recorder Recorder
	log      *logging.Logger
}

// New creates a dispatcher. recorder may be nil to skip persistence.
func New(cat *catalog.Catalog, sel *selector.Selector, adapters *llm.AdapterSet, composer *compose.Composer, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		catalog:  cat,
		selector: sel,
		adapters: adapters,
		composer: composer,
		recorder: recorder,
		log:      logging.New("dispatch"),
	}
}

// Composer returns the composer in use.
func (d *Dispatcher) Composer() *compose.Composer { return d.composer }

// Catalog returns the model registry.
func (d *Dispatcher) Catalog() *catalog.Catalog { return d.catalog }

// Selector returns the selector.
func (d *Dispatcher) Selector() *selector.Selector { return d.selector }

// Resolve picks the model for a prompt. An explicit id wins; a template
// with a category ranks that category; otherwise the selector scores
// the prompt.
func (d *Dispatcher) Resolve(prompt, modelID string, tmpl *domain.PromptTemplate) (domain.ModelDescriptor, domain.Category, *selector.Selection, error) {
	if modelID != "" && modelID != domain.ModelAuto {
		m, err := d.catalog.Resolve(modelID)
		if err != nil {
			return domain.ModelDescriptor{}, "", nil, err
		}
		cat := domain.CategoryGeneral
		if tmpl != nil && tmpl.Category != "" {
			cat = tmpl.Category
		} else if len(m.Categories) > 0 {
			cat = m.Categories[0]
		}
		return m, cat, nil, nil
	}

	if tmpl != nil && tmpl.Category != "" {
		ranked := d.selector.Rank(tmpl.Category)
		if len(ranked) > 0 {
			return ranked[0], tmpl.Category, nil, nil
		}
	}

	sel := d.selector.Select(prompt)
	m, ok := sel.Top()
	if !ok {
		return domain.ModelDescriptor{}, "", &sel, errkind.Newf(errkind.KindResolution, "select model",
			"no model available for category %s", sel.Category)
	}
	return m, sel.Category, &sel, nil
}

// Prepare resolves the model and composes the prompt without executing.
func (d *Dispatcher) Prepare(req Request) (Plan, error) {
	m, cat, sel, err := d.Resolve(req.Input.Prompt, req.ModelID, req.Input.Template)
	if err != nil {
		return Plan{}, err
	}
	comp, err := d.composer.Compose(req.Input)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		SessionID:   req.SessionID,
		Model:       m,
		Category:    cat,
		Selection:   sel,
		Composition: comp,
		Params:      req.Params,
	}, nil
}

// Run executes a plan without recording it. Cancellation is reported
// as a CancellationError; backend failures stay in the result.
func (d *Dispatcher) Run(ctx context.Context, p Plan) (domain.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ExecutionResult{ModelID: p.Model.ID, Status: domain.StatusCancelled}, errkind.Cancelled("dispatch")
	}
	adapter, err := d.adapters.For(p.Model)
	if err != nil {
		return domain.ExecutionResult{}, errkind.Config("dispatch", err)
	}

	ctx = logging.WithDispatchID(ctx, logging.DispatchID(ctx))
	log := d.log.FromContext(ctx).WithSession(p.SessionID)
	log.Debug("dispatch_start", logging.Fields{
		"model":    p.Model.ID,
		"backend":  string(p.Model.Backend),
		"category": string(p.Category),
		"tokens":   p.Composition.Tokens,
		"dropped":  len(p.Composition.Dropped),
	})

	start := time.Now()
	res := adapter.Execute(ctx, p.Composition.Request(p.Model, p.Params))
	if res.ModelID == "" {
		res.ModelID = p.Model.ID
	}
	if res.Cancelled() {
		log.Info("dispatch_cancelled", logging.Fields{"model": p.Model.ID})
		return res, errkind.Cancelled("dispatch")
	}

	fields := logging.Fields{
		"model":             res.ModelID,
		"status":            string(res.Status),
		"tokens_prompt":     res.PromptTokens,
		"tokens_completion": res.CompletionTokens,
	}
	if res.Failed() {
		fields["error"] = res.Error
		log.Warn("dispatch_failed", fields, nil)
	} else {
		log.TimedEvent("dispatch_done", start, fields)
	}
	return res, nil
}

// Execute runs a plan and records the exchange as a user and an
// assistant message. Backend failures are recorded and reported in
// Outcome.Result; cancellation records nothing, even when the backend
// finished first.
func (d *Dispatcher) Execute(ctx context.Context, p Plan) (Outcome, error) {
	out := Outcome{Plan: p}
	res, err := d.Run(ctx, p)
	out.Result = res
	if err != nil {
		return out, err
	}
	// a result that lands after cancellation is discarded
	if ctx.Err() != nil {
		d.log.Info("dispatch_cancelled", logging.Fields{"model": p.Model.ID, "late": true})
		return out, errkind.Cancelled("dispatch")
	}
	if d.recorder == nil || p.SessionID == "" {
		return out, nil
	}

	user := domain.Message{
		Role:         domain.RoleUser,
		Content:      p.Composition.Text,
		ModelID:      p.Model.ID,
		Category:     p.Category,
		TokensPrompt: p.Composition.Tokens,
	}
	msgs, err := d.recorder.AppendMessages(ctx, p.SessionID, user, domain.AssistantMessage(res, p.Category))
	if err != nil {
		d.log.WithSession(p.SessionID).Error("record_failed", nil, err)
		return out, err
	}
	out.User, out.Assistant = msgs[0], msgs[1]
	return out, nil
}

// Dispatch prepares and executes in one step.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Outcome, error) {
	p, err := d.Prepare(req)
	if err != nil {
		return Outcome{Plan: p}, err
	}
	return d.Execute(ctx, p)
}
