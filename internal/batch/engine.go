// Package batch runs a frozen list of prompts against one model,
// checkpointing each item so an interrupted job resumes where it stopped.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/joss/llmrouter/internal/compose"
	"github.com/joss/llmrouter/internal/dispatch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// Store is the persistence the engine needs. The session store implements it.
type Store interface {
	CreateSession(ctx context.Context, title string, tags []string) (domain.Session, error)
	CreateBatch(ctx context.Context, job domain.BatchJob) (domain.BatchJob, error)
	GetBatch(ctx context.Context, id string) (domain.BatchJob, error)
	ListBatches(ctx context.Context, limit int) ([]domain.BatchJob, error)
	SetBatchState(ctx context.Context, id string, next domain.RunState) error
	RecordBatchProgress(ctx context.Context, batchID string, seq int, msg domain.Message) (domain.Message, error)
}

// Templates resolves template names.
type Templates interface {
	Resolve(name string) (domain.PromptTemplate, error)
}

// Spec describes a batch to submit.
type Spec struct {
	ModelID     string
	Prompts     []string
	Source      string
	Template    string
	StopOnError bool
}

// Summary is the state of a job after Run returns.
type Summary struct {
	BatchID   string
	SessionID string
	State     domain.RunState
	Total     int
	Done      int
	Failed    int
	Pending   int
	Executed  int // items executed by this call
	Elapsed   time.Duration
}

// Engine drives batch jobs sequentially.
type Engine struct {
	store      Store
	dispatcher *dispatch.Dispatcher
	templates  Templates
	log        *logging.Logger

	// Budget bounds each composed item. Zero disables the limit.
	Budget int
	// Params are applied to every item.
	Params domain.Params
	// OnProgress receives one call per resolved item.
	OnProgress func(Progress)

	now func() time.Time
}

// NewEngine creates an engine. templates may be nil when no job names one.
func NewEngine(store Store, d *dispatch.Dispatcher, templates Templates) *Engine {
	return &Engine{
		store:      store,
		dispatcher: d,
		templates:  templates,
		log:        logging.New("batch"),
		now:        time.Now,
	}
}

// Submit validates spec and persists a DRAFT job with its own session.
func (e *Engine) Submit(ctx context.Context, spec Spec) (domain.BatchJob, error) {
	if len(spec.Prompts) == 0 {
		return domain.BatchJob{}, errkind.Newf(errkind.KindResolution, "submit batch", "batch has no prompts")
	}
	if _, err := e.dispatcher.Catalog().Resolve(spec.ModelID); err != nil {
		return domain.BatchJob{}, err
	}
	if spec.Template != "" {
		if _, err := e.template(spec.Template); err != nil {
			return domain.BatchJob{}, err
		}
	}

	title := "batch"
	if spec.Source != "" {
		title = "batch " + filepath.Base(spec.Source)
	}
	sess, err := e.store.CreateSession(ctx, title, []string{"batch"})
	if err != nil {
		return domain.BatchJob{}, err
	}

	job := domain.BatchJob{
		ModelID:     spec.ModelID,
		SessionID:   sess.ID,
		StopOnError: spec.StopOnError,
		Source:      spec.Source,
		Template:    spec.Template,
	}
	for _, p := range spec.Prompts {
		job.Items = append(job.Items, domain.BatchItem{Prompt: p})
	}
	job, err = e.store.CreateBatch(ctx, job)
	if err != nil {
		return domain.BatchJob{}, err
	}
	e.log.WithSession(sess.ID).Info("batch_submitted", logging.Fields{
		"batch_id": job.ID,
		"model":    job.ModelID,
		"items":    len(job.Items),
	})
	return job, nil
}

// Run executes the pending items of a job from its checkpoint.
//
// Cancellation between items or inside an adapter call pauses the job
// and returns a CancellationError; the interrupted item stays pending.
// With StopOnError the job fails at the first failed item. Otherwise the
// job succeeds once every item is resolved.
func (e *Engine) Run(ctx context.Context, id string) (Summary, error) {
	job, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if !job.State.Resumable() {
		return summarize(job, 0, 0), errkind.Newf(errkind.KindResolution, "run batch",
			"batch %s is %s and cannot run", id, job.State)
	}

	m, err := e.dispatcher.Catalog().Resolve(job.ModelID)
	if err != nil {
		return summarize(job, 0, 0), err
	}
	var tmpl *domain.PromptTemplate
	category := domain.CategoryGeneral
	if len(m.Categories) > 0 {
		category = m.Categories[0]
	}
	if job.Template != "" {
		t, err := e.template(job.Template)
		if err != nil {
			return summarize(job, 0, 0), err
		}
		tmpl = &t
		if t.Category != "" {
			category = t.Category
		}
	}

	if err := e.store.SetBatchState(ctx, id, domain.StateRunning); err != nil {
		return summarize(job, 0, 0), err
	}
	job.State = domain.StateRunning

	log := e.log.WithSession(job.SessionID)
	log.Info("batch_started", logging.Fields{
		"batch_id":   id,
		"checkpoint": job.CheckpointOffset,
		"items":      len(job.Items),
	})

	start := e.now()
	remaining := 0
	for _, it := range job.Items {
		if it.Seq >= job.CheckpointOffset && it.Status == domain.ItemPending {
			remaining++
		}
	}

	executed := 0
	for i, it := range job.Items {
		if it.Seq < job.CheckpointOffset || it.Status != domain.ItemPending {
			continue
		}
		if ctx.Err() != nil {
			return e.pause(ctx, job, executed, e.now().Sub(start))
		}

		itemStart := e.now()
		msg, cancelled := e.runItem(ctx, job, m, category, tmpl, it)
		if cancelled {
			return e.pause(ctx, job, executed, e.now().Sub(start))
		}

		written, err := e.store.RecordBatchProgress(ctx, id, it.Seq, msg)
		if err != nil {
			if ctx.Err() != nil {
				return e.pause(ctx, job, executed, e.now().Sub(start))
			}
			return summarize(job, executed, e.now().Sub(start)), err
		}
		executed++
		remaining--

		status := domain.ItemDone
		if msg.Status != domain.StatusOK {
			status = domain.ItemFailed
		}
		job.Items[i].Status = status
		job.Items[i].ResultMessageID = written.ID
		job.Items[i].Error = msg.Error
		job.CheckpointOffset = it.Seq + 1

		elapsed := e.now().Sub(start)
		p := Progress{
			BatchID:  id,
			Index:    it.Seq + 1,
			Total:    len(job.Items),
			Status:   status,
			Duration: e.now().Sub(itemStart),
			Elapsed:  elapsed,
			ETA:      eta(elapsed, executed, remaining),
			Error:    msg.Error,
		}
		log.Info("batch_item", logging.Fields{
			"batch_id": id,
			"seq":      it.Seq,
			"status":   string(status),
		})
		if e.OnProgress != nil {
			e.OnProgress(p)
		}

		if status == domain.ItemFailed && job.StopOnError {
			if err := e.store.SetBatchState(ctx, id, domain.StateFailed); err != nil {
				return summarize(job, executed, elapsed), err
			}
			job.State = domain.StateFailed
			log.Warn("batch_stopped", logging.Fields{"batch_id": id, "seq": it.Seq}, nil)
			return summarize(job, executed, elapsed), nil
		}
	}

	if err := e.store.SetBatchState(ctx, id, domain.StateSucceeded); err != nil {
		return summarize(job, executed, e.now().Sub(start)), err
	}
	job.State = domain.StateSucceeded
	log.TimedEvent("batch_done", start, logging.Fields{"batch_id": id, "executed": executed})
	return summarize(job, executed, e.now().Sub(start)), nil
}

// Resume continues a paused or interrupted job from its checkpoint.
func (e *Engine) Resume(ctx context.Context, id string) (Summary, error) {
	job, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	if job.State == domain.StateRunning {
		e.log.WithSession(job.SessionID).Warn("batch_interrupted", logging.Fields{
			"batch_id":   id,
			"checkpoint": job.CheckpointOffset,
		}, nil)
	}
	return e.Run(ctx, id)
}

// Cancel moves a job to CANCELLED.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	if err := e.store.SetBatchState(ctx, id, domain.StateCancelled); err != nil {
		return err
	}
	e.log.Info("batch_cancelled", logging.Fields{"batch_id": id})
	return nil
}

// Status loads a job and tallies its items.
func (e *Engine) Status(ctx context.Context, id string) (Summary, domain.BatchJob, error) {
	job, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return Summary{}, domain.BatchJob{}, err
	}
	return summarize(job, 0, 0), job, nil
}

// List returns recent jobs, newest first.
func (e *Engine) List(ctx context.Context, limit int) ([]domain.BatchJob, error) {
	return e.store.ListBatches(ctx, limit)
}

func (e *Engine) runItem(ctx context.Context, job domain.BatchJob, m domain.ModelDescriptor, category domain.Category, tmpl *domain.PromptTemplate, it domain.BatchItem) (domain.Message, bool) {
	ctx = logging.WithDispatchID(ctx, "")
	comp, err := e.dispatcher.Composer().Compose(compose.Input{
		Prompt:   it.Prompt,
		Template: tmpl,
		Vars:     map[string]string{compose.InputVar: it.Prompt},
		Budget:   e.Budget,
	})
	if err != nil {
		return domain.AssistantMessage(domain.ExecutionResult{
			ModelID: m.ID,
			Status:  domain.StatusError,
			Error:   err.Error(),
		}, category), false
	}

	plan := dispatch.Plan{
		SessionID:   job.SessionID,
		Model:       m,
		Category:    category,
		Composition: comp,
		Params:      e.Params,
	}
	res, err := e.dispatcher.Run(ctx, plan)
	if errkind.Is(err, errkind.KindCancellation) {
		return domain.Message{}, true
	}
	if err != nil {
		res = domain.ExecutionResult{ModelID: m.ID, Status: domain.StatusError, Error: err.Error()}
	}
	return domain.AssistantMessage(res, category), false
}

func (e *Engine) pause(ctx context.Context, job domain.BatchJob, executed int, elapsed time.Duration) (Summary, error) {
	if err := e.store.SetBatchState(context.WithoutCancel(ctx), job.ID, domain.StatePaused); err != nil {
		return summarize(job, executed, elapsed), err
	}
	job.State = domain.StatePaused
	e.log.WithSession(job.SessionID).Info("batch_paused", logging.Fields{
		"batch_id":   job.ID,
		"checkpoint": job.CheckpointOffset,
	})
	return summarize(job, executed, elapsed), errkind.Cancelled("run batch")
}

func (e *Engine) template(name string) (domain.PromptTemplate, error) {
	if e.templates == nil {
		return domain.PromptTemplate{}, errkind.Newf(errkind.KindConfig, "resolve template", "no template library loaded")
	}
	return e.templates.Resolve(name)
}

func summarize(job domain.BatchJob, executed int, elapsed time.Duration) Summary {
	pending, done, failed := job.Counts()
	return Summary{
		BatchID:   job.ID,
		SessionID: job.SessionID,
		State:     job.State,
		Total:     len(job.Items),
		Done:      done,
		Failed:    failed,
		Pending:   pending,
		Executed:  executed,
		Elapsed:   elapsed,
	}
}

// String renders a one-line summary.
func (s Summary) String() string {
	return fmt.Sprintf("batch %s %s: %d done, %d failed, %d pending of %d",
		s.BatchID, s.State, s.Done, s.Failed, s.Pending, s.Total)
}
