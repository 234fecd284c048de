package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/joss/llmrouter/internal/app"
	"github.com/joss/llmrouter/internal/batch"
	"github.com/joss/llmrouter/internal/dispatch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/render"
	"github.com/joss/llmrouter/internal/store"
	strutil "github.com/joss/llmrouter/internal/strings"
	"github.com/joss/llmrouter/internal/workflow"
)

type menuItem struct {
	label  string
	status func(Model) string
	run    func(Model) (Model, tea.Cmd)
}

func mainMenu() []menuItem {
	return []menuItem{
		{label: "Auto-select and dispatch", run: autoSelect},
		{label: "Browse catalog", run: browseCatalog},
		{label: "Context", run: contextMenu, status: func(m Model) string {
			return fmt.Sprintf("(%d)", len(m.state.Context))
		}},
		{label: "Sessions", run: sessionMenu},
		{label: "Batch", run: batchMenu},
		{label: "Workflows", run: workflowMenu},
		{label: "Analytics", run: analyticsView},
		{label: "Templates", run: templateMenu},
		{label: "Compare models", run: compareModels},
		{label: "Toggle auto-confirm", run: toggleAutoConfirm, status: func(m Model) string {
			if m.state.AutoConfirm {
				return "[on]"
			}
			return "[off]"
		}},
	}
}

// submenu shows actions as a picker and runs the chosen one.
func submenu(m Model, title string, actions []menuItem) (Model, tea.Cmd) {
	items := make(pickItems, len(actions))
	for i, a := range actions {
		items[i] = pickItem{title: a.label, value: a.label}
	}
	return m.pick(title, items, func(m Model, it pickItem) (Model, tea.Cmd) {
		for _, a := range actions {
			if a.label == it.title {
				return a.run(m)
			}
		}
		return m.back(), nil
	})
}

func (m Model) app() *app.App { return m.state.App() }

// Dispatch

func autoSelect(m Model) (Model, tea.Cmd) {
	return m.ask("Prompt", "what should the model do?", func(m Model, prompt string) (Model, tea.Cmd) {
		if prompt == "" {
			return m.back(), nil
		}
		return m.plan(app.Ask{Prompt: prompt})
	})
}

func browseCatalog(m Model) (Model, tea.Cmd) {
	return m.pick("Models", modelItems(m.app().Catalog.All()), func(m Model, it pickItem) (Model, tea.Cmd) {
		return m.ask("Prompt for "+it.value, "", func(m Model, prompt string) (Model, tea.Cmd) {
			if prompt == "" {
				return m.back(), nil
			}
			return m.plan(app.Ask{Prompt: prompt, ModelID: it.value})
		})
	})
}

func modelItems(models []domain.ModelDescriptor) pickItems {
	items := make(pickItems, 0, len(models))
	for _, md := range models {
		cats := make([]string, len(md.Categories))
		for i, c := range md.Categories {
			cats[i] = string(c)
		}
		items = append(items, pickItem{
			title: md.ID,
			desc:  fmt.Sprintf("%s · %s", md.Backend, strings.Join(cats, ", ")),
			value: md.ID,
		})
	}
	return items
}

// plan resolves and composes, then confirms unless auto-confirm is on.
func (m Model) plan(ask app.Ask) (Model, tea.Cmd) {
	p, err := m.state.Plan(ask)
	if err != nil {
		return m.show("Dispatch", errString(err)), nil
	}
	if m.state.AutoConfirm {
		return m.execute(p)
	}
	body := m.renderer.Plan(p, m.state.Budget)
	if p.Selection != nil {
		body = m.renderer.Selection(*p.Selection, m.app().Selector.Scores(ask.Prompt)) + "\n" + body
	}
	return m.confirm(body, "Dispatch to "+p.Model.ID+"?", func(m Model, yes bool) (Model, tea.Cmd) {
		if !yes {
			m = m.back()
			m.notice = "dispatch declined"
			return m, nil
		}
		return m.execute(p)
	})
}

func (m Model) execute(p dispatch.Plan) (Model, tea.Cmd) {
	state := m.state
	r := m.renderer
	return m.start("Dispatching to "+p.Model.ID, func(ctx context.Context) doneMsg {
		out, err := state.Execute(ctx, p)
		if err != nil {
			return doneMsg{err: err}
		}
		return doneMsg{
			title: p.Model.ID,
			out:   r.Result(out.Result),
			then: func(m Model) (Model, tea.Cmd) {
				return m.offerRemember(out)
			},
		}
	})
}

func (m Model) offerRemember(out dispatch.Outcome) (Model, tea.Cmd) {
	pref, ok := m.state.RememberOffer(out)
	if !ok {
		return m, nil
	}
	q := fmt.Sprintf("Remember %s for %s prompts?", pref.ModelID, pref.Category)
	title := m.title
	return m.confirm(m.output, q, func(m Model, yes bool) (Model, tea.Cmd) {
		m = m.show(title, m.output)
		if !yes {
			return m, nil
		}
		if err := m.state.Remember(m.shared.ctx, pref); err != nil {
			m.notice = "✗ " + err.Error()
			return m, nil
		}
		m.notice = fmt.Sprintf("✓ %s is now preferred for %s", pref.ModelID, pref.Category)
		return m, nil
	})
}

// Context

func contextMenu(m Model) (Model, tea.Cmd) {
	return submenu(m, "Context", []menuItem{
		{label: "Attach file", run: attachFile},
		{label: "Attach files by glob", run: attachGlob},
		{label: "Attach inline snippet", run: attachInline},
		{label: "Remove item", run: detachItem},
		{label: "Clear context", run: func(m Model) (Model, tea.Cmd) {
			m.state.ClearContext()
			m = m.back()
			m.notice = "context cleared"
			return m, nil
		}},
		{label: "Show context", run: showContext},
	})
}

func attachFile(m Model) (Model, tea.Cmd) {
	files, err := loadFiles(m.app().Loader.Base())
	if err != nil {
		return m.show("Attach file", errString(err)), nil
	}
	return m.pick("Files under "+m.app().Loader.Base(), files, func(m Model, it pickItem) (Model, tea.Cmd) {
		return m.attach(it.value)
	})
}

func attachGlob(m Model) (Model, tea.Cmd) {
	return m.ask("Glob pattern", "src/**/*.go", func(m Model, pattern string) (Model, tea.Cmd) {
		if pattern == "" {
			return m.back(), nil
		}
		return m.attach(strings.Fields(pattern)...)
	})
}

func (m Model) attach(patterns ...string) (Model, tea.Cmd) {
	items, err := m.state.AttachContext(patterns...)
	if err != nil {
		return m.show("Context", errString(err)), nil
	}
	m = m.show("Context", m.renderer.ContextItems(m.state.Context, m.state.Budget))
	m.notice = fmt.Sprintf("attached %d item(s)", len(items))
	return m, nil
}

func attachInline(m Model) (Model, tea.Cmd) {
	return m.ask("Snippet label", "notes", func(m Model, label string) (Model, tea.Cmd) {
		if label == "" {
			label = "inline"
		}
		return m.ask("Snippet content", "", func(m Model, content string) (Model, tea.Cmd) {
			if content == "" {
				return m.back(), nil
			}
			m.state.AttachInline(label, content)
			return m.show("Context", m.renderer.ContextItems(m.state.Context, m.state.Budget)), nil
		})
	})
}

func detachItem(m Model) (Model, tea.Cmd) {
	var items pickItems
	for _, it := range m.state.Context {
		items = append(items, pickItem{
			title: it.Label,
			desc:  fmt.Sprintf("%s · ~%d tokens", it.Kind, it.Tokens),
			value: it.Label,
		})
	}
	return m.pick("Remove context item", items, func(m Model, it pickItem) (Model, tea.Cmd) {
		m.state.DetachContext(it.value)
		return m.show("Context", m.renderer.ContextItems(m.state.Context, m.state.Budget)), nil
	})
}

func showContext(m Model) (Model, tea.Cmd) {
	return m.show("Context", m.renderer.ContextItems(m.state.Context, m.state.Budget)), nil
}

// Sessions

func sessionMenu(m Model) (Model, tea.Cmd) {
	return submenu(m, "Sessions", []menuItem{
		{label: "New session", run: newSession},
		{label: "Resume session", run: func(m Model) (Model, tea.Cmd) {
			return m.withSession("Resume session", func(m Model, id string) (Model, tea.Cmd) {
				sess, err := m.state.ResumeSession(m.shared.ctx, id)
				if err != nil {
					return m.show("Resume", errString(err)), nil
				}
				return m.show(sess.Title, m.renderer.Session(sess)), nil
			})
		}},
		{label: "Show session", run: func(m Model) (Model, tea.Cmd) {
			return m.withSession("Show session", func(m Model, id string) (Model, tea.Cmd) {
				st := m.app().Store
				return m.start("Loading session", func(ctx context.Context) doneMsg {
					sess, err := st.GetSession(ctx, id)
					if err != nil {
						return doneMsg{err: err}
					}
					return doneMsg{title: sess.Title, out: m.renderer.Session(sess)}
				})
			})
		}},
		{label: "Search messages", run: searchMessages},
		{label: "Export session", run: exportSession},
		{label: "Delete session", run: deleteSession},
	})
}

func newSession(m Model) (Model, tea.Cmd) {
	return m.ask("Session title", "untitled", func(m Model, title string) (Model, tea.Cmd) {
		sess, err := m.state.StartSession(m.shared.ctx, title, nil)
		if err != nil {
			return m.show("New session", errString(err)), nil
		}
		m = m.back()
		m.notice = "✓ started session " + sess.ID
		return m, nil
	})
}

// withSession loads the session list and lets the operator pick one.
func (m Model) withSession(title string, fn func(Model, string) (Model, tea.Cmd)) (Model, tea.Cmd) {
	st := m.app().Store
	return m.start("Loading sessions", func(ctx context.Context) doneMsg {
		list, err := st.ListSessions(ctx, store.DefaultSessionFilter().WithLimit(200))
		if err != nil {
			return doneMsg{err: err}
		}
		items := make(pickItems, 0, len(list))
		for _, s := range list {
			items = append(items, pickItem{
				title: fmt.Sprintf("%s  %s", s.ID, strutil.Truncate(s.Title, 40)),
				desc: fmt.Sprintf("%d messages · %s", s.MessageCount,
					humanize.Time(s.LastActivity)),
				value: s.ID,
			})
		}
		return doneMsg{then: func(m Model) (Model, tea.Cmd) {
			return m.pick(title, items, func(m Model, it pickItem) (Model, tea.Cmd) {
				return fn(m, it.value)
			})
		}}
	})
}

func searchMessages(m Model) (Model, tea.Cmd) {
	return m.ask("Search", "text to find", func(m Model, q string) (Model, tea.Cmd) {
		if q == "" {
			return m.back(), nil
		}
		st := m.app().Store
		r := m.renderer
		return m.start("Searching", func(ctx context.Context) doneMsg {
			hits, err := st.SearchMessages(ctx, q, 50)
			if err != nil {
				return doneMsg{err: err}
			}
			return doneMsg{title: "Results for " + q, out: r.Hits(hits)}
		})
	})
}

func exportSession(m Model) (Model, tea.Cmd) {
	return m.withSession("Export session", func(m Model, id string) (Model, tea.Cmd) {
		formats := pickItems{
			{title: "markdown", desc: ".md", value: string(store.FormatMarkdown)},
			{title: "text", desc: ".txt", value: string(store.FormatText)},
			{title: "json", desc: ".json (re-importable)", value: string(store.FormatJSON)},
		}
		return m.pick("Format", formats, func(m Model, it pickItem) (Model, tea.Cmd) {
			a := m.app()
			return m.start("Exporting", func(ctx context.Context) doneMsg {
				path, err := a.Export(ctx, id, store.ExportFormat(it.value))
				if err != nil {
					return doneMsg{err: err}
				}
				return doneMsg{title: "Export", out: "✓ wrote " + path}
			})
		})
	})
}

func deleteSession(m Model) (Model, tea.Cmd) {
	return m.withSession("Delete session", func(m Model, id string) (Model, tea.Cmd) {
		return m.confirm("Session "+id+" and all its messages will be removed.", "Delete?",
			func(m Model, yes bool) (Model, tea.Cmd) {
				if !yes {
					return m.back(), nil
				}
				if err := m.app().Store.DeleteSession(m.shared.ctx, id); err != nil {
					return m.show("Delete", errString(err)), nil
				}
				if m.state.SessionID == id {
					m.state.SessionID = ""
				}
				m = m.back()
				m.notice = "✓ deleted " + id
				return m, nil
			})
	})
}

// Batch

func batchMenu(m Model) (Model, tea.Cmd) {
	return submenu(m, "Batch", []menuItem{
		{label: "Run prompts file", run: runBatch},
		{label: "Resume batch", run: func(m Model) (Model, tea.Cmd) {
			return m.withBatch("Resume batch", func(j domain.BatchJob) bool { return j.State.Resumable() },
				func(m Model, id string) (Model, tea.Cmd) {
					return m.runBatch("Resuming "+id, func(ctx context.Context, e *batch.Engine) (batch.Summary, error) {
						return e.Resume(ctx, id)
					})
				})
		}},
		{label: "Cancel batch", run: func(m Model) (Model, tea.Cmd) {
			return m.withBatch("Cancel batch", func(j domain.BatchJob) bool { return !j.State.Terminal() },
				func(m Model, id string) (Model, tea.Cmd) {
					if err := m.app().Batches.Cancel(m.shared.ctx, id); err != nil {
						return m.show("Cancel", errString(err)), nil
					}
					m = m.back()
					m.notice = "✓ cancelled " + id
					return m, nil
				})
		}},
		{label: "List batches", run: func(m Model) (Model, tea.Cmd) {
			eng := m.app().Batches
			r := m.renderer
			return m.start("Loading batches", func(ctx context.Context) doneMsg {
				jobs, err := eng.List(ctx, 50)
				if err != nil {
					return doneMsg{err: err}
				}
				return doneMsg{title: "Batches", out: r.Batches(jobs)}
			})
		}},
	})
}

func runBatch(m Model) (Model, tea.Cmd) {
	return m.ask("Prompts file", "prompts.txt (lines or --- blocks)", func(m Model, path string) (Model, tea.Cmd) {
		if path == "" {
			return m.back(), nil
		}
		prompts, err := readPrompts(path)
		if err != nil {
			return m.show("Batch", errString(err)), nil
		}
		return m.pick(fmt.Sprintf("Model for %d prompts", len(prompts)), modelItems(m.app().Catalog.All()),
			func(m Model, it pickItem) (Model, tea.Cmd) {
				spec := batch.Spec{ModelID: it.value, Prompts: prompts, Source: path}
				return m.runBatch("Batch on "+it.value, func(ctx context.Context, e *batch.Engine) (batch.Summary, error) {
					job, err := e.Submit(ctx, spec)
					if err != nil {
						return batch.Summary{}, err
					}
					return e.Run(ctx, job.ID)
				})
			})
	})
}

func readPrompts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.Config("read batch file", err)
	}
	defer f.Close()
	return batch.ParsePrompts(f)
}

// runBatch runs fn with progress lines streamed into the running view.
func (m Model) runBatch(title string, fn func(context.Context, *batch.Engine) (batch.Summary, error)) (Model, tea.Cmd) {
	eng := m.app().Batches
	sh := m.shared
	return m.start(title, func(ctx context.Context) doneMsg {
		eng.OnProgress = func(p batch.Progress) { sh.send(progressMsg(p.String())) }
		defer func() { eng.OnProgress = nil }()

		sum, err := fn(ctx, eng)
		out := ""
		if sum.BatchID != "" {
			out = sum.String()
		}
		return doneMsg{out: out, err: err}
	})
}

func (m Model) withBatch(title string, keep func(domain.BatchJob) bool, fn func(Model, string) (Model, tea.Cmd)) (Model, tea.Cmd) {
	eng := m.app().Batches
	return m.start("Loading batches", func(ctx context.Context) doneMsg {
		jobs, err := eng.List(ctx, 100)
		if err != nil {
			return doneMsg{err: err}
		}
		var items pickItems
		for _, j := range jobs {
			if !keep(j) {
				continue
			}
			items = append(items, pickItem{
				title: j.ID,
				desc:  fmt.Sprintf("%s · %s · %s", j.ModelID, j.State, humanize.Time(j.CreatedAt)),
				value: j.ID,
			})
		}
		return doneMsg{then: func(m Model) (Model, tea.Cmd) {
			return m.pick(title, items, func(m Model, it pickItem) (Model, tea.Cmd) {
				return fn(m, it.value)
			})
		}}
	})
}

// Workflows

func workflowMenu(m Model) (Model, tea.Cmd) {
	return submenu(m, "Workflows", []menuItem{
		{label: "Run workflow", run: runWorkflow},
		{label: "Resume run", run: resumeWorkflow},
		{label: "List runs", run: func(m Model) (Model, tea.Cmd) {
			eng := m.app().Flows
			r := m.renderer
			return m.start("Loading runs", func(ctx context.Context) doneMsg {
				runs, err := eng.Runs(ctx, 50)
				if err != nil {
					return doneMsg{err: err}
				}
				return doneMsg{title: "Workflow runs", out: r.Runs(runs)}
			})
		}},
	})
}

func runWorkflow(m Model) (Model, tea.Cmd) {
	var items pickItems
	for _, wf := range m.app().Workflows.List() {
		items = append(items, pickItem{
			title: wf.Name,
			desc:  fmt.Sprintf("%d steps · %s", len(wf.Steps), wf.Description),
			value: wf.Name,
		})
	}
	return m.pick("Workflows", items, func(m Model, it pickItem) (Model, tea.Cmd) {
		wf, err := m.app().Workflows.Resolve(it.value)
		if err != nil {
			return m.show("Workflow", errString(err)), nil
		}
		return m.ask("Variables for "+wf.Name, "key=value ...", func(m Model, line string) (Model, tea.Cmd) {
			vars, err := app.ParseVars(strings.Fields(line))
			if err != nil {
				return m.show("Workflow", errString(err)), nil
			}
			return m.runFlow("Running "+wf.Name, func(ctx context.Context) (workflow.Result, error) {
				return m.app().Flows.Start(ctx, wf, vars)
			})
		})
	})
}

func resumeWorkflow(m Model) (Model, tea.Cmd) {
	eng := m.app().Flows
	return m.start("Loading runs", func(ctx context.Context) doneMsg {
		runs, err := eng.Runs(ctx, 100)
		if err != nil {
			return doneMsg{err: err}
		}
		var items pickItems
		for _, r := range runs {
			if !r.State.Resumable() {
				continue
			}
			items = append(items, pickItem{
				title: r.ID,
				desc:  fmt.Sprintf("%s · step %d · %s", r.Workflow, r.NextStep+1, r.State),
				value: r.ID,
			})
		}
		return doneMsg{then: func(m Model) (Model, tea.Cmd) {
			return m.pick("Resume run", items, func(m Model, it pickItem) (Model, tea.Cmd) {
				return m.runFlow("Resuming "+it.value, func(ctx context.Context) (workflow.Result, error) {
					return m.app().Flows.Resume(ctx, it.value)
				})
			})
		}}
	})
}

func (m Model) runFlow(title string, fn func(context.Context) (workflow.Result, error)) (Model, tea.Cmd) {
	eng := m.app().Flows
	sh := m.shared
	r := m.renderer
	return m.start(title, func(ctx context.Context) doneMsg {
		eng.OnStep = func(o domain.StepOutcome) {
			sh.send(progressMsg(fmt.Sprintf("%s %s (%s)", o.StepID, o.Status, o.Model)))
		}
		defer func() { eng.OnStep = nil }()

		res, err := fn(ctx)
		out := ""
		if res.Run.ID != "" {
			out = fmt.Sprintf("run %s %s\n\n%s", res.Run.ID, res.Run.State, r.Steps(res.Steps))
		}
		return doneMsg{out: out, err: err}
	})
}

// Analytics

var windows = pickItems{
	{title: "last 24 hours", value: "24h"},
	{title: "last 7 days", value: "168h"},
	{title: "last 30 days", value: "720h"},
	{title: "all time", value: "0"},
}

func analyticsView(m Model) (Model, tea.Cmd) {
	return m.pick("Window", windows, func(m Model, it pickItem) (Model, tea.Cmd) {
		window, _ := time.ParseDuration(it.value)
		reader := m.app().Analytics
		r := m.renderer
		return m.start("Aggregating", func(ctx context.Context) doneMsg {
			rep, err := reader.Report(ctx, window)
			if err != nil {
				return doneMsg{err: err}
			}
			return doneMsg{title: "Analytics · " + it.title, out: r.Report(rep)}
		})
	})
}

func compareModels(m Model) (Model, tea.Cmd) {
	return m.ask("Models to compare", "gpt-4o claude-sonnet", func(m Model, line string) (Model, tea.Cmd) {
		ids := strings.Fields(line)
		if len(ids) == 0 {
			return m.back(), nil
		}
		reader := m.app().Analytics
		r := m.renderer
		return m.start("Comparing", func(ctx context.Context) doneMsg {
			stats, err := reader.Compare(ctx, ids, 0)
			if err != nil {
				return doneMsg{err: err}
			}
			return doneMsg{title: "Comparison", out: r.Compare(stats)}
		})
	})
}

// Templates

func templateMenu(m Model) (Model, tea.Cmd) {
	var items pickItems
	for _, t := range m.app().Templates.List() {
		items = append(items, pickItem{
			title: t.Name,
			desc:  fmt.Sprintf("%s · %s", t.Category, strings.Join(t.Variables, ", ")),
			value: t.Name,
		})
	}
	return m.pick("Templates", items, func(m Model, it pickItem) (Model, tea.Cmd) {
		t, err := m.app().Templates.Resolve(it.value)
		if err != nil {
			return m.show("Template", errString(err)), nil
		}
		var vars []string
		for _, v := range t.Variables {
			if v != "input" {
				vars = append(vars, v)
			}
		}
		return m.fillVars(t.Name, vars, map[string]string{})
	})
}

// fillVars asks for each variable in turn, then for the prompt.
func (m Model) fillVars(name string, pending []string, vars map[string]string) (Model, tea.Cmd) {
	if len(pending) == 0 {
		return m.ask("Prompt ("+name+")", "{input}", func(m Model, prompt string) (Model, tea.Cmd) {
			return m.plan(app.Ask{Prompt: prompt, Template: name, Vars: vars})
		})
	}
	v := pending[0]
	return m.ask(name+": "+v, "", func(m Model, value string) (Model, tea.Cmd) {
		vars[v] = value
		return m.fillVars(name, pending[1:], vars)
	})
}

// Settings

func toggleAutoConfirm(m Model) (Model, tea.Cmd) {
	on, err := m.state.ToggleAutoConfirm()
	if err != nil {
		m.notice = "✗ " + err.Error()
		return m, nil
	}
	if on {
		m.notice = "auto-confirm on: plans dispatch without asking"
	} else {
		m.notice = "auto-confirm off"
	}
	return m, nil
}

func errString(err error) string {
	return strings.TrimRight(render.ErrorString(err), "\n")
}
