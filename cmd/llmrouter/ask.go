package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joss/llmrouter/internal/app"
	"github.com/joss/llmrouter/internal/batch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/render"
	"github.com/joss/llmrouter/internal/tui"
)

var (
	promptFlag   string
	modelFlag    string
	templateFlag string
	systemFlag   string
	sessionFlag  string
	batchFlag    string
	varFlags     []string
	contextFlags []string
	budgetFlag   int
	rememberFlag bool
	stopOnError  bool
)

func addAskFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&promptFlag, "prompt", "p", "", "Prompt to dispatch (\"-\" reads stdin)")
	f.StringVarP(&modelFlag, "model", "m", "", "Model id (default: automatic selection)")
	f.StringVarP(&templateFlag, "template", "t", "", "Prompt template name")
	f.StringArrayVar(&varFlags, "var", nil, "Template variable name=value (repeatable)")
	f.StringArrayVarP(&contextFlags, "context", "c", nil, "Context file or glob under base_dir (repeatable)")
	f.StringVar(&batchFlag, "batch", "", "Run every prompt in a file (lines or --- blocks)")
	f.StringVar(&systemFlag, "system", "", "System prompt override")
	f.StringVar(&sessionFlag, "session", "", "Append to an existing session")
	f.IntVar(&budgetFlag, "budget", 0, "Token budget for the composed prompt (default from config)")
	f.BoolVar(&rememberFlag, "remember", false, "Store the selected model as the category preference")
	f.BoolVar(&stopOnError, "stop-on-error", false, "Fail a --batch run at the first failed item")
}

// runRoot dispatches from flags, or starts the menu when nothing was
// asked and stdin is a terminal.
func runRoot(cmd *cobra.Command) {
	interactive := promptFlag == "" && batchFlag == "" && render.IsTerminal(os.Stdin)

	a, ctx := openApp(interactive)
	defer finish()

	state := a.NewState()
	if cmd.Flags().Changed("budget") {
		state.Budget = budgetFlag
	}
	state.System = systemFlag
	if sessionFlag != "" {
		if _, err := state.ResumeSession(ctx, sessionFlag); err != nil {
			exitOnError(err)
		}
	}
	if len(contextFlags) > 0 {
		if _, err := state.AttachContext(contextFlags...); err != nil {
			exitOnError(err)
		}
	}

	switch {
	case batchFlag != "":
		runBatchFile(ctx, a, batchFlag)
	case interactive:
		if err := tui.Run(ctx, state); err != nil {
			exitOnError(err)
		}
	default:
		askOnce(ctx, state)
	}
}

func askOnce(ctx context.Context, state *app.State) {
	prompt := promptFlag
	if prompt == "" || prompt == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitOnError(errkind.Config("read stdin", err))
		}
		prompt = strings.TrimSpace(string(data))
	}
	vars, err := app.ParseVars(varFlags)
	if err != nil {
		exitOnError(err)
	}

	out, err := state.Ask(ctx, app.Ask{
		Prompt:   prompt,
		ModelID:  modelFlag,
		Template: templateFlag,
		Vars:     vars,
	})
	if err != nil {
		exitOnError(err)
	}

	if out.Result.Status != domain.StatusOK {
		exitOnError(errkind.Newf(errkind.KindBackend, "dispatch "+out.Model.ID, "%s", out.Result.Error))
	}
	render.Stdout().Raw(renderer().Result(out.Result))

	if offer, ok := state.RememberOffer(out); ok && rememberFlag {
		if err := state.Remember(ctx, offer); err != nil {
			exitOnError(err)
		}
		render.Stderr().Println("remembered %s for %s", offer.ModelID, offer.Category)
	}
	log.Info("ask_done", logging.Fields{"model": out.Model.ID, "session": state.SessionID})
}

func runBatchFile(ctx context.Context, a *app.App, path string) {
	prompts, err := readPrompts(path)
	if err != nil {
		exitOnError(err)
	}

	modelID := modelFlag
	if modelID == "" && len(prompts) > 0 {
		var tmpl *domain.PromptTemplate
		if templateFlag != "" {
			t, err := a.Templates.Resolve(templateFlag)
			if err != nil {
				exitOnError(err)
			}
			tmpl = &t
		}
		m, _, _, err := a.Dispatcher.Resolve(prompts[0], "", tmpl)
		if err != nil {
			exitOnError(err)
		}
		modelID = m.ID
	}

	job, err := a.Batches.Submit(ctx, batch.Spec{
		ModelID:     modelID,
		Prompts:     prompts,
		Source:      path,
		Template:    templateFlag,
		StopOnError: stopOnError,
	})
	if err != nil {
		exitOnError(err)
	}
	runBatch(ctx, a, func(ctx context.Context) (batch.Summary, error) {
		return a.Batches.Run(ctx, job.ID)
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

// runBatch streams progress lines to stderr and prints the summary.
func runBatch(ctx context.Context, a *app.App, fn func(context.Context) (batch.Summary, error)) {
	errw := render.Stderr()
	a.Batches.OnProgress = func(p batch.Progress) {
		errw.Println("%s", p.String())
	}
	sum, err := fn(ctx)
	if sum.BatchID != "" {
		render.Stdout().Println("%s", sum.String())
	}
	if err != nil {
		exitOnError(err)
	}
	if sum.State == domain.StateFailed {
		finish()
		os.Exit(1)
	}
}
