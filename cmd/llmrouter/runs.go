package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/llmrouter/internal/app"
	"github.com/joss/llmrouter/internal/batch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/render"
	"github.com/joss/llmrouter/internal/workflow"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Batch commands",
		Long: `Run a file of prompts against one model with a checkpoint after
every item. An interrupted batch pauses and resumes where it stopped.`,
	}

	// llmrouter batch run <file>
	var model, template string
	var stop bool
	runCmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Submit and run a prompts file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			modelFlag, templateFlag, stopOnError = model, template, stop
			a, ctx := openApp(false)
			defer finish()
			runBatchFile(ctx, a, args[0])
		},
	}
	runCmd.Flags().StringVarP(&model, "model", "m", "", "Model id (default: selected from the first prompt)")
	runCmd.Flags().StringVarP(&template, "template", "t", "", "Template applied to every prompt")
	runCmd.Flags().BoolVar(&stop, "stop-on-error", false, "Fail at the first failed item")

	resumeCmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Continue a paused or interrupted batch",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()
			runBatch(ctx, a, func(ctx context.Context) (batch.Summary, error) {
				return a.Batches.Resume(ctx, args[0])
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a batch and its items",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			sum, job, err := a.Batches.Status(ctx, args[0])
			if err != nil {
				exitOnError(err)
			}
			w := render.Stdout()
			w.Raw(renderer().Batch(job))
			w.Println("%s", sum.String())
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a batch; finished items are kept",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			if err := a.Batches.Cancel(ctx, args[0]); err != nil {
				exitOnError(err)
			}
			render.Stdout().Println("%s cancelled %s", render.StateIcon(domain.StateCancelled), args[0])
		},
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List batches, most recent first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			jobs, err := a.Batches.List(ctx, limit)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Batches(jobs))
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum batches")

	cmd.AddCommand(runCmd, resumeCmd, statusCmd, cancelCmd, listCmd)
	return cmd
}

func workflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflow",
		Aliases: []string{"wf"},
		Short:   "Workflow commands",
		Long: `Run declarative multi-step workflows from <home>/workflows/*.yaml.
Each step's output is bound to later steps as <step>.output.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, _ := openApp(false)
			defer finish()

			w := render.Stdout()
			w.Raw(renderer().Workflows(a.Workflows.List()))
			for _, p := range a.Workflows.Problems() {
				w.Item("%s %s: %v", render.BoolIcon(false), p.Path, p.Err)
			}
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate <name|file>",
		Short: "Check a workflow's models, templates, and bindings",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, _ := openApp(false)
			defer finish()

			wf := loadWorkflow(a, args[0])
			if err := a.Flows.Validate(wf); err != nil {
				exitOnError(err)
			}
			render.Stdout().Println("%s %s: %d steps", render.BoolIcon(true), wf.Name, len(wf.Steps))
		},
	}

	var vars []string
	runCmd := &cobra.Command{
		Use:   "run <name|file>",
		Short: "Start a workflow run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			wf := loadWorkflow(a, args[0])
			initial, err := app.ParseVars(vars)
			if err != nil {
				exitOnError(err)
			}
			runFlow(ctx, a, func(ctx context.Context) (workflow.Result, error) {
				return a.Flows.Start(ctx, wf, initial)
			})
		},
	}
	runCmd.Flags().StringArrayVar(&vars, "var", nil, "Initial variable name=value (repeatable)")

	resumeCmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue a paused or interrupted run",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()
			runFlow(ctx, a, func(ctx context.Context) (workflow.Result, error) {
				return a.Flows.Resume(ctx, args[0])
			})
		},
	}

	var limit int
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List workflow runs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			runs, err := a.Flows.Runs(ctx, limit)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Runs(runs))
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs")

	cmd.AddCommand(listCmd, validateCmd, runCmd, resumeCmd, runsCmd)
	return cmd
}

// loadWorkflow resolves a library name, falling back to a file path.
func loadWorkflow(a *app.App, ref string) domain.Workflow {
	if wf, ok := a.Workflows.Get(ref); ok {
		return wf
	}
	wf, err := workflow.ParseFile(ref)
	if err != nil {
		exitOnError(err)
	}
	return wf
}

func runFlow(ctx context.Context, a *app.App, fn func(context.Context) (workflow.Result, error)) {
	errw := render.Stderr()
	a.Flows.OnStep = func(o domain.StepOutcome) {
		errw.Println("%s %s %s", render.StatusIcon(o.Result.Status), o.StepID, o.Status)
	}

	res, err := fn(ctx)
	w := render.Stdout()
	if res.Run.ID != "" {
		w.Raw(renderer().Steps(res.Steps))
		w.Println("%s run %s %s", render.StateIcon(res.Run.State), res.Run.ID, res.Run.State)
	}
	if err != nil {
		exitOnError(err)
	}
	if res.Run.State == domain.StateFailed {
		finish()
		os.Exit(1)
	}
}
