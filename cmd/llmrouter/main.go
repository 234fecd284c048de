// Package main provides the llmrouter CLI entrypoint.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/llmrouter/internal/render"
)

var (
	version = "0.1.0"
	pretty  = true

	homeFlag string
	verbose  bool
	noColor  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "llmrouter",
		Short: "Route prompts to local and cloud language models",
		Long: `llmrouter: interactive terminal router for LLM backends.

Usage modes:
  llmrouter                      Start the interactive menu (on a terminal)
  llmrouter --prompt "..."       Dispatch one prompt and print the response
  llmrouter --batch prompts.txt  Run a prompts file against one model
  llmrouter <command>            Run a specific command (see below)

Prompts are routed to the best model for their category unless --model
names one. Context files are read relative to base_dir in config.json.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !render.IsTerminal(os.Stdout) {
				pretty = false
				noColor = true
			}
			if noColor {
				render.SetColor(false)
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			runRoot(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Home directory (default $LLMROUTER_HOME or ~/.llmrouter)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr at debug level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	addAskFlags(rootCmd)

	rootCmd.AddGroup(
		&cobra.Group{ID: "dispatch", Title: "Dispatch:"},
		&cobra.Group{ID: "sessions", Title: "Sessions:"},
		&cobra.Group{ID: "runs", Title: "Batches & Workflows:"},
		&cobra.Group{ID: "insight", Title: "Insight:"},
	)

	// Dispatch commands
	models := modelsCmd()
	models.GroupID = "dispatch"
	rootCmd.AddCommand(models)

	sel := selectCmd()
	sel.GroupID = "dispatch"
	rootCmd.AddCommand(sel)

	remember := rememberCmd()
	remember.GroupID = "dispatch"
	rootCmd.AddCommand(remember)

	tmpl := templatesCmd()
	tmpl.GroupID = "dispatch"
	rootCmd.AddCommand(tmpl)

	// Session commands
	sessions := sessionsCmd()
	sessions.GroupID = "sessions"
	rootCmd.AddCommand(sessions)

	// Batch and workflow commands
	b := batchCmd()
	b.GroupID = "runs"
	rootCmd.AddCommand(b)

	wf := workflowCmd()
	wf.GroupID = "runs"
	rootCmd.AddCommand(wf)

	// Insight commands
	an := analyticsCmd()
	an.GroupID = "insight"
	rootCmd.AddCommand(an)

	cmp := compareCmd()
	cmp.GroupID = "insight"
	rootCmd.AddCommand(cmp)

	doctor := doctorCmd()
	doctor.GroupID = "insight"
	rootCmd.AddCommand(doctor)

	met := metricsCmd()
	met.GroupID = "insight"
	rootCmd.AddCommand(met)

	// Ungrouped
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		render.Error(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show llmrouter version",
		Run: func(cmd *cobra.Command, args []string) {
			render.Stdout().Println("llmrouter version %s", version)
		},
	}
}
