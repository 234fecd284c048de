package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/metrics"
	"github.com/joss/llmrouter/internal/render"
)

func modelsCmd() *cobra.Command {
	var discover bool
	var category string
	var query string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Long: `List every model in the catalog.

With --discover, backends are asked for their installed models first
(Ollama tags, llama.cpp model files, provider model lists).`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			if discover {
				added := a.Discover(ctx)
				render.Stderr().Println("discovered %d new model(s)", added)
			}

			models := a.Catalog.All()
			switch {
			case category != "":
				models = a.Catalog.Advertising(domain.Category(category))
			case query != "":
				models = a.Catalog.Search(query)
			}
			render.Stdout().Raw(renderer().Models(models))
		},
	}

	cmd.Flags().BoolVar(&discover, "discover", false, "Ask backends for installed models")
	cmd.Flags().StringVar(&category, "category", "", "Only models advertising a category")
	cmd.Flags().StringVarP(&query, "search", "s", "", "Fuzzy search by id, name, or backend")
	return cmd
}

func selectCmd() *cobra.Command {
	var explain bool

	cmd := &cobra.Command{
		Use:   "select <prompt>",
		Short: "Show which model a prompt would be routed to",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, _ := openApp(false)
			defer finish()

			prompt := strings.Join(args, " ")
			sel := a.Selector.Select(prompt)
			if !explain {
				top, ok := sel.Top()
				if !ok {
					exitOnError(errkind.Newf(errkind.KindResolution, "select", "no model for category %s", sel.Category))
				}
				render.Stdout().Println("%s\t%s\t%.2f", top.ID, sel.Category, sel.Confidence)
				return
			}
			render.Stdout().Raw(renderer().Selection(sel, a.Selector.Scores(prompt)))
		},
	}

	cmd.Flags().BoolVar(&explain, "explain", false, "Show scores and matched keywords")
	return cmd
}

func rememberCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "remember [category] [model]",
		Short: "Prefer a model for a category",
		Long: `Store the preferred model for a category. The preference outranks
the built-in default the next time a prompt of that category is routed.

With --list, show the stored preferences.`,
		Args: cobra.RangeArgs(0, 2),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			if list || len(args) == 0 {
				render.Stdout().Raw(renderer().Preferences(a.Prefs.All()))
				return
			}
			if len(args) != 2 {
				exitOnError(errkind.Newf(errkind.KindConfig, "remember", "need a category and a model id"))
			}
			cat := domain.Category(args[0])
			if err := a.Selector.Remember(ctx, cat, args[1]); err != nil {
				exitOnError(err)
			}
			render.Stdout().Println("%s %s preferred for %s", render.BoolIcon(true), args[1], cat)
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "List stored preferences")
	return cmd
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List prompt templates",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, _ := openApp(false)
			defer finish()
			render.Stdout().Raw(renderer().Templates(a.Templates.List()))
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Print a template",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			a, _ := openApp(false)
			defer finish()

			t, err := a.Templates.Resolve(args[0])
			if err != nil {
				exitOnError(err)
			}
			w := render.Stdout()
			w.Header("%s (%s)", t.Name, t.Category)
			if len(t.Variables) > 0 {
				w.Item("variables: %s", strings.Join(t.Variables, ", "))
			}
			if t.System != "" {
				w.Section("System")
				w.Raw(t.System + "\n")
			}
			w.Section("Body")
			w.Raw(t.Body + "\n")
		},
	})
	return cmd
}

func analyticsCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Per-model usage, success rate, and latency",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			rep, err := a.Analytics.Report(ctx, window)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Report(rep))
		},
	}

	cmd.Flags().DurationVarP(&window, "window", "w", 0, "Only the last window (e.g. 24h, 168h); 0 means all time")
	return cmd
}

func compareCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "compare <model> <model>...",
		Short: "Compare models side by side",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			for _, id := range args {
				if _, err := a.Catalog.Resolve(id); err != nil {
					exitOnError(err)
				}
			}
			stats, err := a.Analytics.Compare(ctx, args, window)
			if err != nil {
				exitOnError(err)
			}
			render.Stdout().Raw(renderer().Compare(stats))
		},
	}

	cmd.Flags().DurationVarP(&window, "window", "w", 0, "Only the last window; 0 means all time")
	return cmd
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check backends, templates, and workflows",
		Long: `Diagnose the router environment.

Checks:
  - Every backend's configuration (binaries, model dirs, API keys)
  - Template and workflow files that failed to load`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			health, problems := a.Doctor(ctx)
			w := render.Stdout()
			w.Raw(renderer().Health(health))

			if len(problems) > 0 {
				w.Section("Files")
				for _, p := range problems {
					w.Item("%s %v", render.BoolIcon(false), p)
				}
			}

			healthy := len(problems) == 0
			for _, h := range health {
				if h.Err != nil {
					healthy = false
				}
			}
			if !healthy {
				finish()
				os.Exit(1)
			}
		},
	}
}

func metricsCmd() *cobra.Command {
	var addr string
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Serve analytics in the Prometheus text format",
		Long: `Serve /metrics and /health until interrupted. The store stays
locked while serving, so the series cover dispatches recorded before the
server started; windowed series still age out over time.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			a, ctx := openApp(false)
			defer finish()

			srv := metrics.NewServer(addr, metrics.NewExporter(a.Analytics, window))
			if err := srv.Start(); err != nil {
				exitOnError(errkind.Config("listen "+addr, err))
			}
			shutdown.Register("metrics", srv.Stop)
			render.Stderr().Println("serving http://%s/metrics", srv.Addr())
			<-ctx.Done()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9464", "Listen address")
	cmd.Flags().DurationVarP(&window, "window", "w", 0, "Only the last window; 0 means all time")
	return cmd
}
