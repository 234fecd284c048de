// Package app wires the dispatch pipeline from a home directory and
// holds the operator's session-scoped state.
package app

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/joss/llmrouter/internal/analytics"
	"github.com/joss/llmrouter/internal/backend"
	"github.com/joss/llmrouter/internal/batch"
	"github.com/joss/llmrouter/internal/catalog"
	"github.com/joss/llmrouter/internal/compose"
	"github.com/joss/llmrouter/internal/config"
	"github.com/joss/llmrouter/internal/dispatch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/exec"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/preferences"
	"github.com/joss/llmrouter/internal/selector"
	"github.com/joss/llmrouter/internal/store"
	"github.com/joss/llmrouter/internal/templates"
	"github.com/joss/llmrouter/internal/tokens"
	"github.com/joss/llmrouter/internal/workflow"
	"github.com/joss/llmrouter/pkg/llm"
)

// Options controls how Open builds the pipeline.
type Options struct {
	// Home is the router home directory.
	Home string
	// Adapters replaces the set built from providers.json.
	Adapters *llm.AdapterSet
	// HTTPClient and Runner are passed to the backend factory.
	HTTPClient backend.HTTPClient
	Runner     exec.Runner
}

// App is the wired pipeline for one home directory.
type App struct {
	Paths     *config.Paths
	Config    config.Config
	Providers config.Providers

	Catalog    *catalog.Catalog
	Prefs      *preferences.Store
	Selector   *selector.Selector
	Adapters   *llm.AdapterSet
	Composer   *compose.Composer
	Loader     *compose.Loader
	Templates  *templates.Library
	Workflows  *workflow.Library
	Store      *store.DB
	Dispatcher *dispatch.Dispatcher
	Batches    *batch.Engine
	Flows      *workflow.Engine
	Analytics  *analytics.Reader

	log *logging.Logger
}

// Open loads configuration and opens the session store. A store that
// is locked by another process fails with a StoreError.
func Open(opts Options) (*App, error) {
	loaded, err := config.Load(opts.Home)
	if err != nil {
		return nil, err
	}
	if err := loaded.Paths.Ensure(); err != nil {
		return nil, errkind.Config("create home", err)
	}

	a := &App{
		Paths:     loaded.Paths,
		Config:    loaded.Config,
		Providers: loaded.Providers,
		log:       logging.New("app"),
	}

	a.Catalog = catalog.Default()
	a.Catalog.Add(a.Config.Models...)

	if a.Prefs, err = preferences.Load(a.Paths.PreferencesFile); err != nil {
		return nil, err
	}

	a.Adapters = opts.Adapters
	if a.Adapters == nil {
		var fopts []backend.Option
		if opts.HTTPClient != nil {
			fopts = append(fopts, backend.WithHTTPClient(opts.HTTPClient))
		}
		if opts.Runner != nil {
			fopts = append(fopts, backend.WithRunner(opts.Runner))
		}
		a.Adapters = backend.NewFactory(fopts...).Build(a.Providers)
	}

	if err := a.applyDefaultModel(); err != nil {
		return nil, err
	}

	a.Composer = compose.New(tokens.Default)
	if a.Loader, err = compose.NewLoader(a.Config.BaseDir, a.Composer); err != nil {
		return nil, err
	}
	if a.Templates, err = templates.Load(a.Paths.Templates); err != nil {
		return nil, err
	}
	if a.Workflows, err = workflow.Load(a.Paths.Workflows); err != nil {
		return nil, err
	}

	if a.Store, err = store.Open(a.Paths.Database); err != nil {
		return nil, err
	}
	a.Prefs.SetMirror(a.Store)

	a.Selector = selector.New(a.Catalog, a.Prefs)
	a.Dispatcher = dispatch.New(a.Catalog, a.Selector, a.Adapters, a.Composer, a.Store)
	a.Batches = batch.NewEngine(a.Store, a.Dispatcher, a.Templates)
	a.Batches.Budget = a.Config.TokenBudget
	a.Flows = workflow.NewEngine(a.Store, a.Dispatcher, a.Templates, a.Workflows)
	a.Flows.Budget = a.Config.TokenBudget
	a.Analytics = analytics.NewReader(a.Store)

	a.log.Info("app_opened", logging.Fields{
		"home":      a.Paths.Home,
		"models":    len(a.Catalog.All()),
		"adapters":  len(a.Adapters.List()),
		"templates": len(a.Templates.List()),
		"workflows": len(a.Workflows.List()),
	})
	return a, nil
}

// applyDefaultModel makes config.json's default_model the general
// default. A native default must point at an existing model file.
func (a *App) applyDefaultModel() error {
	id := a.Config.DefaultModel
	if id == "" {
		return nil
	}
	m, ok := a.Catalog.Get(id)
	if !ok {
		return errkind.Newf(errkind.KindConfig, "default model", "default_model %q is not in the catalog", id)
	}
	if err := a.Catalog.SetDefault(domain.CategoryGeneral, id); err != nil {
		return errkind.Config("default model", err)
	}
	if m.Backend != domain.BackendNative {
		return nil
	}
	ad, ok := a.Adapters.Get(domain.BackendNative)
	if !ok {
		return nil
	}
	native, ok := ad.(*backend.Native)
	if !ok {
		return nil
	}
	path := native.ModelPath(m)
	if _, err := os.Stat(path); err != nil {
		return errkind.Newf(errkind.KindConfig, "default model", "model file for %q not found: %s", id, path)
	}
	return nil
}

// Discover merges models reported by every adapter into the catalog and
// returns how many were added. Unreachable backends are logged and
// skipped.
func (a *App) Discover(ctx context.Context) int {
	adapters := a.Adapters.List()
	found := make([][]domain.ModelDescriptor, len(adapters))

	var g errgroup.Group
	for i, ad := range adapters {
		i, ad := i, ad
		g.Go(func() error {
			models, err := ad.ListModels(ctx)
			if err != nil {
				a.log.Warn("discover_failed", logging.Fields{"backend": string(ad.Kind())}, err)
				return nil
			}
			found[i] = models
			return nil
		})
	}
	g.Wait()

	// Merge in adapter order so the catalog does not depend on timing.
	added := 0
	for _, models := range found {
		added += a.Catalog.Merge(models)
	}
	return added
}

// Doctor validates every adapter and reports template and workflow
// files that failed to load.
func (a *App) Doctor(ctx context.Context) ([]llm.Health, []error) {
	var problems []error
	for _, p := range a.Templates.Problems() {
		problems = append(problems, errkind.Config("template "+p.Path, p.Err))
	}
	for _, p := range a.Workflows.Problems() {
		problems = append(problems, errkind.Config("workflow "+p.Path, p.Err))
	}
	return a.Adapters.ValidateAll(ctx), problems
}

// Export writes a session export to <home>/exports/<id>.<ext> and
// returns the path.
func (a *App) Export(ctx context.Context, id string, f store.ExportFormat) (string, error) {
	data, err := a.Store.ExportSession(ctx, id, f)
	if err != nil {
		return "", err
	}
	dir := a.Paths.Path("exports")
	if err := config.EnsureDir(dir); err != nil {
		return "", errkind.Config("create exports dir", err)
	}
	path := filepath.Join(dir, id+f.Ext())
	if err := config.WriteFileAtomic(path, data); err != nil {
		return "", errkind.Config("write export", err)
	}
	return path, nil
}

// SaveConfig persists the current configuration.
func (a *App) SaveConfig() error {
	return a.Config.Save(a.Paths)
}

// Close releases the store lock.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
