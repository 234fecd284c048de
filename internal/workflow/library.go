package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/watch"
)

// Problem is a workflow file that failed to load.
type Problem struct {
	Path string
	Err  error
}

// Library is the set of workflows found in <home>/workflows.
type Library struct {
	mu       sync.RWMutex
	dir      string
	items    map[string]domain.Workflow
	problems []Problem
	log      *logging.Logger
}

// Load reads every *.yaml / *.yml under dir. A missing directory yields
// an empty library; invalid files are reported by Problems.
func Load(dir string) (*Library, error) {
	l := &Library{dir: dir, log: logging.New("workflow")}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Dir returns the directory the library reads.
func (l *Library) Dir() string { return l.dir }

// Reload re-reads the directory.
func (l *Library) Reload() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errkind.Config("read workflows", err)
	}

	items := make(map[string]domain.Workflow)
	var problems []Problem
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && watch.IsYAML(e.Name()) {
			paths = append(paths, filepath.Join(l.dir, e.Name()))
		}
	}
	sort.Strings(paths)
	for _, path := range paths {
		wf, err := ParseFile(path)
		if err != nil {
			problems = append(problems, Problem{Path: path, Err: err})
			l.log.Warn("workflow_invalid", logging.Fields{"path": path}, err)
			continue
		}
		items[wf.Name] = wf
	}

	l.mu.Lock()
	l.items = items
	l.problems = problems
	l.mu.Unlock()
	return nil
}

// Watch reloads the library whenever the directory's YAML files change.
func (l *Library) Watch(onReload func()) (*watch.Dir, error) {
	w, err := watch.New(l.dir, func() {
		if err := l.Reload(); err != nil {
			l.log.Error("reload_failed", nil, err)
			return
		}
		if onReload != nil {
			onReload()
		}
	})
	if err != nil {
		return nil, err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return nil, err
	}
	return w, nil
}

// Get looks a workflow up by name.
func (l *Library) Get(name string) (domain.Workflow, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	wf, ok := l.items[name]
	return wf, ok
}

// Resolve is Get returning a ConfigError for unknown names.
func (l *Library) Resolve(name string) (domain.Workflow, error) {
	wf, ok := l.Get(name)
	if !ok {
		return wf, errkind.Newf(errkind.KindConfig, "resolve workflow", "unknown workflow %q", name)
	}
	return wf, nil
}

// List returns every workflow ordered by name.
func (l *Library) List() []domain.Workflow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Workflow, 0, len(l.items))
	for _, wf := range l.items {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Problems lists the files skipped by the last load.
func (l *Library) Problems() []Problem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Problem(nil), l.problems...)
}
