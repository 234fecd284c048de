// Package templates loads the prompt template library from
// <home>/templates/*.yaml.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
	"github.com/joss/llmrouter/internal/watch"
)

var (
	placeholderRE = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	identRE       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Problem is a template file that failed to load.
type Problem struct {
	Path string
	Err  error
}

// Library is the set of templates available for composition. Files in
// the directory override built-ins with the same name.
type Library struct {
	mu       sync.RWMutex
	dir      string
	items    map[string]domain.PromptTemplate
	problems []Problem
	log      *logging.Logger
}

// Load reads every *.yaml / *.yml under dir. A missing directory yields
// the built-ins only. Files that fail to parse are skipped and reported
// by Problems.
func Load(dir string) (*Library, error) {
	l := &Library{dir: dir, log: logging.New("templates")}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Reload re-reads the directory.
func (l *Library) Reload() error {
	items := make(map[string]domain.PromptTemplate)
	for _, t := range Builtins() {
		items[t.Name] = t
	}

	var problems []Problem
	paths, err := yamlFiles(l.dir)
	if err != nil {
		return errkind.Config("read templates", err)
	}
	for _, path := range paths {
		t, err := ParseFile(path)
		if err != nil {
			problems = append(problems, Problem{Path: path, Err: err})
			l.log.Warn("template_invalid", logging.Fields{"path": path}, err)
			continue
		}
		items[t.Name] = t
	}

	l.mu.Lock()
	l.items = items
	l.problems = problems
	l.mu.Unlock()

	l.log.Debug("templates_loaded", logging.Fields{"count": len(items), "problems": len(problems)})
	return nil
}

// Watch reloads the library whenever the directory's YAML files change.
// The caller stops the returned watcher.
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

// Get looks a template up by name.
func (l *Library) Get(name string) (domain.PromptTemplate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.items[name]
	return t, ok
}

// Resolve is Get returning a ResolutionError for unknown names.
func (l *Library) Resolve(name string) (domain.PromptTemplate, error) {
	t, ok := l.Get(name)
	if !ok {
		return t, errkind.Newf(errkind.KindResolution, "resolve template", "unknown template %q", name)
	}
	return t, nil
}

// List returns every template ordered by name.
func (l *Library) List() []domain.PromptTemplate {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PromptTemplate, 0, len(l.items))
	for _, t := range l.items {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Problems returns the files skipped by the last load.
func (l *Library) Problems() []Problem {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Problem(nil), l.problems...)
}

// ParseFile parses one template file.
func ParseFile(path string) (domain.PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PromptTemplate{}, err
	}
	t, err := Parse(data)
	if err != nil {
		return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	t.Source = path
	return t, nil
}

// Parse decodes and validates a template. Unknown keys are rejected.
func Parse(data []byte) (domain.PromptTemplate, error) {
	var t domain.PromptTemplate
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return t, errors.New("empty template")
		}
		return t, err
	}
	return t, Validate(t)
}

// Validate checks required fields and variable names.
func Validate(t domain.PromptTemplate) error {
	if strings.TrimSpace(t.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("template %q: body is required", t.Name)
	}
	if t.Category != "" && !validCategory(t.Category) {
		return fmt.Errorf("template %q: unknown category %q", t.Name, t.Category)
	}
	seen := map[string]bool{}
	for _, v := range t.Variables {
		if !identRE.MatchString(v) {
			return fmt.Errorf("template %q: invalid variable name %q", t.Name, v)
		}
		if seen[v] {
			return fmt.Errorf("template %q: duplicate variable %q", t.Name, v)
		}
		seen[v] = true
	}
	return nil
}

// Placeholders lists the distinct {name} references in text, in order of
// first appearance.
func Placeholders(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range placeholderRE.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

func validCategory(c domain.Category) bool {
	for _, k := range domain.Categories() {
		if k == c {
			return true
		}
	}
	return false
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !watch.IsYAML(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
