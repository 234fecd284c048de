package compose

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// MaxFileSize is the largest file accepted as context.
const MaxFileSize = 1 << 20

// ErrEscapesBase is returned for paths outside the base directory.
var ErrEscapesBase = errors.New("path escapes base directory")

// Loader reads context files confined to a base directory.
type Loader struct {
	base     string
	composer *Composer
	log      *logging.Logger

	// filesystem hooks, replaced in tests
	readFile     func(string) ([]byte, error)
	stat         func(string) (os.FileInfo, error)
	evalSymlinks func(string) (string, error)
}

// NewLoader creates a loader rooted at base. An empty base means the
// working directory.
func NewLoader(base string, composer *Composer) (*Loader, error) {
	if base == "" {
		base = "."
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errkind.Config("context base", err)
	}
	if composer == nil {
		composer = New(nil)
	}
	return &Loader{
		base:         abs,
		composer:     composer,
		log:          logging.New("compose.loader"),
		readFile:     os.ReadFile,
		stat:         os.Stat,
		evalSymlinks: filepath.EvalSymlinks,
	}, nil
}

// Base returns the absolute base directory.
func (l *Loader) Base() string { return l.base }

// Resolve maps a user path to an absolute path inside the base. The
// lexical check runs before any filesystem access; symlinks are then
// resolved and checked again.
func (l *Loader) Resolve(path string) (string, error) {
	joined, err := l.lexical(path)
	if err != nil {
		return "", err
	}
	resolved, err := l.evalSymlinks(joined)
	if err != nil {
		return "", errkind.Resolution("resolve context path", err)
	}
	realBase, err := l.evalSymlinks(l.base)
	if err != nil {
		return "", errkind.Resolution("resolve context base", err)
	}
	if !within(realBase, resolved) {
		return "", errkind.Resolution("resolve context path", fmt.Errorf("%s: %w", path, ErrEscapesBase))
	}
	return resolved, nil
}

func (l *Loader) lexical(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errkind.Newf(errkind.KindResolution, "resolve context path", "empty path")
	}
	joined := path
	if !filepath.IsAbs(joined) {
		joined = filepath.Join(l.base, joined)
	}
	joined = filepath.Clean(joined)
	if !within(l.base, joined) {
		return "", errkind.Resolution("resolve context path", fmt.Errorf("%s: %w", path, ErrEscapesBase))
	}
	return joined, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// LoadFile reads one file into a context item labeled by its path
// relative to the base.
func (l *Loader) LoadFile(path string) (domain.ContextItem, error) {
	abs, err := l.Resolve(path)
	if err != nil {
		return domain.ContextItem{}, err
	}
	info, err := l.stat(abs)
	if err != nil {
		return domain.ContextItem{}, errkind.Resolution("read context", err)
	}
	if info.IsDir() {
		return domain.ContextItem{}, errkind.Newf(errkind.KindResolution, "read context", "%s is a directory (use a glob such as %s/**/*)", path, path)
	}
	if info.Size() > MaxFileSize {
		return domain.ContextItem{}, errkind.Newf(errkind.KindResolution, "read context", "%s is larger than %d bytes", path, MaxFileSize)
	}
	data, err := l.readFile(abs)
	if err != nil {
		return domain.ContextItem{}, errkind.Resolution("read context", err)
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return domain.ContextItem{}, errkind.Newf(errkind.KindResolution, "read context", "%s looks binary", path)
	}

	label := l.label(abs)
	return l.composer.Item(domain.ContextFile, label, string(data), DetectLanguage(abs)), nil
}

func (l *Loader) label(abs string) string {
	realBase, err := l.evalSymlinks(l.base)
	if err != nil {
		realBase = l.base
	}
	if rel, err := filepath.Rel(realBase, abs); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(abs)
}

// Load expands a path or a doublestar glob into context items in lexical
// order. Files that are binary or too large are skipped when they come
// from a glob and rejected when named directly.
func (l *Loader) Load(pattern string) ([]domain.ContextItem, error) {
	if !hasMeta(pattern) {
		it, err := l.LoadFile(pattern)
		if err != nil {
			return nil, err
		}
		return []domain.ContextItem{it}, nil
	}

	rel := pattern
	if filepath.IsAbs(rel) {
		r, err := filepath.Rel(l.base, rel)
		if err != nil {
			return nil, errkind.Resolution("expand context glob", err)
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") || strings.Contains(rel, "/../") {
		return nil, errkind.Resolution("expand context glob", fmt.Errorf("%s: %w", pattern, ErrEscapesBase))
	}
	if !doublestar.ValidatePattern(rel) {
		return nil, errkind.Newf(errkind.KindResolution, "expand context glob", "invalid pattern %q", pattern)
	}

	matches, err := doublestar.Glob(os.DirFS(l.base), rel, doublestar.WithFilesOnly())
	if err != nil {
		return nil, errkind.Resolution("expand context glob", err)
	}
	sort.Strings(matches)

	var items []domain.ContextItem
	for _, m := range matches {
		it, err := l.LoadFile(filepath.FromSlash(m))
		if err != nil {
			l.log.Debug("glob_skip", logging.Fields{"path": m, "reason": err.Error()})
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, errkind.Resolution("expand context glob", fmt.Errorf("%s: %w", pattern, fs.ErrNotExist))
	}
	return items, nil
}

// LoadAll loads several paths or globs, preserving argument order.
func (l *Loader) LoadAll(patterns []string) ([]domain.ContextItem, error) {
	var items []domain.ContextItem
	for _, p := range patterns {
		got, err := l.Load(p)
		if err != nil {
			return nil, err
		}
		items = append(items, got...)
	}
	return items, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
