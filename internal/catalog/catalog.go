// Package catalog is the model registry: built-in descriptors, operator
// additions from config.json and models discovered on live backends.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

// Catalog holds descriptors by id. Descriptors are immutable once added;
// Catalog itself is not safe for concurrent mutation.
type Catalog struct {
	models   map[string]domain.ModelDescriptor
	defaults map[domain.Category]string
}

// New creates a catalog from descriptors and per-category defaults.
func New(models []domain.ModelDescriptor, defaults map[domain.Category]string) *Catalog {
	c := &Catalog{
		models:   make(map[string]domain.ModelDescriptor, len(models)),
		defaults: make(map[domain.Category]string, len(defaults)),
	}
	for _, m := range models {
		c.models[m.ID] = m
	}
	for cat, id := range defaults {
		c.defaults[cat] = id
	}
	return c
}

// Default returns a catalog of the built-in models.
func Default() *Catalog {
	return New(Builtin(), BuiltinDefaults())
}

// Add inserts or replaces descriptors (config.json models win over
// built-ins with the same id).
func (c *Catalog) Add(models ...domain.ModelDescriptor) {
	for _, m := range models {
		if m.Name == "" {
			m.Name = m.ID
		}
		if len(m.Categories) == 0 {
			m.Categories = []domain.Category{domain.CategoryGeneral}
		}
		c.models[m.ID] = m
	}
}

// Merge adds discovered models whose id is not already registered and
// returns how many were added.
func (c *Catalog) Merge(discovered []domain.ModelDescriptor) int {
	added := 0
	for _, m := range discovered {
		if _, ok := c.models[m.ID]; ok {
			continue
		}
		c.Add(m)
		added++
	}
	return added
}

// SetDefault makes id the default model for a category.
func (c *Catalog) SetDefault(cat domain.Category, id string) error {
	m, ok := c.models[id]
	if !ok {
		return errkind.Newf(errkind.KindResolution, "set default", "unknown model %q", id)
	}
	if cat != domain.CategoryGeneral && !m.Advertises(cat) {
		return errkind.Newf(errkind.KindResolution, "set default", "model %q does not advertise %s", id, cat)
	}
	c.defaults[cat] = id
	return nil
}

// Get looks a model up by id.
func (c *Catalog) Get(id string) (domain.ModelDescriptor, bool) {
	m, ok := c.models[id]
	return m, ok
}

// Resolve is Get returning a ResolutionError for unknown ids.
func (c *Catalog) Resolve(id string) (domain.ModelDescriptor, error) {
	m, ok := c.models[id]
	if !ok {
		return domain.ModelDescriptor{}, errkind.Newf(errkind.KindResolution, "resolve model", "unknown model %q (see `llmrouter models`)", id)
	}
	return m, nil
}

// All returns every model sorted by id.
func (c *Catalog) All() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Advertising returns the models declaring cat, by affinity descending
// then id.
func (c *Catalog) Advertising(cat domain.Category) []domain.ModelDescriptor {
	var out []domain.ModelDescriptor
	for _, m := range c.models {
		if m.Advertises(cat) {
			out = append(out, m)
		}
	}
	SortByAffinity(out, cat)
	return out
}

// SortByAffinity orders models by affinity for cat (desc), ties by id.
func SortByAffinity(models []domain.ModelDescriptor, cat domain.Category) {
	sort.SliceStable(models, func(i, j int) bool {
		ai, aj := models[i].AffinityFor(cat), models[j].AffinityFor(cat)
		if ai != aj {
			return ai > aj
		}
		return models[i].ID < models[j].ID
	})
}

// DefaultFor returns the category's default model: the configured default
// if registered, else the highest-affinity advertiser, else the general
// default.
func (c *Catalog) DefaultFor(cat domain.Category) (domain.ModelDescriptor, bool) {
	if id, ok := c.defaults[cat]; ok {
		if m, ok := c.models[id]; ok {
			return m, true
		}
	}
	if adv := c.Advertising(cat); len(adv) > 0 {
		return adv[0], true
	}
	if cat != domain.CategoryGeneral {
		return c.DefaultFor(domain.CategoryGeneral)
	}
	all := c.All()
	if len(all) == 0 {
		return domain.ModelDescriptor{}, false
	}
	return all[0], true
}

// Search fuzzy-matches query against id, name, backend and categories.
// An empty query returns All().
func (c *Catalog) Search(query string) []domain.ModelDescriptor {
	all := c.All()
	if strings.TrimSpace(query) == "" {
		return all
	}
	matches := fuzzy.FindFrom(query, searchSource(all))
	out := make([]domain.ModelDescriptor, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}

// searchSource adapts descriptors to fuzzy.Source.
type searchSource []domain.ModelDescriptor

func (s searchSource) String(i int) string {
	m := s[i]
	cats := make([]string, len(m.Categories))
	for j, c := range m.Categories {
		cats[j] = string(c)
	}
	return fmt.Sprintf("%s %s %s %s", m.ID, m.Name, m.Backend, strings.Join(cats, " "))
}

func (s searchSource) Len() int { return len(s) }
