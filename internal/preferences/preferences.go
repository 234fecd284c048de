// Package preferences persists the operator's category to model choices
// in preferences.json, mirroring each write into the session store.
package preferences

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/joss/llmrouter/internal/config"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/logging"
)

// Mirror receives every preference write. The session store implements it.
type Mirror interface {
	SetPreference(ctx context.Context, p domain.Preference) error
}

// Store is the in-memory view of preferences.json. Last write wins.
type Store struct {
	mu     sync.RWMutex
	path   string
	prefs  map[domain.Category]string
	mirror Mirror
	log    *logging.Logger
}

// Load reads path; a missing file yields an empty store.
func Load(path string) (*Store, error) {
	s := &Store{
		path:  path,
		prefs: make(map[domain.Category]string),
		log:   logging.New("preferences"),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, errkind.Config("read preferences", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.prefs); err != nil {
		return nil, errkind.Config("parse preferences", err)
	}
	return s, nil
}

// SetMirror attaches a secondary sink for writes.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirror = m
}

// Get returns the preferred model for a category.
func (s *Store) Get(cat domain.Category) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.prefs[cat]
	return id, ok
}

// All returns every preference ordered by category.
func (s *Store) All() []domain.Preference {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Preference, 0, len(s.prefs))
	for cat, id := range s.prefs {
		out = append(out, domain.Preference{Category: cat, ModelID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Set records a preference and rewrites the file atomically. A mirror
// failure is logged, not returned: the file is authoritative.
func (s *Store) Set(ctx context.Context, cat domain.Category, modelID string) error {
	s.mu.Lock()
	prev, had := s.prefs[cat]
	s.prefs[cat] = modelID
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err == nil {
		err = config.WriteFileAtomic(s.path, append(data, '\n'))
	}
	if err != nil {
		if had {
			s.prefs[cat] = prev
		} else {
			delete(s.prefs, cat)
		}
		s.mu.Unlock()
		return errkind.Config("write preferences", err)
	}
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		if err := mirror.SetPreference(ctx, domain.Preference{Category: cat, ModelID: modelID}); err != nil {
			s.log.Warn("mirror_failed", logging.Fields{"category": string(cat)}, err)
		}
	}
	s.log.Info("preference_set", logging.Fields{"category": string(cat), "model": modelID})
	return nil
}
