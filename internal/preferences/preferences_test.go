package preferences

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/domain"
)

type recordingMirror struct {
	got []domain.Preference
	err error
}

func (m *recordingMirror) SetPreference(_ context.Context, p domain.Preference) error {
	m.got = append(m.got, p)
	return m.err
}

func TestLoadMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "preferences.json"))
	require.NoError(t, err)
	assert.Empty(t, s.All())
}

func TestSetPersistsAndLastWriteWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.json")
	s, err := Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, domain.CategoryCoding, "gpt-4o"))
	require.NoError(t, s.Set(ctx, domain.CategoryCoding, "claude-sonnet"))
	require.NoError(t, s.Set(ctx, domain.CategoryMath, "qwen2-math"))

	reloaded, err := Load(path)
	require.NoError(t, err)
	id, ok := reloaded.Get(domain.CategoryCoding)
	require.True(t, ok)
	assert.Equal(t, "claude-sonnet", id)
	assert.Equal(t, []domain.Preference{
		{Category: domain.CategoryCoding, ModelID: "claude-sonnet"},
		{Category: domain.CategoryMath, ModelID: "qwen2-math"},
	}, reloaded.All())
}

func TestSetMirrors(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "preferences.json"))
	require.NoError(t, err)
	m := &recordingMirror{err: errors.New("store closed")}
	s.SetMirror(m)

	require.NoError(t, s.Set(context.Background(), domain.CategoryCreative, "llama3.1-8b"))
	assert.Equal(t, []domain.Preference{{Category: domain.CategoryCreative, ModelID: "llama3.1-8b"}}, m.got)
}

func TestSetFailureRollsBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	s, err := Load(filepath.Join(dir, "preferences.json"))
	require.NoError(t, err)

	assert.Error(t, s.Set(context.Background(), domain.CategoryCoding, "x"))
	_, ok := s.Get(domain.CategoryCoding)
	assert.False(t, ok)
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}
