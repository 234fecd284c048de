package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/config"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/exec"
	"github.com/joss/llmrouter/internal/store"
	"github.com/joss/llmrouter/pkg/llm"
)

type harness struct {
	app    *App
	home   string
	base   string
	native *llm.MockAdapter
	daemon *llm.MockAdapter
	openai *llm.MockAdapter
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newHarness(t *testing.T, configJSON string) harness {
	t.Helper()
	home := t.TempDir()
	base := t.TempDir()
	if configJSON == "" {
		configJSON = `{"base_dir": "` + filepath.ToSlash(base) + `"}`
	}
	writeFile(t, filepath.Join(home, "config.json"), configJSON)

	h := harness{
		home:   home,
		base:   base,
		native: llm.NewMockAdapter(domain.BackendNative),
		daemon: llm.NewMockAdapter(domain.BackendDaemon),
		openai: llm.NewMockAdapter(domain.BackendOpenAI),
	}
	a, err := Open(Options{Home: home, Adapters: llm.NewAdapterSet(h.native, h.daemon, h.openai)})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	h.app = a
	return h
}

func TestOpenCreatesLayout(t *testing.T) {
	h := newHarness(t, "")
	for _, dir := range []string{"templates", "workflows", "logs"} {
		info, err := os.Stat(filepath.Join(h.home, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
	assert.FileExists(t, filepath.Join(h.home, "sessions.db"))
	assert.Equal(t, config.DefaultTokenBudget, h.app.Config.TokenBudget)
}

func TestOpenFailsWhenStoreLocked(t *testing.T) {
	h := newHarness(t, "")
	_, err := Open(Options{Home: h.home, Adapters: llm.NewAdapterSet()})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindStore))
}

func TestOpenRejectsUnknownDefaultModel(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "config.json"), `{"default_model": "nope"}`)
	_, err := Open(Options{Home: home, Adapters: llm.NewAdapterSet()})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindConfig))
}

func TestOpenChecksNativeDefaultModelFile(t *testing.T) {
	home := t.TempDir()
	models := t.TempDir()
	writeFile(t, filepath.Join(home, "config.json"), `{"default_model": "llama3.1-8b"}`)
	writeFile(t, filepath.Join(home, "providers.json"),
		`{"llamacpp": {"models_dir": "`+filepath.ToSlash(models)+`", "wsl": false}}`)

	_, err := Open(Options{Home: home, Runner: exec.NewMockRunner()})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindConfig))
	assert.Contains(t, err.Error(), "model file")
}

func TestStateAskRecordsAndClearsContext(t *testing.T) {
	h := newHarness(t, "")
	writeFile(t, filepath.Join(h.base, "notes.md"), "remember the milk")
	ctx := context.Background()

	st := h.app.NewState()
	items, err := st.AttachContext("notes.md")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Positive(t, st.ContextTokens())

	out, err := st.Ask(ctx, Ask{Prompt: "Write a Python function to compute Fibonacci numbers"})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCoding, out.Category)
	assert.NotEmpty(t, st.SessionID)
	assert.Empty(t, st.Context, "context is discarded after dispatch")
	require.NotNil(t, st.Last)

	req, ok := h.native.LastRequest()
	require.True(t, ok)
	assert.Contains(t, req.Prompt, "remember the milk")

	sess, err := h.app.Store.GetSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "Write a Python function to compute Fibonacci numbers", sess.Title)
	assert.Len(t, sess.Messages, 2)

	_, err = st.Ask(ctx, Ask{Prompt: "and in Go?", ModelID: "gpt-4o"})
	require.NoError(t, err)
	sess, err = h.app.Store.GetSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4, "follow-up lands in the same session")
}

func TestStateContextEditing(t *testing.T) {
	h := newHarness(t, "")
	st := h.app.NewState()

	st.AttachInline("snippet", "x := 1")
	st.AttachInline("other", "y := 2")
	assert.True(t, st.DetachContext("snippet"))
	assert.False(t, st.DetachContext("snippet"))
	require.Len(t, st.Context, 1)
	assert.Equal(t, "other", st.Context[0].Label)

	_, err := st.AttachContext("../outside.txt")
	assert.True(t, errkind.Is(err, errkind.KindResolution))

	st.ClearContext()
	assert.Zero(t, st.ContextTokens())
}

func TestRememberOffer(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	st := h.app.NewState()

	out, err := st.Ask(ctx, Ask{Prompt: "Write a Python function to compute Fibonacci numbers"})
	require.NoError(t, err)
	offer, ok := st.RememberOffer(out)
	require.True(t, ok)
	assert.Equal(t, domain.Preference{Category: domain.CategoryCoding, ModelID: "qwen2.5-coder-7b"}, offer)

	out, err = st.Ask(ctx, Ask{Prompt: "Write a Python function to compute Fibonacci numbers", ModelID: "gpt-4o"})
	require.NoError(t, err)
	offer, ok = st.RememberOffer(out)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", offer.ModelID)
	require.NoError(t, st.Remember(ctx, offer))

	out, err = st.Ask(ctx, Ask{Prompt: "Write a Python function to compute Fibonacci numbers"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", out.Model.ID)
	_, ok = st.RememberOffer(out)
	assert.False(t, ok, "already preferred")

	stored, found, err := h.app.Store.GetPreference(ctx, domain.CategoryCoding)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "gpt-4o", stored.ModelID)

	out, err = st.Ask(ctx, Ask{Prompt: "Tell me something interesting"})
	require.NoError(t, err)
	_, ok = st.RememberOffer(out)
	assert.False(t, ok, "low confidence never offers")
}

func TestRememberOfferSkipsFailures(t *testing.T) {
	h := newHarness(t, "")
	h.native.Handler = func(_ context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
		return domain.ExecutionResult{ModelID: req.Model.ID, Status: domain.StatusError, Error: "exit status 1"}
	}
	st := h.app.NewState()
	out, err := st.Ask(context.Background(), Ask{Prompt: "Write a Python function to compute Fibonacci numbers"})
	require.NoError(t, err)
	_, ok := st.RememberOffer(out)
	assert.False(t, ok)
}

func TestToggleAutoConfirmPersists(t *testing.T) {
	h := newHarness(t, "")
	st := h.app.NewState()
	require.False(t, st.AutoConfirm)

	on, err := st.ToggleAutoConfirm()
	require.NoError(t, err)
	assert.True(t, on)

	loaded, err := config.Load(h.home)
	require.NoError(t, err)
	assert.True(t, loaded.Config.AutoConfirm)
	assert.Equal(t, filepath.ToSlash(h.base), loaded.Config.BaseDir)
}

func TestDiscoverMergesModels(t *testing.T) {
	h := newHarness(t, "")
	h.daemon.Models = []domain.ModelDescriptor{
		{ID: "phi3", Backend: domain.BackendDaemon},
		{ID: "mistral-7b", Backend: domain.BackendDaemon},
	}
	assert.Equal(t, 1, h.app.Discover(context.Background()))
	m, ok := h.app.Catalog.Get("phi3")
	require.True(t, ok)
	assert.Equal(t, []domain.Category{domain.CategoryGeneral}, m.Categories)
}

func TestDoctorReportsBrokenTemplates(t *testing.T) {
	home := t.TempDir()
	writeFile(t, filepath.Join(home, "templates", "bad.yaml"), "name: bad\nbogus: 1\n")
	a, err := Open(Options{Home: home, Adapters: llm.NewAdapterSet(llm.NewMockAdapter(domain.BackendDaemon))})
	require.NoError(t, err)
	defer a.Close()

	health, problems := a.Doctor(context.Background())
	require.Len(t, health, 1)
	assert.NoError(t, health[0].Err)
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0].Error(), "bad.yaml")
}

func TestExportWritesUnderHome(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	st := h.app.NewState()
	_, err := st.Ask(ctx, Ask{Prompt: "hello there"})
	require.NoError(t, err)

	path, err := h.app.Export(ctx, st.SessionID, store.FormatMarkdown)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.home, "exports", st.SessionID+".md"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello there")
}

func TestParseVars(t *testing.T) {
	vars, err := ParseVars([]string{"lang=go", "topic=a=b", "lang=rust"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "rust", "topic": "a=b"}, vars)

	_, err = ParseVars([]string{"novalue"})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindConfig))

	_, err = ParseVars([]string{"=x"})
	require.Error(t, err)
}
