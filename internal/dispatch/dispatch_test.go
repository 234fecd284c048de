package dispatch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/catalog"
	"github.com/joss/llmrouter/internal/compose"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/selector"
	"github.com/joss/llmrouter/internal/store"
	"github.com/joss/llmrouter/pkg/llm"
)

type fixture struct {
	d      *Dispatcher
	db     *store.DB
	native *llm.MockAdapter
	daemon *llm.MockAdapter
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	native := llm.NewMockAdapter(domain.BackendNative)
	daemon := llm.NewMockAdapter(domain.BackendDaemon)
	cat := catalog.Default()
	d := New(cat, selector.New(cat, nil), llm.NewAdapterSet(native, daemon), compose.New(nil), db)
	return fixture{d: d, db: db, native: native, daemon: daemon}
}

func TestDispatchAutoSelectsAndRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.db.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	out, err := f.d.Dispatch(ctx, Request{
		SessionID: sess.ID,
		Input:     compose.Input{Prompt: "Write a Python function to compute fibonacci numbers"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCoding, out.Category)
	assert.Equal(t, "qwen2.5-coder-7b", out.Model.ID)
	require.NotNil(t, out.Selection)
	assert.Equal(t, 1, f.native.Calls())

	assert.Equal(t, 1, out.User.Seq)
	assert.Equal(t, 2, out.Assistant.Seq)
	assert.Equal(t, domain.StatusOK, out.Assistant.Status)
	assert.Equal(t, "qwen2.5-coder-7b", out.Assistant.ModelID)

	got, err := f.db.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Write a Python function to compute fibonacci numbers", got.Messages[0].Content)
}

func TestDispatchExplicitModel(t *testing.T) {
	f := newFixture(t)
	out, err := f.d.Dispatch(context.Background(), Request{
		ModelID: "mistral-7b",
		Input:   compose.Input{Prompt: "hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mistral-7b", out.Model.ID)
	assert.Nil(t, out.Selection)
	assert.Equal(t, 1, f.daemon.Calls())
	assert.Empty(t, out.Assistant.ID, "no session, nothing recorded")
}

func TestDispatchUnknownModel(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), Request{ModelID: "nope", Input: compose.Input{Prompt: "x"}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindResolution))
}

func TestDispatchMissingAdapter(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Dispatch(context.Background(), Request{ModelID: "gpt-4o", Input: compose.Input{Prompt: "x"}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindConfig))
}

func TestDispatchTemplateCategory(t *testing.T) {
	f := newFixture(t)
	tmpl := domain.PromptTemplate{Name: "poem", Category: domain.CategoryCreative, Variables: []string{"input"}, Body: "Write a poem about {input}"}
	out, err := f.d.Dispatch(context.Background(), Request{Input: compose.Input{Prompt: "rust", Template: &tmpl}})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCreative, out.Category)
	req, ok := f.native.LastRequest()
	require.True(t, ok)
	assert.Equal(t, "Write a poem about rust", req.Prompt)
}

func TestDispatchBackendFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess, err := f.db.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	f.daemon.Handler = func(_ context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
		return domain.ExecutionResult{ModelID: req.Model.ID, Status: domain.StatusError, Error: "HTTP 404: model not found"}
	}

	out, err := f.d.Dispatch(ctx, Request{SessionID: sess.ID, ModelID: "deepseek-r1", Input: compose.Input{Prompt: "why"}})
	require.NoError(t, err)
	assert.True(t, out.Result.Failed())
	assert.Equal(t, domain.StatusError, out.Assistant.Status)
	assert.Equal(t, "HTTP 404: model not found", out.Assistant.Error)
}

func TestDispatchCancelledRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := f.db.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	f.native.Handler = func(_ context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
		cancel()
		return domain.ExecutionResult{ModelID: req.Model.ID, Status: domain.StatusCancelled}
	}
	_, err = f.d.Dispatch(ctx, Request{SessionID: sess.ID, ModelID: "llama3.1-8b", Input: compose.Input{Prompt: "x"}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindCancellation))

	got, err := f.db.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestDispatchLateResultAfterCancelRecordsNothing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := f.db.CreateSession(ctx, "", nil)
	require.NoError(t, err)

	f.native.Handler = func(_ context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
		cancel()
		return domain.ExecutionResult{ModelID: req.Model.ID, Status: domain.StatusOK, Text: "finished anyway"}
	}
	_, err = f.d.Dispatch(ctx, Request{SessionID: sess.ID, ModelID: "llama3.1-8b", Input: compose.Input{Prompt: "x"}})
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindCancellation))
	assert.False(t, errkind.Is(err, errkind.KindStore))

	got, err := f.db.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Messages)
}

func TestPrepareReportsDroppedContext(t *testing.T) {
	f := newFixture(t)
	c := f.d.Composer()
	p, err := f.d.Prepare(Request{
		ModelID: "llama3.1-8b",
		Input: compose.Input{
			Prompt: "summarize",
			Items:  []domain.ContextItem{c.Inline("a", "alpha beta"), c.Inline("b", "gamma delta epsilon zeta eta theta iota kappa")},
			Budget: 15,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Composition.Included)
	assert.Equal(t, []string{"b"}, p.Composition.Dropped)
	assert.LessOrEqual(t, p.Composition.Tokens, 15)
}
