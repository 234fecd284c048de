package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock makes timestamps advance one second per call.
func fakeClock(t *testing.T) {
	t.Helper()
	prev := now
	cur := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now = func() time.Time {
		cur = cur.Add(time.Second)
		return cur
	}
	t.Cleanup(func() { now = prev })
}

func userMsg(content string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: content, ModelID: "llama3.1-8b"}
}

func assistantMsg(content string, status domain.ResultStatus) domain.Message {
	return domain.Message{
		Role:             domain.RoleAssistant,
		Content:          content,
		ModelID:          "llama3.1-8b",
		Category:         domain.CategoryCoding,
		Status:           status,
		TokensPrompt:     12,
		TokensCompletion: 30,
		DurationMs:       1200,
	}
}

func TestFilter_WithMethods(t *testing.T) {
	f := DefaultSessionFilter()
	assert.Equal(t, 50, f.Limit)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f2 := f.WithLimit(5).WithOffset(10).WithTag("work").WithTitle("fib").WithSince(since)
	assert.Equal(t, SessionFilter{Limit: 5, Offset: 10, Tag: "work", Title: "fib", Since: since}, f2)
	assert.Equal(t, 50, f.Limit, "original filter was mutated")
}

func TestOpenWritesSchemaVersion(t *testing.T) {
	s := openTemp(t)
	v, err := s.SchemaVersionOf(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestOpenFailsWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	first, err := Open(path)
	require.NoError(t, err)

	_, err = Open(path)
	require.Error(t, err)
	assert.True(t, IsLocked(err))
	assert.True(t, errkind.Is(err, errkind.KindStore))
	assert.Contains(t, err.Error(), "store is locked by another process")

	require.NoError(t, first.Close())
	second, err := Open(path)
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE meta SET value = '99' WHERE key = 'schema_version'`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchema)
}

func TestClosedStore(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.GetSession(context.Background(), "x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	sess, err := s.CreateSession(ctx, "fib", []string{"work", " ", "work"})
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, sess.Tags)

	gen := s.Generation()
	msgs, err := s.AppendMessages(ctx, sess.ID, userMsg("write fib"), assistantMsg("def fib(n): ...", domain.StatusOK))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Seq)
	assert.Equal(t, 2, msgs[1].Seq)
	assert.NotEmpty(t, msgs[0].ID)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)
	assert.Greater(t, s.Generation(), gen)

	third, err := s.AppendMessage(ctx, sess.ID, userMsg("again"))
	require.NoError(t, err)
	assert.Equal(t, 3, third.Seq)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, msgs[1], got.Messages[1])
	assert.Equal(t, domain.CategoryCoding, got.Messages[1].Category)
	assert.Equal(t, domain.Category(""), got.Messages[0].Category)
}

func TestAppendToMissingSession(t *testing.T) {
	s := openTemp(t)
	_, err := s.AppendMessage(context.Background(), "nope", userMsg("hi"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "session", nf.Entity)
}

func TestMessagesAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	sess, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	m, err := s.AppendMessage(ctx, sess.ID, userMsg("original"))
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE messages SET content = 'changed' WHERE id = ?`, m.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Messages[0].Content)
}

func TestListSessions(t *testing.T) {
	fakeClock(t)
	ctx := context.Background()
	s := openTemp(t)

	a, err := s.CreateSession(ctx, "Fibonacci in Python", []string{"work"})
	require.NoError(t, err)
	b, err := s.CreateSession(ctx, "Poem", []string{"fun"})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, a.ID, userMsg("latest activity"))
	require.NoError(t, err)

	all, err := s.ListSessions(ctx, DefaultSessionFilter())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID, "most recently active first")
	assert.Equal(t, 1, all[0].MessageCount)
	assert.Equal(t, b.ID, all[1].ID)
	assert.Equal(t, 0, all[1].MessageCount)
	assert.Equal(t, all[1].CreatedAt, all[1].LastActivity)

	tagged, err := s.ListSessions(ctx, DefaultSessionFilter().WithTag("fun"))
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, b.ID, tagged[0].ID)

	titled, err := s.ListSessions(ctx, DefaultSessionFilter().WithTitle("fibonacci"))
	require.NoError(t, err)
	require.Len(t, titled, 1)
	assert.Equal(t, a.ID, titled[0].ID)

	paged, err := s.ListSessions(ctx, DefaultSessionFilter().WithLimit(1).WithOffset(1))
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, b.ID, paged[0].ID)

	recent, err := s.ListSessions(ctx, DefaultSessionFilter().WithSince(all[0].LastActivity))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, a.ID, recent[0].ID)
}

func TestSearchMessagesEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	sess, err := s.CreateSession(ctx, "search", nil)
	require.NoError(t, err)
	_, err = s.AppendMessages(ctx, sess.ID,
		userMsg("progress is 100% done"),
		userMsg("progress is 1000 done"),
		userMsg("snake_case names"),
		userMsg("snakeXcase names"),
	)
	require.NoError(t, err)

	hits, err := s.SearchMessages(ctx, "100%", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "progress is 100% done", hits[0].Snippet)
	assert.Equal(t, "search", hits[0].SessionTitle)

	hits, err = s.SearchMessages(ctx, "snake_case", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 3, hits[0].Seq)

	hits, err = s.SearchMessages(ctx, "PROGRESS", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = s.SearchMessages(ctx, "  ", 10)
	assert.Error(t, err)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "…cd X ef…", Snippet("abcd X efgh", "x", 3))
	assert.Equal(t, "short", Snippet("short", "missing", 10))
	assert.Equal(t, "a b c", Snippet("a\n\nb   c", "b", 10))
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	sess, err := s.CreateSession(ctx, "Export me", []string{"x"})
	require.NoError(t, err)
	failed := assistantMsg("", domain.StatusError)
	failed.Error = "HTTP 500: boom"
	_, err = s.AppendMessages(ctx, sess.ID, userMsg("hello"), assistantMsg("hi there", domain.StatusOK), failed)
	require.NoError(t, err)

	want, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)

	data, err := s.ExportSession(ctx, sess.ID, FormatJSON)
	require.NoError(t, err)
	got, err := ParseExport(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	md, err := s.ExportSession(ctx, sess.ID, FormatMarkdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Export me")
	assert.Contains(t, string(md), "## 2. assistant · llama3.1-8b · 12+30 tokens · 1200ms")
	assert.Contains(t, string(md), "> error: HTTP 500: boom")

	txt, err := s.ExportSession(ctx, sess.ID, FormatText)
	require.NoError(t, err)
	assert.Contains(t, string(txt), "[1] user (llama3.1-8b): hello")

	_, err = s.ExportSession(ctx, sess.ID, ExportFormat("pdf"))
	assert.Error(t, err)
}

func TestParseExportRejectsGarbage(t *testing.T) {
	_, err := ParseExport([]byte(`{"export_version": 2, "session": {"id": "a"}}`))
	assert.Error(t, err)
	_, err = ParseExport([]byte(`{"export_version": 1, "session": {"id": "a"}, "extra": 1}`))
	assert.Error(t, err)
	_, err = ParseExport([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseExportFormat(t *testing.T) {
	for in, want := range map[string]ExportFormat{"": FormatJSON, "md": FormatMarkdown, "txt": FormatText, "json": FormatJSON} {
		got, ok := ParseExportFormat(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseExportFormat("pdf")
	assert.False(t, ok)
}

func TestDeleteSession(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	sess, err := s.CreateSession(ctx, "gone", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, sess.ID, userMsg("bye"))
	require.NoError(t, err)

	gen := s.Generation()
	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	assert.Greater(t, s.Generation(), gen)

	_, err = s.GetSession(ctx, sess.ID)
	assert.True(t, IsNotFound(err))

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n))
	assert.Zero(t, n)

	assert.True(t, IsNotFound(s.DeleteSession(ctx, sess.ID)))
}

func TestUpdateSessionMeta(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	sess, err := s.CreateSession(ctx, "old", []string{"a"})
	require.NoError(t, err)

	title := "new"
	require.NoError(t, s.UpdateSessionMeta(ctx, sess.ID, &title, nil))
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, []string{"a"}, got.Tags)

	require.NoError(t, s.UpdateSessionMeta(ctx, sess.ID, nil, []string{"b", "c"}))
	got, err = s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, []string{"b", "c"}, got.Tags)

	assert.True(t, IsNotFound(s.UpdateSessionMeta(ctx, "missing", &title, nil)))
}

func newBatch(t *testing.T, s *DB, prompts ...string) domain.BatchJob {
	t.Helper()
	ctx := context.Background()
	sess, err := s.CreateSession(ctx, "batch", nil)
	require.NoError(t, err)
	job := domain.BatchJob{ModelID: "llama3.1-8b", SessionID: sess.ID, Source: "prompts.txt"}
	for _, p := range prompts {
		job.Items = append(job.Items, domain.BatchItem{Prompt: p})
	}
	job, err = s.CreateBatch(ctx, job)
	require.NoError(t, err)
	return job
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	job := newBatch(t, s, "one", "two", "three")

	assert.Equal(t, domain.StateDraft, job.State)
	got, err := s.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 3)
	assert.Equal(t, "two", got.Items[1].Prompt)
	assert.Equal(t, 1, got.Items[1].Seq)
	assert.Equal(t, domain.ItemPending, got.Items[2].Status)
	assert.Equal(t, "prompts.txt", got.Source)

	require.NoError(t, s.SetBatchState(ctx, job.ID, domain.StateRunning))
	require.NoError(t, s.SetBatchState(ctx, job.ID, domain.StateRunning))

	m, err := s.RecordBatchProgress(ctx, job.ID, 0, assistantMsg("1", domain.StatusOK))
	require.NoError(t, err)
	failed := assistantMsg("", domain.StatusError)
	failed.Error = "boom"
	_, err = s.RecordBatchProgress(ctx, job.ID, 1, failed)
	require.NoError(t, err)

	again, err := s.RecordBatchProgress(ctx, job.ID, 0, assistantMsg("dup", domain.StatusOK))
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID, "resolved item is not recorded twice")

	got, err = s.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CheckpointOffset)
	assert.Equal(t, domain.ItemDone, got.Items[0].Status)
	assert.Equal(t, m.ID, got.Items[0].ResultMessageID)
	assert.Equal(t, domain.ItemFailed, got.Items[1].Status)
	assert.Equal(t, "boom", got.Items[1].Error)

	pending, done, failedN, err := s.BatchCounts(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 1, 1}, [3]int{pending, done, failedN})

	sess, err := s.GetSession(ctx, job.SessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)

	require.NoError(t, s.SetBatchState(ctx, job.ID, domain.StateSucceeded))
	err = s.SetBatchState(ctx, job.ID, domain.StateRunning)
	assert.Error(t, err, "terminal states are frozen")

	_, err = s.RecordBatchProgress(ctx, job.ID, 2, assistantMsg("3", domain.StatusOK))
	assert.Error(t, err)
}

func TestRecordBatchProgressIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)
	job := newBatch(t, s, "only")
	require.NoError(t, s.SetBatchState(ctx, job.ID, domain.StateRunning))

	_, err := s.RecordBatchProgress(ctx, job.ID, 7, assistantMsg("x", domain.StatusOK))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	sess, err := s.GetSession(ctx, job.SessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages, "no message without its item")

	got, err := s.GetBatch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CheckpointOffset)
}

func TestListBatches(t *testing.T) {
	fakeClock(t)
	s := openTemp(t)
	first := newBatch(t, s, "a")
	second := newBatch(t, s, "b")

	jobs, err := s.ListBatches(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
	assert.Empty(t, jobs[0].Items)

	_, err = s.GetBatch(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestWorkflowRuns(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	run, err := s.SaveWorkflowRun(ctx, domain.WorkflowRun{
		Workflow:  "review",
		SessionID: "s1",
		State:     domain.StateRunning,
		Vars:      map[string]string{"lang": "go"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)

	run.NextStep = 2
	run.Vars["step1.output"] = "done"
	run.State = domain.StatePaused
	_, err = s.SaveWorkflowRun(ctx, run)
	require.NoError(t, err)

	got, err := s.GetWorkflowRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NextStep)
	assert.Equal(t, domain.StatePaused, got.State)
	assert.Equal(t, "done", got.Vars["step1.output"])
	assert.Equal(t, run.CreatedAt, got.CreatedAt)

	got.State = domain.StateSucceeded
	_, err = s.SaveWorkflowRun(ctx, got)
	assert.Error(t, err, "PAUSED cannot jump to SUCCEEDED")

	runs, err := s.ListWorkflowRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = s.GetWorkflowRun(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	_, ok, err := s.GetPreference(ctx, domain.CategoryMath)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetPreference(ctx, domain.Preference{Category: domain.CategoryMath, ModelID: "qwen2-math"}))
	require.NoError(t, s.SetPreference(ctx, domain.Preference{Category: domain.CategoryMath, ModelID: "deepseek-r1"}))
	require.NoError(t, s.SetPreference(ctx, domain.Preference{Category: domain.CategoryCoding, ModelID: "gpt-4o"}))

	p, ok, err := s.GetPreference(ctx, domain.CategoryMath)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deepseek-r1", p.ModelID)

	all, err := s.Preferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Preference{
		{Category: domain.CategoryCoding, ModelID: "gpt-4o"},
		{Category: domain.CategoryMath, ModelID: "deepseek-r1"},
	}, all)
}

func TestAggregateForAnalytics(t *testing.T) {
	fakeClock(t)
	ctx := context.Background()
	s := openTemp(t)
	sess, err := s.CreateSession(ctx, "", nil)
	require.NoError(t, err)
	msgs, err := s.AppendMessages(ctx, sess.ID,
		userMsg("q1"), assistantMsg("a1", domain.StatusOK),
		userMsg("q2"), assistantMsg("a2", domain.StatusCancelled),
	)
	require.NoError(t, err)

	facts, err := s.AggregateForAnalytics(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "ok", facts[0].Status)
	assert.Equal(t, "coding", facts[0].Category)
	assert.Equal(t, int64(1200), facts[0].DurationMs)
	assert.Equal(t, "cancelled", facts[1].Status)

	facts, err = s.AggregateForAnalytics(ctx, msgs[3].CreatedAt)
	require.NoError(t, err)
	assert.Len(t, facts, 1)
}
