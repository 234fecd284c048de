package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/joss/llmrouter/internal/analytics"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/selector"
)

func init() {
	SetColor(false)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", FormatDuration(1500*time.Millisecond))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
}

func TestErrorIncludesRemediations(t *testing.T) {
	var buf bytes.Buffer
	Error(&buf, errkind.Store("open store", errors.New("store is locked by another process")))

	out := buf.String()
	assert.Contains(t, out, "Session store failure")
	assert.Contains(t, out, "store is locked by another process")
	assert.Contains(t, out, "no other llmrouter process")

	assert.Empty(t, ErrorString(nil))
}

func TestResultPlainIsTextOnly(t *testing.T) {
	res := domain.ExecutionResult{ModelID: "m", Text: "answer\n", Status: domain.StatusOK}
	assert.Equal(t, "answer\n", New(false).Result(res))

	pretty := New(true).Result(res)
	assert.Contains(t, pretty, "answer")
	assert.Contains(t, pretty, "✓ m")
}

func TestSelection(t *testing.T) {
	sel := selector.Selection{
		Category:   domain.CategoryGeneral,
		Confidence: 0.17,
		Low:        true,
		Ranked:     []domain.ModelDescriptor{{ID: "llama3"}},
	}
	out := New(false).Selection(sel, []selector.Score{{Category: domain.CategoryCoding, Score: 1, Confidence: 0.17, Matches: []string{"code"}}})
	assert.Contains(t, out, "0.17 (low)")
	assert.Contains(t, out, "1. llama3")
	assert.Contains(t, out, "code")
}

func TestMessageShowsFailure(t *testing.T) {
	out := New(false).Message(domain.Message{
		Seq: 2, Role: domain.RoleAssistant, ModelID: "m",
		Status: domain.StatusError, Error: "HTTP 500",
	})
	assert.Contains(t, out, "[2] assistant")
	assert.Contains(t, out, "✗ error HTTP 500")
}

func TestReport(t *testing.T) {
	rep := analytics.Report{Total: 3}
	rep.Hourly[9] = 2
	rep.Hourly[14] = 1
	rep.Models = []analytics.ModelStats{{ModelID: "gpt-4o", Runs: 3, SuccessRate: 1, MeanMs: 1200, P95Ms: 2000}}

	out := New(false).Report(rep)
	assert.Contains(t, out, "gpt-4o")
	assert.Contains(t, out, "100%")
	assert.Contains(t, out, "09:00 "+strings.Repeat("█", 30)+" 2")
	assert.Contains(t, out, "14:00 "+strings.Repeat("█", 15)+" 1")

	assert.Equal(t, "No dispatches recorded\n", New(false).Report(analytics.Report{}))
}

func TestBatch(t *testing.T) {
	job := domain.BatchJob{
		ID: "b1", ModelID: "m", State: domain.StatePaused, CheckpointOffset: 1,
		Items: []domain.BatchItem{
			{Seq: 0, Prompt: "first\nprompt", Status: domain.ItemDone},
			{Seq: 1, Prompt: "second", Status: domain.ItemPending},
		},
	}
	out := New(false).Batch(job)
	assert.Contains(t, out, "checkpoint 1/2: 1 done, 0 failed, 1 pending")
	assert.Contains(t, out, "first prompt")
}
