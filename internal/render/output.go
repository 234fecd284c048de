package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/joss/llmrouter/internal/analytics"
	"github.com/joss/llmrouter/internal/dispatch"
	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/selector"
	strutil "github.com/joss/llmrouter/internal/strings"
	"github.com/joss/llmrouter/pkg/llm"
)

// Renderer formats domain values for the terminal.
type Renderer struct {
	pretty bool
	width  int
}

// New creates a new renderer. Pretty output adds titles and rules.
func New(pretty bool) *Renderer {
	return &Renderer{pretty: pretty, width: 80}
}

// WithWidth sets the wrap width for message bodies.
func (r *Renderer) WithWidth(w int) *Renderer {
	if w > 20 {
		r.width = w
	}
	return r
}

func (r *Renderer) title(sb *strings.Builder, title string) {
	if !r.pretty {
		return
	}
	sb.WriteString(color.CyanString(title) + "\n")
	sb.WriteString(strings.Repeat("─", min(60, r.width)) + "\n")
}

// Models lists catalog entries.
func (r *Renderer) Models(models []domain.ModelDescriptor) string {
	if len(models) == 0 {
		return "No models configured\n"
	}
	var sb strings.Builder
	r.title(&sb, "Models")
	for _, m := range models {
		cats := make([]string, len(m.Categories))
		for i, c := range m.Categories {
			cats[i] = string(c)
		}
		fmt.Fprintf(&sb, "%-28s %-9s %-34s %s\n",
			m.ID, m.Backend, strings.Join(cats, ","), color.HiBlackString(ctxWindow(m.ContextWindow)))
	}
	return sb.String()
}

func ctxWindow(n int) string {
	if n <= 0 {
		return ""
	}
	return humanize.Comma(int64(n)) + " ctx"
}

// Selection describes a selector decision, with the score breakdown when
// scores is non-empty.
func (r *Renderer) Selection(sel selector.Selection, scores []selector.Score) string {
	var sb strings.Builder
	r.title(&sb, "Selection")
	conf := fmt.Sprintf("%.2f", sel.Confidence)
	if sel.Low {
		conf = color.YellowString(conf + " (low)")
	}
	fmt.Fprintf(&sb, "category:   %s\n", sel.Category)
	fmt.Fprintf(&sb, "confidence: %s\n", conf)
	for i, m := range sel.Ranked {
		marker := ""
		if i == 0 && sel.Preferred {
			marker = color.GreenString(" (preferred)")
		}
		fmt.Fprintf(&sb, "  %d. %s%s\n", i+1, m.ID, marker)
	}
	if len(scores) > 0 {
		sb.WriteString("scores:\n")
		for _, s := range scores {
			line := fmt.Sprintf("  %-10s %d  %.2f", s.Category, s.Score, s.Confidence)
			if len(s.Matches) > 0 {
				line += "  " + color.HiBlackString(strings.Join(s.Matches, ", "))
			}
			sb.WriteString(line + "\n")
		}
	}
	return sb.String()
}

// Plan previews a dispatch before it runs.
func (r *Renderer) Plan(p dispatch.Plan, budget int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "model:    %s (%s)\n", p.Model.ID, p.Model.Backend)
	fmt.Fprintf(&sb, "category: %s", p.Category)
	if p.Selection != nil {
		fmt.Fprintf(&sb, " (confidence %.2f)", p.Selection.Confidence)
	}
	sb.WriteString("\n")
	tokens := fmt.Sprintf("~%s tokens", humanize.Comma(int64(p.Composition.Tokens)))
	if budget > 0 {
		tokens += fmt.Sprintf(" of %s", humanize.Comma(int64(budget)))
	}
	fmt.Fprintf(&sb, "prompt:   %s, %d context item(s)\n", tokens, len(p.Composition.Included))
	if len(p.Composition.Dropped) > 0 {
		fmt.Fprintf(&sb, "dropped:  %s\n", color.YellowString(strings.Join(p.Composition.Dropped, ", ")))
	}
	return sb.String()
}

// Result formats a response. Plain output is the text alone.
func (r *Renderer) Result(res domain.ExecutionResult) string {
	if !r.pretty {
		if res.Failed() {
			return ""
		}
		return strings.TrimRight(res.Text, "\n") + "\n"
	}
	var sb strings.Builder
	if res.Failed() {
		fmt.Fprintf(&sb, "%s %s\n", color.RedString("✗"), res.Error)
	} else {
		sb.WriteString(strutil.WordWrap(strings.TrimRight(res.Text, "\n"), r.width) + "\n")
	}
	sb.WriteString(color.HiBlackString(resultMeta(res)) + "\n")
	return sb.String()
}

func resultMeta(res domain.ExecutionResult) string {
	est := ""
	if res.TokensEstimated {
		est = "~"
	}
	return fmt.Sprintf("%s %s · %s%d+%d tokens · %s",
		StatusIcon(res.Status), res.ModelID, est, res.PromptTokens, res.CompletionTokens, FormatDuration(res.Duration))
}

// ContextItems lists attached context with token estimates.
func (r *Renderer) ContextItems(items []domain.ContextItem, budget int) string {
	if len(items) == 0 {
		return "No context attached\n"
	}
	var sb strings.Builder
	r.title(&sb, "Context")
	total := 0
	for i, it := range items {
		total += it.Tokens
		fmt.Fprintf(&sb, "  %d. %-40s %-10s %s tokens\n", i+1, strutil.Truncate(it.Label, 40), it.Language, humanize.Comma(int64(it.Tokens)))
	}
	fmt.Fprintf(&sb, "total: %s tokens", humanize.Comma(int64(total)))
	if budget > 0 {
		fmt.Fprintf(&sb, " (budget %s)", humanize.Comma(int64(budget)))
	}
	sb.WriteString("\n")
	return sb.String()
}

// Sessions lists session summaries, most recent first.
func (r *Renderer) Sessions(list []domain.SessionSummary) string {
	if len(list) == 0 {
		return "No sessions found\n"
	}
	var sb strings.Builder
	r.title(&sb, "Sessions")
	for _, s := range list {
		title := s.Title
		if title == "" {
			title = color.HiBlackString("(untitled)")
		}
		tags := ""
		if len(s.Tags) > 0 {
			tags = " " + color.BlueString("#"+strings.Join(s.Tags, " #"))
		}
		fmt.Fprintf(&sb, "%s  %-36s %3d msg  %s%s\n",
			s.ID, strutil.Truncate(title, 36), s.MessageCount, color.HiBlackString(humanize.Time(s.LastActivity)), tags)
	}
	return sb.String()
}

// Session prints a full transcript.
func (r *Renderer) Session(s domain.Session) string {
	var sb strings.Builder
	r.title(&sb, "Session "+s.ID)
	if s.Title != "" {
		fmt.Fprintf(&sb, "title: %s\n", s.Title)
	}
	if len(s.Tags) > 0 {
		fmt.Fprintf(&sb, "tags:  %s\n", strings.Join(s.Tags, ", "))
	}
	fmt.Fprintf(&sb, "created %s, %d message(s)\n", humanize.Time(s.CreatedAt), len(s.Messages))
	for _, m := range s.Messages {
		sb.WriteString("\n")
		sb.WriteString(r.Message(m))
	}
	return sb.String()
}

// Message prints one transcript entry.
func (r *Renderer) Message(m domain.Message) string {
	var sb strings.Builder
	head := fmt.Sprintf("[%d] %s", m.Seq, m.Role)
	if m.Role == domain.RoleUser {
		head = color.GreenString(head)
	} else {
		head = color.MagentaString(head)
	}
	meta := []string{}
	if m.ModelID != "" {
		meta = append(meta, m.ModelID)
	}
	if m.Role == domain.RoleAssistant {
		meta = append(meta, fmt.Sprintf("%d+%d tokens", m.TokensPrompt, m.TokensCompletion),
			FormatDuration(time.Duration(m.DurationMs)*time.Millisecond))
	}
	fmt.Fprintf(&sb, "%s %s\n", head, color.HiBlackString(strings.Join(meta, " · ")))
	if m.Status != "" && m.Status != domain.StatusOK {
		fmt.Fprintf(&sb, "%s %s %s\n", StatusIcon(m.Status), m.Status, m.Error)
	}
	if m.Content != "" {
		sb.WriteString(strutil.Indent(strutil.WordWrap(m.Content, r.width-2), "  ") + "\n")
	}
	return sb.String()
}

// Hits lists search results.
func (r *Renderer) Hits(hits []domain.SearchHit) string {
	if len(hits) == 0 {
		return "No matches\n"
	}
	var sb strings.Builder
	r.title(&sb, "Search results")
	for _, h := range hits {
		title := h.SessionTitle
		if title == "" {
			title = h.SessionID
		}
		fmt.Fprintf(&sb, "%s [%d] %s %s\n    %s\n",
			color.CyanString(strutil.Truncate(title, 40)), h.Seq, h.Role,
			color.HiBlackString(humanize.Time(h.CreatedAt)), h.Snippet)
	}
	return sb.String()
}

// Templates lists prompt templates.
func (r *Renderer) Templates(list []domain.PromptTemplate) string {
	if len(list) == 0 {
		return "No templates\n"
	}
	var sb strings.Builder
	r.title(&sb, "Templates")
	for _, t := range list {
		vars := ""
		if len(t.Variables) > 0 {
			vars = "{" + strings.Join(t.Variables, "} {") + "}"
		}
		fmt.Fprintf(&sb, "%-20s %-10s %s\n", t.Name, t.Category, color.HiBlackString(vars))
	}
	return sb.String()
}

// Preferences lists remembered category choices.
func (r *Renderer) Preferences(prefs []domain.Preference) string {
	if len(prefs) == 0 {
		return "No preferences remembered\n"
	}
	var sb strings.Builder
	r.title(&sb, "Preferences")
	for _, p := range prefs {
		fmt.Fprintf(&sb, "%-10s → %s\n", p.Category, p.ModelID)
	}
	return sb.String()
}

// Batches lists batch jobs.
func (r *Renderer) Batches(jobs []domain.BatchJob) string {
	if len(jobs) == 0 {
		return "No batches\n"
	}
	var sb strings.Builder
	r.title(&sb, "Batches")
	for _, j := range jobs {
		src := j.Source
		if src == "" {
			src = "-"
		}
		fmt.Fprintf(&sb, "%s %s  %-10s %-24s %s  %s\n",
			StateIcon(j.State), j.ID, j.State, j.ModelID, strutil.Truncate(src, 30),
			color.HiBlackString(humanize.Time(j.CreatedAt)))
	}
	return sb.String()
}

// Batch prints one batch with its items.
func (r *Renderer) Batch(j domain.BatchJob) string {
	var sb strings.Builder
	r.title(&sb, "Batch "+j.ID)
	pending, done, failed := j.Counts()
	fmt.Fprintf(&sb, "%s %s  model %s  session %s\n", StateIcon(j.State), j.State, j.ModelID, j.SessionID)
	fmt.Fprintf(&sb, "checkpoint %d/%d: %d done, %d failed, %d pending\n",
		j.CheckpointOffset, len(j.Items), done, failed, pending)
	for _, it := range j.Items {
		line := fmt.Sprintf("  %3d %-7s %s", it.Seq+1, it.Status, strutil.Preview(it.Prompt, 50))
		if it.Error != "" {
			line += "  " + color.RedString(strutil.Truncate(it.Error, 40))
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// Workflows lists loaded workflow definitions.
func (r *Renderer) Workflows(list []domain.Workflow) string {
	if len(list) == 0 {
		return "No workflows\n"
	}
	var sb strings.Builder
	r.title(&sb, "Workflows")
	for _, w := range list {
		fmt.Fprintf(&sb, "%-24s %d step(s)  %s\n", w.Name, len(w.Steps), color.HiBlackString(w.Description))
	}
	return sb.String()
}

// Runs lists workflow runs.
func (r *Renderer) Runs(runs []domain.WorkflowRun) string {
	if len(runs) == 0 {
		return "No workflow runs\n"
	}
	var sb strings.Builder
	r.title(&sb, "Workflow runs")
	for _, run := range runs {
		fmt.Fprintf(&sb, "%s %s  %-10s %-24s next step %d  %s\n",
			StateIcon(run.State), run.ID, run.State, run.Workflow, run.NextStep+1,
			color.HiBlackString(humanize.Time(run.UpdatedAt)))
	}
	return sb.String()
}

// Steps prints workflow step outcomes.
func (r *Renderer) Steps(steps []domain.StepOutcome) string {
	var sb strings.Builder
	for _, s := range steps {
		switch s.Status {
		case domain.StepSkipped:
			fmt.Fprintf(&sb, "○ %s skipped\n", s.StepID)
		case domain.StepFailed:
			fmt.Fprintf(&sb, "%s %s %s: %s\n", color.RedString("✗"), s.StepID, s.Model, s.Result.Error)
		default:
			fmt.Fprintf(&sb, "%s %s %s %s\n", color.GreenString("✓"), s.StepID, s.Model,
				color.HiBlackString(FormatDuration(s.Result.Duration)))
		}
	}
	return sb.String()
}

// Health lists adapter validation results.
func (r *Renderer) Health(hs []llm.Health) string {
	if len(hs) == 0 {
		return "No backends configured\n"
	}
	var sb strings.Builder
	r.title(&sb, "Backends")
	for _, h := range hs {
		if h.Err != nil {
			fmt.Fprintf(&sb, "%s %-10s %s\n", color.RedString("✗"), h.Kind, h.Err)
			continue
		}
		fmt.Fprintf(&sb, "%s %-10s ok\n", color.GreenString("✓"), h.Kind)
	}
	return sb.String()
}

// Report prints the analytics view.
func (r *Renderer) Report(rep analytics.Report) string {
	if rep.Total == 0 {
		return "No dispatches recorded\n"
	}
	var sb strings.Builder
	r.title(&sb, "Analytics")
	if !rep.Since.IsZero() {
		fmt.Fprintf(&sb, "since %s, ", humanize.Time(rep.Since))
	}
	fmt.Fprintf(&sb, "%s dispatch(es)\n\n", humanize.Comma(int64(rep.Total)))
	sb.WriteString(r.Compare(rep.Models))
	sb.WriteString("\nby hour:\n")
	sb.WriteString(hourly(rep.Hourly))
	return sb.String()
}

// Compare prints model stats side by side.
func (r *Renderer) Compare(stats []analytics.ModelStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-28s %5s %6s %8s %8s %8s %10s  %s\n",
		"model", "runs", "ok%", "mean", "median", "p95", "tokens", "top categories")
	for _, s := range stats {
		cats := make([]string, len(s.TopCategories))
		for i, c := range s.TopCategories {
			cats[i] = fmt.Sprintf("%s(%d)", c.Category, c.Count)
		}
		fmt.Fprintf(&sb, "%-28s %5d %5.0f%% %8s %8s %8s %10s  %s\n",
			strutil.Truncate(s.ModelID, 28), s.Runs, s.SuccessRate*100,
			ms(s.MeanMs), ms(s.MedianMs), ms(float64(s.P95Ms)),
			humanize.Comma(int64(s.TokensPrompt+s.TokensCompletion)), strings.Join(cats, " "))
	}
	return sb.String()
}

func ms(v float64) string {
	return FormatDuration(time.Duration(v * float64(time.Millisecond)))
}

func hourly(h [24]int) string {
	peak := 0
	for _, n := range h {
		peak = max(peak, n)
	}
	if peak == 0 {
		return ""
	}
	var sb strings.Builder
	for hour, n := range h {
		if n == 0 {
			continue
		}
		bar := strings.Repeat("█", max(1, n*30/peak))
		fmt.Fprintf(&sb, "  %02d:00 %s %d\n", hour, color.CyanString(bar), n)
	}
	return sb.String()
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
