package batch

import (
	"fmt"
	"time"

	"github.com/joss/llmrouter/internal/domain"
)

// Progress describes one resolved item.
type Progress struct {
	BatchID  string
	Index    int // 1-based position of the item
	Total    int
	Status   domain.ItemStatus
	Duration time.Duration
	Elapsed  time.Duration
	ETA      time.Duration
	Error    string
}

// String renders the progress line: [k/N] ok|failed <dur> elapsed <e> eta <eta>.
func (p Progress) String() string {
	word := "ok"
	if p.Status == domain.ItemFailed {
		word = "failed"
	}
	return fmt.Sprintf("[%d/%d] %s %s elapsed %s eta %s",
		p.Index, p.Total, word, round(p.Duration), round(p.Elapsed), round(p.ETA))
}

func round(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}

// eta extrapolates the mean item time of this run over the remaining items.
func eta(elapsed time.Duration, done, remaining int) time.Duration {
	if done <= 0 || remaining <= 0 {
		return 0
	}
	return time.Duration(int64(elapsed) / int64(done) * int64(remaining))
}
