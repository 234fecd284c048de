package batch

import (
	"bufio"
	"io"
	"strings"

	"github.com/joss/llmrouter/internal/errkind"
)

// Delimiter is the line that separates multi-line prompts.
const Delimiter = "---"

// ParsePrompts reads batch input. If any line is exactly the delimiter,
// prompts are the trimmed, non-empty chunks between delimiter lines;
// otherwise every non-empty trimmed line is a prompt.
func ParsePrompts(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	delimited := false
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == Delimiter {
			delimited = true
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errkind.Config("read batch input", err)
	}

	var prompts []string
	if !delimited {
		for _, l := range lines {
			if t := strings.TrimSpace(l); t != "" {
				prompts = append(prompts, t)
			}
		}
		return prompts, nil
	}

	var chunk []string
	flush := func() {
		if t := strings.TrimSpace(strings.Join(chunk, "\n")); t != "" {
			prompts = append(prompts, t)
		}
		chunk = chunk[:0]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) == Delimiter {
			flush()
			continue
		}
		chunk = append(chunk, l)
	}
	flush()
	return prompts, nil
}
