package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/joss/llmrouter/internal/errkind"
)

// Error prints the category, cause, and remediations for err.
func Error(w io.Writer, err error) {
	fmt.Fprint(w, ErrorString(err))
}

// ErrorString formats err the way Error prints it.
func ErrorString(err error) string {
	if err == nil {
		return ""
	}
	ex := errkind.Explain(err)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", color.RedString("✗"), color.New(color.Bold).Sprint(ex.Category))
	fmt.Fprintf(&sb, "  %s\n", ex.Cause)
	if len(ex.Remediations) > 0 {
		sb.WriteString(color.HiBlackString("  Try:\n"))
		for _, r := range ex.Remediations {
			fmt.Fprintf(&sb, "    - %s\n", r)
		}
	}
	return sb.String()
}
