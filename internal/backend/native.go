package backend

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	osexec "os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/errkind"
	"github.com/joss/llmrouter/internal/exec"
)

// DefaultNativeMaxTokens is passed as -n when the request sets no limit.
const DefaultNativeMaxTokens = 512

// Native runs a llama.cpp style binary once per request.
type Native struct {
	base
	binary    string
	modelsDir string
	wsl       bool
	runner    exec.Runner
}

// NewNative creates a native adapter. With wsl set, every invocation is
// tunneled through `wsl --` and Windows paths are translated.
func NewNative(binary, modelsDir string, wsl bool, timeoutSeconds int, defaultTemp *float64, runner exec.Runner) *Native {
	if binary == "" {
		binary = "llama-cli"
	}
	if runner == nil {
		runner = exec.Default
	}
	return &Native{
		base:      newBase("backend.native", timeoutSeconds, defaultTemp),
		binary:    binary,
		modelsDir: modelsDir,
		wsl:       wsl,
		runner:    runner,
	}
}

func (n *Native) Kind() domain.BackendKind { return domain.BackendNative }

// ModelPath resolves a descriptor's locator against the models directory.
func (n *Native) ModelPath(m domain.ModelDescriptor) string {
	p := locator(m)
	if n.modelsDir != "" && !filepath.IsAbs(p) && !isWindowsPath(p) {
		p = filepath.Join(n.modelsDir, p)
	}
	return p
}

// NativeArgs builds the argument vector (without the program name).
func NativeArgs(modelPath string, req domain.ExecutionRequest, p domain.Params) []string {
	prompt := req.Prompt
	if req.System != "" {
		prompt = req.System + "\n\n" + req.Prompt
	}

	args := []string{
		"-m", modelPath,
		"-p", prompt,
		"-n", strconv.Itoa(p.MaxTokensOr(DefaultNativeMaxTokens)),
	}
	if p.Temperature != nil {
		args = append(args, "--temp", formatFloat(*p.Temperature))
	}
	if p.TopP != nil {
		args = append(args, "--top-p", formatFloat(*p.TopP))
	}
	if p.TopK != nil {
		args = append(args, "--top-k", strconv.Itoa(*p.TopK))
	}
	ctxSize := req.Model.ContextWindow
	if p.ContextWindow != nil {
		ctxSize = *p.ContextWindow
	}
	if ctxSize > 0 {
		args = append(args, "-c", strconv.Itoa(ctxSize))
	}
	for _, s := range p.Stop {
		args = append(args, "-r", s)
	}
	return append(args, "--no-display-prompt", "-no-cnv")
}

// Command builds the full invocation for a request.
func (n *Native) Command(req domain.ExecutionRequest) exec.Command {
	modelPath := n.ModelPath(req.Model)
	binary := n.binary
	if n.wsl {
		modelPath = WindowsToWSL(modelPath)
		binary = WindowsToWSL(binary)
	}
	args := NativeArgs(modelPath, req, n.params(req))
	if n.wsl {
		return exec.Command{Name: "wsl", Args: append([]string{"--", binary}, args...)}
	}
	return exec.Command{Name: binary, Args: args}
}

// Execute runs the binary and parses its output.
func (n *Native) Execute(ctx context.Context, req domain.ExecutionRequest) domain.ExecutionResult {
	start := time.Now()
	if ctx.Err() != nil {
		return n.cancelled(req, start)
	}

	cmd := n.Command(req)
	callCtx, cancel := n.withTimeout(ctx)
	defer cancel()

	out, err := n.runner.Run(callCtx, cmd)
	if err != nil {
		return n.failure(ctx, req, start, err)
	}
	if out.ExitCode != 0 {
		msg := fmt.Sprintf("%s exited with status %d", filepath.Base(n.binary), out.ExitCode)
		if last := lastLine(string(out.Stderr)); last != "" {
			msg += ": " + last
		}
		return n.failure(ctx, req, start, fmt.Errorf("%s", msg))
	}

	text := CleanNativeOutput(string(out.Stdout))
	pt, ct := ParseNativeTokens(string(out.Stderr))
	return n.success(req, start, text, pt, ct)
}

// ListModels finds GGUF files under the models directory.
func (n *Native) ListModels(ctx context.Context) ([]domain.ModelDescriptor, error) {
	if n.modelsDir == "" {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(n.modelsDir), "**/*.gguf")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	models := make([]domain.ModelDescriptor, 0, len(matches))
	for _, m := range matches {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		id := strings.TrimSuffix(filepath.Base(m), filepath.Ext(m))
		d := discovered(domain.BackendNative, id)
		d.Locator = filepath.Join(n.modelsDir, filepath.FromSlash(m))
		models = append(models, d)
	}
	return models, nil
}

// ValidateConfig checks that the binary (or wsl) is on PATH and the
// models directory exists.
func (n *Native) ValidateConfig(ctx context.Context) error {
	prog := n.binary
	if n.wsl {
		prog = "wsl"
	}
	if _, err := osexec.LookPath(prog); err != nil {
		return errkind.Config("llamacpp", fmt.Errorf("%s not found: %w", prog, err))
	}
	if n.modelsDir != "" {
		info, err := os.Stat(n.modelsDir)
		if err != nil {
			return errkind.Config("llamacpp", err)
		}
		if !info.IsDir() {
			return errkind.Config("llamacpp", &fs.PathError{Op: "stat", Path: n.modelsDir, Err: fs.ErrInvalid})
		}
	}
	return nil
}

var bannerPrefixes = []string{
	"llama_", "main:", "system_info:", "sampler", "generate:",
	"build:", "load_", "print_info:", "common_",
}

// CleanNativeOutput strips loader banners, stat lines and the end marker.
func CleanNativeOutput(stdout string) string {
	var kept []string
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if isBanner(trimmed) {
			continue
		}
		kept = append(kept, strings.ReplaceAll(line, "[end of text]", ""))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func isBanner(line string) bool {
	for _, p := range bannerPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

var tokenCountRE = regexp.MustCompile(`/\s*(\d+)\s+(?:tokens|runs)`)

// ParseNativeTokens reads prompt and completion counts from the timing
// summary on stderr. Zero means not reported.
func ParseNativeTokens(stderr string) (prompt, completion int) {
	for _, line := range strings.Split(stderr, "\n") {
		m := tokenCountRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		switch {
		case strings.Contains(line, "prompt eval time"):
			prompt = n
		case strings.Contains(line, "eval time"):
			completion = n
		}
	}
	return prompt, completion
}

var windowsPathRE = regexp.MustCompile(`^([A-Za-z]):[\\/]`)

func isWindowsPath(p string) bool {
	return windowsPathRE.MatchString(p)
}

// WindowsToWSL maps C:\x\y to /mnt/c/x/y. Other paths are returned as is.
func WindowsToWSL(p string) string {
	m := windowsPathRE.FindStringSubmatch(p)
	if m == nil {
		return p
	}
	rest := strings.ReplaceAll(p[len(m[0]):], `\`, "/")
	return "/mnt/" + strings.ToLower(m[1]) + "/" + rest
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
