package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joss/llmrouter/internal/domain"
	"github.com/joss/llmrouter/internal/exec"
)

const llamaStderr = `llama_model_loader: loaded meta data with 24 key-value pairs
llama_perf_context_print:        load time =     812.11 ms
llama_perf_context_print: prompt eval time =     120.50 ms /    11 tokens (   10.95 ms per token)
llama_perf_context_print:        eval time =    1501.33 ms /    42 runs   (   35.75 ms per token)
llama_perf_context_print:       total time =    1700.00 ms /    53 tokens
`

func gguf(id string) domain.ModelDescriptor {
	return domain.ModelDescriptor{
		ID:         id,
		Backend:    domain.BackendNative,
		Locator:    id + ".gguf",
		Categories: []domain.Category{domain.CategoryCoding},
	}
}

func TestNativeArgsShape(t *testing.T) {
	req := domain.ExecutionRequest{
		Model:  domain.ModelDescriptor{ID: "m", ContextWindow: 4096},
		Prompt: "hi",
		System: "be brief",
	}
	p := domain.Params{
		Temperature: domain.Float(0.2),
		TopP:        domain.Float(0.9),
		TopK:        domain.Int(40),
		MaxTokens:   domain.Int(64),
		Stop:        []string{"</s>", "User:"},
	}

	args := NativeArgs("/models/m.gguf", req, p)

	assert.Equal(t, []string{
		"-m", "/models/m.gguf",
		"-p", "be brief\n\nhi",
		"-n", "64",
		"--temp", "0.2",
		"--top-p", "0.9",
		"--top-k", "40",
		"-c", "4096",
		"-r", "</s>",
		"-r", "User:",
		"--no-display-prompt", "-no-cnv",
	}, args)
}

func TestNativeArgsDefaults(t *testing.T) {
	args := NativeArgs("m.gguf", domain.ExecutionRequest{Prompt: "x"}, domain.Params{})
	assert.Equal(t, []string{"-m", "m.gguf", "-p", "x", "-n", "512", "--no-display-prompt", "-no-cnv"}, args)
}

func TestNativeHostilePromptStaysOneArgument(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("llama-cli", exec.MockResponse{Stdout: []byte("ok")})
	n := NewNative("llama-cli", "/models", false, 5, nil, runner)

	hostile := `"; rm -rf / #$(reboot)` + "`id`"
	res := n.Execute(context.Background(), domain.ExecutionRequest{Model: gguf("m"), Prompt: hostile})
	require.Equal(t, domain.StatusOK, res.Status)

	call, ok := runner.LastCall()
	require.True(t, ok)
	assert.Equal(t, "llama-cli", call.Name)
	idx := indexOf(call.Args, "-p")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, hostile, call.Args[idx+1])
	assert.Equal(t, filepath.Join("/models", "m.gguf"), call.Args[indexOf(call.Args, "-m")+1])
}

func TestNativeWSLTunnel(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("wsl", exec.MockResponse{Stdout: []byte("ok")})
	n := NewNative("llama-cli", "", true, 5, nil, runner)

	model := domain.ModelDescriptor{ID: "m", Locator: `C:\Models\Qwen\q.gguf`}
	res := n.Execute(context.Background(), domain.ExecutionRequest{Model: model, Prompt: "p"})
	require.Equal(t, domain.StatusOK, res.Status)

	call, _ := runner.LastCall()
	assert.Equal(t, "wsl", call.Name)
	assert.Equal(t, []string{"--", "llama-cli", "-m", "/mnt/c/Models/Qwen/q.gguf"}, call.Args[:4])
}

func TestWindowsToWSL(t *testing.T) {
	tests := map[string]string{
		`C:\x\y`:         "/mnt/c/x/y",
		`d:/data/m.gguf`: "/mnt/d/data/m.gguf",
		"/already/posix": "/already/posix",
		"relative.gguf":  "relative.gguf",
	}
	for in, want := range tests {
		assert.Equal(t, want, WindowsToWSL(in), in)
	}
}

func TestNativeParsesOutputAndTokens(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("llama-cli", exec.MockResponse{
		Stdout: []byte("build: 4120 (abc)\nmain: seed = 1\n\ndef add(a, b):\n    return a + b\n [end of text]\n"),
		Stderr: []byte(llamaStderr),
	})
	n := NewNative("llama-cli", "", false, 5, nil, runner)

	res := n.Execute(context.Background(), domain.ExecutionRequest{Model: gguf("m"), Prompt: "p"})

	require.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, "def add(a, b):\n    return a + b", res.Text)
	assert.Equal(t, 11, res.PromptTokens)
	assert.Equal(t, 42, res.CompletionTokens)
	assert.False(t, res.TokensEstimated)
}

func TestNativeEstimatesWhenStatsMissing(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("llama-cli", exec.MockResponse{Stdout: []byte("four words right here")})
	n := NewNative("llama-cli", "", false, 5, nil, runner)

	res := n.Execute(context.Background(), domain.ExecutionRequest{Model: gguf("m"), Prompt: "two words"})

	assert.True(t, res.TokensEstimated)
	assert.Equal(t, 3, res.PromptTokens)
	assert.Equal(t, 6, res.CompletionTokens)
}

func TestNativeNonZeroExit(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.AddResponse("llama-cli", exec.MockResponse{
		Stdout:   []byte("partial"),
		Stderr:   []byte("llama_load: error\nfailed to load model 'm.gguf'\n"),
		ExitCode: 1,
	})
	n := NewNative("llama-cli", "", false, 5, nil, runner)

	res := n.Execute(context.Background(), domain.ExecutionRequest{Model: gguf("m"), Prompt: "p"})

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Empty(t, res.Text)
	assert.Contains(t, res.Error, "status 1")
	assert.Contains(t, res.Error, "failed to load model")
}

func TestNativeCancellation(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.Handler = func(ctx context.Context, cmd exec.Command) (exec.Output, error) {
		<-ctx.Done()
		return exec.Output{Stdout: []byte("partial")}, ctx.Err()
	}
	n := NewNative("llama-cli", "", false, 5, nil, runner)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := n.Execute(ctx, domain.ExecutionRequest{Model: gguf("m"), Prompt: "p"})

	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Empty(t, res.Text)
}

func TestNativeTimeout(t *testing.T) {
	runner := exec.NewMockRunner()
	runner.Handler = func(ctx context.Context, cmd exec.Command) (exec.Output, error) {
		<-ctx.Done()
		return exec.Output{}, ctx.Err()
	}
	n := NewNative("llama-cli", "", false, 1, nil, runner)
	n.timeout = 20 * time.Millisecond

	res := n.Execute(context.Background(), domain.ExecutionRequest{Model: gguf("m"), Prompt: "p"})

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Contains(t, res.Error, "timed out")
}

func TestNativeCancelledBeforeStart(t *testing.T) {
	runner := exec.NewMockRunner()
	n := NewNative("llama-cli", "", false, 5, nil, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := n.Execute(ctx, domain.ExecutionRequest{Model: gguf("m"), Prompt: "p"})

	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.Empty(t, runner.Calls)
}

func TestNativeListModels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "qwen"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qwen", "qwen2.5-coder-7b.gguf"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llama3.gguf"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0644))

	n := NewNative("llama-cli", dir, false, 5, nil, exec.NewMockRunner())
	models, err := n.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].ID)
	assert.Equal(t, "qwen2.5-coder-7b", models[1].ID)
	assert.Equal(t, filepath.Join(dir, "qwen", "qwen2.5-coder-7b.gguf"), models[1].Locator)
}

func TestCleanNativeOutputDropsBanners(t *testing.T) {
	out := CleanNativeOutput("print_info: arch = llama\n  indented\nsampler seed: 1\nplain\n")
	assert.Equal(t, "indented\nplain", out)
}

func indexOf(args []string, flag string) int {
	for i, a := range args {
		if a == flag {
			return i
		}
	}
	return -1
}
