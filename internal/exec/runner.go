// Package exec provides a testable command execution abstraction.
// Commands are always an argument vector; nothing here goes through a shell.
package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	osexec "os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a cancelled command may take to exit
// after SIGTERM before it is killed.
const DefaultGracePeriod = 3 * time.Second

// Command is one subprocess invocation.
type Command struct {
	Name  string
	Args  []string
	Dir   string
	Stdin io.Reader
}

// Argv returns the full argument vector including the program name.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command for logs. Not for execution.
func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Output holds what a finished command produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner defines the interface for executing external commands.
// Inject this instead of calling exec.Command directly.
type Runner interface {
	// Run executes cmd and waits for it. A non-zero exit is reported in
	// Output.ExitCode with a nil error; err is set when the command could
	// not be started or was cancelled.
	Run(ctx context.Context, cmd Command) (Output, error)
}

// OSRunner implements Runner using os/exec.
type OSRunner struct {
	// Env overrides environment variables (nil = inherit from parent)
	Env []string

	// GracePeriod between SIGTERM and kill on cancellation
	GracePeriod time.Duration
}

// NewOSRunner creates a new OS-based command runner.
func NewOSRunner() *OSRunner {
	return &OSRunner{GracePeriod: DefaultGracePeriod}
}

// Run executes the command, sending SIGTERM when ctx is cancelled.
func (r *OSRunner) Run(ctx context.Context, c Command) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	cmd := osexec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if r.Env != nil {
		cmd.Env = r.Env
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}

// MockRunner implements Runner for testing.
type MockRunner struct {
	mu sync.Mutex

	// Calls records all command invocations
	Calls []Command

	// Responses maps a program name to its response
	Responses map[string]MockResponse

	// Handler, when set, replaces Responses
	Handler func(ctx context.Context, cmd Command) (Output, error)
}

// MockResponse defines the response for a mocked command.
type MockResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Err      error
}

// NewMockRunner creates a new mock runner.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		Responses: make(map[string]MockResponse),
	}
}

// AddResponse sets the response for a program name.
func (m *MockRunner) AddResponse(name string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses[name] = resp
}

// LastCall returns the most recent invocation.
func (m *MockRunner) LastCall() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Command{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

func (m *MockRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, cmd)
	handler := m.Handler
	resp := m.Responses[cmd.Name]
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, cmd)
	}
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	return Output{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}, resp.Err
}

// Default is the default runner used by helper functions.
var Default Runner = NewOSRunner()

// Run executes using the default runner.
func Run(ctx context.Context, name string, args ...string) (Output, error) {
	return Default.Run(ctx, Command{Name: name, Args: args})
}
