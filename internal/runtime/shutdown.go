// Package runtime owns the process root context and ordered cleanup.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joss/llmrouter/internal/logging"
)

// ShutdownFunc is a cleanup function called during shutdown
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager cancels the root context on interrupt and runs cleanup
// handlers once, last registered first.
type ShutdownManager struct {
	mu       sync.Mutex
	handlers []namedHandler
	timeout  time.Duration
	rootCtx  context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	err      error
	log      *logging.Logger

	// exit terminates the process on a second signal.
	exit func(code int)
}

type namedHandler struct {
	name string
	fn   ShutdownFunc
}

// DefaultShutdownTimeout bounds all cleanup handlers together.
const DefaultShutdownTimeout = 10 * time.Second

// NewShutdownManager creates a new shutdown manager with specified timeout
func NewShutdownManager(timeout time.Duration) *ShutdownManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &ShutdownManager{
		timeout: timeout,
		rootCtx: ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		log:     logging.New("runtime"),
		exit:    os.Exit,
	}
}

// Register adds a cleanup handler to be called during shutdown.
// Handlers run in reverse order (LIFO), one at a time.
func (m *ShutdownManager) Register(name string, fn ShutdownFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, namedHandler{name: name, fn: fn})
}

// RegisterSimple adds a simple cleanup function (no error return)
func (m *ShutdownManager) RegisterSimple(name string, fn func()) {
	m.Register(name, func(ctx context.Context) error {
		fn()
		return nil
	})
}

// Context returns the root context. It is cancelled on interrupt and
// when shutdown begins.
func (m *ShutdownManager) Context() context.Context {
	return m.rootCtx
}

// Done returns a channel that's closed when shutdown is complete
func (m *ShutdownManager) Done() <-chan struct{} {
	return m.done
}

// Interrupt cancels the root context without running cleanup. Running
// batches and workflows observe it and pause.
func (m *ShutdownManager) Interrupt() {
	m.cancel()
}

// ListenForSignals cancels the root context on the first SIGINT or
// SIGTERM. A second signal runs cleanup and exits with status 1.
func (m *ShutdownManager) ListenForSignals() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		m.log.Info("signal_received", logging.Fields{"signal": sig.String()})
		m.Interrupt()

		select {
		case sig = <-sigChan:
			m.log.Warn("signal_forced_exit", logging.Fields{"signal": sig.String()}, nil)
			m.Shutdown()
			m.exit(1)
		case <-m.done:
		}
		signal.Stop(sigChan)
	}()
}

// Shutdown cancels the root context and runs every handler once. Later
// calls return the first call's result.
func (m *ShutdownManager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.performShutdown()
	})
	return m.err
}

func (m *ShutdownManager) performShutdown() error {
	defer close(m.done)
	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	handlers := make([]namedHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	var errs []error
	for i := len(handlers) - 1; i >= 0; i-- {
		h := handlers[i]
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%s: shutdown timed out after %v", h.name, m.timeout))
			continue
		}
		start := time.Now()
		if err := runHandler(ctx, h); err != nil {
			m.log.Error("shutdown_handler_failed", logging.Fields{"handler": h.name}, err)
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}
		m.log.TimedEvent("shutdown_handler_done", start, logging.Fields{"handler": h.name})
	}
	return errors.Join(errs...)
}

// runHandler returns when fn does or when ctx expires, whichever is first.
func runHandler(ctx context.Context, h namedHandler) error {
	result := make(chan error, 1)
	go func() { result <- h.fn(ctx) }()
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForShutdown blocks until shutdown is complete
func (m *ShutdownManager) WaitForShutdown() {
	<-m.done
}
