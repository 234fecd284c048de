// Package logging provides structured component logging for llmrouter.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fields carries extra structured data for an event.
type Fields map[string]interface{}

// Options configures the process-wide log sink.
type Options struct {
	// Writer receives log lines. Nil discards.
	Writer io.Writer
	// Console renders human-readable lines instead of JSON.
	Console bool
	// Debug lowers the level to debug.
	Debug bool
}

var (
	mu   sync.RWMutex
	base = zerolog.New(io.Discard)
)

// Setup installs the process-wide sink. Safe to call more than once.
func Setup(opts Options) {
	w := opts.Writer
	if w == nil {
		w = io.Discard
	}
	if opts.Console {
		w = zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.Kitchen}
	}
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	mu.Lock()
	base = zerolog.New(w).Level(level).With().Timestamp().Logger()
	mu.Unlock()
}

// OpenFile opens (creating as needed) an append-only log file.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// Logger provides structured logging for one component.
type Logger struct {
	component string
	session   string
	dispatch  string
}

// New creates a new logger for a component.
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithSession sets the session context.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{component: l.component, session: sessionID, dispatch: l.dispatch}
}

func (l *Logger) event(level zerolog.Level, event string, extra Fields, err error) *zerolog.Event {
	mu.RLock()
	zl := base
	mu.RUnlock()

	e := zl.WithLevel(level).Str("component", l.component)
	if l.session != "" {
		e = e.Str("session", l.session)
	}
	if l.dispatch != "" {
		e = e.Str("dispatch_id", l.dispatch)
	}
	if err != nil {
		e = e.Err(err)
	}
	if len(extra) > 0 {
		e = e.Fields(map[string]interface{}(extra))
	}
	return e
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra Fields) {
	l.event(zerolog.DebugLevel, event, extra, nil).Msg(event)
}

// Info logs an info event
func (l *Logger) Info(event string, extra Fields) {
	l.event(zerolog.InfoLevel, event, extra, nil).Msg(event)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra Fields, err error) {
	l.event(zerolog.WarnLevel, event, extra, err).Msg(event)
}

// Error logs an error event
func (l *Logger) Error(event string, extra Fields, err error) {
	l.event(zerolog.ErrorLevel, event, extra, err).Msg(event)
}

// TimedEvent logs an event with its duration since start.
func (l *Logger) TimedEvent(event string, start time.Time, extra Fields) {
	l.event(zerolog.InfoLevel, event, extra, nil).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg(event)
}
