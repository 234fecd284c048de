package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func capture(t *testing.T, debug bool) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Setup(Options{Writer: &buf, Debug: debug})
	t.Cleanup(func() { Setup(Options{}) })
	return &buf
}

func lastEvent(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &parsed); err != nil {
		t.Fatalf("failed to parse log line %q: %v", lines[len(lines)-1], err)
	}
	return parsed
}

func TestLoggerCreation(t *testing.T) {
	logger := New("test-component")
	if logger.component != "test-component" {
		t.Errorf("expected component 'test-component', got '%s'", logger.component)
	}

	withSession := logger.WithSession("01J0SESSION")
	if withSession.session != "01J0SESSION" {
		t.Errorf("expected session '01J0SESSION', got '%s'", withSession.session)
	}
	if logger.session != "" {
		t.Error("WithSession must not mutate the receiver")
	}
}

func TestInfoEvent(t *testing.T) {
	buf := capture(t, false)

	New("dispatch").WithSession("s1").Info("dispatch_done", Fields{"model": "gpt-4o"})

	ev := lastEvent(t, buf)
	if ev["level"] != "info" {
		t.Errorf("expected level 'info', got '%v'", ev["level"])
	}
	if ev["component"] != "dispatch" {
		t.Errorf("expected component 'dispatch', got '%v'", ev["component"])
	}
	if ev["session"] != "s1" {
		t.Errorf("expected session 's1', got '%v'", ev["session"])
	}
	if ev["model"] != "gpt-4o" {
		t.Errorf("expected model field, got '%v'", ev["model"])
	}
	if ev["message"] != "dispatch_done" {
		t.Errorf("expected message 'dispatch_done', got '%v'", ev["message"])
	}
}

func TestErrorEvent(t *testing.T) {
	buf := capture(t, false)

	New("store").Error("append_failed", nil, errors.New("disk full"))

	ev := lastEvent(t, buf)
	if ev["level"] != "error" {
		t.Errorf("expected level 'error', got '%v'", ev["level"])
	}
	if ev["error"] != "disk full" {
		t.Errorf("expected error 'disk full', got '%v'", ev["error"])
	}
}

func TestDebugFilteredByLevel(t *testing.T) {
	buf := capture(t, false)
	New("x").Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Errorf("debug event written at info level: %s", buf.String())
	}

	buf = capture(t, true)
	New("x").Debug("shown", nil)
	if !strings.Contains(buf.String(), "shown") {
		t.Error("debug event missing at debug level")
	}
}

func TestTimedEvent(t *testing.T) {
	buf := capture(t, false)

	New("batch").TimedEvent("item_done", time.Now().Add(-50*time.Millisecond), nil)

	ev := lastEvent(t, buf)
	ms, ok := ev["duration_ms"].(float64)
	if !ok || ms < 50 {
		t.Errorf("expected duration_ms >= 50, got %v", ev["duration_ms"])
	}
}

func TestRecoveryHandler(t *testing.T) {
	buf := capture(t, false)

	var gotPanic interface{}
	h := NewRecoveryHandler("tui")
	h.OnPanic = func(err interface{}, stack string) { gotPanic = err }

	err := h.WrapError(func() error { panic("boom") })
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic error, got %v", err)
	}
	if gotPanic != "boom" {
		t.Errorf("OnPanic got %v", gotPanic)
	}
	if !strings.Contains(buf.String(), "panic_recovered") {
		t.Error("panic was not logged")
	}

	if err := h.WrapError(func() error { return nil }); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
