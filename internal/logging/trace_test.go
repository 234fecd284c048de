package logging

import (
	"context"
	"testing"
)

func TestNewDispatchID(t *testing.T) {
	id1 := NewDispatchID()
	id2 := NewDispatchID()

	if len(id1) != 16 {
		t.Errorf("expected 16 char ID, got %d: %s", len(id1), id1)
	}
	if id1 == id2 {
		t.Error("dispatch IDs should be unique")
	}
}

func TestWithDispatchID(t *testing.T) {
	ctx := context.Background()

	ctx1 := WithDispatchID(ctx, "test-id-123")
	if got := DispatchID(ctx1); got != "test-id-123" {
		t.Errorf("expected 'test-id-123', got '%s'", got)
	}

	ctx2 := WithDispatchID(ctx, "")
	if id := DispatchID(ctx2); len(id) != 16 {
		t.Errorf("expected 16 char auto-generated ID, got %d: %s", len(id), id)
	}

	if got := DispatchID(ctx); got != "" {
		t.Errorf("expected empty string for context without ID, got '%s'", got)
	}
}

func TestFromContextTagsEvents(t *testing.T) {
	buf := capture(t, false)

	ctx := WithDispatchID(context.Background(), "abc")
	New("dispatch").WithSession("s").FromContext(ctx).Info("sent", nil)

	ev := lastEvent(t, buf)
	if ev["dispatch_id"] != "abc" {
		t.Errorf("expected dispatch_id 'abc', got '%v'", ev["dispatch_id"])
	}
	if ev["session"] != "s" {
		t.Errorf("session lost: %v", ev["session"])
	}
}
