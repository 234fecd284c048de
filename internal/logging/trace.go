package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const dispatchIDKey contextKey = "dispatch_id"

// NewDispatchID generates a short correlation ID (16 hex chars) that ties
// together the log lines of one dispatch, batch item or workflow step.
func NewDispatchID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// WithDispatchID adds a dispatch ID to ctx, generating one when id is empty.
func WithDispatchID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewDispatchID()
	}
	return context.WithValue(ctx, dispatchIDKey, id)
}

// DispatchID extracts the dispatch ID from ctx, or "".
func DispatchID(ctx context.Context) string {
	if v, ok := ctx.Value(dispatchIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns a copy of l that tags every event with the dispatch
// ID carried by ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	return &Logger{component: l.component, session: l.session, dispatch: DispatchID(ctx)}
}
