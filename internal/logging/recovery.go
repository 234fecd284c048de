package logging

import (
	"fmt"
	"runtime/debug"
)

// RecoveryHandler converts panics into logged errors.
type RecoveryHandler struct {
	Component string
	OnPanic   func(err interface{}, stack string)
}

// NewRecoveryHandler creates a recovery handler for a component
func NewRecoveryHandler(component string) *RecoveryHandler {
	return &RecoveryHandler{
		Component: component,
	}
}

// WrapError executes fn with panic recovery, returning error on panic
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = r.handlePanic(rec, string(debug.Stack()))
		}
	}()
	return fn()
}

func (r *RecoveryHandler) handlePanic(rec interface{}, stack string) error {
	New(r.Component).Error("panic_recovered", Fields{
		"panic": fmt.Sprintf("%v", rec),
		"stack": stack,
	}, nil)

	if r.OnPanic != nil {
		r.OnPanic(rec, stack)
	}
	return fmt.Errorf("panic in %s: %v", r.Component, rec)
}
