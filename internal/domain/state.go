package domain

import "fmt"

// RunState is the lifecycle state shared by batch jobs and workflow runs.
type RunState string

const (
	StateDraft     RunState = "DRAFT"
	StateRunning   RunState = "RUNNING"
	StatePaused    RunState = "PAUSED"
	StateSucceeded RunState = "SUCCEEDED"
	StateFailed    RunState = "FAILED"
	StateCancelled RunState = "CANCELLED"
)

var transitions = map[RunState][]RunState{
	StateDraft:   {StateRunning, StateCancelled},
	StateRunning: {StatePaused, StateSucceeded, StateFailed, StateCancelled},
	StatePaused:  {StateRunning, StateCancelled},
}

// Terminal reports whether s is frozen.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// CanTransition reports whether s may move to next.
func (s RunState) CanTransition(next RunState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Transition validates s → next.
func (s RunState) Transition(next RunState) error {
	if !s.CanTransition(next) {
		return fmt.Errorf("invalid state transition %s -> %s", s, next)
	}
	return nil
}

// Resumable reports whether a run in state s may be (re)started.
// RUNNING is included: a run found RUNNING on open was interrupted by a crash.
func (s RunState) Resumable() bool {
	return s == StateDraft || s == StatePaused || s == StateRunning
}
