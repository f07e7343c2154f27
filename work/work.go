// Package work provides the cooperative task lifecycle the catch-up
// engine runs under: a Task exposes reset/start/step/evaluate hooks and
// a Runner invokes them repeatedly, applying retry policy to failures.
package work

import (
	"context"
	"errors"
)

// State is a Task's answer to OnEvaluate.
type State int

const (
	// StateRunning: the current phase still has work; keep stepping.
	StateRunning State = iota
	// StatePending: the current phase finished but another phase
	// follows; invoke OnStart again.
	StatePending
	// StateSuccess: the task completed.
	StateSuccess
	// StateFailure: the task failed without a distinguishing error.
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePending:
		return "pending"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Task is the lifecycle contract a resumable unit of work implements.
// The Runner owns sequencing; the Task performs one small bounded unit
// of work per OnStep call and never blocks internally.
type Task interface {
	// Name identifies the task in logs.
	Name() string
	// OnReset returns the task to its initial state. Called before the
	// first attempt and before every retry.
	OnReset()
	// OnStart begins (or resumes at) the task's current phase.
	OnStart(ctx context.Context) error
	// OnStep performs one bounded unit of work.
	OnStep(ctx context.Context) error
	// OnEvaluate inspects progress after a step and reports whether to
	// keep stepping, restart the phase loop, or finish.
	OnEvaluate(ctx context.Context) (State, error)
	// OnFailureRetry is invoked before the Runner retries a transient
	// failure.
	OnFailureRetry()
	// OnFailureRaise is invoked before the Runner raises a terminal
	// failure.
	OnFailureRaise()
}

// permanentError marks an error the Runner must not retry.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the Runner raises it immediately instead
// of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err is marked non-retryable.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
