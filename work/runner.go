package work

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	// MaxAttempts bounds the total attempts (first run plus retries).
	// Zero means DefaultMaxAttempts.
	MaxAttempts int
	// NewBackOff produces the backoff policy for one Run call. Nil
	// means exponential backoff with defaults.
	NewBackOff func() backoff.BackOff
	Logger     *slog.Logger
}

// DefaultMaxAttempts is the attempt bound when none is configured.
const DefaultMaxAttempts = 3

// Runner drives a Task to completion, retrying transient failures with
// backoff. Permanent errors and context cancellation are raised
// without retry.
type Runner struct {
	maxAttempts int
	newBackOff  func() backoff.BackOff
	logger      *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	newBackOff := opts.NewBackOff
	if newBackOff == nil {
		newBackOff = func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 100 * time.Millisecond
			bo.MaxInterval = 5 * time.Second
			return bo
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{
		maxAttempts: maxAttempts,
		newBackOff:  newBackOff,
		logger:      logger.With("component", "WorkRunner"),
	}
}

// Run executes the task until success, a permanent failure, context
// cancellation, or attempt exhaustion.
func (r *Runner) Run(ctx context.Context, task Task) error {
	bo := r.newBackOff()

	for attempt := 1; ; attempt++ {
		err := r.runOnce(ctx, task)
		if err == nil {
			r.logger.Debug("task succeeded", "task", task.Name(), "attempt", attempt)
			return nil
		}

		if ctx.Err() != nil || IsPermanent(err) || attempt >= r.maxAttempts {
			task.OnFailureRaise()
			return fmt.Errorf("task %s failed after %d attempt(s): %w", task.Name(), attempt, err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			task.OnFailureRaise()
			return fmt.Errorf("task %s failed, backoff exhausted: %w", task.Name(), err)
		}
		r.logger.Warn("task attempt failed, retrying",
			"task", task.Name(), "attempt", attempt, "backoff", wait, "error", err)
		task.OnFailureRetry()

		select {
		case <-ctx.Done():
			task.OnFailureRaise()
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// runOnce resets the task and drives its phase loop to a terminal
// state. Every hook invocation is one bounded unit of work; control
// returns here between units so cancellation is honored at unit
// boundaries only.
func (r *Runner) runOnce(ctx context.Context, task Task) error {
	task.OnReset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := task.OnStart(ctx); err != nil {
			return err
		}
	stepping:
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := task.OnStep(ctx); err != nil {
				return err
			}
			state, err := task.OnEvaluate(ctx)
			if err != nil {
				return err
			}
			switch state {
			case StateRunning:
				continue
			case StatePending:
				break stepping
			case StateSuccess:
				return nil
			case StateFailure:
				return fmt.Errorf("task %s reported failure", task.Name())
			default:
				return fmt.Errorf("task %s returned unknown state %d", task.Name(), state)
			}
		}
	}
}
