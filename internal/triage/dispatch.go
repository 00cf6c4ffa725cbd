package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DispatchMode selects where the chain executes.
type DispatchMode string

const (
	// ModeInline runs the chain synchronously in the caller's context.
	ModeInline DispatchMode = "inline"

	// ModeQueued enqueues the task on the broker for a worker to execute.
	ModeQueued DispatchMode = "queued"
)

// Dispatched is the immediate outcome of dispatching a task. Result is set
// only for inline dispatch; queued dispatch returns just the task id.
type Dispatched struct {
	TaskID string
	Mode   DispatchMode
	Result *ProcessResult
}

// Dispatcher hands a task to its execution path.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *Task) (*Dispatched, error)
}

// terminalError marks a failure that must not be retried (validation, auth).
// Everything else coming out of the chain is considered transient.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Terminal wraps err so the Runner fails the task immediately instead of
// retrying.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was marked with Terminal.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// RetryPolicy bounds how often the Runner re-executes a failing chain.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy matches the task contract: 3 attempts total with a
// fixed 60s pause between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: 60 * time.Second}

// Runner is the retry boundary around Service.Process. It retries transient
// failures up to the policy budget and then fails the task permanently.
// There is no automatic escalation past that; the terminal failure is logged
// and counted, nothing requeues it.
type Runner struct {
	svc     *Service
	policy  RetryPolicy
	logger  log.Logger
	metrics *Metrics

	// sleep is swappable so tests do not wait out real retry delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner with the given retry policy.
func NewRunner(svc *Service, policy RetryPolicy, logger log.Logger, metrics *Metrics) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Runner{
		svc:     svc,
		policy:  policy,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

// Run executes the chain for task, retrying transient failures. On success
// or skip it returns the chain's result; after exhausting the budget it
// returns the last error and the task is permanently failed.
func (r *Runner) Run(ctx context.Context, task *Task) (*ProcessResult, error) {
	L := r.logger.With("task_id", task.ID, "pr_id", task.Signal.GitHubPRID)

	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		result, err := r.svc.Process(ctx, task)
		if err == nil {
			r.count(string(result.Status))
			return result, nil
		}

		if IsTerminal(err) {
			L.Error(ctx, err, "task failed terminally", "attempt", attempt)
			r.count("failed")
			return nil, err
		}

		lastErr = err
		if attempt < r.policy.MaxAttempts {
			L.Warn(ctx, "task attempt failed, retrying",
				"attempt", attempt,
				"max_attempts", r.policy.MaxAttempts,
				"retry_delay", r.policy.Delay.String(),
				"error", err,
			)
			if serr := r.sleep(ctx, r.policy.Delay); serr != nil {
				r.count("failed")
				return nil, fmt.Errorf("retry wait: %w", serr)
			}
		}
	}

	L.Error(ctx, lastErr, "task failed permanently, retry budget exhausted",
		"attempts", r.policy.MaxAttempts,
	)
	r.count("failed")
	return nil, fmt.Errorf("after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}

func (r *Runner) count(outcome string) {
	if r.metrics != nil {
		r.metrics.TasksTotal.WithLabelValues(outcome).Inc()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// InlineDispatcher executes tasks synchronously through a Runner.
type InlineDispatcher struct {
	runner *Runner
}

// NewInlineDispatcher wraps runner as a Dispatcher.
func NewInlineDispatcher(runner *Runner) *InlineDispatcher {
	return &InlineDispatcher{runner: runner}
}

// Dispatch runs the chain in the calling context and returns its result.
func (d *InlineDispatcher) Dispatch(ctx context.Context, task *Task) (*Dispatched, error) {
	result, err := d.runner.Run(ctx, task)
	if err != nil {
		return nil, err
	}
	return &Dispatched{TaskID: task.ID, Mode: ModeInline, Result: result}, nil
}
