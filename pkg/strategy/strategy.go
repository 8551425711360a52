// Package strategy wraps step execution in a retry policy.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/NathanRodet/chutney/pkg/report"
)

// Strategy types understood by New.
const (
	TypeDefault          = "default"
	TypeRetryWithTimeout = "retry-with-timeout"
)

var (
	// ErrTimeout annotates the last failing report once a retry window is exhausted.
	ErrTimeout = errors.New("retry-exhausted")
	// ErrUnknown is returned by New for an unregistered strategy type.
	ErrUnknown = errors.New("unknown strategy")
)

// Thunk runs one attempt of a step and returns its report.
type Thunk func(ctx context.Context) *report.StepExecutionReport

// Guard is consulted between attempts. Checkpoint blocks while the run is
// paused and reports whether a stop was requested. Interrupt returns a
// channel closed on the next pause, resume or stop request; a retry delay
// is cut short when it fires.
type Guard interface {
	Checkpoint(ctx context.Context) (stopped bool)
	Interrupt() <-chan struct{}
}

// Strategy decides how many times a thunk runs.
type Strategy interface {
	Type() string
	Apply(ctx context.Context, run Thunk, guard Guard) *report.StepExecutionReport
}

// Options carries defaults used when a step omits strategy parameters.
type Options struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

// DefaultOptions returns the stock retry defaults.
func DefaultOptions() Options {
	return Options{Timeout: 30 * time.Second, RetryDelay: time.Second}
}

// New builds a strategy from a step definition. An empty type selects default.
func New(typ string, params map[string]string, opts Options) (Strategy, error) {
	switch strings.TrimSpace(typ) {
	case "", TypeDefault:
		return Default{}, nil
	case TypeRetryWithTimeout:
		return newRetry(params, opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknown, typ)
	}
}

// Types lists the strategy types New accepts.
func Types() []string {
	return []string{TypeDefault, TypeRetryWithTimeout}
}

// Default runs the thunk exactly once.
type Default struct{}

func (Default) Type() string { return TypeDefault }

func (Default) Apply(ctx context.Context, run Thunk, _ Guard) *report.StepExecutionReport {
	return run(ctx)
}

// RetryWithTimeout re-runs a failing thunk until it succeeds or the window
// closes. Time spent paused in the guard does not count toward the window.
type RetryWithTimeout struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

func newRetry(params map[string]string, opts Options) (RetryWithTimeout, error) {
	r := RetryWithTimeout{Timeout: opts.Timeout, RetryDelay: opts.RetryDelay}
	if v, ok := param(params, "timeOut", "timeout"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return r, fmt.Errorf("timeOut: %w", err)
		}
		r.Timeout = d
	}
	if v, ok := param(params, "retryDelay"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return r, fmt.Errorf("retryDelay: %w", err)
		}
		r.RetryDelay = d
	}
	if r.Timeout <= 0 {
		return r, fmt.Errorf("timeOut must be positive, got %s", r.Timeout)
	}
	if r.RetryDelay < 0 {
		return r, fmt.Errorf("retryDelay must not be negative, got %s", r.RetryDelay)
	}
	return r, nil
}

func param(params map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

func (RetryWithTimeout) Type() string { return TypeRetryWithTimeout }

func (r RetryWithTimeout) Apply(ctx context.Context, run Thunk, guard Guard) *report.StepExecutionReport {
	start := time.Now()
	var paused time.Duration
	elapsed := func() time.Duration { return time.Since(start) - paused }

	attempts := 0
	for {
		attempts++
		last := run(ctx)
		if last.Status != report.StatusFailure {
			return last
		}
		if elapsed() >= r.Timeout {
			return exhausted(last, attempts, elapsed())
		}

		stopped, err := r.wait(ctx, guard, &paused)
		switch {
		case err != nil:
			last.Status = report.StatusStopped
			last.Error(fmt.Sprintf("retry cancelled: %v", err))
			return last
		case stopped:
			last.Status = report.StatusStopped
			last.Info(fmt.Sprintf("stopped after %d attempt(s)", attempts))
			return last
		}
		if elapsed() >= r.Timeout {
			return exhausted(last, attempts, elapsed())
		}
	}
}

// wait sleeps for the retry delay, suspending while the guard is paused.
// The guard is checked last, right before the next attempt. Time spent
// paused is added to *paused.
func (r RetryWithTimeout) wait(ctx context.Context, guard Guard, paused *time.Duration) (stopped bool, err error) {
	remaining := r.RetryDelay
	for {
		var interrupt <-chan struct{}
		if guard != nil {
			interrupt = guard.Interrupt()
			waitStart := time.Now()
			stopped := guard.Checkpoint(ctx)
			*paused += time.Since(waitStart)
			if stopped {
				return true, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if remaining <= 0 {
			return false, nil
		}

		sleepStart := time.Now()
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-interrupt:
			timer.Stop()
			remaining -= time.Since(sleepStart)
		case <-timer.C:
			remaining = 0
		}
	}
}

func exhausted(last *report.StepExecutionReport, attempts int, elapsed time.Duration) *report.StepExecutionReport {
	last.Error(fmt.Sprintf("%v: %d attempt(s) in %s", ErrTimeout, attempts, elapsed.Round(time.Millisecond)))
	return last
}
