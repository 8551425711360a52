package strategy

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NathanRodet/chutney/pkg/report"
)

func failing(calls *atomic.Int32) Thunk {
	return func(context.Context) *report.StepExecutionReport {
		calls.Add(1)
		return &report.StepExecutionReport{Name: "s", Status: report.StatusFailure}
	}
}

type guardFunc func(ctx context.Context) bool

func (g guardFunc) Checkpoint(ctx context.Context) bool { return g(ctx) }
func (g guardFunc) Interrupt() <-chan struct{}          { return nil }

// stopGuard reports a stop once its interrupt channel has been closed.
type stopGuard struct {
	ch      chan struct{}
	stopped atomic.Bool
}

func newStopGuard() *stopGuard { return &stopGuard{ch: make(chan struct{})} }

func (g *stopGuard) Checkpoint(context.Context) bool { return g.stopped.Load() }
func (g *stopGuard) Interrupt() <-chan struct{}      { return g.ch }

func (g *stopGuard) stop() {
	g.stopped.Store(true)
	close(g.ch)
}

func TestNew(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		typ     string
		params  map[string]string
		want    string
		wantErr bool
	}{
		{"", nil, TypeDefault, false},
		{"default", nil, TypeDefault, false},
		{"retry-with-timeout", map[string]string{"timeOut": "5 s", "retryDelay": "10 ms"}, TypeRetryWithTimeout, false},
		{"retry-with-timeout", map[string]string{"timeout": "1m"}, TypeRetryWithTimeout, false},
		{"retry-with-timeout", map[string]string{"timeOut": "soon"}, "", true},
		{"retry-with-timeout", map[string]string{"timeOut": "0s"}, "", true},
		{"exponential", nil, "", true},
	}
	for _, tt := range tests {
		s, err := New(tt.typ, tt.params, opts)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q, %v) expected error", tt.typ, tt.params)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q, %v): %v", tt.typ, tt.params, err)
			continue
		}
		if s.Type() != tt.want {
			t.Errorf("New(%q).Type() = %q, want %q", tt.typ, s.Type(), tt.want)
		}
	}

	_, err := New("exponential", nil, opts)
	if !errors.Is(err, ErrUnknown) {
		t.Errorf("err = %v, want ErrUnknown", err)
	}
}

func TestNew_RetryParams(t *testing.T) {
	s, err := New(TypeRetryWithTimeout, map[string]string{"timeOut": "20 min", "retryDelay": "2 sec"}, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	r := s.(RetryWithTimeout)
	if r.Timeout != 20*time.Minute || r.RetryDelay != 2*time.Second {
		t.Errorf("got %+v", r)
	}
}

func TestDefault_RunsOnce(t *testing.T) {
	var calls atomic.Int32
	rep := Default{}.Apply(context.Background(), failing(&calls), nil)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if rep.Status != report.StatusFailure {
		t.Errorf("status = %s", rep.Status)
	}
}

func TestRetry_AttemptBounds(t *testing.T) {
	const timeout, delay = 200 * time.Millisecond, 40 * time.Millisecond
	r := RetryWithTimeout{Timeout: timeout, RetryDelay: delay}

	var calls atomic.Int32
	start := time.Now()
	rep := r.Apply(context.Background(), failing(&calls), nil)
	elapsed := time.Since(start)

	if rep.Status != report.StatusFailure {
		t.Errorf("status = %s, want FAILURE", rep.Status)
	}
	if len(rep.Errors) == 0 || !strings.Contains(rep.Errors[len(rep.Errors)-1], ErrTimeout.Error()) {
		t.Errorf("errors = %v, want retry-exhausted annotation", rep.Errors)
	}
	n := int(calls.Load())
	if limit := int(timeout/delay) + 1; n < 2 || n > limit {
		t.Errorf("attempts = %d, want between 2 and %d", n, limit)
	}
	if elapsed < timeout {
		t.Errorf("elapsed = %s, want >= %s", elapsed, timeout)
	}
	if elapsed > timeout+delay+150*time.Millisecond {
		t.Errorf("elapsed = %s, retried past the window", elapsed)
	}
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	var calls atomic.Int32
	run := func(context.Context) *report.StepExecutionReport {
		if calls.Add(1) < 3 {
			return &report.StepExecutionReport{Status: report.StatusFailure}
		}
		return &report.StepExecutionReport{Status: report.StatusSuccess}
	}
	rep := RetryWithTimeout{Timeout: time.Second, RetryDelay: time.Millisecond}.Apply(context.Background(), run, nil)
	if rep.Status != report.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", rep.Status)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetry_GuardStop(t *testing.T) {
	var calls atomic.Int32
	stop := guardFunc(func(context.Context) bool { return true })
	rep := RetryWithTimeout{Timeout: time.Second, RetryDelay: time.Millisecond}.Apply(context.Background(), failing(&calls), stop)
	if rep.Status != report.StatusStopped {
		t.Errorf("status = %s, want STOPPED", rep.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestRetry_PausedTimeExcluded(t *testing.T) {
	var calls atomic.Int32
	var checks atomic.Int32
	pause := guardFunc(func(context.Context) bool {
		if checks.Add(1) == 1 {
			time.Sleep(150 * time.Millisecond)
		}
		return false
	})
	r := RetryWithTimeout{Timeout: 100 * time.Millisecond, RetryDelay: 10 * time.Millisecond}
	r.Apply(context.Background(), failing(&calls), pause)
	if calls.Load() < 2 {
		t.Errorf("calls = %d, want a retry after the pause", calls.Load())
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	rep := RetryWithTimeout{Timeout: time.Minute, RetryDelay: time.Minute}.Apply(ctx, failing(&calls), nil)
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if rep.Status != report.StatusStopped {
		t.Errorf("status = %s, want STOPPED", rep.Status)
	}
}

func TestRetry_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	var calls atomic.Int32
	start := time.Now()
	rep := RetryWithTimeout{Timeout: time.Minute, RetryDelay: time.Minute}.Apply(ctx, failing(&calls), nil)
	if rep.Status != report.StatusStopped {
		t.Errorf("status = %s, want STOPPED", rep.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Errorf("apply took %s, delay was not cut short", d)
	}
}

func TestRetry_StopDuringDelay(t *testing.T) {
	var calls atomic.Int32
	g := newStopGuard()
	time.AfterFunc(50*time.Millisecond, g.stop)

	start := time.Now()
	rep := RetryWithTimeout{Timeout: time.Minute, RetryDelay: 300 * time.Millisecond}.Apply(context.Background(), failing(&calls), g)
	if rep.Status != report.StatusStopped {
		t.Errorf("status = %s, want STOPPED", rep.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no attempt after stop)", calls.Load())
	}
	if d := time.Since(start); d >= 300*time.Millisecond {
		t.Errorf("apply took %s, delay was not interrupted", d)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5 s", 5 * time.Second},
		{"20 min", 20 * time.Minute},
		{"250 ms", 250 * time.Millisecond},
		{"1.5 h", 90 * time.Minute},
		{"2 days", 48 * time.Hour},
		{"3sec", 3 * time.Second},
		{"1m30s", 90 * time.Second},
		{"0", 0},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "five s", "5 weeks", "5", "999999999999 d"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Errorf("ParseDuration(%q) expected error", bad)
		}
	}
}
