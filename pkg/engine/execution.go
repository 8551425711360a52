package engine

import (
	"context"
	"sync"
	"time"

	"github.com/NathanRodet/chutney/pkg/report"
)

// Status is the lifecycle state of a scenario execution.
type Status string

const (
	StatusRunning Status = "Running"
	StatusPaused  Status = "Paused"
	StatusStopped Status = "Stopped"
	StatusEnded   Status = "Ended"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusEnded
}

// ScenarioExecution is the per-run handle. Its flags are flipped by the
// Manager and observed by the executor at step boundaries and between
// retries.
type ScenarioExecution struct {
	ID        int64
	Name      string
	StartedAt time.Time

	mu     sync.Mutex
	status Status
	stop   bool
	pause  bool
	wake   chan struct{} // closed and replaced on pause, resume and stop
	done   chan struct{}
	final  *report.StepExecutionReport
}

func newExecution(id int64, name string) *ScenarioExecution {
	return &ScenarioExecution{
		ID:        id,
		Name:      name,
		StartedAt: time.Now(),
		status:    StatusRunning,
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Status returns the current lifecycle state.
func (e *ScenarioExecution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// StopRequested reports whether a stop was requested.
func (e *ScenarioExecution) StopRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stop
}

// PauseRequested reports whether the run should suspend at the next boundary.
func (e *ScenarioExecution) PauseRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pause && !e.stop
}

// requestPause moves Running to Paused. It reports whether anything changed.
func (e *ScenarioExecution) requestPause() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return false
	}
	e.pause = true
	e.status = StatusPaused
	e.signalLocked()
	return true
}

// requestResume moves Paused back to Running and wakes the waiter.
func (e *ScenarioExecution) requestResume() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusPaused {
		return false
	}
	e.pause = false
	e.status = StatusRunning
	e.signalLocked()
	return true
}

// requestStop moves any live state to Stopped and wakes a paused waiter.
func (e *ScenarioExecution) requestStop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status.Terminal() {
		return false
	}
	e.stop = true
	e.pause = false
	e.status = StatusStopped
	e.signalLocked()
	return true
}

func (e *ScenarioExecution) signalLocked() {
	close(e.wake)
	e.wake = make(chan struct{})
}

// waitWhilePaused blocks until the run is resumed or stopped. It reports
// whether the run should stop. Cancelling ctx counts as a stop.
func (e *ScenarioExecution) waitWhilePaused(ctx context.Context) bool {
	for {
		e.mu.Lock()
		if e.stop {
			e.mu.Unlock()
			return true
		}
		if !e.pause {
			e.mu.Unlock()
			return false
		}
		wake := e.wake
		e.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return true
		}
	}
}

// Checkpoint lets a strategy suspend between attempts.
func (e *ScenarioExecution) Checkpoint(ctx context.Context) bool {
	return e.waitWhilePaused(ctx)
}

// Interrupt returns a channel closed on the next pause, resume or stop.
func (e *ScenarioExecution) Interrupt() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.wake
}

// finish records the final report and marks a live run Ended.
func (e *ScenarioExecution) finish(final *report.StepExecutionReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.final = final
	if e.status != StatusStopped {
		e.status = StatusEnded
	}
	e.pause = false
	close(e.done)
}

// Done is closed once the run has produced its final report.
func (e *ScenarioExecution) Done() <-chan struct{} {
	return e.done
}

// Report returns the final report, nil while the run is in progress.
func (e *ScenarioExecution) Report() *report.StepExecutionReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}
