// Package report defines the hierarchical step execution report produced by a run.
package report

import (
	"maps"
	"time"
)

// Status is the execution status of a step.
type Status string

const (
	StatusSuccess     Status = "SUCCESS"
	StatusFailure     Status = "FAILURE"
	StatusNotExecuted Status = "NOT_EXECUTED"
	StatusStopped     Status = "STOPPED"
	StatusPaused      Status = "PAUSED"
	StatusRunning     Status = "RUNNING"
)

// Terminal reports whether a step with this status has finished.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusNotExecuted, StatusStopped:
		return true
	}
	return false
}

// StepExecutionReport is the record of one step and its children.
// It is append-only while the step runs and must not be mutated once the
// step has ended; share it through Clone.
type StepExecutionReport struct {
	Name            string                 `json:"name"`
	Type            string                 `json:"type,omitempty"`
	Strategy        string                 `json:"strategy,omitempty"`
	TargetName      string                 `json:"targetName,omitempty"`
	TargetURL       string                 `json:"targetUrl,omitempty"`
	Status          Status                 `json:"status"`
	StartDate       time.Time              `json:"startDate,omitzero"`
	Duration        time.Duration          `json:"duration"`
	Information     []string               `json:"information,omitempty"`
	Errors          []string               `json:"errors,omitempty"`
	EvaluatedInputs map[string]any         `json:"evaluatedInputs,omitempty"`
	StepOutputs     map[string]any         `json:"stepOutputs,omitempty"`
	Steps           []*StepExecutionReport `json:"steps,omitempty"`
}

// Info appends an information line.
func (r *StepExecutionReport) Info(msg string) {
	r.Information = append(r.Information, msg)
}

// Error appends an error line.
func (r *StepExecutionReport) Error(msg string) {
	r.Errors = append(r.Errors, msg)
}

// Clone returns a deep copy of the report tree. Map values are copied
// shallowly.
func (r *StepExecutionReport) Clone() *StepExecutionReport {
	if r == nil {
		return nil
	}
	c := *r
	c.Information = append([]string(nil), r.Information...)
	c.Errors = append([]string(nil), r.Errors...)
	if r.EvaluatedInputs != nil {
		c.EvaluatedInputs = maps.Clone(r.EvaluatedInputs)
	}
	if r.StepOutputs != nil {
		c.StepOutputs = maps.Clone(r.StepOutputs)
	}
	if r.Steps != nil {
		c.Steps = make([]*StepExecutionReport, len(r.Steps))
		for i, s := range r.Steps {
			c.Steps[i] = s.Clone()
		}
	}
	return &c
}

// Walk visits the report and its descendants depth-first.
func (r *StepExecutionReport) Walk(fn func(path string, s *StepExecutionReport)) {
	walk(RootPath, r, fn)
}

func walk(path string, r *StepExecutionReport, fn func(string, *StepExecutionReport)) {
	if r == nil {
		return
	}
	fn(path, r)
	for i, s := range r.Steps {
		walk(ChildPath(path, i), s, fn)
	}
}

// Aggregate computes a composite status from its children:
// STOPPED if any child stopped, else FAILURE if any child failed, else SUCCESS.
// NOT_EXECUTED children never participate.
func Aggregate(children []*StepExecutionReport) Status {
	status := StatusSuccess
	for _, c := range children {
		if c == nil {
			continue
		}
		switch c.Status {
		case StatusStopped:
			return StatusStopped
		case StatusFailure:
			status = StatusFailure
		}
	}
	return status
}

// NotExecuted returns a placeholder report for a step that never ran.
func NotExecuted(name string) *StepExecutionReport {
	return &StepExecutionReport{Name: name, Status: StatusNotExecuted}
}
