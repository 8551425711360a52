// Package action defines the pluggable unit of work a leaf step invokes,
// and the registry the executor resolves action types from.
package action

import (
	"context"
	"fmt"

	"github.com/NathanRodet/chutney/pkg/report"
)

// Target identifies the system under test a step talks to.
type Target struct {
	Name       string            `json:"name" yaml:"name"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	Properties map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Input is what an action receives for one invocation.
type Input struct {
	Step   string         // step name, for messages
	Target *Target        // nil when the step declares none
	Values map[string]any // evaluated inputs
	// Context is a read-only snapshot of the variables visible to the step.
	Context map[string]any
}

// Result is the outcome of one action invocation.
type Result struct {
	Status  report.Status
	Outputs map[string]any
	Info    []string
	Errors  []string
}

// Action handles one step type.
// Every action implements a strict Validate + Execute interface.
type Action interface {
	// Type is the identifier steps reference in their `type` field.
	Type() string

	// Validate checks the evaluated inputs before execution.
	// MUST NOT perform side effects.
	Validate(in Input) []string

	// Execute runs the action. It MUST return a result for every
	// invocation and SHOULD return promptly once ctx is done.
	Execute(ctx context.Context, in Input) Result
}

// Success builds a successful result carrying outputs.
func Success(outputs map[string]any, info ...string) Result {
	return Result{Status: report.StatusSuccess, Outputs: outputs, Info: info}
}

// Failure builds a failed result with a formatted error line.
func Failure(format string, args ...any) Result {
	return Result{Status: report.StatusFailure, Errors: []string{fmt.Sprintf(format, args...)}}
}
