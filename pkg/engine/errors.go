package engine

import (
	"errors"
	"fmt"

	"github.com/NathanRodet/chutney/pkg/strategy"
)

// Step-level errors end up as text in a Failure report; they never escape
// the executor. Manager-level errors are returned to callers.
var (
	ErrInputEvaluation   = errors.New("input evaluation failed")
	ErrActionNotFound    = errors.New("action not found")
	ErrActionValidation  = errors.New("action input validation failed")
	ErrActionExecution   = errors.New("action execution failed")
	ErrOutputEvaluation  = errors.New("output evaluation failed")
	ErrStrategyTimeout   = strategy.ErrTimeout
	ErrUnknownStrategy   = strategy.ErrUnknown
	ErrExecutionNotFound = errors.New("execution not found")
	ErrClosed            = errors.New("engine closed")
)

// internalErrorMessage is the root error of a run aborted by a fault
// outside any action.
const internalErrorMessage = "internal error during execution"

// ExecutionNotFoundError is returned by manager calls on an unknown id.
type ExecutionNotFoundError struct {
	ID int64
}

func (e *ExecutionNotFoundError) Error() string {
	return fmt.Sprintf("execution %d not found", e.ID)
}

func (e *ExecutionNotFoundError) Unwrap() error {
	return ErrExecutionNotFound
}
