package bus

import (
	"time"

	"github.com/NathanRodet/chutney/pkg/report"
)

// Kind is the lifecycle transition an event reports.
type Kind string

const (
	KindStarted        Kind = "started"
	KindEnded          Kind = "ended"
	KindPaused         Kind = "paused"
	KindResumed        Kind = "resumed"
	KindStopped        Kind = "stopped"
	KindExecutionEnded Kind = "execution-ended"
)

// Event is one step or execution lifecycle transition. Step events carry the
// report path of the step ("0/1/0") and a deep copy of its fragment;
// execution-level events have an empty path.
type Event struct {
	ID          string                      `json:"id"`
	ExecutionID int64                       `json:"executionId"`
	Path        string                      `json:"path,omitempty"`
	Kind        Kind                        `json:"kind"`
	Report      *report.StepExecutionReport `json:"report,omitempty"`
	Timestamp   time.Time                   `json:"ts"`
}

// Predicate filters the events a subscription receives.
type Predicate func(Event) bool

// ForExecution matches events of a single execution.
func ForExecution(id int64) Predicate {
	return func(ev Event) bool { return ev.ExecutionID == id }
}

// OfKind matches events of the given kinds.
func OfKind(kinds ...Kind) Predicate {
	return func(ev Event) bool {
		for _, k := range kinds {
			if ev.Kind == k {
				return true
			}
		}
		return false
	}
}
