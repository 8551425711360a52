package action

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/strategy"
)

// Builtins returns the core actions every engine registers.
func Builtins() []Action {
	return []Action{
		SuccessAction{},
		FailAction{},
		DebugAction{},
		SleepAction{},
		ContextPutAction{},
		AssertAction{},
		CompareAction{},
		ExecAction{},
	}
}

// SuccessAction always succeeds.
type SuccessAction struct{}

func (SuccessAction) Type() string             { return "success" }
func (SuccessAction) Validate(Input) []string { return nil }
func (SuccessAction) Execute(context.Context, Input) Result {
	return Success(nil)
}

// FailAction always fails, with an optional `message`.
type FailAction struct{}

func (FailAction) Type() string             { return "fail" }
func (FailAction) Validate(Input) []string { return nil }
func (FailAction) Execute(_ context.Context, in Input) Result {
	if msg, ok := in.Values["message"].(string); ok && msg != "" {
		return Failure("%s", msg)
	}
	return Failure("failed on purpose")
}

// DebugAction writes the visible variables into the report.
type DebugAction struct{}

func (DebugAction) Type() string             { return "debug" }
func (DebugAction) Validate(Input) []string { return nil }
func (DebugAction) Execute(_ context.Context, in Input) Result {
	var info []string
	for _, k := range slices.Sorted(maps.Keys(in.Context)) {
		info = append(info, fmt.Sprintf("%s : [%v]", k, in.Context[k]))
	}
	return Success(nil, info...)
}

// SleepAction waits for `duration`.
type SleepAction struct{}

func (SleepAction) Type() string { return "sleep" }

func (SleepAction) Validate(in Input) []string {
	v, ok := in.Values["duration"]
	if !ok {
		return []string{"duration is required"}
	}
	if _, err := strategy.ParseDuration(fmt.Sprint(v)); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func (SleepAction) Execute(ctx context.Context, in Input) Result {
	d, _ := strategy.ParseDuration(fmt.Sprint(in.Values["duration"]))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Failure("sleep interrupted: %v", ctx.Err())
	case <-timer.C:
	}
	return Success(nil, fmt.Sprintf("slept %s", d))
}

// ContextPutAction binds every entry of `entries` as a step output.
type ContextPutAction struct{}

func (ContextPutAction) Type() string { return "context-put" }

func (ContextPutAction) Validate(in Input) []string {
	if _, ok := in.Values["entries"].(map[string]any); !ok {
		return []string{"entries must be a map"}
	}
	return nil
}

func (ContextPutAction) Execute(_ context.Context, in Input) Result {
	entries := in.Values["entries"].(map[string]any)
	out := maps.Clone(entries)
	var info []string
	for _, k := range slices.Sorted(maps.Keys(out)) {
		info = append(info, fmt.Sprintf("Adding to context %s : [%v]", k, out[k]))
	}
	return Success(out, info...)
}

// AssertAction checks that every item of `asserts` evaluated to true.
type AssertAction struct{}

func (AssertAction) Type() string { return "assert" }

func (AssertAction) Validate(in Input) []string {
	items, ok := in.Values["asserts"].([]any)
	if !ok || len(items) == 0 {
		return []string{"asserts must be a non-empty list"}
	}
	return nil
}

func (AssertAction) Execute(_ context.Context, in Input) Result {
	res := Result{Status: report.StatusSuccess}
	for i, item := range in.Values["asserts"].([]any) {
		if truthy(item) {
			res.Info = append(res.Info, fmt.Sprintf("assert[%d] is true", i))
			continue
		}
		res.Status = report.StatusFailure
		res.Errors = append(res.Errors, fmt.Sprintf("assert[%d] is false (got %v)", i, item))
	}
	return res
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	case map[string]any:
		// {"assert-true": value} form
		for _, inner := range b {
			if !truthy(inner) {
				return false
			}
		}
		return len(b) > 0
	}
	return false
}

// CompareAction compares `actual` against `expected` using `mode`.
type CompareAction struct{}

var compareModes = []string{"equals", "not-equals", "contains", "not-contains", "greater-than", "less-than"}

func (CompareAction) Type() string { return "compare" }

func (CompareAction) Validate(in Input) []string {
	var errs []string
	if _, ok := in.Values["actual"]; !ok {
		errs = append(errs, "actual is required")
	}
	if _, ok := in.Values["expected"]; !ok {
		errs = append(errs, "expected is required")
	}
	if mode := compareMode(in); !slices.Contains(compareModes, mode) {
		errs = append(errs, fmt.Sprintf("unknown mode %q, want one of %s", mode, strings.Join(compareModes, ", ")))
	}
	return errs
}

func compareMode(in Input) string {
	if m, ok := in.Values["mode"].(string); ok && m != "" {
		return strings.ToLower(m)
	}
	return "equals"
}

func (CompareAction) Execute(_ context.Context, in Input) Result {
	actual, expected := in.Values["actual"], in.Values["expected"]
	a, e := fmt.Sprint(actual), fmt.Sprint(expected)
	mode := compareMode(in)

	var ok bool
	switch mode {
	case "equals":
		ok = a == e
	case "not-equals":
		ok = a != e
	case "contains":
		ok = strings.Contains(a, e)
	case "not-contains":
		ok = !strings.Contains(a, e)
	case "greater-than", "less-than":
		af, aerr := toFloat(actual)
		ef, eerr := toFloat(expected)
		if aerr != nil || eerr != nil {
			return Failure("%s requires numbers, got [%s] and [%s]", mode, a, e)
		}
		ok = af > ef
		if mode == "less-than" {
			ok = af < ef
		}
	}
	if !ok {
		return Failure("[%s] %s [%s] is false", a, mode, e)
	}
	return Success(nil, fmt.Sprintf("[%s] %s [%s]", a, mode, e))
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(fmt.Sprint(v)), 64)
}
