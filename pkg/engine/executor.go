package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/NathanRodet/chutney/pkg/action"
	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/eval"
	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/scenario"
	"github.com/NathanRodet/chutney/pkg/strategy"
)

// Executor walks a step tree depth-first. It is stateless between runs and
// safe to share across executions.
type Executor struct {
	registry        *action.Registry
	bus             *bus.Bus
	opts            strategy.Options
	defaultStrategy string
	logger          *slog.Logger
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	Strategy        strategy.Options
	DefaultStrategy string // applied to steps without a strategy
}

// NewExecutor creates an executor publishing to b.
func NewExecutor(registry *action.Registry, b *bus.Bus, opts ExecutorOptions, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:        registry,
		bus:             b,
		opts:            opts.Strategy,
		defaultStrategy: opts.DefaultStrategy,
		logger:          logger.With("component", "executor"),
	}
}

// Execute runs step as the root of exec and returns its report. It never
// panics on action faults and always returns a well-formed tree.
func (x *Executor) Execute(ctx context.Context, step *scenario.StepDefinition, scope *eval.Scope, exec *ScenarioExecution) *report.StepExecutionReport {
	return x.execute(ctx, report.RootPath, step, scope, exec)
}

func (x *Executor) execute(ctx context.Context, path string, step *scenario.StepDefinition, scope *eval.Scope, exec *ScenarioExecution) *report.StepExecutionReport {
	rep := skeleton(step)
	rep.Status = report.StatusRunning
	rep.StartDate = time.Now()
	x.publish(exec, path, bus.KindStarted, rep)
	defer func() {
		rep.Duration = time.Since(rep.StartDate)
		x.publish(exec, path, bus.KindEnded, rep)
	}()

	if exec.StopRequested() {
		rep.Status = report.StatusStopped
		return rep
	}
	if exec.PauseRequested() {
		rep.Status = report.StatusPaused
		x.publish(exec, path, bus.KindPaused, rep)
		if exec.waitWhilePaused(ctx) {
			rep.Status = report.StatusStopped
			return rep
		}
		rep.Status = report.StatusRunning
		x.publish(exec, path, bus.KindResumed, rep)
	}

	inputs, err := evaluateParams(step.Inputs, scope)
	if err != nil {
		return fail(rep, fmt.Sprintf("%v: %v", ErrInputEvaluation, err))
	}
	if len(inputs) > 0 {
		rep.EvaluatedInputs = inputs
	}

	strat, err := x.strategyFor(step)
	if err != nil {
		return fail(rep, err.Error())
	}

	var result *report.StepExecutionReport
	if step.IsComposite() {
		result = strat.Apply(ctx, func(ctx context.Context) *report.StepExecutionReport {
			return x.runChildren(ctx, path, step, scope, exec)
		}, exec)
		rep.Steps = result.Steps
	} else {
		act, ok := x.registry.Lookup(step.Type)
		if !ok {
			return fail(rep, fmt.Sprintf("%v: %q", ErrActionNotFound, step.Type))
		}
		in := action.Input{Step: step.Name, Target: step.Target, Values: inputs, Context: scope.Snapshot()}
		if errs := act.Validate(in); len(errs) > 0 {
			rep.Status = report.StatusFailure
			for _, e := range errs {
				rep.Error(fmt.Sprintf("%v: %s", ErrActionValidation, e))
			}
			return rep
		}
		result = strat.Apply(ctx, func(ctx context.Context) *report.StepExecutionReport {
			return x.runAction(ctx, act, in)
		}, exec)
	}

	rep.Status = result.Status
	rep.Information = append(rep.Information, result.Information...)
	rep.Errors = append(rep.Errors, result.Errors...)
	if rep.Status == report.StatusSuccess {
		x.bindOutputs(step, scope, rep, result.StepOutputs)
	}
	return rep
}

func (x *Executor) strategyFor(step *scenario.StepDefinition) (strategy.Strategy, error) {
	typ, params := x.defaultStrategy, map[string]string(nil)
	if step.Strategy != nil {
		typ, params = step.Strategy.Type, step.Strategy.Parameters
	}
	return strategy.New(typ, params, x.opts)
}

// runAction executes one attempt, converting a panic into a Failure.
func (x *Executor) runAction(ctx context.Context, act action.Action, in action.Input) (att *report.StepExecutionReport) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error("action panicked", "action", act.Type(), "step", in.Step, "panic", r)
			att = &report.StepExecutionReport{Status: report.StatusFailure}
			att.Error(fmt.Sprintf("%v: %s: %v", ErrActionExecution, act.Type(), r))
		}
	}()

	res := act.Execute(ctx, in)
	att = &report.StepExecutionReport{
		Status:      res.Status,
		Information: res.Info,
		Errors:      res.Errors,
		StepOutputs: res.Outputs,
	}
	if !att.Status.Terminal() || att.Status == report.StatusNotExecuted {
		att.Error(fmt.Sprintf("%v: %s returned status %q", ErrActionExecution, act.Type(), res.Status))
		att.Status = report.StatusFailure
	}
	return att
}

// runChildren runs given, when, then in order. The first child that does
// not succeed short-circuits the rest, which are reported NOT_EXECUTED.
func (x *Executor) runChildren(ctx context.Context, path string, step *scenario.StepDefinition, scope *eval.Scope, exec *ScenarioExecution) *report.StepExecutionReport {
	children := step.Children()
	att := &report.StepExecutionReport{Steps: make([]*report.StepExecutionReport, len(children))}

	ok := true
	start := 0
	if step.Parallel && len(step.Given) > 1 {
		ok = x.runParallel(ctx, path, step.Given, scope, exec, att.Steps)
		start = len(step.Given)
	}
	for i := start; i < len(children); i++ {
		if !ok {
			att.Steps[i] = skeleton(children[i])
			continue
		}
		r := x.execute(ctx, report.ChildPath(path, i), children[i], scope, exec)
		att.Steps[i] = r
		ok = r.Status == report.StatusSuccess
	}
	att.Status = report.Aggregate(att.Steps)
	return att
}

// runParallel runs siblings concurrently, each in an isolated overlay. The
// overlays of successful siblings are merged back in declaration order.
func (x *Executor) runParallel(ctx context.Context, path string, steps []*scenario.StepDefinition, scope *eval.Scope, exec *ScenarioExecution, out []*report.StepExecutionReport) bool {
	overlays := make([]*eval.Scope, len(steps))
	var wg sync.WaitGroup
	for i, st := range steps {
		overlays[i] = scope.Overlay()
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = x.execute(ctx, report.ChildPath(path, i), st, overlays[i], exec)
		}()
	}
	wg.Wait()

	ok := true
	for i := range steps {
		if out[i].Status == report.StatusSuccess {
			scope.Merge(overlays[i])
		} else {
			ok = false
		}
	}
	return ok
}

// bindOutputs binds action outputs, then declared outputs, then checks
// validations. A failing expression or validation turns rep into a Failure.
func (x *Executor) bindOutputs(step *scenario.StepDefinition, scope *eval.Scope, rep *report.StepExecutionReport, actionOutputs map[string]any) {
	outputs := make(map[string]any, len(actionOutputs)+len(step.Outputs))
	for _, k := range slices.Sorted(maps.Keys(actionOutputs)) {
		scope.Set(k, actionOutputs[k])
		outputs[k] = actionOutputs[k]
	}
	for _, p := range step.Outputs {
		v, err := eval.Evaluate(p.Value, scope)
		if err != nil {
			fail(rep, fmt.Sprintf("%v: %s: %v", ErrOutputEvaluation, p.Name, err))
			break
		}
		scope.Set(p.Name, v)
		outputs[p.Name] = v
	}
	if len(outputs) > 0 {
		rep.StepOutputs = outputs
	}
	if rep.Status != report.StatusSuccess {
		return
	}

	for _, p := range step.Validations {
		passed, err := validate(p.Value, scope)
		switch {
		case err != nil:
			fail(rep, fmt.Sprintf("validation %s: %v", p.Name, err))
		case !passed:
			fail(rep, fmt.Sprintf("validation %s failed", p.Name))
		default:
			rep.Info(fmt.Sprintf("validation %s: OK", p.Name))
		}
	}
}

func validate(v any, scope *eval.Scope) (bool, error) {
	switch c := v.(type) {
	case bool:
		return c, nil
	case string:
		return eval.EvalBool(c, scope)
	default:
		return false, fmt.Errorf("expected a boolean expression, got %T", v)
	}
}

func evaluateParams(params scenario.Params, scope *eval.Scope) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for _, p := range params {
		v, err := eval.Evaluate(p.Value, scope)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}

func (x *Executor) publish(exec *ScenarioExecution, path string, kind bus.Kind, rep *report.StepExecutionReport) {
	x.bus.Publish(bus.Event{
		ExecutionID: exec.ID,
		Path:        path,
		Kind:        kind,
		Report:      rep.Clone(),
	})
}

func fail(rep *report.StepExecutionReport, msg string) *report.StepExecutionReport {
	rep.Status = report.StatusFailure
	rep.Error(msg)
	return rep
}

// skeleton builds the NOT_EXECUTED report subtree of a step.
func skeleton(step *scenario.StepDefinition) *report.StepExecutionReport {
	rep := report.NotExecuted(step.Name)
	rep.Type = step.Type
	rep.Strategy = step.StrategyName()
	if step.Target != nil {
		rep.TargetName = step.Target.Name
		rep.TargetURL = step.Target.URL
	}
	for _, c := range step.Children() {
		rep.Steps = append(rep.Steps, skeleton(c))
	}
	return rep
}
