// Package engine runs scenario step trees: it walks the tree, applies retry
// strategies, lets callers pause, resume and stop runs, and streams
// progressive reports to followers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NathanRodet/chutney/pkg/action"
	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/config"
	"github.com/NathanRodet/chutney/pkg/eval"
	"github.com/NathanRodet/chutney/pkg/metrics"
	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/reporter"
	"github.com/NathanRodet/chutney/pkg/scenario"
	"github.com/NathanRodet/chutney/pkg/trace"
)

// Engine owns the bus, the manager and the reporter of one process.
type Engine struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *action.Registry
	bus      *bus.Bus
	executor *Executor
	manager  *Manager
	reporter *reporter.Reporter

	trace     *trace.Writer
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	observers []*bus.Subscription
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithRegistry replaces the built-in action registry.
func WithRegistry(r *action.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// New builds an engine from cfg. Built-in actions are registered unless
// WithRegistry is given.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	e := &Engine{cfg: cfg}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.registry == nil {
		e.registry = action.NewRegistry(action.Builtins()...)
	}

	stratOpts, err := cfg.StrategyOptions()
	if err != nil {
		return nil, err
	}

	e.bus = bus.New(e.logger)
	e.reporter = reporter.New(e.bus, cfg.FinishedReportCacheSize, e.logger)
	e.executor = NewExecutor(e.registry, e.bus, ExecutorOptions{
		Strategy:        stratOpts,
		DefaultStrategy: cfg.DefaultStrategy,
	}, e.logger)
	e.manager = NewManager(e.executor, e.bus, ManagerOptions{
		MaxConcurrent:     cfg.MaxConcurrentExecutions,
		FinishedCacheSize: cfg.FinishedReportCacheSize,
	}, e.logger)

	if cfg.Trace.Path != "" {
		tw, err := trace.NewFileWriter(cfg.Trace.Path)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.trace = tw
		e.observers = append(e.observers, tw.Attach(e.bus))
	}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m := metrics.New(cfg.Metrics.Namespace)
		if err := m.Register(reg); err != nil {
			e.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		e.metrics, e.gatherer = m, reg
		e.observers = append(e.observers, m.Attach(e.bus))
	}
	return e, nil
}

// Registry returns the action registry.
func (e *Engine) Registry() *action.Registry { return e.registry }

// Bus returns the event bus, for extra observers.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Metrics returns the collectors and their gatherer, nil when disabled.
func (e *Engine) Metrics() (*metrics.Metrics, prometheus.Gatherer) {
	return e.metrics, e.gatherer
}

// ExecuteAsync submits step with vars as the initial context and returns
// the execution id immediately.
func (e *Engine) ExecuteAsync(ctx context.Context, step *scenario.StepDefinition, vars map[string]any) (int64, error) {
	exec, err := e.start(ctx, step, vars)
	if err != nil {
		return 0, err
	}
	return exec.ID, nil
}

func (e *Engine) start(ctx context.Context, step *scenario.StepDefinition, vars map[string]any) (*ScenarioExecution, error) {
	exec, err := e.manager.Start(ctx, step, eval.NewScope(vars))
	if err != nil {
		return nil, err
	}
	e.reporter.Watch(exec.ID)
	e.logger.Info("execution started", "execution", exec.ID, "scenario", step.Name)
	return exec, nil
}

// Execute runs step to completion and returns the final report.
func (e *Engine) Execute(ctx context.Context, step *scenario.StepDefinition, vars map[string]any) (int64, *report.StepExecutionReport, error) {
	exec, err := e.start(ctx, step, vars)
	if err != nil {
		return 0, nil, err
	}
	select {
	case <-exec.Done():
		return exec.ID, exec.Report(), nil
	case <-ctx.Done():
		return exec.ID, nil, ctx.Err()
	}
}

// RunScenario executes a loaded scenario document.
func (e *Engine) RunScenario(ctx context.Context, s *scenario.Scenario) (int64, error) {
	return e.ExecuteAsync(ctx, s.Root(), s.Context)
}

// Follow streams progressive snapshots of execution id; see
// reporter.Reporter.Follow. A finished run yields its final report only.
func (e *Engine) Follow(ctx context.Context, id int64) (<-chan *report.StepExecutionReport, error) {
	exec, err := e.manager.Execution(id)
	if err != nil {
		return nil, err
	}
	if final, ok := finished(exec); ok {
		ch := make(chan *report.StepExecutionReport, 1)
		ch <- final
		close(ch)
		return ch, nil
	}
	ch, err := e.reporter.Follow(ctx, id)
	if errors.Is(err, reporter.ErrNotFound) {
		return nil, &ExecutionNotFoundError{ID: id}
	}
	return ch, err
}

// Snapshot returns the latest report of a live or recently finished run.
func (e *Engine) Snapshot(id int64) (*report.StepExecutionReport, error) {
	exec, err := e.manager.Execution(id)
	if err != nil {
		return nil, err
	}
	if final, ok := finished(exec); ok {
		return final, nil
	}
	if r, ok := e.reporter.Snapshot(id); ok {
		return r, nil
	}
	return nil, fmt.Errorf("execution %d has not reported yet", id)
}

// finished returns a copy of the final report once exec is done.
func finished(exec *ScenarioExecution) (*report.StepExecutionReport, bool) {
	select {
	case <-exec.Done():
		return exec.Report().Clone(), true
	default:
		return nil, false
	}
}

// Pause suspends execution id at its next step boundary.
func (e *Engine) Pause(id int64) error { return e.manager.Pause(id) }

// Resume wakes a paused execution.
func (e *Engine) Resume(id int64) error { return e.manager.Resume(id) }

// Stop requests a cooperative stop of execution id.
func (e *Engine) Stop(id int64) error { return e.manager.Stop(id) }

// Status returns the lifecycle state of execution id.
func (e *Engine) Status(id int64) (Status, error) { return e.manager.Status(id) }

// Active lists the running and paused executions.
func (e *Engine) Active() []int64 { return e.manager.Active() }

// Wait blocks until execution id finishes.
func (e *Engine) Wait(ctx context.Context, id int64) (*report.StepExecutionReport, error) {
	return e.manager.Wait(ctx, id)
}

// Close stops live runs, flushes observers and releases the trace file.
func (e *Engine) Close() error {
	if e.manager != nil {
		e.manager.Close()
	}
	if e.reporter != nil {
		e.reporter.Close()
	}
	if e.bus != nil {
		e.bus.Close()
	}
	for _, o := range e.observers {
		o.Wait()
	}
	if e.trace != nil {
		return e.trace.Close()
	}
	return nil
}
