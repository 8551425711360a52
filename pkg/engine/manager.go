package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/eval"
	"github.com/NathanRodet/chutney/pkg/report"
	"github.com/NathanRodet/chutney/pkg/scenario"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	MaxConcurrent     int // 0 = unbounded
	FinishedCacheSize int // finished ids kept so late calls stay no-ops
}

// Manager is the registry of runs. Pause, Resume and Stop only flip flags on
// the execution handle; they never wait for the run.
type Manager struct {
	executor *Executor
	bus      *bus.Bus
	logger   *slog.Logger
	sem      chan struct{}

	nextID atomic.Int64

	mu       sync.Mutex
	active   map[int64]*ScenarioExecution
	finished map[int64]*ScenarioExecution
	order    []int64 // finished ids, oldest first
	keep     int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager running steps with x.
func NewManager(x *Executor, b *bus.Bus, opts ManagerOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		executor: x,
		bus:      b,
		logger:   logger.With("component", "manager"),
		active:   make(map[int64]*ScenarioExecution),
		finished: make(map[int64]*ScenarioExecution),
		keep:     opts.FinishedCacheSize,
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.MaxConcurrent > 0 {
		m.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return m
}

// Submit registers a new execution of step and starts it asynchronously.
// The run outlives ctx cancellation but keeps its values.
func (m *Manager) Submit(ctx context.Context, step *scenario.StepDefinition, scope *eval.Scope) (int64, error) {
	exec, err := m.Start(ctx, step, scope)
	if err != nil {
		return 0, err
	}
	return exec.ID, nil
}

// Start is Submit returning the execution handle.
func (m *Manager) Start(ctx context.Context, step *scenario.StepDefinition, scope *eval.Scope) (*ScenarioExecution, error) {
	if step == nil {
		return nil, fmt.Errorf("submit: nil step")
	}
	if scope == nil {
		scope = eval.NewScope(nil)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	exec := newExecution(m.nextID.Add(1), step.Name)
	m.active[exec.ID] = exec
	m.wg.Add(1)
	m.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unlink := context.AfterFunc(m.ctx, cancel)
	m.logger.Debug("execution submitted", "execution", exec.ID, "scenario", step.Name)

	go func() {
		defer m.wg.Done()
		defer cancel()
		defer unlink()
		m.run(runCtx, exec, step, scope)
	}()
	return exec, nil
}

func (m *Manager) run(ctx context.Context, exec *ScenarioExecution, step *scenario.StepDefinition, scope *eval.Scope) {
	if m.sem != nil {
		select {
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
		case <-ctx.Done():
			exec.requestStop()
		}
	}

	final := m.execute(ctx, exec, step, scope)
	exec.finish(final)
	m.bus.Publish(bus.Event{
		ExecutionID: exec.ID,
		Kind:        bus.KindExecutionEnded,
		Report:      final.Clone(),
	})
	m.retire(exec)
	m.logger.Debug("execution finished", "execution", exec.ID, "status", final.Status, "state", exec.Status())
}

// execute shields the manager from faults outside actions.
func (m *Manager) execute(ctx context.Context, exec *ScenarioExecution, step *scenario.StepDefinition, scope *eval.Scope) (final *report.StepExecutionReport) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("execution aborted", "execution", exec.ID, "panic", r)
			final = skeleton(step)
			final.Status = report.StatusFailure
			final.Error(internalErrorMessage)
			m.bus.Publish(bus.Event{ExecutionID: exec.ID, Path: report.RootPath, Kind: bus.KindEnded, Report: final.Clone()})
		}
	}()
	return m.executor.Execute(ctx, step, scope, exec)
}

func (m *Manager) retire(exec *ScenarioExecution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, exec.ID)
	if m.keep <= 0 {
		return
	}
	m.finished[exec.ID] = exec
	m.order = append(m.order, exec.ID)
	for len(m.order) > m.keep {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}

// lookup returns the live handle, nil for a recently finished run, or an
// ExecutionNotFoundError.
func (m *Manager) lookup(id int64) (*ScenarioExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[id]; ok {
		return e, nil
	}
	if _, ok := m.finished[id]; ok {
		return nil, nil
	}
	return nil, &ExecutionNotFoundError{ID: id}
}

// Execution returns the handle of a live or recently finished run.
func (m *Manager) Execution(id int64) (*ScenarioExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.active[id]; ok {
		return e, nil
	}
	if e, ok := m.finished[id]; ok {
		return e, nil
	}
	return nil, &ExecutionNotFoundError{ID: id}
}

// Pause suspends the run at its next step boundary.
func (m *Manager) Pause(id int64) error {
	return m.transition(id, "pause", (*ScenarioExecution).requestPause, bus.KindPaused)
}

// Resume wakes a paused run.
func (m *Manager) Resume(id int64) error {
	return m.transition(id, "resume", (*ScenarioExecution).requestResume, bus.KindResumed)
}

// Stop requests a cooperative stop. An action already running is not
// interrupted.
func (m *Manager) Stop(id int64) error {
	return m.transition(id, "stop", (*ScenarioExecution).requestStop, bus.KindStopped)
}

func (m *Manager) transition(id int64, name string, flip func(*ScenarioExecution) bool, kind bus.Kind) error {
	exec, err := m.lookup(id)
	if err != nil {
		return err
	}
	if exec == nil || !flip(exec) {
		m.logger.Debug("redundant transition ignored", "execution", id, "op", name)
		return nil
	}
	m.logger.Debug("execution transition", "execution", id, "op", name)
	m.bus.Publish(bus.Event{ExecutionID: id, Kind: kind})
	return nil
}

// Status returns the lifecycle state of a live or recently finished run.
func (m *Manager) Status(id int64) (Status, error) {
	e, err := m.Execution(id)
	if err != nil {
		return "", err
	}
	return e.Status(), nil
}

// Active returns the ids of runs not yet finished, ascending.
func (m *Manager) Active() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.active))
}

// Wait blocks until the run finishes and returns its final report.
func (m *Manager) Wait(ctx context.Context, id int64) (*report.StepExecutionReport, error) {
	e, err := m.Execution(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-e.Done():
		return e.Report(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops every live run and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	live := slices.Collect(maps.Values(m.active))
	m.mu.Unlock()

	for _, e := range live {
		if e.requestStop() {
			m.bus.Publish(bus.Event{ExecutionID: e.ID, Kind: bus.KindStopped})
		}
	}
	m.cancel()
	m.wg.Wait()
}
