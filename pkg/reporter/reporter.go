// Package reporter turns bus events into progressive report snapshots that
// followers can stream while a run is in progress.
package reporter

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/report"
)

// ErrNotFound is returned by Follow for an execution the reporter has
// never seen or already forgot.
var ErrNotFound = errors.New("execution not followed")

// Reporter keeps one patched report tree per live execution and a bounded
// cache of final reports.
type Reporter struct {
	sub    *bus.Subscription
	logger *slog.Logger

	mu     sync.Mutex
	live   map[int64]*entry
	finals map[int64]*report.StepExecutionReport
	order  []int64
	keep   int
	closed bool
	done   chan struct{}
}

type entry struct {
	tree      *report.Tree
	followers map[*follower]struct{}
	ended     bool // root fragment with a terminal status already broadcast
}

type follower struct {
	box  *bus.Mailbox[*report.StepExecutionReport]
	gone chan struct{} // closed when the reporter stops feeding this follower
}

// New subscribes a reporter to every event on b. keep bounds the number of
// final reports retained for late followers.
func New(b *bus.Bus, keep int, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reporter{
		logger: logger.With("component", "reporter"),
		live:   make(map[int64]*entry),
		finals: make(map[int64]*report.StepExecutionReport),
		keep:   keep,
		done:   make(chan struct{}),
	}
	r.sub = b.Subscribe(nil)
	go r.loop()
	return r
}

func (r *Reporter) loop() {
	defer close(r.done)
	for ev := range r.sub.C() {
		r.apply(ev)
	}
}

// Watch starts tracking id before its first event arrives, so Follow can be
// called right after submission. Finished or tracked ids are left alone.
func (r *Reporter) Watch(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.finals[id]; ok {
		return
	}
	r.entryLocked(id)
}

func (r *Reporter) entryLocked(id int64) *entry {
	e, ok := r.live[id]
	if !ok {
		e = &entry{tree: report.NewTree(), followers: make(map[*follower]struct{})}
		r.live[id] = e
	}
	return e
}

// Follow streams snapshots of execution id. The first value is the tree as
// it stands now, then one value per patch; the channel closes after the
// final report. A finished execution yields its final report once.
// Cancelling ctx ends the stream early.
func (r *Reporter) Follow(ctx context.Context, id int64) (<-chan *report.StepExecutionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if final, ok := r.finals[id]; ok {
		ch := make(chan *report.StepExecutionReport, 1)
		ch <- final.Clone()
		close(ch)
		return ch, nil
	}
	e, ok := r.live[id]
	if !ok || r.closed {
		return nil, ErrNotFound
	}

	f := &follower{box: bus.NewMailbox[*report.StepExecutionReport](), gone: make(chan struct{})}
	if !e.tree.Empty() {
		f.box.Put(e.tree.Snapshot())
	}
	e.followers[f] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
			r.unfollow(id, f)
		case <-f.gone:
		}
	}()
	return f.box.C(), nil
}

func (r *Reporter) unfollow(id int64, f *follower) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.live[id]; ok {
		if _, ok := e.followers[f]; ok {
			delete(e.followers, f)
			f.box.Close(false)
			close(f.gone)
		}
	}
}

// Snapshot returns the current tree of a live execution or the final report
// of a finished one.
func (r *Reporter) Snapshot(id int64) (*report.StepExecutionReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if final, ok := r.finals[id]; ok {
		return final.Clone(), true
	}
	if e, ok := r.live[id]; ok && !e.tree.Empty() {
		return e.tree.Snapshot(), true
	}
	return nil, false
}

func (r *Reporter) apply(ev bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.finals[ev.ExecutionID]; ok {
		return
	}

	if ev.Kind == bus.KindExecutionEnded {
		r.finishLocked(ev.ExecutionID, ev.Report)
		return
	}

	e := r.entryLocked(ev.ExecutionID)
	switch {
	case ev.Path != "" && ev.Report != nil:
		if err := e.tree.Patch(ev.Path, ev.Report); err != nil {
			r.logger.Warn("dropping patch", "execution", ev.ExecutionID, "path", ev.Path, "error", err)
			return
		}
		if ev.Path == report.RootPath && ev.Report.Status.Terminal() {
			e.ended = true
		}
	case ev.Path == "" && !e.tree.Empty():
		root := e.tree.Node(report.RootPath)
		switch {
		case root.Status.Terminal():
			return
		case ev.Kind == bus.KindPaused:
			root.Status = report.StatusPaused
		case ev.Kind == bus.KindResumed:
			root.Status = report.StatusRunning
		default:
			return
		}
	default:
		return
	}
	r.broadcastLocked(e, e.tree.Snapshot())
}

func (r *Reporter) broadcastLocked(e *entry, snap *report.StepExecutionReport) {
	for f := range e.followers {
		f.box.Put(snap)
	}
}

func (r *Reporter) finishLocked(id int64, final *report.StepExecutionReport) {
	e := r.live[id]
	delete(r.live, id)
	if final == nil && e != nil {
		final = e.tree.Snapshot()
	}
	if e != nil {
		for f := range e.followers {
			if final != nil && !e.ended {
				f.box.Put(final.Clone())
			}
			f.box.Close(true)
			close(f.gone)
		}
	}
	if final == nil || r.keep <= 0 {
		return
	}
	r.finals[id] = final
	r.order = append(r.order, id)
	for len(r.order) > r.keep {
		delete(r.finals, r.order[0])
		r.order = r.order[1:]
	}
}

// Forget drops everything known about id and ends its streams.
func (r *Reporter) Forget(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.finals, id)
	if e, ok := r.live[id]; ok {
		for f := range e.followers {
			f.box.Close(true)
			close(f.gone)
		}
		delete(r.live, id)
	}
}

// Close unsubscribes from the bus and ends every open stream.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.sub.Close()
	<-r.done

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.live {
		for f := range e.followers {
			f.box.Close(true)
			close(f.gone)
		}
		delete(r.live, id)
	}
}
