package reporter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NathanRodet/chutney/pkg/bus"
	"github.com/NathanRodet/chutney/pkg/report"
)

func fragment(status report.Status, children ...*report.StepExecutionReport) *report.StepExecutionReport {
	return &report.StepExecutionReport{Name: "root", Status: status, Steps: children}
}

func drain(t *testing.T, ch <-chan *report.StepExecutionReport) []*report.StepExecutionReport {
	t.Helper()
	var got []*report.StepExecutionReport
	timeout := time.After(5 * time.Second)
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, s)
		case <-timeout:
			t.Fatalf("stream not closed after %d snapshots", len(got))
		}
	}
}

// waitFor polls until cond holds; reporter state is updated asynchronously.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestFollow_ProgressiveSnapshots(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	r := New(b, 10, nil)
	defer r.Close()
	r.Watch(1)

	ch, err := r.Follow(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(bus.Event{ExecutionID: 1, Path: "0", Kind: bus.KindStarted,
		Report: fragment(report.StatusRunning, report.NotExecuted("a"), report.NotExecuted("b"))})
	b.Publish(bus.Event{ExecutionID: 1, Path: "0/0", Kind: bus.KindEnded,
		Report: &report.StepExecutionReport{Name: "a", Status: report.StatusSuccess}})
	final := fragment(report.StatusSuccess,
		&report.StepExecutionReport{Name: "a", Status: report.StatusSuccess},
		&report.StepExecutionReport{Name: "b", Status: report.StatusSuccess})
	b.Publish(bus.Event{ExecutionID: 1, Path: "0", Kind: bus.KindEnded, Report: final})
	b.Publish(bus.Event{ExecutionID: 1, Kind: bus.KindExecutionEnded, Report: final})

	got := drain(t, ch)
	if len(got) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(got))
	}
	if got[0].Status != report.StatusRunning || got[0].Steps[0].Status != report.StatusNotExecuted {
		t.Errorf("first snapshot = %+v", got[0])
	}
	if got[1].Steps[0].Status != report.StatusSuccess || got[1].Steps[1].Status != report.StatusNotExecuted {
		t.Errorf("second snapshot children = %s, %s", got[1].Steps[0].Status, got[1].Steps[1].Status)
	}
	if last := got[len(got)-1]; last.Status != report.StatusSuccess {
		t.Errorf("last status = %s, want SUCCESS", last.Status)
	}
}

func TestFollow_StartsFromCurrentState(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	r := New(b, 10, nil)
	defer r.Close()

	b.Publish(bus.Event{ExecutionID: 7, Path: "0", Kind: bus.KindStarted,
		Report: fragment(report.StatusRunning, report.NotExecuted("a"))})
	b.Publish(bus.Event{ExecutionID: 7, Path: "0/0", Kind: bus.KindEnded,
		Report: &report.StepExecutionReport{Name: "a", Status: report.StatusFailure}})
	waitFor(t, func() bool {
		s, ok := r.Snapshot(7)
		return ok && s.Steps[0].Status == report.StatusFailure
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Follow(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	first := <-ch
	if first.Steps[0].Status != report.StatusFailure {
		t.Errorf("first snapshot child = %s, want state at subscription time", first.Steps[0].Status)
	}

	cancel()
	drain(t, ch)
}

func TestFollow_EndedRunYieldsOneSnapshot(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	r := New(b, 10, nil)
	defer r.Close()

	final := fragment(report.StatusFailure)
	b.Publish(bus.Event{ExecutionID: 3, Path: "0", Kind: bus.KindStarted, Report: fragment(report.StatusRunning)})
	b.Publish(bus.Event{ExecutionID: 3, Kind: bus.KindExecutionEnded, Report: final})
	waitFor(t, func() bool {
		s, ok := r.Snapshot(3)
		return ok && s.Status == report.StatusFailure
	})

	ch, err := r.Follow(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, ch)
	if len(got) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(got))
	}
	if got[0].Status != report.StatusFailure {
		t.Errorf("status = %s", got[0].Status)
	}

	r.Watch(3)
	if ch, _ := r.Follow(context.Background(), 3); len(drain(t, ch)) != 1 {
		t.Error("Watch on a finished id must not reset it")
	}
}

func TestFollow_PauseResumeReflectedOnRoot(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	r := New(b, 10, nil)
	defer r.Close()
	r.Watch(2)
	ch, _ := r.Follow(context.Background(), 2)

	b.Publish(bus.Event{ExecutionID: 2, Path: "0", Kind: bus.KindStarted, Report: fragment(report.StatusRunning)})
	b.Publish(bus.Event{ExecutionID: 2, Kind: bus.KindPaused})
	b.Publish(bus.Event{ExecutionID: 2, Kind: bus.KindResumed})
	b.Publish(bus.Event{ExecutionID: 2, Kind: bus.KindExecutionEnded, Report: fragment(report.StatusSuccess)})

	got := drain(t, ch)
	var statuses []report.Status
	for _, s := range got {
		statuses = append(statuses, s.Status)
	}
	want := []report.Status{report.StatusRunning, report.StatusPaused, report.StatusRunning, report.StatusSuccess}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("statuses = %v, want %v", statuses, want)
			break
		}
	}
}

func TestFollow_Unknown(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	r := New(b, 10, nil)
	defer r.Close()
	if _, err := r.Follow(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestForget(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()
	r := New(b, 10, nil)
	defer r.Close()
	r.Watch(5)
	ch, _ := r.Follow(context.Background(), 5)
	r.Forget(5)
	drain(t, ch)
	if _, err := r.Follow(context.Background(), 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
