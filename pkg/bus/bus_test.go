package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func collect(t *testing.T, s *Subscription, n int) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-s.C():
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(got), n)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(got), n)
		}
	}
	return got
}

func TestBus_OrderedExactlyOnce(t *testing.T) {
	const n, m = 500, 8
	b := New(nil)
	defer b.Close()

	subs := make([]*Subscription, m)
	for i := range subs {
		subs[i] = b.Subscribe(ForExecution(1))
	}
	for i := 0; i < n; i++ {
		b.Publish(Event{ExecutionID: 1, Kind: KindStarted, Path: fmt.Sprint(i)})
	}

	for i, s := range subs {
		got := collect(t, s, n)
		for j, ev := range got {
			if ev.Path != fmt.Sprint(j) {
				t.Fatalf("subscriber %d: event %d has path %s", i, j, ev.Path)
			}
		}
	}

	select {
	case ev := <-subs[0].C():
		t.Errorf("unexpected extra event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_ConcurrentPublishersSameOrderForAll(t *testing.T) {
	const publishers, per = 4, 200
	b := New(nil)
	defer b.Close()
	s1, s2 := b.Subscribe(nil), b.Subscribe(nil)

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				b.Publish(Event{ExecutionID: int64(p), Path: fmt.Sprintf("%d/%d", p, i)})
			}
		}()
	}
	wg.Wait()

	a, c := collect(t, s1, publishers*per), collect(t, s2, publishers*per)
	for i := range a {
		if a[i].ID != c[i].ID {
			t.Fatalf("subscribers diverge at %d: %s vs %s", i, a[i].Path, c[i].Path)
		}
	}
}

func TestBus_PredicateFilters(t *testing.T) {
	b := New(nil)
	defer b.Close()
	s := b.Subscribe(OfKind(KindEnded))
	b.Publish(Event{ExecutionID: 1, Kind: KindStarted})
	b.Publish(Event{ExecutionID: 1, Kind: KindEnded})

	got := collect(t, s, 1)
	if got[0].Kind != KindEnded {
		t.Errorf("kind = %s, want ended", got[0].Kind)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Errorf("id/timestamp not filled: %+v", got[0])
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := New(nil)
	defer b.Close()
	_ = b.Subscribe(nil) // never read

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish(Event{ExecutionID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBus_SubscribeFuncRecovers(t *testing.T) {
	b := New(nil)
	defer b.Close()

	var calls atomic.Int32
	b.SubscribeFunc("panicky", nil, func(ev Event) error {
		calls.Add(1)
		if ev.Path == "0" {
			panic("boom")
		}
		if ev.Path == "1" {
			return errors.New("bad event")
		}
		return nil
	})
	healthy := b.Subscribe(nil)

	for i := 0; i < 3; i++ {
		b.Publish(Event{ExecutionID: 1, Path: fmt.Sprint(i)})
	}
	collect(t, healthy, 3)

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (delivery must continue after a panic)", calls.Load())
	}
}

func TestSubscription_Close(t *testing.T) {
	b := New(nil)
	defer b.Close()
	s := b.Subscribe(nil)
	s.Close()
	b.Publish(Event{ExecutionID: 1})

	select {
	case _, ok := <-s.C():
		if ok {
			t.Error("received event after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if b.Len() != 0 {
		t.Errorf("Len = %d, want 0", b.Len())
	}
}

func TestBus_CloseDrains(t *testing.T) {
	b := New(nil)
	s := b.Subscribe(nil)
	for i := 0; i < 5; i++ {
		b.Publish(Event{ExecutionID: 1})
	}
	b.Close()
	b.Publish(Event{ExecutionID: 1})

	n := 0
	for range s.C() {
		n++
	}
	if n != 5 {
		t.Errorf("drained %d events, want 5", n)
	}

	late := b.Subscribe(nil)
	if _, ok := <-late.C(); ok {
		t.Error("subscription on closed bus should be closed")
	}
}
