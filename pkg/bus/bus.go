// Package bus is the in-process event bus runs publish their lifecycle
// events to. Each subscriber gets its own unbounded queue and delivery
// goroutine, so a publisher never blocks and every subscriber observes
// matching events exactly once, in publish order.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is a multicast event bus. The zero value is not usable; call New.
type Bus struct {
	mu     sync.Mutex // serializes Publish; gives every subscriber the same total order
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

// New creates a bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: logger.With("component", "bus"),
	}
}

// Publish delivers ev to every matching subscriber. It never blocks on a
// subscriber. Missing ID and Timestamp are filled in.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.pred == nil || s.pred(ev) {
			s.box.Put(ev)
		}
	}
}

// Subscribe opens a channel reader for events matching pred (nil = all).
// Subscribing to a closed bus returns an already closed subscription.
func (b *Bus) Subscribe(pred Predicate) *Subscription {
	s := &Subscription{pred: pred, box: NewMailbox[Event](), bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.box.Close(false)
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// SubscribeFunc runs fn for every matching event on a dedicated goroutine.
// A panic or error from fn is logged and delivery continues with the next
// event.
func (b *Bus) SubscribeFunc(name string, pred Predicate, fn func(Event) error) *Subscription {
	s := b.Subscribe(pred)
	s.handled = make(chan struct{})
	log := b.logger.With("subscriber", name)
	go func() {
		defer close(s.handled)
		for ev := range s.C() {
			if err := safeCall(fn, ev); err != nil {
				log.Warn("subscriber failed", "event", ev.Kind, "execution", ev.ExecutionID, "path", ev.Path, "error", err)
			}
		}
	}()
	return s
}

func safeCall(fn func(Event) error, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ev)
}

// Len returns the number of open subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription after its queued events are delivered.
// Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.box.Close(true)
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	id      uint64
	pred    Predicate
	box     *Mailbox[Event]
	bus     *Bus
	handled chan struct{} // SubscribeFunc only: closed when the callback loop exits
}

// C returns the event channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.box.C()
}

// Wait blocks until a SubscribeFunc callback has seen its last event. It
// returns immediately for channel subscriptions.
func (s *Subscription) Wait() {
	if s.handled != nil {
		<-s.handled
	}
}

// Close unsubscribes and discards undelivered events.
func (s *Subscription) Close() {
	s.bus.remove(s.id)
	s.box.Close(false)
}
