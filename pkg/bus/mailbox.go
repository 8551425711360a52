package bus

import "sync"

// Mailbox is an unbounded FIFO drained by its own goroutine into a channel.
// Put never blocks; a slow reader only grows the queue.
type Mailbox[T any] struct {
	mu     sync.Mutex
	queue  []T
	closed bool

	notify chan struct{}
	quit   chan struct{}
	out    chan T
	once   sync.Once
}

// NewMailbox starts the delivery goroutine.
func NewMailbox[T any]() *Mailbox[T] {
	m := &Mailbox[T]{
		notify: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan T),
	}
	go m.pump()
	return m
}

// C returns the delivery channel. It is closed once the mailbox is closed
// and, for a draining close, every queued value was delivered.
func (m *Mailbox[T]) C() <-chan T {
	return m.out
}

// Put enqueues v. It returns false once the mailbox is closed.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, v)
	m.mu.Unlock()
	m.wake()
	return true
}

// Len returns the number of queued values not yet handed to the reader.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops accepting values. With drain, values already queued are still
// delivered; otherwise they are discarded.
func (m *Mailbox[T]) Close(drain bool) {
	m.mu.Lock()
	m.closed = true
	if !drain {
		m.queue = nil
	}
	m.mu.Unlock()
	if !drain {
		m.once.Do(func() { close(m.quit) })
	}
	m.wake()
}

func (m *Mailbox[T]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Mailbox[T]) pump() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-m.notify:
			case <-m.quit:
				return
			}
			continue
		}
		var zero T
		v := m.queue[0]
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- v:
		case <-m.quit:
			return
		}
	}
}
