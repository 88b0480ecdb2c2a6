// Package eventbus delivers events to listeners on a dedicated goroutine,
// in the order they were fired, without ever blocking the producer.
package eventbus

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus is an unbounded FIFO fan-out. Fire never blocks; delivery happens on
// the goroutine started by Start, calling listeners in registration order.
type Bus[E any] struct {
	log *zap.Logger

	mu     sync.Mutex
	queue  []E
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once

	addMu     sync.Mutex
	listeners atomic.Pointer[[]func(E)]
}

// New returns a bus that queues events until Start is called.
func New[E any](log *zap.Logger) *Bus[E] {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus[E]{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	b.listeners.Store(&[]func(E){})
	return b
}

// Start launches the delivery goroutine. Calling it again has no effect.
func (b *Bus[E]) Start() {
	b.once.Do(func() {
		go b.run()
	})
}

// AddListener registers fn for every event delivered from now on.
func (b *Bus[E]) AddListener(fn func(E)) {
	if fn == nil {
		return
	}
	b.addMu.Lock()
	defer b.addMu.Unlock()
	cur := *b.listeners.Load()
	next := make([]func(E), len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, fn)
	b.listeners.Store(&next)
}

// Len reports the number of registered listeners.
func (b *Bus[E]) Len() int {
	return len(*b.listeners.Load())
}

// Fire enqueues e and returns immediately. It reports false when the bus
// is closed and the event was dropped.
func (b *Bus[E]) Fire(e E) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.queue = append(b.queue, e)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return true
}

// Close stops accepting events. Events already queued are still delivered
// before the delivery goroutine exits.
func (b *Bus[E]) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	// never started: nothing will drain the queue
	b.once.Do(func() {
		b.mu.Lock()
		b.queue = nil
		b.mu.Unlock()
		close(b.done)
	})

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the delivery goroutine has exited.
func (b *Bus[E]) Done() <-chan struct{} {
	return b.done
}

func (b *Bus[E]) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		closed := b.closed
		b.mu.Unlock()

		for _, e := range batch {
			b.deliver(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-b.wake
	}
}

func (b *Bus[E]) deliver(e E) {
	for _, fn := range *b.listeners.Load() {
		b.call(fn, e)
	}
}

func (b *Bus[E]) call(fn func(E), e E) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("listener panicked", zap.Any("panic", r))
		}
	}()
	fn(e)
}
