package events

import (
	"context"
	"slices"
	"sync"

	"github.com/systmms/vaultsync/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100
)

type subscription struct {
	id      uint64
	types   []Type
	handler Handler
}

func (s subscription) wants(t Type) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus fans events out to subscribers through an async bounded queue, so
// emitting never blocks a sync pass.
type Bus struct {
	logger  *logging.Logger
	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	done    chan struct{}

	subs   []subscription
	nextID uint64

	droppedCount int64
	droppedMu    sync.Mutex
}

// NewBus creates a bus with the specified queue size.
// If queueSize is 0, DefaultQueueSize is used.
func NewBus(queueSize int, logger *logging.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bus{
		logger: logger.Named("events"),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

// Subscribe registers h for the given types, or for every type when none
// are given. The returned function removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...Type) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, types: types, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Start begins the background worker goroutine.
// Events emitted before Start are dropped.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop shuts the worker down after delivering everything already queued.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
}

// Emit queues e for delivery. If the queue is full the event is dropped and
// counted.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	if !b.running {
		b.mu.RUnlock()
		return
	}
	b.mu.RUnlock()

	select {
	case b.queue <- e:
	default:
		b.droppedMu.Lock()
		b.droppedCount++
		b.droppedMu.Unlock()

		incrementDroppedCounter()
		b.logger.Warn("queue full, dropped %s", e.Type)
	}
}

// DroppedCount returns the number of events that were dropped due to queue overflow.
func (b *Bus) DroppedCount() int64 {
	b.droppedMu.Lock()
	defer b.droppedMu.Unlock()
	return b.droppedCount
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			b.drainQueue()
			return
		case <-b.done:
			b.drainQueue()
			return
		case e := <-b.queue:
			b.dispatch(e)
		}
	}
}

func (b *Bus) drainQueue() {
	for {
		select {
		case e := <-b.queue:
			b.dispatch(e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	b.logger.Debug("dispatch %s to %d subscribers", e.Type, len(subs))
	for _, s := range subs {
		if s.wants(e.Type) {
			b.call(s.handler, e)
		}
	}
}

func (b *Bus) call(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber for %s panicked: %v", e.Type, r)
		}
	}()
	h(e)
}
