package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueCapacity is the per-subscriber queue size used when no
// capacity option is given.
const DefaultQueueCapacity = 256

// BusOption configures a [Bus].
type BusOption func(*busConfig)

type busConfig struct {
	capacity int
	onDrop   func(bus string)
}

// WithCapacity overrides the per-subscriber queue capacity.
func WithCapacity(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithDropHook installs a callback invoked once per dropped item, after the
// warn log. Used to feed the bus-drop metric.
func WithDropHook(fn func(bus string)) BusOption {
	return func(c *busConfig) { c.onDrop = fn }
}

// Subscription is a handle to one subscriber's bounded queue. It belongs to
// exactly one consumer; Close releases it and discards any pending items.
type Subscription[T any] struct {
	bus       *Bus[T]
	ch        chan T
	closeOnce sync.Once
}

// Events returns the receive side of the subscription queue.
func (s *Subscription[T]) Events() <-chan T { return s.ch }

// Close unsubscribes from the bus. Safe to call more than once; emissions
// after Close ignore this subscription.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() { s.bus.unsubscribe(s) })
}

// Bus is a typed multi-subscriber fan-out with bounded per-subscriber
// queues. Emit never blocks: a full queue drops that item for that
// subscriber with a warn log. Delivery is FIFO per subscriber and
// at-most-once; there is no cross-subscriber ordering guarantee.
//
// Bus is safe for concurrent use.
type Bus[T any] struct {
	name     string
	capacity int
	onDrop   func(bus string)
	log      *slog.Logger

	mu   sync.Mutex
	subs map[*Subscription[T]]struct{}

	drops atomic.Int64
}

// NewBus creates a Bus with the given name (used in logs and metrics).
func NewBus[T any](name string, log *slog.Logger, opts ...BusOption) *Bus[T] {
	if log == nil {
		log = slog.Default()
	}
	cfg := busConfig{capacity: DefaultQueueCapacity}
	for _, o := range opts {
		o(&cfg)
	}
	return &Bus[T]{
		name:     name,
		capacity: cfg.capacity,
		onDrop:   cfg.onDrop,
		log:      log,
		subs:     make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a fresh bounded queue and returns its handle.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{bus: b, ch: make(chan T, b.capacity)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus[T]) unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Emit delivers item to every currently registered subscriber. Full queues
// drop the item for that subscriber only. Emit never blocks and never fails.
func (b *Bus[T]) Emit(item T) {
	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- item:
		default:
			b.drops.Add(1)
			b.log.Warn("bus subscriber queue full, dropping item",
				"bus", b.name, "capacity", b.capacity)
			if b.onDrop != nil {
				b.onDrop(b.name)
			}
		}
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Drops returns the total number of items dropped across all subscribers.
func (b *Bus[T]) Drops() int64 { return b.drops.Load() }

// Name returns the bus name.
func (b *Bus[T]) Name() string { return b.name }
