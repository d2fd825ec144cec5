package summarize

import (
	"sync"
	"time"

	"github.com/echo-voice/echo/internal/event"
)

const (
	// DefaultBatchWindow is how long a tool batch stays open after the first
	// event.
	DefaultBatchWindow = 500 * time.Millisecond

	// DefaultBatchCap flushes a batch synchronously once this many events
	// accumulate.
	DefaultBatchCap = 10
)

// Batcher accumulates rapid tool_executed events into one narration. The
// first event opens a window and arms a one-shot timer; reaching the cap
// flushes synchronously; timer expiry flushes through the callback given to
// [NewBatcher]. Explicit flushes are idempotent.
//
// Batcher is safe for concurrent use, although the summarizer feeds it from
// a single loop.
type Batcher struct {
	window  time.Duration
	cap     int
	onFlush func([]event.RawEvent)

	mu      sync.Mutex
	pending []event.RawEvent
	timer   *time.Timer
}

// NewBatcher creates a Batcher. onFlush receives timer-expiry batches; it is
// never called with an empty slice.
func NewBatcher(window time.Duration, cap int, onFlush func([]event.RawEvent)) *Batcher {
	if window <= 0 {
		window = DefaultBatchWindow
	}
	if cap <= 0 {
		cap = DefaultBatchCap
	}
	return &Batcher{window: window, cap: cap, onFlush: onFlush}
}

// Add appends ev to the open batch, opening one if needed. When the cap is
// reached the full batch is returned for immediate rendering; otherwise nil.
func (b *Batcher) Add(ev event.RawEvent) []event.RawEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = append(b.pending, ev)
	if len(b.pending) >= b.cap {
		return b.drainLocked()
	}
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.expire)
	}
	return nil
}

// Flush drains and returns the open batch, cancelling the timer. Returns nil
// when the batch is empty.
func (b *Batcher) Flush() []event.RawEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drainLocked()
}

// Len returns the number of pending events.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// expire is the timer callback: it drains outside of Add/Flush and hands the
// batch to the summarizer's callback.
func (b *Batcher) expire() {
	b.mu.Lock()
	batch := b.drainLocked()
	b.mu.Unlock()

	if len(batch) > 0 && b.onFlush != nil {
		b.onFlush(batch)
	}
}

func (b *Batcher) drainLocked() []event.RawEvent {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	return batch
}
