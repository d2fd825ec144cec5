package audio

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
)

// Queue classes used by the speaker engine. PrioCritical is reserved for
// the interrupt/immediate path and survives Interrupt.
const (
	PrioCritical = 0
	PrioNormal   = 1
	PrioLow      = 2
)

// DefaultBacklogThreshold is the queue depth at which low-priority items
// start being rejected.
const DefaultBacklogThreshold = 3

// Player schedules PCM playback on an [OutputDevice] by (priority, seq)
// order through a single worker goroutine. A nil device yields a player
// whose playback methods are no-ops, so callers degrade without branching.
//
// The queue is single-producer (the speaker engine) / single-consumer (the
// worker), but all exported methods are safe for concurrent use.
type Player struct {
	device  OutputDevice
	backlog int
	log     *slog.Logger
	tones   map[string][]byte

	mu     sync.Mutex
	queue  entryHeap
	seq    uint64
	closed bool

	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	cancel  context.CancelFunc

	closeOnce sync.Once
}

// PlayerOption configures a [Player].
type PlayerOption func(*Player)

// WithBacklogThreshold overrides the low-priority shedding depth.
func WithBacklogThreshold(n int) PlayerOption {
	return func(p *Player) {
		if n > 0 {
			p.backlog = n
		}
	}
}

// NewPlayer creates a Player and pre-renders the alert-tone cache at the
// given sample rate. device may be nil (no local playback). The worker
// goroutine starts immediately; call Close to stop it.
func NewPlayer(device OutputDevice, sampleRate int, log *slog.Logger, opts ...PlayerOption) *Player {
	if log == nil {
		log = slog.Default()
	}
	p := &Player{
		device:  device,
		backlog: DefaultBacklogThreshold,
		log:     log,
		tones:   make(map[string][]byte, len(toneVariants)),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	for reason := range toneVariants {
		p.tones[reason] = ToneForReason(reason, sampleRate)
	}
	heap.Init(&p.queue)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
	return p
}

// Available reports whether an output device is present and usable.
func (p *Player) Available() bool {
	return p.device != nil && p.device.Available()
}

// Depth returns the number of queued (not yet playing) items.
func (p *Player) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// Enqueue schedules pcm at the given queue class. Critical and normal items
// are always accepted; low items are rejected once the queue depth has
// reached the backlog threshold. Returns whether the item was accepted.
func (p *Player) Enqueue(pcm []byte, prio int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if prio >= PrioLow && p.queue.Len() >= p.backlog {
		return false
	}

	p.seq++
	heap.Push(&p.queue, entry{pcm: pcm, priority: prio, seq: p.seq})

	select {
	case p.notify <- struct{}{}:
	default:
	}
	return true
}

// PlayImmediate plays pcm on the device directly, bypassing the queue.
// Blocks until playback completes. Only used from critical paths.
func (p *Player) PlayImmediate(ctx context.Context, pcm []byte) {
	if p.device == nil || !p.device.Available() {
		return
	}
	if err := p.device.Play(ctx, pcm); err != nil {
		p.log.Debug("immediate playback ended early", "err", err)
	}
}

// PlayAlert plays the cached tone for the given block reason. Unknown
// reasons fall back to the default tone.
func (p *Player) PlayAlert(ctx context.Context, reason string) {
	tone, ok := p.tones[reason]
	if !ok {
		tone = p.tones[""]
	}
	p.PlayImmediate(ctx, tone)
}

// Interrupt aborts in-flight playback and drains the queue of non-critical
// items. Critical items are preserved.
func (p *Player) Interrupt() {
	if p.device != nil {
		p.device.Abort()
	}

	p.mu.Lock()
	kept := p.queue[:0]
	for _, e := range p.queue {
		if e.priority == PrioCritical {
			kept = append(kept, e)
		}
	}
	dropped := p.queue.Len() - len(kept)
	p.queue = kept
	heap.Init(&p.queue)
	p.mu.Unlock()

	if dropped > 0 {
		p.log.Debug("interrupt drained queue", "dropped", dropped)
	}
}

// Close stops the worker and aborts playback. Idempotent.
func (p *Player) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.mu.Unlock()

		close(p.done)
		p.cancel()
		if p.device != nil {
			p.device.Abort()
		}
		<-p.stopped
	})
	return nil
}

// next pops the highest-priority entry, or reports that the queue is empty.
func (p *Player) next() (entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.queue.Len() == 0 {
		return entry{}, false
	}
	return heap.Pop(&p.queue).(entry), true
}

// run is the worker loop: dequeue in (priority, seq) order and play each
// item synchronously on the device.
func (p *Player) run(ctx context.Context) {
	defer close(p.stopped)
	for {
		e, ok := p.next()
		if !ok {
			select {
			case <-p.done:
				return
			case <-p.notify:
				continue
			}
		}
		if p.device == nil || !p.device.Available() {
			continue
		}
		if err := p.device.Play(ctx, e.pcm); err != nil {
			p.log.Debug("queued playback ended early", "err", err)
		}
	}
}
