// Package speaker consumes narrations and turns them into audible output:
// alert tones, synthesized speech on the local device, and an optional
// remote PCM stream.
//
// The engine degrades rather than fails: a missing TTS backend skips
// synthesis, a missing output device skips playback but still publishes
// remotely, and missing remote credentials skip publishing.
package speaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echo-voice/echo/internal/alert"
	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/observe"
	"github.com/echo-voice/echo/pkg/audio"
	"github.com/echo-voice/echo/pkg/provider/tts"
)

// State is the engine's composite health value exposed on /health.
type State string

const (
	// StateActive means both TTS and the output device are usable.
	StateActive State = "active"

	// StateDegraded means exactly one of TTS/device is usable.
	StateDegraded State = "degraded"

	// StateDisabled means neither is usable; narrations are consumed and
	// dropped.
	StateDisabled State = "disabled"
)

// Player is the playback surface the engine drives. *audio.Player
// implements it.
type Player interface {
	Enqueue(pcm []byte, prio int) bool
	PlayImmediate(ctx context.Context, pcm []byte)
	PlayAlert(ctx context.Context, reason string)
	Interrupt()
	Depth() int
	Available() bool
}

// Publisher streams PCM to a remote room. Implementations must tolerate
// publish calls while disconnected.
type Publisher interface {
	Publish(ctx context.Context, pcm []byte) error
	Connected() bool
}

// Engine is the single consumer of the narration bus.
type Engine struct {
	narrations *event.Bus[event.Narration]
	tts        tts.Provider
	player     Player
	publisher  Publisher
	alerts     *alert.Manager
	backlog    int
	log        *slog.Logger
	metrics    *observe.Metrics

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher attaches a remote publisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithBacklogThreshold overrides the low-priority shedding depth.
func WithBacklogThreshold(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.backlog = n
		}
	}
}

// New creates an Engine. provider may be nil (synthesis skipped); player
// must not be nil.
func New(narrations *event.Bus[event.Narration], provider tts.Provider, player Player,
	alerts *alert.Manager, log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		narrations: narrations,
		tts:        provider,
		player:     player,
		alerts:     alerts,
		backlog:    audio.DefaultBacklogThreshold,
		log:        log,
		metrics:    metrics,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start registers the alert repeat callback and runs the consume loop.
func (e *Engine) Start(ctx context.Context) {
	if e.alerts != nil {
		e.alerts.SetRepeatCallback(func(reason event.BlockReason, text string) {
			e.repeat(ctx, reason, text)
		})
	}
	sub := e.narrations.Subscribe()
	go func() {
		defer close(e.stopped)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case n := <-sub.Events():
				e.Handle(ctx, n)
			}
		}
	}()
}

// Stop ends the consume loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	<-e.stopped
}

// State returns the composite degradation state.
func (e *Engine) State() State {
	ttsOK := e.tts != nil && e.tts.Available()
	deviceOK := e.player != nil && e.player.Available()
	switch {
	case ttsOK && deviceOK:
		return StateActive
	case !ttsOK && !deviceOK:
		return StateDisabled
	default:
		return StateDegraded
	}
}

// Handle routes one narration by priority. Exported for tests.
func (e *Engine) Handle(ctx context.Context, n event.Narration) {
	switch n.Priority {
	case event.PriorityCritical:
		e.handleCritical(ctx, n)
	case event.PriorityLow:
		// Shed old news when the queue is already backed up; synthesis is
		// not worth the spend for a narration that would play late.
		if e.player.Depth() >= e.backlog {
			e.log.Info("dropping low-priority narration, queue backlog",
				"depth", e.player.Depth(), "text", n.Text)
			return
		}
		if pcm := e.synthesize(ctx, n.Text); pcm != nil {
			if e.player.Enqueue(pcm, n.Priority.QueueClass()) {
				e.publish(ctx, pcm)
			}
		}
	default:
		if pcm := e.synthesize(ctx, n.Text); pcm != nil {
			e.player.Enqueue(pcm, n.Priority.QueueClass())
			e.publish(ctx, pcm)
		}
	}
}

// handleCritical pre-empts everything: abort playback, play the alert tone,
// speak, then activate the repeating alert. Activation happens even when
// synthesis failed so the repeat mechanism can still nudge the user.
func (e *Engine) handleCritical(ctx context.Context, n event.Narration) {
	e.player.Interrupt()
	e.player.PlayAlert(ctx, string(n.BlockReason))

	if pcm := e.synthesize(ctx, n.Text); pcm != nil {
		e.playImmediate(ctx, pcm)
		e.publish(ctx, pcm)
	}

	if e.alerts != nil {
		e.alerts.Activate(n.SessionID, n.BlockReason, n.Text, n.Options)
	}
}

// repeat is the alert-repeat callback: tone plus narration, immediately.
func (e *Engine) repeat(ctx context.Context, reason event.BlockReason, text string) {
	e.player.Interrupt()
	e.player.PlayAlert(ctx, string(reason))
	if pcm := e.synthesize(ctx, text); pcm != nil {
		e.playImmediate(ctx, pcm)
		e.publish(ctx, pcm)
	}
}

// Confirm speaks text synchronously. The voice engine uses it so the
// confirmation finishes before keystrokes are dispatched and before the
// microphone reopens.
func (e *Engine) Confirm(ctx context.Context, text string) {
	if pcm := e.synthesize(ctx, text); pcm != nil {
		e.playImmediate(ctx, pcm)
		e.publish(ctx, pcm)
	}
}

// synthesize renders text to PCM. Never panics; any failure returns nil.
func (e *Engine) synthesize(ctx context.Context, text string) []byte {
	if e.tts == nil || !e.tts.Available() {
		return nil
	}
	start := time.Now()
	pcm, err := e.tts.Synthesize(ctx, text)
	if e.metrics != nil {
		e.metrics.SynthesisDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		e.log.Warn("synthesis failed", "err", err)
		if e.metrics != nil {
			e.metrics.RecordProviderError(ctx, e.tts.Name(), "tts")
		}
		return nil
	}
	return pcm
}

func (e *Engine) playImmediate(ctx context.Context, pcm []byte) {
	start := time.Now()
	e.player.PlayImmediate(ctx, pcm)
	if e.metrics != nil {
		e.metrics.PlaybackDuration.Record(ctx, time.Since(start).Seconds())
	}
}

func (e *Engine) publish(ctx context.Context, pcm []byte) {
	if e.publisher == nil || !e.publisher.Connected() {
		return
	}
	if err := e.publisher.Publish(ctx, pcm); err != nil {
		e.log.Warn("remote publish failed", "err", err)
	}
}
