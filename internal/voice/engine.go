// Package voice closes the loop from a blocked prompt back to the agent's
// terminal: it captures a spoken answer, transcribes it, matches it against
// the prompt's options, and injects the chosen option as keystrokes.
//
// Listening is single-flight across sessions. A newer blocked prompt
// pre-empts the current listen task; any non-blocked event from the
// listening session cancels it.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/observe"
	"github.com/echo-voice/echo/pkg/audio"
	"github.com/echo-voice/echo/pkg/provider/stt"
)

// DefaultConfidenceThreshold is the minimum match confidence for dispatch.
const DefaultConfidenceThreshold = 0.6

const (
	msgNoTranscript  = "I couldn't understand. Please repeat or type your response."
	msgLowConfidence = "I didn't catch that clearly. Please repeat."
)

// Capturer records one utterance. *audio.Microphone implements it.
type Capturer interface {
	CaptureUntilSilence(ctx context.Context, opts audio.CaptureOptions) ([]byte, error)
	Available() bool
}

var _ Capturer = (*audio.Microphone)(nil)

// Confirmer speaks a confirmation synchronously. *speaker.Engine implements
// it; a nil confirmer skips spoken feedback.
type Confirmer interface {
	Confirm(ctx context.Context, text string)
}

// Keystroker injects a response into the agent's terminal. *Dispatcher
// implements it.
type Keystroker interface {
	Dispatch(ctx context.Context, text string) bool
	Available() bool
	Method() DispatchMethod
}

var _ Keystroker = (*Dispatcher)(nil)

// listenTask is one in-flight capture cycle.
type listenTask struct {
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Engine subscribes to the raw bus and produces responses.
type Engine struct {
	raw        *event.Bus[event.RawEvent]
	responses  *event.Bus[event.Response]
	mic        Capturer
	stt        stt.Provider
	dispatcher Keystroker
	speaker    Confirmer
	threshold  float64
	capture    audio.CaptureOptions
	log        *slog.Logger
	metrics    *observe.Metrics

	mu      sync.Mutex
	current *listenTask

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithSpeaker attaches the confirmation narrator.
func WithSpeaker(c Confirmer) Option {
	return func(e *Engine) { e.speaker = c }
}

// WithConfidenceThreshold overrides the dispatch confidence floor.
func WithConfidenceThreshold(f float64) Option {
	return func(e *Engine) {
		if f > 0 {
			e.threshold = f
		}
	}
}

// WithCaptureOptions overrides the VAD capture parameters.
func WithCaptureOptions(opts audio.CaptureOptions) Option {
	return func(e *Engine) { e.capture = opts }
}

// New creates an Engine. mic and provider may be nil or unavailable, in
// which case listening never activates and only manual responses work.
func New(raw *event.Bus[event.RawEvent], responses *event.Bus[event.Response],
	mic Capturer, provider stt.Provider, dispatcher Keystroker,
	log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		raw:        raw,
		responses:  responses,
		mic:        mic,
		stt:        provider,
		dispatcher: dispatcher,
		threshold:  DefaultConfidenceThreshold,
		capture:    audio.CaptureOptions{SampleRate: 16000},
		log:        log,
		metrics:    metrics,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.capture.SampleRate <= 0 {
		e.capture.SampleRate = 16000
	}
	return e
}

// Start subscribes to the raw bus and runs the routing loop.
func (e *Engine) Start(ctx context.Context) {
	sub := e.raw.Subscribe()
	go func() {
		defer close(e.stopped)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.done:
				return
			case ev := <-sub.Events():
				e.handleEvent(ctx, ev)
			}
		}
	}()
}

// Stop cancels any in-flight listen task and ends the loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	<-e.stopped

	e.mu.Lock()
	task := e.current
	e.mu.Unlock()
	if task != nil {
		task.cancel()
		<-task.done
	}
}

// Listening reports whether a listen task is in flight.
func (e *Engine) Listening() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// MicAvailable reports whether a capture source is present.
func (e *Engine) MicAvailable() bool {
	return e.mic != nil && e.mic.Available()
}

// DispatchAvailable reports whether a keystroke mechanism was selected.
func (e *Engine) DispatchAvailable() bool {
	return e.dispatcher != nil && e.dispatcher.Available()
}

func (e *Engine) handleEvent(ctx context.Context, ev event.RawEvent) {
	if ev.Blocked() {
		if len(ev.Options) == 0 {
			return
		}
		if !e.MicAvailable() || e.stt == nil {
			e.log.Debug("listen skipped, capture chain unavailable",
				"session_id", ev.SessionID, "mic", e.MicAvailable())
			return
		}
		e.startListen(ctx, ev)
		return
	}

	// The session moved on; its unanswered prompt is stale.
	e.mu.Lock()
	task := e.current
	e.mu.Unlock()
	if task != nil && task.sessionID == ev.SessionID {
		e.log.Debug("cancelling listen on session activity",
			"session_id", ev.SessionID, "kind", ev.Kind)
		task.cancel()
	}
}

// startListen replaces any in-flight task; the newer prompt wins.
func (e *Engine) startListen(ctx context.Context, ev event.RawEvent) {
	lctx, cancel := context.WithCancel(ctx)
	task := &listenTask{sessionID: ev.SessionID, cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	if prev := e.current; prev != nil {
		prev.cancel()
	}
	e.current = task
	e.mu.Unlock()

	go func() {
		defer close(task.done)
		defer cancel()
		defer func() {
			e.mu.Lock()
			if e.current == task {
				e.current = nil
			}
			e.mu.Unlock()
		}()
		e.listen(lctx, ev.SessionID, ev.Options, ev.BlockReason)
	}()
}

// listen runs one capture → transcribe → match → confirm → dispatch cycle.
func (e *Engine) listen(ctx context.Context, sessionID string, options []string, reason event.BlockReason) {
	e.log.Info("listening for response", "session_id", sessionID, "options", len(options))

	pcm, err := e.mic.CaptureUntilSilence(ctx, e.capture)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.recordCycle(ctx, "cancelled")
			return
		}
		e.log.Warn("capture failed", "err", err)
		e.recordCycle(ctx, "capture_error")
		return
	}
	if len(pcm) == 0 {
		// No speech onset within the listen timeout; the alert repeat may
		// re-trigger later.
		e.recordCycle(ctx, "no_speech")
		return
	}

	transcript := e.transcribe(ctx, pcm)
	if transcript == "" {
		e.confirm(ctx, msgNoTranscript)
		e.recordCycle(ctx, "no_transcript")
		return
	}

	res := Match(transcript, options, reason)
	if res.Confidence < e.threshold {
		e.log.Info("match below confidence threshold",
			"transcript", transcript, "confidence", res.Confidence)
		e.confirm(ctx, msgLowConfidence)
		e.recordCycle(ctx, "low_confidence")
		return
	}

	e.log.Info("response matched", "text", res.Text,
		"method", res.Method, "confidence", res.Confidence)
	e.responses.Emit(event.Response{
		Text:       res.Text,
		Transcript: transcript,
		SessionID:  sessionID,
		Method:     res.Method,
		Confidence: res.Confidence,
		Timestamp:  time.Now(),
		Options:    options,
	})

	// Speak the confirmation to completion before typing, so the next
	// capture does not hear our own voice.
	e.confirm(ctx, "Sending: "+res.Text)

	if e.dispatch(ctx, res.Text) {
		e.recordCycle(ctx, "dispatched")
	} else {
		e.recordCycle(ctx, "dispatch_failed")
	}
}

// HandleManualResponse resolves a blocked prompt with typed text, bypassing
// capture and matching. Returns "ok" or "dispatch_failed" for the HTTP
// surface.
func (e *Engine) HandleManualResponse(ctx context.Context, sessionID, text string) string {
	// A manual answer supersedes any in-flight listen for the session.
	e.mu.Lock()
	task := e.current
	e.mu.Unlock()
	if task != nil && task.sessionID == sessionID {
		task.cancel()
	}

	e.responses.Emit(event.Response{
		Text:       text,
		Transcript: text,
		SessionID:  sessionID,
		Method:     event.MatchVerbatim,
		Confidence: 1.0,
		Timestamp:  time.Now(),
	})
	e.confirm(ctx, "Sending: "+text)

	if !e.dispatch(ctx, text) {
		return "dispatch_failed"
	}
	return "ok"
}

func (e *Engine) transcribe(ctx context.Context, pcm []byte) string {
	wav := audio.EncodeWAV(pcm, e.capture.SampleRate, 1, 16)

	start := time.Now()
	transcript, err := e.stt.Transcribe(ctx, wav)
	if e.metrics != nil {
		e.metrics.TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		e.log.Warn("transcription failed", "err", err)
		if e.metrics != nil {
			e.metrics.RecordProviderError(ctx, e.stt.Name(), "stt")
		}
		return ""
	}
	return strings.TrimSpace(transcript)
}

func (e *Engine) dispatch(ctx context.Context, text string) bool {
	method := DispatchNone
	if e.dispatcher != nil {
		method = e.dispatcher.Method()
	}
	ok := e.dispatcher != nil && e.dispatcher.Dispatch(ctx, text)
	if e.metrics != nil {
		status := "ok"
		if !ok {
			status = "failed"
		}
		e.metrics.RecordDispatch(ctx, string(method), status)
	}
	if !ok {
		e.confirm(ctx, "Couldn't send response. Please type: "+text+".")
	}
	return ok
}

func (e *Engine) confirm(ctx context.Context, text string) {
	if e.speaker == nil {
		return
	}
	e.speaker.Confirm(ctx, text)
}

func (e *Engine) recordCycle(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordListenCycle(ctx, outcome)
	}
}
