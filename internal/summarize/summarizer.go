// Package summarize turns raw agent events into spoken narration text.
//
// The summarizer is the single consumer of the raw bus. Structured kinds
// render through deterministic templates, rapid tool events batch into one
// sentence, and free-text assistant messages go through the LLM provider
// with a truncation fallback.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/observe"
	"github.com/echo-voice/echo/pkg/provider/llm"
)

// Truncation fallback bounds: messages at most truncateKeep characters are
// narrated verbatim, longer ones are cut to truncatePrefix plus an ellipsis.
const (
	truncateKeep   = 150
	truncatePrefix = 140
)

// llmPrompt is the fixed instruction wrapped around assistant messages.
const llmPrompt = "Summarize this AI coding assistant message in one short sentence " +
	"(under 20 words) suitable for text-to-speech narration. " +
	"Focus on what was done or decided, not how.\n\nMessage:\n%s\n\nSummary:"

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithBatchWindow overrides the tool batch window.
func WithBatchWindow(d time.Duration) Option {
	return func(s *Summarizer) { s.batchWindow = d }
}

// WithBatchCap overrides the tool batch cap.
func WithBatchCap(n int) Option {
	return func(s *Summarizer) { s.batchCap = n }
}

// Summarizer subscribes to the raw bus and emits on the narration bus.
type Summarizer struct {
	raw        *event.Bus[event.RawEvent]
	narrations *event.Bus[event.Narration]
	llm        llm.Provider
	log        *slog.Logger
	metrics    *observe.Metrics

	batchWindow time.Duration
	batchCap    int
	batcher     *Batcher

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// New creates a Summarizer. provider may be nil, in which case every
// agent_message uses the truncation fallback.
func New(raw *event.Bus[event.RawEvent], narrations *event.Bus[event.Narration],
	provider llm.Provider, log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Summarizer {
	if log == nil {
		log = slog.Default()
	}
	s := &Summarizer{
		raw:         raw,
		narrations:  narrations,
		llm:         provider,
		log:         log,
		metrics:     metrics,
		batchWindow: DefaultBatchWindow,
		batchCap:    DefaultBatchCap,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.batcher = NewBatcher(s.batchWindow, s.batchCap, s.emitBatch)
	return s
}

// Start subscribes to the raw bus and runs the consume loop until ctx is
// cancelled or Stop is called.
func (s *Summarizer) Start(ctx context.Context) {
	sub := s.raw.Subscribe()
	go s.run(ctx, sub)
}

// Stop cancels the loop, flushes the batcher, and waits for the loop to
// exit.
func (s *Summarizer) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Summarizer) run(ctx context.Context, sub *event.Subscription[event.RawEvent]) {
	defer close(s.stopped)
	defer sub.Close()
	defer s.flushBatcher()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-sub.Events():
			s.Handle(ctx, ev)
		}
	}
}

// Handle routes one event. Exported so tests (and the HTTP surface in
// synchronous mode) can drive the summarizer without the loop.
func (s *Summarizer) Handle(ctx context.Context, ev event.RawEvent) {
	start := time.Now()

	switch ev.Kind {
	case event.KindToolExecuted:
		if batch := s.batcher.Add(ev); batch != nil {
			s.emitBatch(batch)
		}
	case event.KindAgentBlocked:
		s.flushBatcher()
		s.emit(ctx, Render(ev))
	case event.KindAgentMessage:
		s.flushBatcher()
		s.emit(ctx, s.summarizeMessage(ctx, ev))
	case event.KindAgentStopped, event.KindSessionStart, event.KindSessionEnd:
		s.flushBatcher()
		s.emit(ctx, Render(ev))
	default:
		s.log.Warn("unhandled event kind", "kind", ev.Kind)
		return
	}

	if s.metrics != nil {
		s.metrics.SummarizeDuration.Record(ctx, time.Since(start).Seconds())
	}
}

// summarizeMessage produces a narration for a free-text assistant message.
// Any provider failure falls back to truncation for this call.
func (s *Summarizer) summarizeMessage(ctx context.Context, ev event.RawEvent) event.Narration {
	n := event.Narration{
		Priority:      event.PriorityNormal,
		SourceKind:    ev.Kind,
		SessionID:     ev.SessionID,
		SourceEventID: ev.ID,
	}

	if s.llm != nil && s.llm.Available() {
		text, err := s.llm.Generate(ctx, fmt.Sprintf(llmPrompt, ev.Text))
		if err == nil && text != "" {
			n.Text = text
			n.Method = event.MethodLLM
			return n
		}
		s.log.Warn("llm summarization failed, falling back to truncation", "err", err)
	}

	n.Text = truncateMessage(ev.Text)
	n.Method = event.MethodTruncation
	return n
}

// truncateMessage is the LLM fallback: short messages verbatim, long ones
// cut with an ellipsis.
func truncateMessage(text string) string {
	runes := []rune(text)
	if len(runes) <= truncateKeep {
		return text
	}
	return string(runes[:truncatePrefix]) + "…"
}

func (s *Summarizer) flushBatcher() {
	if batch := s.batcher.Flush(); batch != nil {
		s.emitBatch(batch)
	}
}

// emitBatch renders a flushed tool batch. A batch of one reads as a single
// tool narration, not "Edited 1 a file".
func (s *Summarizer) emitBatch(batch []event.RawEvent) {
	if len(batch) == 0 {
		return
	}
	if len(batch) == 1 {
		s.emit(context.Background(), Render(batch[0]))
		return
	}
	s.emit(context.Background(), RenderBatch(batch))
}

func (s *Summarizer) emit(ctx context.Context, n event.Narration) {
	if n.Text == "" {
		return
	}
	s.log.Debug("narration emitted",
		"priority", n.Priority, "method", n.Method, "session_id", n.SessionID,
		"text", n.Text)
	if s.metrics != nil {
		s.metrics.RecordNarration(ctx, string(n.Priority), string(n.Method))
	}
	s.narrations.Emit(n)
}
