package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/echo-voice/echo/pkg/provider/tts"
)

// ErrAllBackendsFailed is returned by Synthesize when no backend in the
// chain produced audio.
var ErrAllBackendsFailed = errors.New("resilience: all tts backends failed")

// ttsBackend pairs a provider with its breaker.
type ttsBackend struct {
	provider tts.Provider
	breaker  *Breaker
}

// TTSFallback implements [tts.Provider] across an ordered chain of
// backends: the primary (say elevenlabs) is always tried first, and while
// its circuit is open narrations go to the next voice (say inworld)
// without waiting on a doomed request.
type TTSFallback struct {
	cfg      BreakerConfig
	log      *slog.Logger
	backends []ttsBackend
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a chain with primary as the preferred backend.
// A nil logger falls back to slog.Default.
func NewTTSFallback(primary tts.Provider, cfg BreakerConfig, log *slog.Logger) *TTSFallback {
	if log == nil {
		log = slog.Default()
	}
	f := &TTSFallback{cfg: cfg, log: log}
	f.AddFallback(primary)
	return f
}

// AddFallback appends a backend to the chain, behind its own breaker.
func (f *TTSFallback) AddFallback(provider tts.Provider) {
	f.backends = append(f.backends, ttsBackend{
		provider: provider,
		breaker:  NewBreaker(provider.Name(), f.cfg, f.log),
	})
}

// Name implements tts.Provider. It names the whole chain so logs show
// which voices stand behind it, e.g. "failover(elevenlabs,inworld)".
func (f *TTSFallback) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.provider.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Start starts every backend. An unreachable backend is logged and
// skipped; the chain starts as long as at least one voice came up.
func (f *TTSFallback) Start(ctx context.Context) error {
	var started int
	var firstErr error
	for _, b := range f.backends {
		if err := b.provider.Start(ctx); err != nil {
			f.log.Warn("tts backend failed to start",
				"backend", b.provider.Name(), "err", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		started++
	}
	if started == 0 {
		return firstErr
	}
	return nil
}

// Stop stops every backend, returning the first error encountered.
func (f *TTSFallback) Stop() error {
	var firstErr error
	for _, b := range f.backends {
		if err := b.provider.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Available reports true when at least one backend is available.
func (f *TTSFallback) Available() bool {
	for _, b := range f.backends {
		if b.provider.Available() {
			return true
		}
	}
	return false
}

// Synthesize renders text with the first backend whose circuit admits the
// call. Failures feed the backend's breaker and the chain moves on.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	var errs []error
	for i, b := range f.backends {
		name := b.provider.Name()
		if !b.breaker.Allow() {
			f.log.Debug("skipping tts backend, circuit open", "backend", name)
			continue
		}

		pcm, err := b.provider.Synthesize(ctx, text)
		b.breaker.Record(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if i < len(f.backends)-1 {
				f.log.Warn("tts backend failed, trying next voice",
					"backend", name, "err", err)
			}
			continue
		}

		if i > 0 {
			f.log.Info("narration synthesized by fallback voice", "backend", name)
		}
		return pcm, nil
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: every circuit open", ErrAllBackendsFailed)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllBackendsFailed, errors.Join(errs...))
}
