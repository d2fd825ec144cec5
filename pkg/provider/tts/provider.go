// Package tts defines the text-to-speech provider interface used by the
// speaker engine. Implementations live in sub-packages (elevenlabs,
// inworld) and are selected via the config registry.
package tts

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Synthesize while the provider's backend is
// unreachable. Callers degrade to text-only narration.
var ErrUnavailable = errors.New("tts: provider unavailable")

// Provider converts text into PCM16 mono audio at the provider's configured
// sample rate (Echo uses 16 kHz end to end).
type Provider interface {
	// Name returns the provider identifier (e.g. "elevenlabs").
	Name() string

	// Start probes the backend once. A failed probe is not an error; the
	// provider records itself unavailable and re-probes lazily.
	Start(ctx context.Context) error

	// Stop releases resources. Synthesize must not be called after Stop.
	Stop() error

	// Available reports the result of the most recent health probe.
	Available() bool

	// Synthesize renders text to PCM16 bytes. Returns [ErrUnavailable]
	// while the backend is down.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
