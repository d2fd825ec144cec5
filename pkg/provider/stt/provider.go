// Package stt defines the speech-to-text provider interface used by the
// voice engine. Implementations live in sub-packages and are selected via
// the config registry.
package stt

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Transcribe while the provider's backend is
// unreachable.
var ErrUnavailable = errors.New("stt: provider unavailable")

// Provider transcribes recorded speech.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// Start probes the backend once. A failed probe records the provider
	// unavailable; it re-probes lazily.
	Start(ctx context.Context) error

	// Stop releases resources.
	Stop() error

	// Available reports the result of the most recent health probe.
	Available() bool

	// Transcribe converts a WAV recording (PCM16, mono, 16 kHz) into
	// text. Returns [ErrUnavailable] while the backend is down.
	Transcribe(ctx context.Context, wav []byte) (string, error)
}
