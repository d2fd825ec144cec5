// Package llm defines the language-model provider interface used by the
// summarizer. Implementations live in sub-packages and are selected via the
// config registry.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by Generate while the provider's backend is
// unreachable. The summarizer falls back to truncation.
var ErrUnavailable = errors.New("llm: provider unavailable")

// Provider runs a single non-streaming completion.
type Provider interface {
	// Name returns the provider identifier (e.g. "ollama").
	Name() string

	// Start probes the backend once. A failed probe records the provider
	// unavailable; it re-probes lazily.
	Start(ctx context.Context) error

	// Stop releases resources.
	Stop() error

	// Available reports the result of the most recent health probe.
	Available() bool

	// Generate completes prompt and returns the trimmed response text.
	// Returns [ErrUnavailable] while the backend is down.
	Generate(ctx context.Context, prompt string) (string, error)
}
