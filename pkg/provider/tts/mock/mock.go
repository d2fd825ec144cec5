// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled PCM from Synthesize and to verify the
// text fragments passed in by the speaker engine.
package mock

import (
	"context"
	"sync"

	"github.com/echo-voice/echo/pkg/provider/tts"
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizePCM is returned from every successful Synthesize call.
	SynthesizePCM []byte

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// Unavailable makes Available report false and Synthesize return
	// tts.ErrUnavailable.
	Unavailable bool

	// --- Recorded calls ---

	// SynthesizeCalls records the text of each Synthesize invocation.
	SynthesizeCalls []string

	// Started and Stopped count lifecycle calls.
	Started int
	Stopped int
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "mock" }

// Start implements tts.Provider.
func (p *Provider) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Started++
	return nil
}

// Stop implements tts.Provider.
func (p *Provider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Stopped++
	return nil
}

// Available implements tts.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unavailable
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(_ context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, text)
	if p.Unavailable {
		return nil, tts.ErrUnavailable
	}
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	return p.SynthesizePCM, nil
}

// Calls returns a copy of the recorded synthesize texts.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}
