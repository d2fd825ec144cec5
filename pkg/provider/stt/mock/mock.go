// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/echo-voice/echo/pkg/provider/stt"
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Transcript is returned from every successful Transcribe call.
	Transcript string

	// TranscribeErr, if non-nil, is returned from Transcribe.
	TranscribeErr error

	// Unavailable makes Available report false and Transcribe return
	// stt.ErrUnavailable.
	Unavailable bool

	// TranscribeCalls records the WAV payload length of each call.
	TranscribeCalls []int
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "mock" }

// Start implements stt.Provider.
func (p *Provider) Start(context.Context) error { return nil }

// Stop implements stt.Provider.
func (p *Provider) Stop() error { return nil }

// Available implements stt.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unavailable
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, wav []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, len(wav))
	if p.Unavailable {
		return "", stt.ErrUnavailable
	}
	if p.TranscribeErr != nil {
		return "", p.TranscribeErr
	}
	return p.Transcript, nil
}
