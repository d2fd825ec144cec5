// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/echo-voice/echo/pkg/provider/llm"
)

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned from every successful Generate call.
	Response string

	// GenerateErr, if non-nil, is returned from Generate.
	GenerateErr error

	// Unavailable makes Available report false and Generate return
	// llm.ErrUnavailable.
	Unavailable bool

	// Prompts records the prompt of each Generate invocation.
	Prompts []string
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "mock" }

// Start implements llm.Provider.
func (p *Provider) Start(context.Context) error { return nil }

// Stop implements llm.Provider.
func (p *Provider) Stop() error { return nil }

// Available implements llm.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.Unavailable
}

// Generate implements llm.Provider.
func (p *Provider) Generate(_ context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prompts = append(p.Prompts, prompt)
	if p.Unavailable {
		return "", llm.ErrUnavailable
	}
	if p.GenerateErr != nil {
		return "", p.GenerateErr
	}
	return p.Response, nil
}
