// Package elevenlabs provides a TTS provider backed by the ElevenLabs HTTP
// API, requesting raw PCM16 at 16 kHz.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/echo-voice/echo/pkg/provider/tts"
)

const (
	// DefaultBaseURL is the public ElevenLabs API endpoint.
	DefaultBaseURL = "https://api.elevenlabs.io"

	// DefaultVoiceID is the stock "Rachel" voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	// DefaultModel is the low-latency turbo model.
	DefaultModel = "eleven_turbo_v2_5"

	// DefaultTimeout bounds a single synthesis request.
	DefaultTimeout = 10 * time.Second

	// healthInterval is how often an unavailable provider re-probes.
	healthInterval = 60 * time.Second
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL (for self-hosted proxies or tests).
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithVoice sets the voice ID used for synthesis.
func WithVoice(id string) Option {
	return func(p *Provider) {
		if id != "" {
			p.voiceID = id
		}
	}
}

// WithModel sets the model ID used for synthesis.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// Provider implements tts.Provider against the ElevenLabs REST API.
type Provider struct {
	apiKey  string
	baseURL string
	voiceID string
	model   string
	client  *http.Client
	log     *slog.Logger

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

// New constructs an ElevenLabs provider. apiKey must not be empty; a
// deployment without a key simply runs without TTS.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		voiceID: DefaultVoiceID,
		model:   DefaultModel,
		client:  &http.Client{Timeout: DefaultTimeout},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "elevenlabs" }

// Start implements tts.Provider. It runs the initial health probe.
func (p *Provider) Start(ctx context.Context) error {
	p.probe(ctx)
	return nil
}

// Stop implements tts.Provider.
func (p *Provider) Stop() error {
	p.client.CloseIdleConnections()
	return nil
}

// Available implements tts.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Synthesize implements tts.Provider. While unavailable it re-probes at
// most once per minute and otherwise fails fast with ErrUnavailable.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !p.checkAvailable(ctx) {
		return nil, tts.ErrUnavailable
	}

	body, err := json.Marshal(map[string]string{
		"text":     text,
		"model_id": p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_16000", p.baseURL, p.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.setAvailable(false)
		return nil, fmt.Errorf("elevenlabs: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.setAvailable(false)
		return nil, fmt.Errorf("elevenlabs: synthesize: status %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return pcm, nil
}

// checkAvailable returns the availability flag, re-probing lazily while the
// backend is down.
func (p *Provider) checkAvailable(ctx context.Context) bool {
	p.mu.Lock()
	available := p.available
	due := !available && time.Since(p.lastProbe) >= healthInterval
	p.mu.Unlock()

	if available {
		return true
	}
	if due {
		return p.probe(ctx)
	}
	return false
}

// probe hits the user endpoint to verify the key and connectivity.
func (p *Provider) probe(ctx context.Context) bool {
	ok := false
	defer func() {
		p.mu.Lock()
		p.available = ok
		p.lastProbe = time.Now()
		p.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/user", nil)
	if err != nil {
		return false
	}
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("elevenlabs health probe failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		p.log.Warn("elevenlabs health probe rejected", "status", resp.StatusCode)
	}
	return ok
}

// setAvailable records a mid-call availability change.
func (p *Provider) setAvailable(v bool) {
	p.mu.Lock()
	p.available = v
	p.lastProbe = time.Now()
	p.mu.Unlock()
}
