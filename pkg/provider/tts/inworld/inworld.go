// Package inworld provides a TTS provider backed by the Inworld HTTP API.
// Responses are base64 LINEAR16 audio; any leading WAV header is stripped so
// the output is raw PCM16 like the other providers.
package inworld

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/echo-voice/echo/pkg/provider/tts"
)

const (
	// DefaultBaseURL is the public Inworld API endpoint.
	DefaultBaseURL = "https://api.inworld.ai"

	// DefaultVoiceID is a reasonable stock voice.
	DefaultVoiceID = "Ashley"

	// DefaultModel is the current TTS model family.
	DefaultModel = "inworld-tts-1"

	// DefaultTimeout bounds a single synthesis request.
	DefaultTimeout = 10 * time.Second

	// healthInterval is how often an unavailable provider re-probes.
	healthInterval = 60 * time.Second
)

// Ensure Provider implements the tts.Provider interface.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL.
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

// WithSampleRate sets the requested output sample rate.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
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

// Provider implements tts.Provider against the Inworld REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	voiceID    string
	model      string
	sampleRate int
	client     *http.Client
	log        *slog.Logger

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

// New constructs an Inworld provider. apiKey is the base64 key used for
// basic auth and must not be empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("inworld: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		voiceID:    DefaultVoiceID,
		model:      DefaultModel,
		sampleRate: 16000,
		client:     &http.Client{Timeout: DefaultTimeout},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "inworld" }

// Start implements tts.Provider. Inworld has no dedicated health endpoint,
// so the probe is a minimal one-character synthesis.
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

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	available := p.available
	due := !available && time.Since(p.lastProbe) >= healthInterval
	p.mu.Unlock()

	if !available {
		if !due || !p.probe(ctx) {
			return nil, tts.ErrUnavailable
		}
	}

	pcm, err := p.request(ctx, text)
	if err != nil {
		p.mu.Lock()
		p.available = false
		p.lastProbe = time.Now()
		p.mu.Unlock()
		return nil, err
	}
	return pcm, nil
}

// request performs one synthesis call.
func (p *Provider) request(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"text":    text,
		"voiceId": p.voiceID,
		"modelId": p.model,
		"audioConfig": map[string]any{
			"audioEncoding":   "LINEAR16",
			"sampleRateHertz": p.sampleRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("inworld: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts/v1/voice", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inworld: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inworld: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inworld: synthesize: status %d", resp.StatusCode)
	}

	var out struct {
		Result struct {
			AudioContent string `json:"audioContent"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("inworld: decode response: %w", err)
	}
	if out.Result.AudioContent == "" {
		return nil, fmt.Errorf("inworld: response missing audioContent")
	}

	pcm, err := base64.StdEncoding.DecodeString(out.Result.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("inworld: decode audio: %w", err)
	}
	// Some models return a WAV container; strip the header.
	if len(pcm) > 44 && bytes.HasPrefix(pcm, []byte("RIFF")) {
		pcm = pcm[44:]
	}
	return pcm, nil
}

// probe validates the key with a minimal synthesis request.
func (p *Provider) probe(ctx context.Context) bool {
	_, err := p.request(ctx, ".")
	ok := err == nil
	if !ok {
		p.log.Warn("inworld health probe failed", "err", err)
	}
	p.mu.Lock()
	p.available = ok
	p.lastProbe = time.Now()
	p.mu.Unlock()
	return ok
}
