// Package openai provides an STT provider backed by the OpenAI-compatible
// transcription API (/v1/audio/transcriptions). It works against the hosted
// API and against local servers that speak the same protocol.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/echo-voice/echo/pkg/provider/stt"
)

const (
	// DefaultModel is the default transcription model.
	DefaultModel = "whisper-1"

	// DefaultTimeout bounds a single transcription request.
	DefaultTimeout = 10 * time.Second

	// healthInterval is how often an unavailable provider re-probes.
	healthInterval = 60 * time.Second
)

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// WithBaseURL points the client at an alternative API endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel overrides the transcription model.
func WithModel(model string) Option {
	return func(c *config) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Provider implements stt.Provider using the OpenAI SDK.
type Provider struct {
	client  oai.Client
	apiKey  string
	baseURL string
	model   string
	httpc   *http.Client
	log     *slog.Logger

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

// New constructs an OpenAI transcription provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel, timeout: DefaultTimeout}
	for _, o := range opts {
		o(cfg)
	}

	httpc := &http.Client{Timeout: cfg.timeout}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpc),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL+"/v1"))
	}

	return &Provider{
		client:  oai.NewClient(reqOpts...),
		apiKey:  apiKey,
		baseURL: cfg.baseURL,
		model:   cfg.model,
		httpc:   httpc,
		log:     slog.Default(),
	}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return "openai" }

// Start implements stt.Provider.
func (p *Provider) Start(ctx context.Context) error {
	p.probe(ctx)
	return nil
}

// Stop implements stt.Provider.
func (p *Provider) Stop() error {
	p.httpc.CloseIdleConnections()
	return nil
}

// Available implements stt.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	p.mu.Lock()
	available := p.available
	due := !available && time.Since(p.lastProbe) >= healthInterval
	p.mu.Unlock()

	if !available {
		if !due || !p.probe(ctx) {
			return "", stt.ErrUnavailable
		}
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	})
	if err != nil {
		p.mu.Lock()
		p.available = false
		p.lastProbe = time.Now()
		p.mu.Unlock()
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// probe hits the models endpoint to verify the key and connectivity.
func (p *Provider) probe(ctx context.Context) bool {
	base := p.baseURL
	if base == "" {
		base = "https://api.openai.com"
	}

	ok := false
	defer func() {
		p.mu.Lock()
		p.available = ok
		p.lastProbe = time.Now()
		p.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpc.Do(req)
	if err != nil {
		p.log.Warn("stt health probe failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		p.log.Warn("stt health probe rejected", "status", resp.StatusCode)
	}
	return ok
}
