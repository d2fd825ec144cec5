// Package ollama provides an LLM provider backed by a local Ollama server's
// native /api/generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/echo-voice/echo/pkg/provider/llm"
)

const (
	// DefaultBaseURL is the standard local Ollama address.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is a small model suitable for one-sentence summaries.
	DefaultModel = "qwen2.5:0.5b"

	// DefaultTimeout bounds a single generation request.
	DefaultTimeout = 5 * time.Second

	// healthInterval is how often an unavailable provider re-probes.
	healthInterval = 60 * time.Second
)

// Generation parameters: summaries are short and should be stable across
// runs, so the token budget is tight and the temperature low.
const (
	numPredict  = 50
	temperature = 0.3
)

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithBaseURL overrides the Ollama server address.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = url
		}
	}
}

// WithModel overrides the generation model.
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

// Provider implements llm.Provider against the native Ollama API.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client
	log     *slog.Logger

	mu        sync.Mutex
	available bool
	lastProbe time.Time
}

// New constructs an Ollama provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		client:  &http.Client{Timeout: DefaultTimeout},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "ollama" }

// Start implements llm.Provider.
func (p *Provider) Start(ctx context.Context) error {
	p.probe(ctx)
	return nil
}

// Stop implements llm.Provider.
func (p *Provider) Stop() error {
	p.client.CloseIdleConnections()
	return nil
}

// Available implements llm.Provider.
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Model returns the configured model name.
func (p *Provider) Model() string { return p.model }

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	available := p.available
	due := !available && time.Since(p.lastProbe) >= healthInterval
	p.mu.Unlock()

	if !available {
		if !due || !p.probe(ctx) {
			return "", llm.ErrUnavailable
		}
	}

	body, err := json.Marshal(map[string]any{
		"model":  p.model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"num_predict": numPredict,
			"temperature": temperature,
		},
	})
	if err != nil {
		return "", fmt.Errorf("ollama: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.markDown()
		return "", fmt.Errorf("ollama: generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.markDown()
		return "", fmt.Errorf("ollama: generate: status %d", resp.StatusCode)
	}

	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// probe pings /api/tags to check server availability.
func (p *Provider) probe(ctx context.Context) bool {
	ok := false
	defer func() {
		p.mu.Lock()
		p.available = ok
		p.lastProbe = time.Now()
		p.mu.Unlock()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.log.Warn("ollama not available, summaries fall back to truncation",
			"base_url", p.baseURL, "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok = resp.StatusCode == http.StatusOK
	if ok {
		p.log.Info("ollama available", "base_url", p.baseURL, "model", p.model)
	} else {
		p.log.Warn("ollama health probe rejected", "status", resp.StatusCode)
	}
	return ok
}

func (p *Provider) markDown() {
	p.mu.Lock()
	p.available = false
	p.lastProbe = time.Now()
	p.mu.Unlock()
}
