package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echo-voice/echo/pkg/provider/llm"
	"github.com/echo-voice/echo/pkg/provider/llm/ollama"
	"github.com/echo-voice/echo/pkg/provider/stt"
	sttopenai "github.com/echo-voice/echo/pkg/provider/stt/openai"
	"github.com/echo-voice/echo/pkg/provider/tts"
	"github.com/echo-voice/echo/pkg/provider/tts/elevenlabs"
	"github.com/echo-voice/echo/pkg/provider/tts/inworld"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Provider, error)
	tts map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Provider, error)),
		tts: make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] for unknown names.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under
// entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under
// entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// RegisterBuiltins installs the factories for the providers shipped with
// Echo: elevenlabs and inworld TTS, openai-compatible STT, and ollama.
func RegisterBuiltins(r *Registry) {
	r.RegisterTTS("elevenlabs", func(e ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		if e.VoiceID != "" {
			opts = append(opts, elevenlabs.WithVoice(e.VoiceID))
		}
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.Timeout > 0 {
			opts = append(opts, elevenlabs.WithTimeout(time.Duration(e.Timeout)))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	r.RegisterTTS("inworld", func(e ProviderEntry) (tts.Provider, error) {
		var opts []inworld.Option
		if e.BaseURL != "" {
			opts = append(opts, inworld.WithBaseURL(e.BaseURL))
		}
		if e.VoiceID != "" {
			opts = append(opts, inworld.WithVoice(e.VoiceID))
		}
		if e.Model != "" {
			opts = append(opts, inworld.WithModel(e.Model))
		}
		if e.Timeout > 0 {
			opts = append(opts, inworld.WithTimeout(time.Duration(e.Timeout)))
		}
		return inworld.New(e.APIKey, opts...)
	})

	r.RegisterSTT("openai", func(e ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, sttopenai.WithModel(e.Model))
		}
		if e.Timeout > 0 {
			opts = append(opts, sttopenai.WithTimeout(time.Duration(e.Timeout)))
		}
		return sttopenai.New(e.APIKey, opts...)
	})

	r.RegisterLLM("ollama", func(e ProviderEntry) (llm.Provider, error) {
		var opts []ollama.Option
		if e.BaseURL != "" {
			opts = append(opts, ollama.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, ollama.WithModel(e.Model))
		}
		if e.Timeout > 0 {
			opts = append(opts, ollama.WithTimeout(time.Duration(e.Timeout)))
		}
		return ollama.New(opts...), nil
	})
}
