// Package config provides the configuration schema, loader, and provider
// registry for the Echo voice sidecar.
//
// Every knob has a default that works on a developer workstation; a YAML
// file refines the defaults, and ECHO_* environment variables override both
// (env wins, so a one-off `ECHO_LOG_LEVEL=debug echo` behaves as expected).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from either a Go duration string
// ("1.5s") or a bare number of seconds (1.5), in both YAML and ECHO_* env
// values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: duration must be a scalar, got %v", value.Kind)
	}
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// ParseDuration accepts "10s", "1.5s", or a bare seconds value like "1.5".
func ParseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if v, err := time.ParseDuration(raw); err == nil {
		return Duration(v), nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(secs * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("config: %q is not a duration or a number of seconds", raw)
}

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// validDispatchMethods are the accepted dispatch.method values. "auto"
// defers to runtime detection.
var validDispatchMethods = []string{"auto", "tmux", "applescript", "xdotool"}

// Config is the root configuration structure for Echo.
type Config struct {
	// Port is the HTTP bind port for hooks, manual responses, and health.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TranscriptsDir is the root directory watched for agent transcript
	// files. Supports a leading "~".
	TranscriptsDir string `yaml:"transcripts_dir"`

	LLM ProviderEntry `yaml:"llm"`
	TTS ProviderEntry `yaml:"tts"`
	STT ProviderEntry `yaml:"stt"`

	// TTSFallback optionally names a second TTS provider used when the
	// primary's circuit opens. An empty name disables the chain.
	TTSFallback ProviderEntry `yaml:"tts_fallback"`

	// Breaker tunes the circuit breaker guarding each TTS backend in the
	// failover chain.
	Breaker BreakerConfig `yaml:"breaker"`

	Listen   ListenConfig   `yaml:"listen"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Alert    AlertConfig    `yaml:"alert"`
	Audio    AudioConfig    `yaml:"audio"`
	Remote   RemoteConfig   `yaml:"remote"`
}

// ProviderEntry is the common configuration block shared by the provider
// kinds. Name selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g. "elevenlabs", "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider.
	Model string `yaml:"model"`

	// VoiceID is the TTS voice identifier. Ignored by STT and LLM entries.
	VoiceID string `yaml:"voice_id"`

	// Timeout bounds one provider request.
	Timeout Duration `yaml:"timeout"`
}

// BreakerConfig tunes the TTS failover circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens a backend's
	// circuit.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open circuit waits before trying the
	// backend again.
	ResetTimeout Duration `yaml:"reset_timeout"`
}

// ListenConfig holds the voice-capture parameters.
type ListenConfig struct {
	// Timeout bounds the wait for speech onset.
	Timeout Duration `yaml:"timeout"`

	// SilenceThreshold is the normalized RMS level below which a frame
	// counts as silence.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// SilenceDuration is the trailing quiet period that ends recording.
	SilenceDuration Duration `yaml:"silence_duration"`

	// MaxRecordDuration is the hard cap on one utterance.
	MaxRecordDuration Duration `yaml:"max_record_duration"`

	// ConfidenceThreshold is the minimum match confidence for dispatch.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// DispatchConfig selects the keystroke-injection mechanism.
type DispatchConfig struct {
	// Method is "auto", "tmux", "applescript", or "xdotool".
	Method string `yaml:"method"`
}

// AlertConfig tunes the blocked-prompt repeat nudges.
type AlertConfig struct {
	// RepeatInterval is the pause between repeats. Zero disables repeats.
	RepeatInterval Duration `yaml:"repeat_interval"`

	// MaxRepeats bounds how many times an unanswered alert re-fires.
	MaxRepeats int `yaml:"max_repeats"`
}

// AudioConfig tunes local playback.
type AudioConfig struct {
	// SampleRate of synthesis and capture PCM.
	SampleRate int `yaml:"sample_rate"`

	// BacklogThreshold is the queue depth at which low-priority narrations
	// are shed.
	BacklogThreshold int `yaml:"backlog_threshold"`
}

// RemoteConfig points at an optional remote listening room. An empty URL
// disables publishing.
type RemoteConfig struct {
	URL       string `yaml:"url"`
	Room      string `yaml:"room"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// Default returns the workstation defaults.
func Default() *Config {
	return &Config{
		Port:           7865,
		LogLevel:       LogInfo,
		TranscriptsDir: "~/.claude/projects",
		LLM: ProviderEntry{
			Name:    "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:0.5b",
			Timeout: Duration(5 * time.Second),
		},
		TTS: ProviderEntry{
			Name:    "elevenlabs",
			BaseURL: "https://api.elevenlabs.io",
			VoiceID: "21m00Tcm4TlvDq8ikWAM",
			Model:   "eleven_turbo_v2_5",
			Timeout: Duration(10 * time.Second),
		},
		STT: ProviderEntry{
			Name:    "openai",
			Model:   "whisper-1",
			Timeout: Duration(10 * time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures:  5,
			ResetTimeout: Duration(30 * time.Second),
		},
		Listen: ListenConfig{
			Timeout:             Duration(10 * time.Second),
			SilenceThreshold:    0.01,
			SilenceDuration:     Duration(1500 * time.Millisecond),
			MaxRecordDuration:   Duration(15 * time.Second),
			ConfidenceThreshold: 0.6,
		},
		Dispatch: DispatchConfig{Method: "auto"},
		Alert: AlertConfig{
			RepeatInterval: Duration(30 * time.Second),
			MaxRepeats:     5,
		},
		Audio: AudioConfig{
			SampleRate:       16000,
			BacklogThreshold: 3,
		},
		Remote: RemoteConfig{Room: "echo"},
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.TranscriptsDir == "" {
		errs = append(errs, errors.New("transcripts_dir is required"))
	}

	if cfg.Breaker.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("breaker.max_failures %d must be at least 1", cfg.Breaker.MaxFailures))
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("breaker.reset_timeout %v must be positive", cfg.Breaker.ResetTimeout))
	}

	if cfg.Listen.ConfidenceThreshold <= 0 || cfg.Listen.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("listen.confidence_threshold %.2f is out of range (0, 1]", cfg.Listen.ConfidenceThreshold))
	}
	if cfg.Listen.SilenceThreshold <= 0 || cfg.Listen.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("listen.silence_threshold %.3f is out of range (0, 1)", cfg.Listen.SilenceThreshold))
	}
	if cfg.Listen.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("listen.timeout %v must be positive", cfg.Listen.Timeout))
	}
	if cfg.Listen.MaxRecordDuration <= 0 {
		errs = append(errs, fmt.Errorf("listen.max_record_duration %v must be positive", cfg.Listen.MaxRecordDuration))
	}

	method := cfg.Dispatch.Method
	if method != "" && !slices.Contains(validDispatchMethods, method) {
		errs = append(errs, fmt.Errorf("dispatch.method %q is invalid; valid values: %s",
			method, strings.Join(validDispatchMethods, ", ")))
	}

	if cfg.Alert.RepeatInterval < 0 {
		errs = append(errs, fmt.Errorf("alert.repeat_interval %v must not be negative", cfg.Alert.RepeatInterval))
	}
	if cfg.Alert.MaxRepeats < 0 {
		errs = append(errs, fmt.Errorf("alert.max_repeats %d must not be negative", cfg.Alert.MaxRepeats))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.BacklogThreshold < 1 {
		errs = append(errs, fmt.Errorf("audio.backlog_threshold %d must be at least 1", cfg.Audio.BacklogThreshold))
	}

	if cfg.Remote.URL != "" &&
		!strings.HasPrefix(cfg.Remote.URL, "ws://") && !strings.HasPrefix(cfg.Remote.URL, "wss://") {
		errs = append(errs, fmt.Errorf("remote.url %q must use the ws:// or wss:// scheme", cfg.Remote.URL))
	}

	return errors.Join(errs...)
}

// ExpandHome resolves a leading "~" against the current user's home
// directory. Paths without one pass through unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
