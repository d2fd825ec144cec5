package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: defaults, refined by the YAML
// file at path (skipped when path is empty), overlaid by ECHO_* environment
// variables, then validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML over the defaults and validates. Useful in
// tests where configs are constructed from string literals. The environment
// is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeInto strictly decodes YAML over cfg; unknown keys are an error so a
// typoed knob fails loudly instead of being ignored.
func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ApplyEnv overlays ECHO_* environment variables onto cfg. Env wins over
// both defaults and the YAML file.
func ApplyEnv(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not an integer", key, v))
			return
		}
		*dst = n
	}
	setFloat := func(key string, dst *float64) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s %q is not a number", key, v))
			return
		}
		*dst = f
	}
	setDuration := func(key string, dst *Duration) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		d, err := ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = d
	}

	setInt("ECHO_PORT", &cfg.Port)
	if v, ok := os.LookupEnv("ECHO_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = LogLevel(v)
	}
	setString("ECHO_TRANSCRIPTS_DIR", &cfg.TranscriptsDir)

	setString("OLLAMA_BASE_URL", &cfg.LLM.BaseURL)
	setString("ECHO_LLM_MODEL", &cfg.LLM.Model)
	setDuration("ECHO_LLM_TIMEOUT", &cfg.LLM.Timeout)

	setString("ECHO_TTS_PROVIDER", &cfg.TTS.Name)
	setString("ECHO_ELEVENLABS_API_KEY", &cfg.TTS.APIKey)
	setString("ECHO_ELEVENLABS_BASE_URL", &cfg.TTS.BaseURL)
	setString("ECHO_TTS_VOICE_ID", &cfg.TTS.VoiceID)
	setString("ECHO_TTS_MODEL", &cfg.TTS.Model)
	setDuration("ECHO_TTS_TIMEOUT", &cfg.TTS.Timeout)

	setString("ECHO_TTS_FALLBACK_PROVIDER", &cfg.TTSFallback.Name)
	setString("ECHO_TTS_FALLBACK_API_KEY", &cfg.TTSFallback.APIKey)
	setString("ECHO_TTS_FALLBACK_VOICE_ID", &cfg.TTSFallback.VoiceID)

	setInt("ECHO_BREAKER_MAX_FAILURES", &cfg.Breaker.MaxFailures)
	setDuration("ECHO_BREAKER_RESET_TIMEOUT", &cfg.Breaker.ResetTimeout)

	setString("ECHO_STT_BASE_URL", &cfg.STT.BaseURL)
	setString("ECHO_STT_API_KEY", &cfg.STT.APIKey)
	setString("ECHO_STT_MODEL", &cfg.STT.Model)
	setDuration("ECHO_STT_TIMEOUT", &cfg.STT.Timeout)

	setDuration("ECHO_LISTEN_TIMEOUT", &cfg.Listen.Timeout)
	setFloat("ECHO_SILENCE_THRESHOLD", &cfg.Listen.SilenceThreshold)
	setDuration("ECHO_SILENCE_DURATION", &cfg.Listen.SilenceDuration)
	setDuration("ECHO_MAX_RECORD_DURATION", &cfg.Listen.MaxRecordDuration)
	setFloat("ECHO_CONFIDENCE_THRESHOLD", &cfg.Listen.ConfidenceThreshold)

	setString("ECHO_DISPATCH_METHOD", &cfg.Dispatch.Method)

	setDuration("ECHO_ALERT_REPEAT_INTERVAL", &cfg.Alert.RepeatInterval)
	setInt("ECHO_ALERT_MAX_REPEATS", &cfg.Alert.MaxRepeats)

	setInt("ECHO_AUDIO_SAMPLE_RATE", &cfg.Audio.SampleRate)
	setInt("ECHO_AUDIO_BACKLOG_THRESHOLD", &cfg.Audio.BacklogThreshold)

	setString("ECHO_REMOTE_URL", &cfg.Remote.URL)
	setString("ECHO_REMOTE_ROOM", &cfg.Remote.Room)
	setString("ECHO_REMOTE_API_KEY", &cfg.Remote.APIKey)
	setString("ECHO_REMOTE_API_SECRET", &cfg.Remote.APISecret)

	return errors.Join(errs...)
}
