package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	if err := Validate(Default()); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"10s", 10 * time.Second, false},
		{"1.5s", 1500 * time.Millisecond, false},
		{"2m", 2 * time.Minute, false},
		{"1.5", 1500 * time.Millisecond, false},
		{"30", 30 * time.Second, false},
		{" 5 ", 5 * time.Second, false},
		{"soon", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseDuration(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDuration(%q): %v", tc.in, err)
			continue
		}
		if time.Duration(got) != tc.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "port"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"missing transcripts dir", func(c *Config) { c.TranscriptsDir = "" }, "transcripts_dir"},
		{"zero breaker failures", func(c *Config) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures"},
		{"zero breaker reset", func(c *Config) { c.Breaker.ResetTimeout = 0 }, "breaker.reset_timeout"},
		{"confidence too high", func(c *Config) { c.Listen.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"confidence zero", func(c *Config) { c.Listen.ConfidenceThreshold = 0 }, "confidence_threshold"},
		{"silence threshold", func(c *Config) { c.Listen.SilenceThreshold = 1 }, "silence_threshold"},
		{"negative listen timeout", func(c *Config) { c.Listen.Timeout = Duration(-time.Second) }, "listen.timeout"},
		{"zero max record", func(c *Config) { c.Listen.MaxRecordDuration = 0 }, "max_record_duration"},
		{"bad dispatch method", func(c *Config) { c.Dispatch.Method = "telnet" }, "dispatch.method"},
		{"negative repeat interval", func(c *Config) { c.Alert.RepeatInterval = Duration(-time.Minute) }, "repeat_interval"},
		{"negative max repeats", func(c *Config) { c.Alert.MaxRepeats = -1 }, "max_repeats"},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }, "sample_rate"},
		{"zero backlog", func(c *Config) { c.Audio.BacklogThreshold = 0 }, "backlog_threshold"},
		{"http remote url", func(c *Config) { c.Remote.URL = "http://example.com" }, "remote.url"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Port = 0
	cfg.TranscriptsDir = ""
	cfg.Audio.SampleRate = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"port", "transcripts_dir", "sample_rate"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error %q does not mention %q", err, want)
		}
	}
}

func TestValidDispatchMethods(t *testing.T) {
	t.Parallel()

	for _, method := range []string{"", "auto", "tmux", "applescript", "xdotool"} {
		cfg := Default()
		cfg.Dispatch.Method = method
		if err := Validate(cfg); err != nil {
			t.Errorf("dispatch.method %q rejected: %v", method, err)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tests := []struct {
		in   string
		want string
	}{
		{"~/.claude/projects", filepath.Join(home, ".claude", "projects")},
		{"~", home},
		{"/var/log/echo", "/var/log/echo"},
		{"relative/path", "relative/path"},
	}
	for _, tc := range tests {
		if got := ExpandHome(tc.in); got != tc.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
