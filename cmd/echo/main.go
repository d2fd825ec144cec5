// Command echo is the voice sidecar for a terminal coding agent: it narrates
// the agent's activity out loud and lets the developer answer blocked
// prompts by speaking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echo-voice/echo/internal/app"
	"github.com/echo-voice/echo/internal/config"
	"github.com/echo-voice/echo/internal/observe"
	"github.com/echo-voice/echo/internal/resilience"
)

// defaultConfigFile is consulted when neither -config nor ECHO_CONFIG names
// a file. It is optional; Echo runs on pure defaults plus env.
const defaultConfigFile = "echo.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults to $ECHO_CONFIG, then echo.yaml if present)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	path := resolveConfigPath(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "echo: config file %q not found\n", path)
		} else {
			fmt.Fprintf(os.Stderr, "echo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echo starting",
		"config", path,
		"port", cfg.Port,
		"log_level", cfg.LogLevel,
		"transcripts_dir", cfg.TranscriptsDir,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName: "echo",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	config.RegisterBuiltins(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStartupSummary(cfg, providers)

	application := app.New(cfg, providers, logger)

	slog.Info("sidecar ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// resolveConfigPath picks the config file: the -config flag wins, then
// ECHO_CONFIG, then echo.yaml when it exists. An empty result means
// defaults + env only.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("ECHO_CONFIG"); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProviders instantiates the providers named in cfg via the registry.
// A missing API key or unregistered name disables that slot rather than
// refusing to start: Echo degrades to text-only operation.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.LLM)
		if err != nil {
			slog.Warn("llm provider disabled", "name", name, "err", err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.STT)
		if err != nil {
			slog.Warn("stt provider disabled, voice responses will need typing", "name", name, "err", err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}

	if name := cfg.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.TTS)
		if err != nil {
			slog.Warn("tts provider disabled, narrations will be tones only", "name", name, "err", err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	// Optional failover chain: the primary gets a circuit breaker and a
	// second backend takes over while the circuit is open.
	if name := cfg.TTSFallback.Name; name != "" && ps.TTS != nil {
		fb, err := reg.CreateTTS(cfg.TTSFallback)
		if err != nil {
			slog.Warn("tts fallback disabled", "name", name, "err", err)
		} else {
			chain := resilience.NewTTSFallback(ps.TTS, resilience.BreakerConfig{
				MaxFailures:  cfg.Breaker.MaxFailures,
				ResetTimeout: time.Duration(cfg.Breaker.ResetTimeout),
			}, slog.Default())
			chain.AddFallback(fb)
			ps.TTS = chain
			slog.Info("tts fallback chained", "primary", cfg.TTS.Name, "fallback", name,
				"max_failures", cfg.Breaker.MaxFailures, "reset_timeout", cfg.Breaker.ResetTimeout)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           Echo — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", providerLine(cfg.LLM, ps.LLM != nil))
	printProvider("STT", providerLine(cfg.STT, ps.STT != nil))
	printProvider("TTS", providerLine(cfg.TTS, ps.TTS != nil))
	printProvider("Dispatch", cfg.Dispatch.Method)
	if cfg.Remote.URL != "" {
		printProvider("Remote room", cfg.Remote.Room)
	} else {
		printProvider("Remote room", "(disabled)")
	}
	fmt.Printf("║  Port         : %-22d ║\n", cfg.Port)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLine(entry config.ProviderEntry, created bool) string {
	if entry.Name == "" {
		return "(not configured)"
	}
	if !created {
		return entry.Name + " (disabled)"
	}
	if entry.Model != "" {
		return entry.Name + " / " + entry.Model
	}
	return entry.Name
}

func printProvider(kind, value string) {
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-12s : %-22s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
