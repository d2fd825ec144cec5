// Package app wires all Echo subsystems into a running sidecar.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run starts them and blocks on the HTTP server, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithPlayer,
// WithMicrophone, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/echo-voice/echo/internal/alert"
	"github.com/echo-voice/echo/internal/config"
	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/health"
	"github.com/echo-voice/echo/internal/hook"
	"github.com/echo-voice/echo/internal/observe"
	"github.com/echo-voice/echo/internal/publish"
	"github.com/echo-voice/echo/internal/server"
	"github.com/echo-voice/echo/internal/speaker"
	"github.com/echo-voice/echo/internal/summarize"
	"github.com/echo-voice/echo/internal/voice"
	"github.com/echo-voice/echo/internal/watcher"
	"github.com/echo-voice/echo/pkg/audio"
	"github.com/echo-voice/echo/pkg/provider/llm"
	"github.com/echo-voice/echo/pkg/provider/stt"
	"github.com/echo-voice/echo/pkg/provider/tts"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; every subsystem degrades around a missing
// provider. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	TTS tts.Provider
	STT stt.Provider
}

// RemotePublisher is the remote-room surface the app manages. *publish.Publisher
// implements it.
type RemotePublisher interface {
	speaker.Publisher
	Connect(ctx context.Context) error
	Close()
}

// App owns all subsystem lifetimes and orchestrates the Echo pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	metrics   *observe.Metrics

	raw        *event.Bus[event.RawEvent]
	narrations *event.Bus[event.Narration]
	responses  *event.Bus[event.Response]

	ingress    *hook.Ingress
	transcript *watcher.Watcher
	summarizer *summarize.Summarizer
	alerts     *alert.Manager
	player     speaker.Player
	speaker    *speaker.Engine
	mic        voice.Capturer
	dispatcher voice.Keystroker
	voice      *voice.Engine
	publisher  RemotePublisher
	server     *server.Server

	// closers run during Shutdown, in the order appended.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics set instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithPlayer injects a playback surface instead of detecting an output
// device.
func WithPlayer(p speaker.Player) Option {
	return func(a *App) { a.player = p }
}

// WithMicrophone injects a capture source instead of detecting one.
func WithMicrophone(m voice.Capturer) Option {
	return func(a *App) { a.mic = m }
}

// WithDispatcher injects a keystroke dispatcher instead of detecting one.
func WithDispatcher(d voice.Keystroker) Option {
	return func(a *App) { a.dispatcher = d }
}

// WithPublisher injects a remote publisher instead of creating one from the
// remote config.
func WithPublisher(p RemotePublisher) Option {
	return func(a *App) { a.publisher = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry); any slot may be
// nil. New never probes the network; backends are probed in Run.
func New(cfg *config.Config, providers *Providers, log *slog.Logger, opts ...Option) *App {
	if log == nil {
		log = slog.Default()
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       log,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Buses ─────────────────────────────────────────────────────────
	a.initBuses()

	// ── 2. Producers: hook ingress + transcript watcher ──────────────────
	a.ingress = hook.NewIngress(a.raw, log, a.metrics)
	a.transcript = watcher.New(config.ExpandHome(cfg.TranscriptsDir), a.raw, log, a.metrics)

	// ── 3. Summarizer ────────────────────────────────────────────────────
	a.summarizer = summarize.New(a.raw, a.narrations, providers.LLM, log, a.metrics)

	// ── 4. Alerts ────────────────────────────────────────────────────────
	a.alerts = alert.NewManager(log, a.metrics,
		alert.WithRepeatInterval(time.Duration(cfg.Alert.RepeatInterval)),
		alert.WithMaxRepeats(cfg.Alert.MaxRepeats),
	)

	// ── 5. Playback + remote publishing + speaker ────────────────────────
	a.initPlayer()
	a.initPublisher()
	a.initSpeaker()

	// ── 6. Voice: capture, matching, dispatch ────────────────────────────
	a.initVoice()

	// ── 7. HTTP surface ──────────────────────────────────────────────────
	a.initServer()

	return a
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initBuses() {
	drop := func(bus string) { a.metrics.RecordBusDrop(context.Background(), bus) }
	a.raw = event.NewBus[event.RawEvent]("raw", a.log, event.WithDropHook(drop))
	a.narrations = event.NewBus[event.Narration]("narration", a.log, event.WithDropHook(drop))
	a.responses = event.NewBus[event.Response]("response", a.log, event.WithDropHook(drop))
}

// initPlayer detects a playback binary unless a player was injected. A
// machine without one still narrates remotely, so detection failure only
// logs.
func (a *App) initPlayer() {
	if a.player != nil {
		return
	}
	device, err := audio.DetectOutputDevice(a.cfg.Audio.SampleRate, a.log)
	if err != nil {
		a.log.Warn("no audio output device, local playback disabled", "err", err)
	}
	p := audio.NewPlayer(device, a.cfg.Audio.SampleRate, a.log,
		audio.WithBacklogThreshold(a.cfg.Audio.BacklogThreshold))
	a.player = p
	a.closers = append(a.closers, p.Close)
}

// initPublisher creates the remote room publisher when a URL is configured.
func (a *App) initPublisher() {
	if a.publisher != nil || a.cfg.Remote.URL == "" {
		return
	}
	p := publish.New(publish.Config{
		URL:        a.cfg.Remote.URL,
		Room:       a.cfg.Remote.Room,
		Key:        a.cfg.Remote.APIKey,
		Secret:     a.cfg.Remote.APISecret,
		SampleRate: a.cfg.Audio.SampleRate,
	}, a.log)
	a.publisher = p
	a.closers = append(a.closers, func() error {
		p.Close()
		return nil
	})
}

func (a *App) initSpeaker() {
	opts := []speaker.Option{speaker.WithBacklogThreshold(a.cfg.Audio.BacklogThreshold)}
	if a.publisher != nil {
		opts = append(opts, speaker.WithPublisher(a.publisher))
	}
	a.speaker = speaker.New(a.narrations, a.providers.TTS, a.player, a.alerts,
		a.log, a.metrics, opts...)
}

func (a *App) initVoice() {
	if a.mic == nil {
		source, err := audio.DetectFrameSource(a.log)
		if err != nil {
			a.log.Warn("no capture source, voice responses disabled", "err", err)
		}
		var fs audio.FrameSource
		if source != nil {
			fs = source
		}
		a.mic = audio.NewMicrophone(fs, a.log)
	}
	if a.dispatcher == nil {
		method := voice.DispatchMethod(a.cfg.Dispatch.Method)
		if method == "auto" {
			method = ""
		}
		a.dispatcher = voice.NewDispatcher(method, a.log)
	}
	a.voice = voice.New(a.raw, a.responses, a.mic, a.providers.STT, a.dispatcher,
		a.log, a.metrics,
		voice.WithSpeaker(a.speaker),
		voice.WithConfidenceThreshold(a.cfg.Listen.ConfidenceThreshold),
		voice.WithCaptureOptions(audio.CaptureOptions{
			SampleRate:       a.cfg.Audio.SampleRate,
			ListenTimeout:    time.Duration(a.cfg.Listen.Timeout),
			SilenceThreshold: a.cfg.Listen.SilenceThreshold,
			SilenceDuration:  time.Duration(a.cfg.Listen.SilenceDuration),
			MaxDuration:      time.Duration(a.cfg.Listen.MaxRecordDuration),
		}),
	)
}

func (a *App) initServer() {
	var checkers []health.Checker
	if a.providers.TTS != nil {
		checkers = append(checkers, health.Availability("tts", a.providers.TTS.Available))
	}
	if a.providers.STT != nil {
		checkers = append(checkers, health.Availability("stt", a.providers.STT.Available))
	}
	checkers = append(checkers, health.Availability("audio_device", a.player.Available))

	a.server = server.New(fmt.Sprintf("127.0.0.1:%d", a.cfg.Port), server.Deps{
		Ingress:    a.ingress,
		Voice:      a.voice,
		Raw:        a.raw,
		Narrations: a.narrations,
		Responses:  a.responses,
		Health:     a.healthDoc,
		Ready:      health.New(checkers...),
		Metrics:    a.metrics,
		Log:        a.log,
	})
}

// healthDoc assembles the composite health document served on GET /health.
func (a *App) healthDoc() server.Doc {
	ttsUp := a.providers.TTS != nil && a.providers.TTS.Available()
	sttUp := a.providers.STT != nil && a.providers.STT.Available()
	micUp := a.voice.MicAvailable()

	return server.Doc{
		Subscribers:          a.raw.SubscriberCount(),
		NarrationSubscribers: a.narrations.SubscriberCount(),
		TTSState:             string(a.speaker.State()),
		TTSAvailable:         ttsUp,
		AudioAvailable:       a.player.Available(),
		RemoteConnected:      a.publisher != nil && a.publisher.Connected(),
		AlertActive:          a.alerts.ActiveCount() > 0,
		STTState:             string(listenState(sttUp, micUp)),
		STTAvailable:         sttUp,
		MicAvailable:         micUp,
		DispatchAvailable:    a.voice.DispatchAvailable(),
		STTListening:         a.voice.Listening(),
	}
}

// listenState mirrors the speaker's composite state for the capture side:
// both legs up is active, one is degraded, none is disabled.
func listenState(sttUp, micUp bool) speaker.State {
	switch {
	case sttUp && micUp:
		return speaker.StateActive
	case sttUp || micUp:
		return speaker.StateDegraded
	default:
		return speaker.StateDisabled
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run probes the providers, starts every subsystem, and blocks serving HTTP
// until ctx is cancelled. Subsystems that cannot start (no transcripts
// directory, unreachable remote room) degrade with a warning instead of
// failing the whole sidecar.
func (a *App) Run(ctx context.Context) error {
	a.startProviders(ctx)

	if err := a.transcript.Start(ctx); err != nil {
		a.log.Warn("transcript watcher failed to start", "err", err)
	}
	a.summarizer.Start(ctx)
	a.alerts.Start(ctx, a.raw)
	a.speaker.Start(ctx)
	a.voice.Start(ctx)

	if a.publisher != nil {
		if err := a.publisher.Connect(ctx); err != nil {
			a.log.Warn("remote room unreachable, publishing disabled", "err", err)
		}
	}

	a.log.Info("echo running",
		"port", a.cfg.Port,
		"tts", providerName(a.providers.TTS),
		"stt", providerName(a.providers.STT),
		"llm", providerName(a.providers.LLM),
		"dispatch", string(a.dispatcher.Method()),
	)
	return a.server.Run(ctx)
}

// starter is the lifecycle surface common to all provider kinds.
type starter interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// startProviders probes each configured backend. A failed probe is logged
// and the provider re-probes lazily, so none of these are fatal.
func (a *App) startProviders(ctx context.Context) {
	var ps []starter
	if a.providers.LLM != nil {
		ps = append(ps, a.providers.LLM)
	}
	if a.providers.STT != nil {
		ps = append(ps, a.providers.STT)
	}
	if a.providers.TTS != nil {
		ps = append(ps, a.providers.TTS)
	}
	for _, p := range ps {
		if err := p.Start(ctx); err != nil {
			a.log.Warn("provider probe failed", "provider", p.Name(), "err", err)
		}
		a.closers = append(a.closers, p.Stop)
	}
}

func providerName(p interface{ Name() string }) string {
	if p == nil {
		return "none"
	}
	return p.Name()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline consumers, then runs the accumulated closers.
// It respects the context deadline: if ctx expires before all closers
// finish, the rest are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		a.voice.Stop()
		a.speaker.Stop()
		a.alerts.Stop()
		a.summarizer.Stop()
		a.transcript.Stop()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
