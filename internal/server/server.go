// Package server is Echo's HTTP surface: hook ingestion, manual responses,
// the health document, and SSE mirrors of the three buses for debugging UIs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/health"
	"github.com/echo-voice/echo/internal/observe"
)

// keepAliveInterval is the SSE comment cadence that keeps idle streams from
// being reaped by proxies.
const keepAliveInterval = 15 * time.Second

// maxEventBody bounds hook payload reads.
const maxEventBody = 1 << 20

// Ingestor accepts a raw hook payload. *hook.Ingress implements it.
type Ingestor interface {
	Ingest(ctx context.Context, raw []byte) error
}

// ManualResponder resolves a blocked prompt with typed text. *voice.Engine
// implements it.
type ManualResponder interface {
	HandleManualResponse(ctx context.Context, sessionID, text string) string
}

// Doc is the GET /health response body.
type Doc struct {
	Subscribers          int    `json:"subscribers"`
	NarrationSubscribers int    `json:"narration_subscribers"`
	TTSState             string `json:"tts_state"`
	TTSAvailable         bool   `json:"tts_available"`
	AudioAvailable       bool   `json:"audio_available"`
	RemoteConnected      bool   `json:"remote_connected"`
	AlertActive          bool   `json:"alert_active"`
	STTState             string `json:"stt_state"`
	STTAvailable         bool   `json:"stt_available"`
	MicAvailable         bool   `json:"mic_available"`
	DispatchAvailable    bool   `json:"dispatch_available"`
	STTListening         bool   `json:"stt_listening"`
}

// Deps are the collaborators the HTTP surface fronts.
type Deps struct {
	Ingress    Ingestor
	Voice      ManualResponder
	Raw        *event.Bus[event.RawEvent]
	Narrations *event.Bus[event.Narration]
	Responses  *event.Bus[event.Response]

	// Health builds the composite health document per request.
	Health func() Doc

	// Ready serves /healthz and /readyz; nil skips those routes.
	Ready *health.Handler

	Metrics *observe.Metrics
	Log     *slog.Logger
}

// Server owns the HTTP listener.
type Server struct {
	addr      string
	deps      Deps
	log       *slog.Logger
	keepAlive time.Duration
}

// New creates a Server bound to addr.
func New(addr string, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, deps: deps, log: log, keepAlive: keepAliveInterval}
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /event", s.handleEvent)
	mux.HandleFunc("POST /respond", s.handleRespond)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Raw != nil {
		mux.HandleFunc("GET /events", streamBus(s, s.deps.Raw))
	}
	if s.deps.Narrations != nil {
		mux.HandleFunc("GET /narrations", streamBus(s, s.deps.Narrations))
	}
	if s.deps.Responses != nil {
		mux.HandleFunc("GET /responses", streamBus(s, s.deps.Responses))
	}
	if s.deps.Ready != nil {
		s.deps.Ready.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	handler := observe.Middleware(s.deps.Metrics)(s.Handler())
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen on %s: %w", s.addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleEvent ingests a hook payload. The hook script must never stall the
// agent, so this returns 200 regardless of payload validity; malformed
// payloads are logged and dropped by the ingress.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err == nil && s.deps.Ingress != nil {
		_ = s.deps.Ingress.Ingest(r.Context(), body)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type respondRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type respondResponse struct {
	Status    string `json:"status"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// handleRespond resolves a blocked prompt with typed text.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, respondResponse{
			Status: "error", Text: req.Text, SessionID: req.SessionID,
		})
		return
	}
	if req.SessionID == "" {
		req.SessionID = "unknown"
	}

	status := "error"
	if s.deps.Voice != nil {
		status = s.deps.Voice.HandleManualResponse(r.Context(), req.SessionID, req.Text)
	}
	writeJSON(w, http.StatusOK, respondResponse{
		Status: status, Text: req.Text, SessionID: req.SessionID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	var doc Doc
	if s.deps.Health != nil {
		doc = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, doc)
}

// streamBus mirrors a bus over SSE. Each payload is one data frame; comment
// frames keep the connection alive between events.
func streamBus[T any](s *Server, bus *event.Bus[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		sub := bus.Subscribe()
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev := <-sub.Events():
				data, err := json.Marshal(ev)
				if err != nil {
					s.log.Warn("sse encode failed", "bus", bus.Name(), "err", err)
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
