package elevenlabs

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/echo-voice/echo/pkg/provider/tts"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") succeeded, want error")
	}
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 2, 3, 4}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/user":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/v1/text-to-speech/voice-1":
			if got := r.Header.Get("xi-api-key"); got != "key-1" {
				t.Errorf("xi-api-key = %q, want %q", got, "key-1")
			}
			if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
				t.Errorf("output_format = %q, want pcm_16000", got)
			}
			w.Write(pcm)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := New("key-1", WithBaseURL(srv.URL), WithVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Available() {
		t.Fatal("provider unavailable after successful probe")
	}

	got, err := p.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("Synthesize = %v, want %v", got, pcm)
	}
}

func TestSynthesizeWhileUnavailable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("bad-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start(context.Background())
	if p.Available() {
		t.Fatal("provider available after rejected probe")
	}

	if _, err := p.Synthesize(context.Background(), "x"); !errors.Is(err, tts.ErrUnavailable) {
		t.Fatalf("Synthesize error = %v, want ErrUnavailable", err)
	}
	// Only the initial probe hit the server; the failed call did not
	// re-probe before the health interval.
	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls = %d, want 1", got)
	}
}

func TestSynthesizeMarksUnavailableOnServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/user" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Start(context.Background())

	if _, err := p.Synthesize(context.Background(), "x"); err == nil {
		t.Fatal("Synthesize succeeded, want error")
	}
	if p.Available() {
		t.Fatal("provider still available after synthesis failure")
	}
}
