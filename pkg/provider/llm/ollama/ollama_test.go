package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/echo-voice/echo/pkg/provider/llm"
)

func TestGenerate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			var req struct {
				Model   string         `json:"model"`
				Prompt  string         `json:"prompt"`
				Stream  bool           `json:"stream"`
				Options map[string]any `json:"options"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.Stream {
				t.Error("stream = true, want false")
			}
			if req.Model != "test-model" {
				t.Errorf("model = %q, want test-model", req.Model)
			}
			if got := req.Options["num_predict"]; got != float64(50) {
				t.Errorf("num_predict = %v, want 50", got)
			}
			json.NewEncoder(w).Encode(map[string]string{"response": " Edited the parser. \n"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL), WithModel("test-model"))
	p.Start(context.Background())
	if !p.Available() {
		t.Fatal("provider unavailable after successful probe")
	}

	got, err := p.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "Edited the parser." {
		t.Fatalf("Generate = %q, want %q", got, "Edited the parser.")
	}
}

func TestGenerateWhileUnavailable(t *testing.T) {
	t.Parallel()

	// No server at all.
	p := New(WithBaseURL("http://127.0.0.1:1"))
	p.Start(context.Background())
	if p.Available() {
		t.Fatal("provider available with no server")
	}
	if _, err := p.Generate(context.Background(), "x"); !errors.Is(err, llm.ErrUnavailable) {
		t.Fatalf("Generate error = %v, want ErrUnavailable", err)
	}
}

func TestGenerateServerErrorMarksUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))
	p.Start(context.Background())

	if _, err := p.Generate(context.Background(), "x"); err == nil {
		t.Fatal("Generate succeeded, want error")
	}
	if p.Available() {
		t.Fatal("provider still available after request failure")
	}
}
