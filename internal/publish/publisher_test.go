package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// roomServer accepts one connection and hands it to the handler.
func roomServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestConnectSendsHelloAndAuth(t *testing.T) {
	t.Parallel()

	type received struct {
		hello  hello
		apiKey string
		secret string
	}
	got := make(chan received, 1)

	srv := roomServer(t, func(conn *websocket.Conn, r *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var h hello
		_ = json.Unmarshal(data, &h)
		got <- received{
			hello:  h,
			apiKey: r.Header.Get("X-API-Key"),
			secret: r.Header.Get("X-API-Secret"),
		}
		// Keep the connection open until the client closes.
		_, _, _ = conn.Read(context.Background())
	})

	p := New(Config{
		URL: wsURL(srv), Room: "dev", Key: "k1", Secret: "s1", SampleRate: 16000,
	}, nil)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	select {
	case r := <-got:
		if r.hello.Type != "hello" || r.hello.Room != "dev" {
			t.Errorf("hello = %+v", r.hello)
		}
		if r.hello.SampleRate != 16000 || r.hello.Channels != 1 || r.hello.Encoding != "pcm_s16le" {
			t.Errorf("hello = %+v", r.hello)
		}
		if r.apiKey != "k1" || r.secret != "s1" {
			t.Errorf("auth headers = %q %q", r.apiKey, r.secret)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the hello")
	}
	if !p.Connected() {
		t.Error("not connected after Connect")
	}
}

func TestPublishSendsBinaryFrames(t *testing.T) {
	t.Parallel()

	frames := make(chan []byte, 1)
	srv := roomServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if _, _, err := conn.Read(ctx); err != nil { // hello
			return
		}
		typ, data, err := conn.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			return
		}
		frames <- data
		_, _, _ = conn.Read(context.Background())
	})

	p := New(Config{URL: wsURL(srv)}, nil)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := p.Publish(context.Background(), pcm); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-frames:
		if string(got) != string(pcm) {
			t.Errorf("frame = %v, want %v", got, pcm)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestPublishWhileDisconnectedIsNoOp(t *testing.T) {
	t.Parallel()

	p := New(Config{URL: "ws://127.0.0.1:1/room"}, nil)
	if p.Connected() {
		t.Fatal("connected before Connect")
	}
	if err := p.Publish(context.Background(), []byte{1, 2}); err != nil {
		t.Errorf("Publish while disconnected: %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	p := New(Config{URL: "ws://127.0.0.1:1/room"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err == nil {
		t.Error("Connect to dead endpoint succeeded")
	}
	if p.Connected() {
		t.Error("connected after failed dial")
	}
}

func TestServerCloseMarksDisconnected(t *testing.T) {
	t.Parallel()

	srv := roomServer(t, func(conn *websocket.Conn, _ *http.Request) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_, _, _ = conn.Read(ctx) // hello, then return closes the conn
	})

	p := New(Config{URL: wsURL(srv)}, nil)
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for p.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("still connected after server close")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := p.Publish(context.Background(), []byte{1}); err != nil {
		t.Errorf("Publish after disconnect: %v", err)
	}
}

func TestUnconfiguredURL(t *testing.T) {
	t.Parallel()

	p := New(Config{}, nil)
	if err := p.Connect(context.Background()); err == nil {
		t.Error("Connect with empty URL succeeded")
	}
}
