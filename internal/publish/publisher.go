// Package publish streams narration audio to a remote listening room over a
// websocket, so a developer away from the workstation can still hear the
// agent. The protocol is a JSON hello describing the stream followed by raw
// binary PCM16 frames.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/echo-voice/echo/internal/speaker"
)

var _ speaker.Publisher = (*Publisher)(nil)

// Config holds the remote room settings. An empty URL disables publishing.
type Config struct {
	URL        string
	Room       string
	Key        string
	Secret     string
	SampleRate int
}

// hello is the first frame on a new connection; everything after is binary
// PCM.
type hello struct {
	Type       string `json:"type"`
	Room       string `json:"room,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// Publisher is a best-effort audio leg: a lost connection drops frames until
// Connect is called again, it never blocks narration.
type Publisher struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a Publisher. Connect must be called before frames flow.
func New(cfg Config, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Publisher{cfg: cfg, log: log}
}

// Connect dials the room and sends the hello frame.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.cfg.URL == "" {
		return fmt.Errorf("publish: no room URL configured")
	}

	h := http.Header{}
	if p.cfg.Key != "" {
		h.Set("X-API-Key", p.cfg.Key)
	}
	if p.cfg.Secret != "" {
		h.Set("X-API-Secret", p.cfg.Secret)
	}

	conn, _, err := websocket.Dial(ctx, p.cfg.URL, &websocket.DialOptions{HTTPHeader: h})
	if err != nil {
		return fmt.Errorf("publish: dial %s: %w", p.cfg.URL, err)
	}

	msg, err := json.Marshal(hello{
		Type:       "hello",
		Room:       p.cfg.Room,
		SampleRate: p.cfg.SampleRate,
		Channels:   1,
		Encoding:   "pcm_s16le",
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return fmt.Errorf("publish: encode hello: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return fmt.Errorf("publish: send hello: %w", err)
	}

	p.mu.Lock()
	if p.conn != nil {
		p.conn.Close(websocket.StatusNormalClosure, "reconnecting")
	}
	p.conn = conn
	p.connected = true
	p.mu.Unlock()

	p.log.Info("remote room connected", "url", p.cfg.URL, "room", p.cfg.Room)
	go p.readLoop(conn)
	return nil
}

// readLoop drains (and ignores) server frames until the connection drops.
func (p *Publisher) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(context.Background()); err != nil {
			p.drop(conn, err)
			return
		}
	}
}

func (p *Publisher) drop(conn *websocket.Conn, err error) {
	p.mu.Lock()
	was := p.connected && p.conn == conn
	if was {
		p.connected = false
		p.conn = nil
	}
	p.mu.Unlock()
	if was {
		p.log.Warn("remote room disconnected", "err", err)
	}
}

// Connected reports whether the room link is up.
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Publish sends one binary PCM16 frame. While disconnected it is a silent
// no-op; a write failure drops the connection.
func (p *Publisher) Publish(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	conn := p.conn
	connected := p.connected
	p.mu.Unlock()
	if !connected || conn == nil {
		return nil
	}

	if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
		p.drop(conn, err)
		conn.Close(websocket.StatusInternalError, "write failed")
		return fmt.Errorf("publish: write frame: %w", err)
	}
	return nil
}

// Close shuts the connection down cleanly.
func (p *Publisher) Close() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.connected = false
	p.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}
