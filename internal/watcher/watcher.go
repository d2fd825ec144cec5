// Package watcher tails the agent's JSONL transcript files and emits
// agent_message events.
//
// The agent stores one transcript file per session under the projects
// directory. Hooks deliver structured tool events; the transcript is the
// only place the assistant's natural-language messages appear, so the
// watcher complements the hook ingress. Events are deduplicated against
// hook-derived ones on a coarse (session, 100 ms) timestamp bucket.
package watcher

import (
	"bufio"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/observe"
)

const (
	// dedupTTL is how long a deduplication key stays valid.
	dedupTTL = time.Second

	// dedupCleanupInterval runs the dedup cache sweep every N events.
	dedupCleanupInterval = 50
)

type dedupKey struct {
	sessionID string
	bucket    int64 // 100 ms granularity
}

// Watcher recursively monitors a directory tree for .jsonl transcript
// changes and emits agent_message events on the raw bus.
type Watcher struct {
	root    string
	bus     *event.Bus[event.RawEvent]
	log     *slog.Logger
	metrics *observe.Metrics

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	offsets   map[string]int64
	seen      map[dedupKey]time.Time
	processed int

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// New creates a Watcher over root. Nothing is opened until Start.
func New(root string, bus *event.Bus[event.RawEvent], log *slog.Logger, metrics *observe.Metrics) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		root:    root,
		bus:     bus,
		log:     log,
		metrics: metrics,
		offsets: make(map[string]int64),
		seen:    make(map[dedupKey]time.Time),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins watching. A missing or non-directory root logs a warning and
// leaves the watcher inert rather than failing the whole pipeline.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil || !info.IsDir() {
		w.log.Warn("transcripts directory unavailable, watcher will not start",
			"dir", w.root, "err", err)
		close(w.stopped)
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		close(w.stopped)
		return err
	}
	w.fsw = fsw

	// Watch the whole tree and skip history: existing transcript content
	// predates this process and must not be narrated.
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if werr := fsw.Add(path); werr != nil {
				w.log.Warn("cannot watch directory", "dir", path, "err", werr)
			}
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			if info, err := d.Info(); err == nil {
				w.offsets[path] = info.Size()
			}
		}
		return nil
	})
	if err != nil {
		fsw.Close()
		close(w.stopped)
		return err
	}

	go w.run(ctx)
	w.log.Info("transcript watcher started", "dir", w.root)
	return nil
}

// Stop ends the watch loop and releases the underlying notifier.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.stopped)
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("transcript watch error", "err", err)
		}
	}
}

func (w *Watcher) handleFSEvent(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New project directory; fsnotify watches are not recursive.
			if err := w.fsw.Add(ev.Name); err != nil {
				w.log.Warn("cannot watch new directory", "dir", ev.Name, "err", err)
			}
			return
		}
		if strings.HasSuffix(ev.Name, ".jsonl") {
			w.log.Info("new transcript file discovered", "file", ev.Name)
			w.consume(ev.Name)
		}
	case ev.Has(fsnotify.Write):
		if strings.HasSuffix(ev.Name, ".jsonl") {
			w.consume(ev.Name)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.offsets, ev.Name)
		w.mu.Unlock()
	}
}

// consume reads any new complete lines from path and emits events for
// assistant messages.
func (w *Watcher) consume(path string) {
	info, err := os.Stat(path)
	if err != nil {
		w.log.Warn("cannot stat transcript file", "file", path, "err", err)
		return
	}

	w.mu.Lock()
	offset := w.offsets[path]
	w.mu.Unlock()

	// A smaller file than last time means it was truncated or recreated.
	if info.Size() < offset {
		w.log.Debug("transcript file truncated, resetting offset",
			"file", path, "size", info.Size(), "offset", offset)
		offset = 0
	}
	if info.Size() == offset {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		w.log.Warn("cannot read transcript file", "file", path, "err", err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		w.log.Warn("cannot seek transcript file", "file", path, "err", err)
		return
	}

	// Advance the offset past complete lines only. A trailing fragment with
	// no newline is a write in progress and is left for the next event.
	reader := bufio.NewReader(f)
	read := offset
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		read += int64(len(line))
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			w.handleLine(trimmed, path)
		}
	}

	w.mu.Lock()
	w.offsets[path] = read
	w.mu.Unlock()
}

// transcriptEntry is the subset of a transcript line we care about.
type transcriptEntry struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Timestamp string `json:"timestamp"`
	Message   struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

func (w *Watcher) handleLine(line, path string) {
	var entry transcriptEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		w.log.Warn("malformed transcript line",
			"file", path, "err", err, "prefix", truncate(line, 80))
		return
	}

	text := assistantText(entry)
	if text == "" {
		return
	}

	sessionID := entry.SessionID
	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
	}

	ts := time.Now()
	if entry.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
			ts = parsed
		}
	}

	if w.isDuplicate(sessionID, ts) {
		w.log.Debug("duplicate transcript event suppressed", "session_id", sessionID)
		return
	}

	ev := event.RawEvent{
		ID:        uuid.NewString(),
		Kind:      event.KindAgentMessage,
		SessionID: sessionID,
		Timestamp: ts,
		Source:    event.SourceTranscript,
		Text:      text,
	}

	w.log.Debug("transcript message emitted",
		"session_id", sessionID, "text", truncate(text, 120))
	if w.metrics != nil {
		w.metrics.RecordEvent(context.Background(), string(ev.Kind), string(ev.Source))
	}
	w.bus.Emit(ev)
}

// assistantText joins the text blocks of an assistant entry. Tool-use blocks
// are ignored; they arrive via hooks.
func assistantText(entry transcriptEntry) string {
	if entry.Type != "assistant" || entry.Message.Role != "assistant" {
		return ""
	}
	var parts []string
	for _, block := range entry.Message.Content {
		if block.Type != "text" {
			continue
		}
		if t := strings.TrimSpace(block.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// isDuplicate records (sessionID, 100 ms bucket) and reports whether it was
// already seen within the TTL. The cache is swept every
// dedupCleanupInterval events.
func (w *Watcher) isDuplicate(sessionID string, ts time.Time) bool {
	key := dedupKey{sessionID: sessionID, bucket: ts.UnixMilli() / 100}
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	if at, ok := w.seen[key]; ok && now.Sub(at) <= dedupTTL {
		return true
	}
	w.seen[key] = now
	w.processed++
	if w.processed%dedupCleanupInterval == 0 {
		for k, at := range w.seen {
			if now.Sub(at) > dedupTTL {
				delete(w.seen, k)
			}
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
