// Package alert tracks unanswered blocked prompts per session and re-nudges
// the user at a fixed interval until they respond or the repeat budget runs
// out.
//
// Activation flows through the speaker engine after the critical narration
// has been played; clearing happens here, on the first non-blocked event a
// session produces.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/observe"
)

const (
	// DefaultRepeatInterval is the pause between alert repeats.
	DefaultRepeatInterval = 30 * time.Second

	// DefaultMaxRepeats bounds how many times an unanswered alert re-fires.
	DefaultMaxRepeats = 5
)

// RepeatCallback is invoked on every repeat firing. The speaker engine
// registers one that replays the alert tone and narration.
type RepeatCallback func(reason event.BlockReason, text string)

// activeAlert is one session's outstanding blocked prompt.
type activeAlert struct {
	sessionID string
	reason    event.BlockReason
	text      string
	options   []string
	stop      chan struct{}
	stopOnce  sync.Once
}

func (a *activeAlert) cancel() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Manager owns the per-session alert map and the repeat timers. A repeat
// interval of zero disables repeating entirely; activation still tracks the
// alert for /health and for clearing.
type Manager struct {
	interval   time.Duration
	maxRepeats int
	log        *slog.Logger
	metrics    *observe.Metrics

	mu     sync.Mutex
	alerts map[string]*activeAlert
	cb     RepeatCallback

	repeats  sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithRepeatInterval overrides the repeat interval. Zero disables repeats.
func WithRepeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithMaxRepeats overrides the repeat budget.
func WithMaxRepeats(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRepeats = n
		}
	}
}

// NewManager creates a Manager.
func NewManager(log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		interval:   DefaultRepeatInterval,
		maxRepeats: DefaultMaxRepeats,
		log:        log,
		metrics:    metrics,
		alerts:     make(map[string]*activeAlert),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start subscribes to the raw bus: any non-blocked event for a session with
// an active alert clears it (the user, or the agent itself, moved on).
func (m *Manager) Start(ctx context.Context, raw *event.Bus[event.RawEvent]) {
	sub := raw.Subscribe()
	go func() {
		defer close(m.stopped)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case ev := <-sub.Events():
				if !ev.Blocked() && m.HasActiveAlert(ev.SessionID) {
					m.log.Debug("clearing alert on session activity",
						"session_id", ev.SessionID, "kind", ev.Kind)
					m.Clear(ev.SessionID)
				}
			}
		}
	}()
}

// Stop cancels the loop and every outstanding repeat timer, then waits for
// in-flight repeat callbacks to return. After Stop no repeat can touch the
// player.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	<-m.stopped

	m.mu.Lock()
	for id, a := range m.alerts {
		a.cancel()
		delete(m.alerts, id)
	}
	m.mu.Unlock()

	m.repeats.Wait()
}

// SetRepeatCallback registers the callback fired on every repeat.
func (m *Manager) SetRepeatCallback(cb RepeatCallback) {
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
}

// Activate records an alert for the session, replacing (and cancelling) any
// existing one, and starts its repeat timer.
func (m *Manager) Activate(sessionID string, reason event.BlockReason, text string, options []string) {
	a := &activeAlert{
		sessionID: sessionID,
		reason:    reason,
		text:      text,
		options:   options,
		stop:      make(chan struct{}),
	}

	m.mu.Lock()
	if prev, ok := m.alerts[sessionID]; ok {
		prev.cancel()
	} else if m.metrics != nil {
		m.metrics.ActiveAlerts.Add(context.Background(), 1)
	}
	m.alerts[sessionID] = a
	m.mu.Unlock()

	m.log.Info("alert activated",
		"session_id", sessionID, "reason", reason, "max_repeats", m.maxRepeats)

	if m.interval > 0 {
		m.repeats.Add(1)
		go func() {
			defer m.repeats.Done()
			m.repeatLoop(a)
		}()
	}
}

// Clear removes the session's alert and cancels its repeat timer. A missing
// alert is a no-op.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	a, ok := m.alerts[sessionID]
	if ok {
		a.cancel()
		delete(m.alerts, sessionID)
		if m.metrics != nil {
			m.metrics.ActiveAlerts.Add(context.Background(), -1)
		}
	}
	m.mu.Unlock()

	if ok {
		m.log.Info("alert cleared", "session_id", sessionID)
	}
}

// HasActiveAlert reports whether the session has an outstanding alert.
func (m *Manager) HasActiveAlert(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.alerts[sessionID]
	return ok
}

// ActiveCount returns the number of outstanding alerts.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// Active returns the session's alert payload for re-narration, if any.
func (m *Manager) Active(sessionID string) (reason event.BlockReason, text string, options []string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[sessionID]
	if !ok {
		return "", "", nil, false
	}
	return a.reason, a.text, a.options, true
}

// repeatLoop sleeps, fires, counts, and stops at the repeat budget or on
// cancellation. Callback panics are logged and do not stop the loop.
func (m *Manager) repeatLoop(a *activeAlert) {
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for count := 0; count < m.maxRepeats; count++ {
		select {
		case <-a.stop:
			return
		case <-m.done:
			return
		case <-timer.C:
		}

		m.mu.Lock()
		cb := m.cb
		m.mu.Unlock()
		if cb != nil {
			m.fire(cb, a, count+1)
		}

		timer.Reset(m.interval)
	}

	m.log.Info("alert repeat budget exhausted",
		"session_id", a.sessionID, "repeats", m.maxRepeats)
}

func (m *Manager) fire(cb RepeatCallback, a *activeAlert, n int) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("alert repeat callback panicked",
				"session_id", a.sessionID, "panic", r)
		}
	}()
	m.log.Debug("alert repeat firing",
		"session_id", a.sessionID, "repeat", n, "reason", a.reason)
	cb(a.reason, a.text)
}
