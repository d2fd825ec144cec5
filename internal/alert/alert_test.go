package alert

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/echo-voice/echo/internal/event"
)

// repeatRecorder collects callback firings.
type repeatRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *repeatRecorder) callback(reason event.BlockReason, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, text)
}

func (r *repeatRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func waitForCount(t *testing.T, r *repeatRecorder, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for r.count() < want {
		if time.Now().After(deadline) {
			t.Fatalf("callback fired %d times, want %d", r.count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAlertRepeatsUpToMax(t *testing.T) {
	t.Parallel()

	rec := &repeatRecorder{}
	m := NewManager(slog.Default(), nil,
		WithRepeatInterval(20*time.Millisecond), WithMaxRepeats(3))
	m.SetRepeatCallback(rec.callback)

	m.Activate("s1", event.BlockPermissionPrompt, "Allow edit?", []string{"Allow", "Deny"})
	waitForCount(t, rec, 3)

	// The budget stops further repeats.
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 3 {
		t.Fatalf("callback fired %d times after budget, want 3", rec.count())
	}

	// The alert stays active until cleared even after the budget.
	if !m.HasActiveAlert("s1") {
		t.Error("alert cleared by budget exhaustion, want still active")
	}
}

func TestAlertClearCancelsRepeats(t *testing.T) {
	t.Parallel()

	rec := &repeatRecorder{}
	m := NewManager(slog.Default(), nil,
		WithRepeatInterval(50*time.Millisecond), WithMaxRepeats(5))
	m.SetRepeatCallback(rec.callback)

	m.Activate("s1", event.BlockQuestion, "Which one?", nil)
	m.Clear("s1")

	time.Sleep(150 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("callback fired %d times after clear, want 0", rec.count())
	}
	if m.HasActiveAlert("s1") {
		t.Error("alert still active after clear")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("active_count = %d, want 0", m.ActiveCount())
	}
}

func TestAlertReplaceCancelsPrevious(t *testing.T) {
	t.Parallel()

	rec := &repeatRecorder{}
	m := NewManager(slog.Default(), nil,
		WithRepeatInterval(30*time.Millisecond), WithMaxRepeats(10))
	m.SetRepeatCallback(rec.callback)

	m.Activate("s1", event.BlockPermissionPrompt, "first", nil)
	m.Activate("s1", event.BlockQuestion, "second", nil)

	if m.ActiveCount() != 1 {
		t.Fatalf("active_count = %d, want 1", m.ActiveCount())
	}

	waitForCount(t, rec, 2)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, text := range rec.fired {
		if text != "second" {
			t.Fatalf("replaced alert still firing: %q", text)
		}
	}
}

func TestAlertZeroIntervalDisablesRepeats(t *testing.T) {
	t.Parallel()

	rec := &repeatRecorder{}
	m := NewManager(slog.Default(), nil, WithRepeatInterval(0))
	m.SetRepeatCallback(rec.callback)

	m.Activate("s1", event.BlockIdlePrompt, "idle", nil)
	time.Sleep(80 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatalf("callback fired %d times with interval 0", rec.count())
	}
	// Tracking still works for /health and clearing.
	if !m.HasActiveAlert("s1") {
		t.Error("alert not tracked with interval 0")
	}
}

func TestAlertClearedByNonBlockedEvent(t *testing.T) {
	t.Parallel()

	raw := event.NewBus[event.RawEvent]("raw", slog.Default())
	m := NewManager(slog.Default(), nil, WithRepeatInterval(time.Hour))
	m.Start(context.Background(), raw)
	defer m.Stop()

	m.Activate("s1", event.BlockPermissionPrompt, "Allow?", nil)
	m.Activate("s2", event.BlockQuestion, "Which?", nil)

	raw.Emit(event.RawEvent{Kind: event.KindToolExecuted, SessionID: "s1", ToolName: "Edit"})

	deadline := time.Now().Add(2 * time.Second)
	for m.HasActiveAlert("s1") {
		if time.Now().After(deadline) {
			t.Fatal("alert for s1 never cleared")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !m.HasActiveAlert("s2") {
		t.Error("alert for other session cleared")
	}

	// Blocked events do not clear; activation is the speaker's job.
	raw.Emit(event.RawEvent{Kind: event.KindAgentBlocked, SessionID: "s2", BlockReason: event.BlockQuestion})
	time.Sleep(50 * time.Millisecond)
	if !m.HasActiveAlert("s2") {
		t.Error("blocked event cleared the alert")
	}
}

func TestAlertCallbackPanicDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	rec := &repeatRecorder{}
	m := NewManager(slog.Default(), nil,
		WithRepeatInterval(20*time.Millisecond), WithMaxRepeats(3))

	calls := 0
	var mu sync.Mutex
	m.SetRepeatCallback(func(reason event.BlockReason, text string) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			panic("boom")
		}
		rec.callback(reason, text)
	})

	m.Activate("s1", event.BlockQuestion, "q", nil)
	waitForCount(t, rec, 2)
}

func TestStopWaitsForInFlightRepeat(t *testing.T) {
	t.Parallel()

	raw := event.NewBus[event.RawEvent]("raw", slog.Default())
	m := NewManager(slog.Default(), nil,
		WithRepeatInterval(10*time.Millisecond), WithMaxRepeats(1))
	m.Start(context.Background(), raw)

	// The callback simulates blocking playback: it parks until released.
	entered := make(chan struct{})
	release := make(chan struct{})
	m.SetRepeatCallback(func(event.BlockReason, string) {
		close(entered)
		<-release
	})

	m.Activate("s1", event.BlockPermissionPrompt, "Allow edit?", nil)
	<-entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	// Stop must not return while the callback is still speaking; a repeat
	// that outlives Stop would race the player's shutdown.
	select {
	case <-stopped:
		t.Fatal("Stop returned while a repeat callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}
}

func TestAlertActiveSnapshot(t *testing.T) {
	t.Parallel()

	m := NewManager(slog.Default(), nil, WithRepeatInterval(0))
	m.Activate("s1", event.BlockQuestion, "Which db?", []string{"Postgres", "SQLite"})

	reason, text, options, ok := m.Active("s1")
	if !ok {
		t.Fatal("Active returned no alert")
	}
	if reason != event.BlockQuestion || text != "Which db?" || len(options) != 2 {
		t.Errorf("Active = %q %q %v", reason, text, options)
	}

	if _, _, _, ok := m.Active("missing"); ok {
		t.Error("Active reported alert for unknown session")
	}
}
