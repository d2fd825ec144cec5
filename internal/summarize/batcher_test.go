package summarize

import (
	"sync"
	"testing"
	"time"

	"github.com/echo-voice/echo/internal/event"
)

func TestBatcherCapFlushesSynchronously(t *testing.T) {
	t.Parallel()

	b := NewBatcher(time.Hour, 3, func([]event.RawEvent) {
		t.Error("timer flush fired, want synchronous cap flush")
	})

	if got := b.Add(toolEvent("Edit", nil)); got != nil {
		t.Fatalf("batch returned early: %v", got)
	}
	if got := b.Add(toolEvent("Edit", nil)); got != nil {
		t.Fatalf("batch returned early: %v", got)
	}
	batch := b.Add(toolEvent("Edit", nil))
	if len(batch) != 3 {
		t.Fatalf("batch len = %d, want 3", len(batch))
	}
	if b.Len() != 0 {
		t.Errorf("pending = %d after cap flush, want 0", b.Len())
	}
}

func TestBatcherTimerExpiryFlushes(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var flushed [][]event.RawEvent
	b := NewBatcher(50*time.Millisecond, 10, func(batch []event.RawEvent) {
		mu.Lock()
		flushed = append(flushed, batch)
		mu.Unlock()
	})

	b.Add(toolEvent("Edit", nil))
	b.Add(toolEvent("Read", nil))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(flushed)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timer flush never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(flushed) != 1 || len(flushed[0]) != 2 {
		t.Fatalf("flushed = %v, want one batch of 2", flushed)
	}
}

func TestBatcherExplicitFlushCancelsTimer(t *testing.T) {
	t.Parallel()

	b := NewBatcher(50*time.Millisecond, 10, func([]event.RawEvent) {
		t.Error("timer flush fired after explicit flush")
	})

	b.Add(toolEvent("Edit", nil))
	batch := b.Flush()
	if len(batch) != 1 {
		t.Fatalf("batch len = %d, want 1", len(batch))
	}

	// A second flush is a no-op.
	if again := b.Flush(); again != nil {
		t.Fatalf("second flush returned %v, want nil", again)
	}

	// Give the cancelled timer a chance to misfire.
	time.Sleep(120 * time.Millisecond)
}

func TestBatcherWindowReopensAfterFlush(t *testing.T) {
	t.Parallel()

	b := NewBatcher(time.Hour, 2, nil)

	if batch := b.Add(toolEvent("Edit", nil)); batch != nil {
		t.Fatal("premature flush")
	}
	if batch := b.Add(toolEvent("Edit", nil)); len(batch) != 2 {
		t.Fatal("cap flush missing")
	}

	// A new event after a flush opens a fresh batch.
	if batch := b.Add(toolEvent("Bash", nil)); batch != nil {
		t.Fatal("fresh batch flushed early")
	}
	if b.Len() != 1 {
		t.Errorf("pending = %d, want 1", b.Len())
	}
}
