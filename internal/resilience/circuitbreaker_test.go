package resilience

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

var errSynth = errors.New("synthesis failed")

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker("elevenlabs", BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute}, slog.Default())

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("call %d rejected while circuit closed", i+1)
		}
		b.Record(errSynth)
	}

	if b.State() != BreakerOpen {
		t.Fatalf("state = %v after 3 failures, want open", b.State())
	}
	if b.Allow() {
		t.Error("open circuit admitted a call before the reset timeout")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker("elevenlabs", BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute}, slog.Default())

	b.Record(errSynth)
	b.Record(errSynth)
	b.Record(nil)
	b.Record(errSynth)
	b.Record(errSynth)

	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed; failures are not consecutive", b.State())
	}
	if !b.Allow() {
		t.Error("closed circuit rejected a call")
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	t.Parallel()

	b := NewBreaker("elevenlabs", BreakerConfig{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond}, slog.Default())

	b.Allow()
	b.Record(errSynth)
	if b.Allow() {
		t.Fatal("open circuit admitted a call before the reset timeout")
	}

	time.Sleep(30 * time.Millisecond)

	// One trial call goes through; a second is held back until the first
	// settles.
	if !b.Allow() {
		t.Fatal("circuit did not admit a trial call after the reset timeout")
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}
	if b.Allow() {
		t.Error("second call admitted while the trial call was in flight")
	}

	b.Record(nil)
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v after successful trial, want closed", b.State())
	}
	if !b.Allow() {
		t.Error("closed circuit rejected a call after recovery")
	}
}

func TestBreakerReopensOnFailedTrial(t *testing.T) {
	t.Parallel()

	b := NewBreaker("inworld", BreakerConfig{MaxFailures: 1, ResetTimeout: 20 * time.Millisecond}, slog.Default())

	b.Allow()
	b.Record(errSynth)
	time.Sleep(30 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("circuit did not admit a trial call after the reset timeout")
	}
	b.Record(errSynth)

	if b.State() != BreakerOpen {
		t.Fatalf("state = %v after failed trial, want open", b.State())
	}
	if b.Allow() {
		t.Error("circuit admitted a call right after a failed trial")
	}
}

func TestBreakerDefaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker("elevenlabs", BreakerConfig{}, nil)

	// Four failures stay under the default threshold of five.
	for i := 0; i < 4; i++ {
		b.Record(errSynth)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v after 4 failures, want closed", b.State())
	}
	b.Record(errSynth)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v after 5 failures, want open", b.State())
	}
}

func TestBreakerStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("BreakerState(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
