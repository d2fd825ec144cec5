package voice

import (
	"testing"

	"github.com/echo-voice/echo/internal/event"
)

func TestMatchOrdinal(t *testing.T) {
	t.Parallel()

	ten := []string{"A", "B", "C", "D", "E", "F", "G", "H", "I", "J"}
	tests := []struct {
		transcript string
		options    []string
		want       string
	}{
		{"one", ten, "A"},
		{"first", ten, "A"},
		{"2", ten, "B"},
		{"pick number three", ten, "C"},
		{"the fourth option", ten, "D"},
		{"option ten", ten, "J"},
		{"Seven.", ten, "G"},
	}
	for _, tc := range tests {
		t.Run(tc.transcript, func(t *testing.T) {
			got := Match(tc.transcript, tc.options, event.BlockQuestion)
			if got.Method != event.MatchOrdinal {
				t.Fatalf("method = %q, want ordinal", got.Method)
			}
			if got.Text != tc.want {
				t.Errorf("text = %q, want %q", got.Text, tc.want)
			}
			if got.Confidence != 0.95 {
				t.Errorf("confidence = %v, want 0.95", got.Confidence)
			}
		})
	}

	// An ordinal beyond the option list is not a match.
	got := Match("five", []string{"A", "B"}, event.BlockQuestion)
	if got.Method == event.MatchOrdinal {
		t.Errorf("out-of-range ordinal matched: %+v", got)
	}
}

func TestMatchYesNo(t *testing.T) {
	t.Parallel()

	options := []string{"Allow", "Deny"}
	tests := []struct {
		transcript string
		want       string
	}{
		{"yes", "Allow"},
		{"yes please", "Allow"},
		{"go ahead", "Allow"},
		{"sure", "Allow"},
		{"no", "Deny"},
		{"nope", "Deny"},
		{"reject", "Deny"},
	}
	for _, tc := range tests {
		t.Run(tc.transcript, func(t *testing.T) {
			got := Match(tc.transcript, options, event.BlockPermissionPrompt)
			if got.Method != event.MatchYesNo {
				t.Fatalf("method = %q, want yes_no", got.Method)
			}
			if got.Text != tc.want || got.Confidence != 0.9 {
				t.Errorf("got %q conf %v, want %q conf 0.9", got.Text, got.Confidence, tc.want)
			}
		})
	}
}

func TestMatchYesNoScope(t *testing.T) {
	t.Parallel()

	// Yes/no only applies to two-option permission prompts.
	got := Match("yes", []string{"Allow", "Deny"}, event.BlockQuestion)
	if got.Method == event.MatchYesNo {
		t.Errorf("yes/no applied outside permission_prompt: %+v", got)
	}

	got = Match("yes", []string{"Allow", "Deny", "Always allow"}, event.BlockPermissionPrompt)
	if got.Method == event.MatchYesNo {
		t.Errorf("yes/no applied to three options: %+v", got)
	}
}

func TestMatchDirect(t *testing.T) {
	t.Parallel()

	got := Match("use the Postgres one, I think", []string{"Postgres", "SQLite"}, event.BlockQuestion)
	if got.Method != event.MatchDirect || got.Text != "Postgres" {
		t.Errorf("got %+v, want direct Postgres", got)
	}
	if got.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", got.Confidence)
	}

	// The longest containing option wins.
	got = Match("run tests please", []string{"Run", "Run tests"}, event.BlockQuestion)
	if got.Text != "Run tests" {
		t.Errorf("text = %q, want longest option", got.Text)
	}
}

func TestMatchFuzzy(t *testing.T) {
	t.Parallel()

	got := Match("postgrez", []string{"Postgres", "SQLite"}, event.BlockQuestion)
	if got.Method != event.MatchFuzzy {
		t.Fatalf("method = %q, want fuzzy", got.Method)
	}
	if got.Text != "Postgres" {
		t.Errorf("text = %q, want Postgres", got.Text)
	}
	if got.Confidence < fuzzyThreshold {
		t.Errorf("confidence = %v, want >= %v", got.Confidence, fuzzyThreshold)
	}
}

func TestMatchVerbatim(t *testing.T) {
	t.Parallel()

	// No options: the transcript passes through at full confidence.
	got := Match("  deploy to staging  ", nil, event.BlockIdlePrompt)
	if got.Method != event.MatchVerbatim || got.Text != "deploy to staging" {
		t.Errorf("got %+v", got)
	}
	if got.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", got.Confidence)
	}

	// Options present but nothing matched: zero-confidence sentinel.
	got = Match("zzz qqq", []string{"Allow", "Deny"}, event.BlockQuestion)
	if got.Method != event.MatchVerbatim || got.Confidence != 0.0 {
		t.Errorf("got %+v, want verbatim sentinel", got)
	}
}

func TestMatchIsPure(t *testing.T) {
	t.Parallel()

	options := []string{"Allow", "Deny"}
	a := Match("yeah", options, event.BlockPermissionPrompt)
	b := Match("yeah", options, event.BlockPermissionPrompt)
	if a != b {
		t.Errorf("repeated match differs: %+v vs %+v", a, b)
	}
}
