package summarize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/echo-voice/echo/internal/event"
)

func toolEvent(tool string, input map[string]any) event.RawEvent {
	return event.RawEvent{
		ID:        "e1",
		Kind:      event.KindToolExecuted,
		SessionID: "s1",
		ToolName:  tool,
		ToolInput: input,
	}
}

func TestRenderToolExecuted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ev    event.RawEvent
		want  string
	}{
		{"bash", toolEvent("Bash", map[string]any{"command": "go test ./..."}), "Ran command: go test ./..."},
		{"read", toolEvent("Read", map[string]any{"file_path": "/src/internal/auth.ts"}), "Read auth.ts"},
		{"edit", toolEvent("Edit", map[string]any{"file_path": "main.go"}), "Edited main.go"},
		{"write", toolEvent("Write", map[string]any{"file_path": "/tmp/new.txt"}), "Created new.txt"},
		{"glob", toolEvent("Glob", map[string]any{"pattern": "**/*.go"}), "Searched for files matching **/*.go"},
		{"grep", toolEvent("Grep", map[string]any{"pattern": "TODO"}), "Searched code for TODO"},
		{"task", toolEvent("Task", nil), "Launched a sub-agent"},
		{"webfetch", toolEvent("WebFetch", nil), "Fetched a web page"},
		{"websearch", toolEvent("WebSearch", map[string]any{"query": "go generics"}), "Searched the web for go generics"},
		{"other", toolEvent("NotebookEdit", nil), "Used NotebookEdit tool"},
		{"missing path", toolEvent("Read", nil), "Read a file"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := Render(tc.ev)
			if n.Text != tc.want {
				t.Errorf("text = %q, want %q", n.Text, tc.want)
			}
			if n.Priority != event.PriorityNormal {
				t.Errorf("priority = %q, want normal", n.Priority)
			}
			if n.Method != event.MethodTemplate {
				t.Errorf("method = %q, want template", n.Method)
			}
		})
	}
}

func TestRenderBashTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 80)
	n := Render(toolEvent("Bash", map[string]any{"command": long}))
	want := "Ran command: " + strings.Repeat("x", 60) + "..."
	if n.Text != want {
		t.Errorf("text = %q, want %q", n.Text, want)
	}

	// Exactly 60 characters is not truncated.
	exact := strings.Repeat("y", 60)
	n = Render(toolEvent("Bash", map[string]any{"command": exact}))
	if n.Text != "Ran command: "+exact {
		t.Errorf("text = %q, exactly-60 command should be verbatim", n.Text)
	}

	// Truncation counts runes, so a multi-byte command is never cut in the
	// middle of a character.
	wide := strings.Repeat("é", 80)
	n = Render(toolEvent("Bash", map[string]any{"command": wide}))
	want = "Ran command: " + strings.Repeat("é", 60) + "..."
	if n.Text != want {
		t.Errorf("text = %q, want %q", n.Text, want)
	}
	if !utf8.ValidString(n.Text) {
		t.Error("truncated narration is not valid UTF-8")
	}
}

func TestRenderAgentBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		reason event.BlockReason
		msg    string
		opts   []string
		want   string
	}{
		{
			name:   "permission with message",
			reason: event.BlockPermissionPrompt,
			msg:    "Allow edit of auth.ts?",
			want:   "The agent needs your permission and is waiting for your answer. It's asking: Allow edit of auth.ts?",
		},
		{
			name:   "question with message",
			reason: event.BlockQuestion,
			msg:    "Which database?",
			want:   "The agent has a question and is waiting for your answer. It's asking: Which database?",
		},
		{
			name:   "idle",
			reason: event.BlockIdlePrompt,
			want:   "The agent is idle and waiting for your input.",
		},
		{
			name: "none with message",
			msg:  "stuck on merge",
			want: "The agent is blocked and needs your attention. stuck on merge",
		},
		{
			name: "none without message",
			want: "The agent is blocked and needs your attention.",
		},
		{
			name:   "options appended",
			reason: event.BlockPermissionPrompt,
			msg:    "Allow edit?",
			opts:   []string{"Allow", "Deny"},
			want: "The agent needs your permission and is waiting for your answer. It's asking: Allow edit?" +
				" Option one: Allow. Option two: Deny.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := Render(event.RawEvent{
				Kind:        event.KindAgentBlocked,
				SessionID:   "s1",
				BlockReason: tc.reason,
				Message:     tc.msg,
				Options:     tc.opts,
			})
			if n.Text != tc.want {
				t.Errorf("text = %q\nwant %q", n.Text, tc.want)
			}
			if n.Priority != event.PriorityCritical {
				t.Errorf("priority = %q, want critical", n.Priority)
			}
			if n.BlockReason != tc.reason {
				t.Errorf("block_reason = %q, want %q", n.BlockReason, tc.reason)
			}
		})
	}
}

func TestFormatOptionsOrdinals(t *testing.T) {
	t.Parallel()

	opts := make([]string, 12)
	for i := range opts {
		opts[i] = string(rune('A' + i))
	}
	got := formatOptions(opts)
	for _, want := range []string{
		" Option one: A.", " Option ten: J.", " Option 11: K.", " Option 12: L.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatOptions missing %q in %q", want, got)
		}
	}
}

func TestRenderLifecycle(t *testing.T) {
	t.Parallel()

	n := Render(event.RawEvent{Kind: event.KindAgentStopped, SessionID: "s1"})
	if n.Text != "Agent finished." {
		t.Errorf("text = %q, want Agent finished.", n.Text)
	}
	if n.Priority != event.PriorityNormal {
		t.Errorf("priority = %q, want normal", n.Priority)
	}

	n = Render(event.RawEvent{Kind: event.KindAgentStopped, StopReason: "user interrupt"})
	if n.Text != "Agent stopped: user interrupt." {
		t.Errorf("text = %q", n.Text)
	}

	n = Render(event.RawEvent{Kind: event.KindSessionStart})
	if n.Text != "New coding session started." || n.Priority != event.PriorityLow {
		t.Errorf("session_start = %q/%q", n.Text, n.Priority)
	}

	n = Render(event.RawEvent{Kind: event.KindSessionEnd})
	if n.Text != "Session ended." || n.Priority != event.PriorityLow {
		t.Errorf("session_end = %q/%q", n.Text, n.Priority)
	}
}

func TestRenderBatch(t *testing.T) {
	t.Parallel()

	edit := func() event.RawEvent { return toolEvent("Edit", map[string]any{"file_path": "a.go"}) }
	bash := func() event.RawEvent { return toolEvent("Bash", map[string]any{"command": "make"}) }

	tests := []struct {
		name   string
		events []event.RawEvent
		want   string
	}{
		{"same tool", []event.RawEvent{edit(), edit(), edit()}, "Edited 3 files."},
		{"mixed", []event.RawEvent{edit(), edit(), bash()}, "Edited 2 files and ran a command."},
		{
			"searches",
			[]event.RawEvent{toolEvent("Grep", nil), toolEvent("Grep", nil)},
			"Searched 2 searches.",
		},
		{"unknown tool", []event.RawEvent{toolEvent("Mystery", nil), toolEvent("Mystery", nil)}, "Used 2 tools."},
		{"single read", []event.RawEvent{toolEvent("Read", nil), toolEvent("Read", nil)}, "Read 2 files."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			n := RenderBatch(tc.events)
			if n.Text != tc.want {
				t.Errorf("text = %q, want %q", n.Text, tc.want)
			}
			if n.Priority != event.PriorityNormal {
				t.Errorf("priority = %q, want normal", n.Priority)
			}
		})
	}
}
