package summarize

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/echo-voice/echo/internal/event"
)

// bashCommandMaxLen caps the command text read aloud for Bash narrations.
const bashCommandMaxLen = 60

// batchVerbs maps a tool name to the past-tense verb used in batched
// narration.
var batchVerbs = map[string]string{
	"Edit":  "Edited",
	"Read":  "Read",
	"Write": "Created",
	"Bash":  "Ran",
	"Glob":  "Searched",
	"Grep":  "Searched",
}

// ordinalWords spells the first ten option positions; later positions fall
// back to digits.
var ordinalWords = []string{
	"one", "two", "three", "four", "five",
	"six", "seven", "eight", "nine", "ten",
}

// priorityFor is the narration priority per event kind.
func priorityFor(kind event.Kind) event.Priority {
	switch kind {
	case event.KindAgentBlocked:
		return event.PriorityCritical
	case event.KindSessionStart, event.KindSessionEnd:
		return event.PriorityLow
	default:
		return event.PriorityNormal
	}
}

// Render converts a single event into a Narration using templates. It never
// fails: unknown shapes produce a generic narration.
func Render(ev event.RawEvent) event.Narration {
	return event.Narration{
		Text:          renderText(ev),
		Priority:      priorityFor(ev.Kind),
		SourceKind:    ev.Kind,
		SessionID:     ev.SessionID,
		SourceEventID: ev.ID,
		Method:        event.MethodTemplate,
		BlockReason:   ev.BlockReason,
		Options:       ev.Options,
	}
}

// RenderBatch converts a batch of tool_executed events into one Narration.
// Tools are counted in first-seen order; a single-tool batch reads
// "Edited 3 files.", a mixed one "Edited 2 files and ran a command."
func RenderBatch(events []event.RawEvent) event.Narration {
	order := make([]string, 0, len(events))
	counts := make(map[string]int, len(events))
	for _, ev := range events {
		tool := ev.ToolName
		if tool == "" {
			tool = "Unknown"
		}
		if _, seen := counts[tool]; !seen {
			order = append(order, tool)
		}
		counts[tool]++
	}

	parts := make([]string, 0, len(order))
	for i, tool := range order {
		verb := batchVerbs[tool]
		if verb == "" {
			verb = "Used"
		}
		if i > 0 {
			verb = strings.ToLower(verb)
		}
		n := counts[tool]
		if n > 1 {
			parts = append(parts, fmt.Sprintf("%s %d %s", verb, n, batchNoun(tool, n)))
		} else {
			parts = append(parts, verb+" "+batchNoun(tool, n))
		}
	}

	first := events[0]
	return event.Narration{
		Text:          strings.Join(parts, " and ") + ".",
		Priority:      event.PriorityNormal,
		SourceKind:    event.KindToolExecuted,
		SessionID:     first.SessionID,
		SourceEventID: first.ID,
		Method:        event.MethodTemplate,
	}
}

func renderText(ev event.RawEvent) string {
	switch ev.Kind {
	case event.KindToolExecuted:
		return renderTool(ev)
	case event.KindAgentBlocked:
		return renderBlocked(ev)
	case event.KindAgentStopped:
		if ev.StopReason != "" {
			return "Agent stopped: " + ev.StopReason + "."
		}
		return "Agent finished."
	case event.KindSessionStart:
		return "New coding session started."
	case event.KindSessionEnd:
		return "Session ended."
	default:
		return fmt.Sprintf("Agent event: %s.", ev.Kind)
	}
}

func renderTool(ev event.RawEvent) string {
	input := ev.ToolInput
	str := func(key, fallback string) string {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
		return fallback
	}

	switch ev.ToolName {
	case "Bash":
		command := str("command", "")
		if runes := []rune(command); len(runes) > bashCommandMaxLen {
			command = string(runes[:bashCommandMaxLen]) + "..."
		}
		return "Ran command: " + command
	case "Read":
		return "Read " + spokenBasename(str("file_path", ""))
	case "Edit":
		return "Edited " + spokenBasename(str("file_path", ""))
	case "Write":
		return "Created " + spokenBasename(str("file_path", ""))
	case "Glob":
		return "Searched for files matching " + str("pattern", "a pattern")
	case "Grep":
		return "Searched code for " + str("pattern", "a pattern")
	case "Task":
		return "Launched a sub-agent"
	case "WebFetch":
		return "Fetched a web page"
	case "WebSearch":
		return "Searched the web for " + str("query", "something")
	case "":
		return "Used Unknown tool"
	default:
		return "Used " + ev.ToolName + " tool"
	}
}

func renderBlocked(ev event.RawEvent) string {
	var base string
	switch ev.BlockReason {
	case event.BlockPermissionPrompt:
		base = "The agent needs your permission and is waiting for your answer."
		if ev.Message != "" {
			base += " It's asking: " + ev.Message
		}
	case event.BlockQuestion:
		base = "The agent has a question and is waiting for your answer."
		if ev.Message != "" {
			base += " It's asking: " + ev.Message
		}
	case event.BlockIdlePrompt:
		base = "The agent is idle and waiting for your input."
	default:
		base = "The agent is blocked and needs your attention."
		if ev.Message != "" {
			base += " " + ev.Message
		}
	}

	if len(ev.Options) > 0 {
		base += formatOptions(ev.Options)
	}
	return base
}

// formatOptions renders options as spoken ordinals so the user can answer
// "option two" by voice. Positions beyond ten are read as digits.
func formatOptions(options []string) string {
	var sb strings.Builder
	for i, opt := range options {
		sb.WriteString(" Option ")
		if i < len(ordinalWords) {
			sb.WriteString(ordinalWords[i])
		} else {
			fmt.Fprintf(&sb, "%d", i+1)
		}
		sb.WriteString(": ")
		sb.WriteString(opt)
		sb.WriteString(".")
	}
	return sb.String()
}

// spokenBasename reduces a path to its final component for TTS readability.
func spokenBasename(path string) string {
	if path == "" {
		return "a file"
	}
	return filepath.Base(path)
}

func batchNoun(tool string, count int) string {
	plural := count > 1
	switch tool {
	case "Edit", "Read", "Write":
		if plural {
			return "files"
		}
		return "a file"
	case "Bash":
		if plural {
			return "commands"
		}
		return "a command"
	case "Glob", "Grep":
		if plural {
			return "searches"
		}
		return "a search"
	default:
		if plural {
			return "tools"
		}
		return "a tool"
	}
}
