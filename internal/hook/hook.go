// Package hook normalizes agent hook payloads into raw pipeline events.
//
// The coding agent invokes its hooks with a JSON object describing what just
// happened (a tool ran, a permission dialog opened, the session changed).
// [Parse] maps that payload onto an [event.RawEvent]; [Ingress] parses and
// emits onto the raw bus.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/echo-voice/echo/internal/event"
	"github.com/echo-voice/echo/internal/observe"
)

// Hook event names emitted by the agent.
const (
	hookPostToolUse       = "PostToolUse"
	hookNotification      = "Notification"
	hookPermissionRequest = "PermissionRequest"
	hookStop              = "Stop"
	hookSessionStart      = "SessionStart"
	hookSessionEnd        = "SessionEnd"
)

// ErrUnknownHook is returned by Parse for unrecognised hook event names.
var ErrUnknownHook = fmt.Errorf("hook: unknown hook event name")

// payload is the wire shape of an agent hook invocation. Every field beyond
// hook_event_name is optional.
type payload struct {
	HookEventName string         `json:"hook_event_name"`
	SessionID     string         `json:"session_id"`
	ToolName      string         `json:"tool_name"`
	ToolInput     map[string]any `json:"tool_input"`
	ToolResponse  map[string]any `json:"tool_response"`
	Type          string         `json:"type"`
	Message       string         `json:"message"`
	Options       []string       `json:"options"`
	StopReason    string         `json:"stop_reason"`
	Reason        string         `json:"reason"`
}

// Parse converts a raw hook payload into a RawEvent. Returns ErrUnknownHook
// (wrapped with the offending name) when the hook event name is unrecognised
// and a plain error when the JSON itself is malformed.
func Parse(raw []byte) (event.RawEvent, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return event.RawEvent{}, fmt.Errorf("hook: decode payload: %w", err)
	}

	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = "unknown"
	}

	ev := event.RawEvent{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Timestamp: time.Now(),
		Source:    event.SourceHook,
	}

	switch p.HookEventName {
	case hookPostToolUse:
		ev.Kind = event.KindToolExecuted
		ev.ToolName = p.ToolName
		ev.ToolInput = p.ToolInput
		ev.ToolOutput = p.ToolResponse

	case hookNotification:
		ev.Kind = event.KindAgentBlocked
		ev.BlockReason = inferBlockReason(p.Type, p.Message)
		ev.Message = p.Message
		ev.Options = p.Options

	case hookPermissionRequest:
		ev.Kind = event.KindAgentBlocked
		ev.BlockReason = event.BlockPermissionPrompt
		ev.ToolName = p.ToolName
		ev.ToolInput = p.ToolInput
		ev.Message = permissionMessage(p.ToolName, p.ToolInput)
		ev.Options = permissionOptions(p.ToolName, p.ToolInput)

	case hookStop:
		ev.Kind = event.KindAgentStopped
		ev.StopReason = p.StopReason
		if ev.StopReason == "" {
			ev.StopReason = p.Reason
		}

	case hookSessionStart:
		ev.Kind = event.KindSessionStart

	case hookSessionEnd:
		ev.Kind = event.KindSessionEnd

	default:
		return event.RawEvent{}, fmt.Errorf("%w: %q", ErrUnknownHook, p.HookEventName)
	}

	return ev, nil
}

// inferBlockReason determines the block reason from notification metadata.
// The explicit type field wins; the message body is a fallback.
func inferBlockReason(notificationType, message string) event.BlockReason {
	lowered := strings.ToLower(notificationType)
	switch {
	case strings.Contains(lowered, "permission"):
		return event.BlockPermissionPrompt
	case strings.Contains(lowered, "idle"):
		return event.BlockIdlePrompt
	case strings.Contains(lowered, "question"):
		return event.BlockQuestion
	}

	lowered = strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "permission"):
		return event.BlockPermissionPrompt
	case strings.Contains(lowered, "idle"):
		return event.BlockIdlePrompt
	}
	return event.BlockNone
}

// permissionMessage builds the spoken description of a permission request.
func permissionMessage(toolName string, toolInput map[string]any) string {
	if toolName == "" {
		toolName = "unknown tool"
	}
	switch toolName {
	case "Bash":
		if cmd, ok := toolInput["command"].(string); ok {
			return "The agent wants to run: " + cmd
		}
	case "Write":
		if path, ok := toolInput["file_path"].(string); ok {
			return "The agent wants to write to: " + path
		}
	case "Edit":
		if path, ok := toolInput["file_path"].(string); ok {
			return "The agent wants to edit: " + path
		}
	case "AskUserQuestion":
		return questionMessage(toolInput)
	}
	return "The agent wants to use " + toolName
}

// permissionOptions returns the answer labels the user can speak. For
// AskUserQuestion the real option labels are used so narration reads them
// and transcripts can match spoken responses; everything else is a plain
// allow/deny dialog.
func permissionOptions(toolName string, toolInput map[string]any) []string {
	if toolName == "AskUserQuestion" {
		if labels := questionOptionLabels(toolInput); len(labels) > 0 {
			return labels
		}
	}
	return []string{"Allow", "Deny"}
}

// questionMessage extracts the question text and choices from an
// AskUserQuestion tool input.
func questionMessage(toolInput map[string]any) string {
	q, ok := firstQuestion(toolInput)
	if !ok {
		return "The agent wants to ask you a question"
	}

	var sb strings.Builder
	if text, ok := q["question"].(string); ok && text != "" {
		sb.WriteString("The agent is asking: ")
		sb.WriteString(text)
	} else {
		sb.WriteString("The agent wants to ask you a question")
	}

	if labels := optionLabels(q["options"]); len(labels) > 0 {
		sb.WriteString(" The choices are: ")
		sb.WriteString(strings.Join(labels, ", "))
	}
	return sb.String()
}

// questionOptionLabels returns the option labels of the first question, or
// nil if the input does not carry any.
func questionOptionLabels(toolInput map[string]any) []string {
	q, ok := firstQuestion(toolInput)
	if !ok {
		return nil
	}
	return optionLabels(q["options"])
}

func firstQuestion(toolInput map[string]any) (map[string]any, bool) {
	questions, ok := toolInput["questions"].([]any)
	if !ok || len(questions) == 0 {
		return nil, false
	}
	q, ok := questions[0].(map[string]any)
	return q, ok
}

// optionLabels flattens an options value into label strings. Options may be
// objects carrying a label field or plain strings.
func optionLabels(v any) []string {
	opts, ok := v.([]any)
	if !ok {
		return nil
	}
	labels := make([]string, 0, len(opts))
	for _, opt := range opts {
		switch o := opt.(type) {
		case map[string]any:
			if label, ok := o["label"].(string); ok {
				labels = append(labels, label)
			} else {
				labels = append(labels, fmt.Sprint(o))
			}
		default:
			labels = append(labels, fmt.Sprint(o))
		}
	}
	return labels
}

// Ingress parses hook payloads and emits the resulting events on the raw
// bus. Malformed or unrecognised payloads are dropped with a warn log so the
// agent-side hook stub never sees an error.
type Ingress struct {
	bus     *event.Bus[event.RawEvent]
	log     *slog.Logger
	metrics *observe.Metrics
}

// NewIngress creates an Ingress emitting on bus.
func NewIngress(bus *event.Bus[event.RawEvent], log *slog.Logger, metrics *observe.Metrics) *Ingress {
	if log == nil {
		log = slog.Default()
	}
	return &Ingress{bus: bus, log: log, metrics: metrics}
}

// Ingest parses raw and emits the event. The returned error is informational
// only; callers respond 200 regardless so the agent does not retry.
func (in *Ingress) Ingest(ctx context.Context, raw []byte) error {
	ev, err := Parse(raw)
	if err != nil {
		in.log.Warn("dropping hook payload", "err", err)
		return err
	}

	in.log.Debug("hook event ingested",
		"kind", ev.Kind, "session_id", ev.SessionID, "tool", ev.ToolName)
	if in.metrics != nil {
		in.metrics.RecordEvent(ctx, string(ev.Kind), string(ev.Source))
	}
	in.bus.Emit(ev)
	return nil
}
