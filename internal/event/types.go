// Package event defines the payload types flowing through Echo's pipeline
// and the generic bounded fan-out [Bus] that connects its stages.
//
// Three buses exist at runtime: the raw bus ([RawEvent], fed by the hook
// ingress and the transcript watcher), the narration bus ([Narration], fed
// by the summarizer), and the response bus ([Response], fed by the voice
// engine). All payloads are immutable after emission.
package event

import "time"

// Kind classifies a RawEvent by what happened in the agent's lifecycle.
type Kind string

const (
	KindToolExecuted Kind = "tool_executed"
	KindAgentBlocked Kind = "agent_blocked"
	KindAgentStopped Kind = "agent_stopped"
	KindAgentMessage Kind = "agent_message"
	KindSessionStart Kind = "session_start"
	KindSessionEnd   Kind = "session_end"
)

// BlockReason describes why the agent stopped and is waiting on the user.
// It selects the alert-tone variant and the blocked-narration phrasing.
type BlockReason string

const (
	BlockPermissionPrompt BlockReason = "permission_prompt"
	BlockIdlePrompt       BlockReason = "idle_prompt"
	BlockQuestion         BlockReason = "question"

	// BlockNone is the default variant used when a blocked event carries no
	// recognised reason.
	BlockNone BlockReason = ""
)

// Source identifies which producer emitted a RawEvent.
type Source string

const (
	SourceHook       Source = "hook"
	SourceTranscript Source = "transcript"
)

// RawEvent is the normalized input carried on the raw bus. Kind and
// SessionID are always set; the remaining payload fields are populated per
// kind (see the producer packages). A RawEvent must not be mutated after it
// has been emitted.
type RawEvent struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`

	// tool_executed payload.
	ToolName   string         `json:"tool_name,omitempty"`
	ToolInput  map[string]any `json:"tool_input,omitempty"`
	ToolOutput map[string]any `json:"tool_output,omitempty"`

	// agent_blocked payload.
	BlockReason BlockReason `json:"block_reason,omitempty"`
	Message     string      `json:"message,omitempty"`
	Options     []string    `json:"options,omitempty"`

	// agent_message payload.
	Text string `json:"text,omitempty"`

	// agent_stopped payload.
	StopReason string `json:"stop_reason,omitempty"`
}

// Blocked reports whether the event is an agent_blocked event.
func (e RawEvent) Blocked() bool { return e.Kind == KindAgentBlocked }

// Priority is the scheduling class of a narration within the speaker engine.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// QueueClass maps a priority to its player queue class. Lower runs first;
// class 0 is reserved for the interrupt/immediate path.
func (p Priority) QueueClass() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Method records how a narration text was produced. Observability only.
type Method string

const (
	MethodTemplate   Method = "template"
	MethodLLM        Method = "llm"
	MethodTruncation Method = "truncation"
)

// Narration is carried on the narration bus: the exact string to speak plus
// scheduling and tracing metadata.
type Narration struct {
	Text          string      `json:"text"`
	Priority      Priority    `json:"priority"`
	SourceKind    Kind        `json:"source_kind"`
	SessionID     string      `json:"session_id"`
	SourceEventID string      `json:"source_event_id,omitempty"`
	Method        Method      `json:"method"`
	BlockReason   BlockReason `json:"block_reason,omitempty"`
	Options       []string    `json:"options,omitempty"`
}

// MatchMethod records which step of the response matcher produced a match.
type MatchMethod string

const (
	MatchOrdinal  MatchMethod = "ordinal"
	MatchYesNo    MatchMethod = "yes_no"
	MatchDirect   MatchMethod = "direct"
	MatchFuzzy    MatchMethod = "fuzzy"
	MatchVerbatim MatchMethod = "verbatim"
)

// Response is carried on the response bus after a listen cycle (or a manual
// response) resolves a blocked prompt.
type Response struct {
	Text       string      `json:"text"`
	Transcript string      `json:"transcript"`
	SessionID  string      `json:"session_id"`
	Method     MatchMethod `json:"match_method"`
	Confidence float64     `json:"confidence"`
	Timestamp  time.Time   `json:"timestamp"`
	Options    []string    `json:"options,omitempty"`
}
