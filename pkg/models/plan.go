package models

import (
	"encoding/json"
	"time"
)

// ToolCall is a structured decision by the planner to invoke a named tool.
type ToolCall struct {
	// TaskID uniquely identifies the call within an invocation.
	TaskID string `json:"task_id"`

	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`

	// Priority orders aggregated results; lower fires earlier.
	Priority int `json:"priority"`
}

// AgentPlan is the planner's structured output for one round.
// ToolCalls is empty whenever NeedsTools is false.
type AgentPlan struct {
	NeedsTools bool       `json:"needs_tools"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// ErrorKind categorizes a tool execution failure.
type ErrorKind string

const (
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindInvalidArguments ErrorKind = "invalid_arguments"
	ErrKindUnknownTool      ErrorKind = "unknown_tool"
	ErrKindCancelled        ErrorKind = "cancelled"
	ErrKindExecution        ErrorKind = "execution"
)

// Source is a reference harvested from tool output.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// ReminderDetails is the side effect emitted by a successful reminder
// tool call. FireAt is an absolute instant stored in UTC; display-time
// formatting reconciles it against the configured timezone.
type ReminderDetails struct {
	Content    string    `json:"content"`
	FireAt     time.Time `json:"fire_at"`
	ChannelRef string    `json:"channel_ref"`
	UserRef    string    `json:"user_ref"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToolExecutionResult is the envelope every tool dispatch produces,
// success or failure.
type ToolExecutionResult struct {
	TaskID   string `json:"task_id"`
	ToolName string `json:"tool_name"`
	Success  bool   `json:"success"`

	// Content is the normalized textual result handed to the LLM.
	Content string `json:"content"`

	// ErrorKind is set only when Success is false.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	Sources []Source `json:"sources,omitempty"`

	// SideEffect is present only for the reminder tool on success.
	SideEffect *ReminderDetails `json:"side_effect,omitempty"`

	// Priority is copied from the originating call for aggregation order.
	Priority int `json:"priority"`
}
