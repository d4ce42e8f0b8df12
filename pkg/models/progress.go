package models

import "time"

// ProgressStage identifies a phase of an agent invocation. The set is
// closed; observers may rely on it being exhaustive.
type ProgressStage string

const (
	StageStarting       ProgressStage = "starting"
	StageGenerateQuery  ProgressStage = "generate_query"
	StageToolList       ProgressStage = "tool_list"
	StageToolStatus     ProgressStage = "tool_status"
	StageToolExecution  ProgressStage = "tool_execution"
	StageSearching      ProgressStage = "searching"
	StageAnalyzing      ProgressStage = "analyzing"
	StageReflection     ProgressStage = "reflection"
	StageFinalizeAnswer ProgressStage = "finalize_answer"
	StageCompleting     ProgressStage = "completing"
	StageStreaming      ProgressStage = "streaming"
	StageCompleted      ProgressStage = "completed"
	StageError          ProgressStage = "error"
	StageTimeout        ProgressStage = "timeout"
)

// Terminal reports whether the stage ends an invocation.
func (s ProgressStage) Terminal() bool {
	switch s {
	case StageCompleted, StageError, StageTimeout:
		return true
	}
	return false
}

// ToolState is the lifecycle of a single dispatched tool call.
type ToolState string

const (
	ToolStatePending   ToolState = "pending"
	ToolStateRunning   ToolState = "running"
	ToolStateCompleted ToolState = "completed"
	ToolStateFailed    ToolState = "failed"
)

// Symbol returns the status glyph rendered next to a tool name.
func (s ToolState) Symbol() string {
	switch s {
	case ToolStatePending:
		return "⚪"
	case ToolStateRunning:
		return "🔄"
	case ToolStateCompleted:
		return "✅"
	case ToolStateFailed:
		return "❌"
	}
	return "⚪"
}

// ToolStatus is a snapshot of one tool call for progress rendering.
type ToolStatus struct {
	TaskID   string    `json:"task_id"`
	ToolName string    `json:"tool_name"`
	State    ToolState `json:"state"`
	Message  string    `json:"message,omitempty"`
}

// ProgressEvent is a point-in-time update published on the progress bus.
type ProgressEvent struct {
	Stage   ProgressStage `json:"stage"`
	Message string        `json:"message"`

	// Progress is a percentage in [0,100]; negative means unknown.
	Progress int `json:"progress"`

	// ETASeconds is an estimate of remaining time; zero means unknown.
	ETASeconds int `json:"eta_seconds,omitempty"`

	Tools     []ToolStatus `json:"tools,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Critical reports whether the event must never be dropped by a
// bounded observer queue.
func (e ProgressEvent) Critical() bool {
	return e.Stage.Terminal() || e.Stage == StageStreaming
}

// StreamingChunk is an incremental piece of the final answer.
type StreamingChunk struct {
	Content string `json:"content"`
	IsFinal bool   `json:"is_final"`
}
