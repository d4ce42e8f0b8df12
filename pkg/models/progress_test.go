package models

import "testing"

func TestProgressStage_Terminal(t *testing.T) {
	tests := []struct {
		stage    ProgressStage
		terminal bool
	}{
		{StageStarting, false},
		{StageGenerateQuery, false},
		{StageSearching, false},
		{StageReflection, false},
		{StageStreaming, false},
		{StageCompleted, true},
		{StageError, true},
		{StageTimeout, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			if got := tt.stage.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestProgressEvent_Critical(t *testing.T) {
	if (ProgressEvent{Stage: StageAnalyzing}).Critical() {
		t.Error("analyzing should be droppable")
	}
	if !(ProgressEvent{Stage: StageStreaming}).Critical() {
		t.Error("streaming must never be dropped")
	}
	if !(ProgressEvent{Stage: StageError}).Critical() {
		t.Error("error must never be dropped")
	}
}

func TestToolState_Symbol(t *testing.T) {
	tests := []struct {
		state  ToolState
		symbol string
	}{
		{ToolStatePending, "⚪"},
		{ToolStateRunning, "🔄"},
		{ToolStateCompleted, "✅"},
		{ToolStateFailed, "❌"},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.Symbol(); got != tt.symbol {
				t.Errorf("Symbol() = %q, want %q", got, tt.symbol)
			}
		})
	}
}
