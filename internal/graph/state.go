// Package graph drives one agent invocation through the plan, execute,
// reflect, finalize loop, publishing progress along the way.
package graph

import (
	"fmt"

	"github.com/prismbot/prism/internal/progress"
	"github.com/prismbot/prism/pkg/models"
)

// State is the mutable context of one invocation. The engine owns it
// for the duration of Run; callers read it afterwards.
type State struct {
	// Messages is the collected conversation, oldest first. The last
	// user message is the request being answered.
	Messages []models.Message

	// Origin of the invocation, for tool side effects and emoji
	// resolution.
	ChannelRef string
	UserRef    string
	GuildID    string

	// Persona is the system-prompt fragment picked on first entry.
	Persona string

	// ResearchTopic is a short handle on the request, used in the
	// reflection prompt.
	ResearchTopic string

	// Plan is the current round's tool decision.
	Plan *models.AgentPlan

	// ToolRound counts completed execute rounds.
	ToolRound int

	// ToolResults holds the results of the latest round only.
	ToolResults []*models.ToolExecutionResult

	// Aggregated accumulates results across rounds, ordered by
	// priority then insertion, deduplicated by content.
	Aggregated []*models.ToolExecutionResult

	// Sources accumulates references from successful results,
	// deduplicated by URL.
	Sources []models.Source

	// Reminders accumulates reminder side effects for the session
	// layer to schedule.
	Reminders []models.ReminderDetails

	// IsSufficient and ReflectionReasoning carry the latest
	// reflection verdict.
	IsSufficient        bool
	ReflectionReasoning string

	// FinalAnswer is set only on successful completion.
	FinalAnswer string

	// Bus receives progress for this invocation. Never nil during Run;
	// the engine substitutes an unstarted bus when the caller passes
	// none.
	Bus *progress.Bus
}

// lastUserText returns the text of the most recent user message.
func (s *State) lastUserText() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == models.RoleUser {
			return s.Messages[i].Text()
		}
	}
	return ""
}

// NodeError wraps a failure with the graph node it occurred in and the
// tool round that was running at the time.
type NodeError struct {
	Node  string
	Round int
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("graph: node %s (round %d): %v", e.Node, e.Round, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
