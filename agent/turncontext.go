package agent

import (
	"github.com/martinemde/agentcore/llm"
)

// TurnContext is the mutable per-run state. It is owned exclusively by one
// logical run; no two runs share a TurnContext.
type TurnContext struct {
	RunID     string
	Iteration int

	// Messages is the model-facing effective list, including ephemeral
	// container results for the remainder of the run.
	Messages []llm.Message

	// TurnHistory holds only the messages newly produced this turn, with
	// ephemeral results filtered out. Ownership transfers to the caller
	// when the run returns.
	TurnHistory []llm.Message

	// Usage accumulates provider-reported counters across iterations.
	Usage llm.Usage

	expanded map[string]bool

	// toolErrorStreak counts consecutive tool error results across the
	// whole run; any success resets it. The scheduler's breaker reads and
	// updates it so the streak survives iteration boundaries.
	toolErrorStreak int
}

// NewTurnContext creates a TurnContext for a run.
func NewTurnContext(runID string, history []llm.Message) *TurnContext {
	msgs := make([]llm.Message, len(history))
	copy(msgs, history)
	return &TurnContext{
		RunID:    runID,
		Messages: msgs,
		expanded: make(map[string]bool),
	}
}

// Append adds a message to the model-facing list and, unless it is an
// ephemeral container result, to the caller-visible turn history.
func (tc *TurnContext) Append(msg llm.Message) {
	tc.Messages = append(tc.Messages, msg)
	if msg.IsContainerResult() {
		return
	}
	tc.TurnHistory = append(tc.TurnHistory, msg)
}

// MarkExpanded records a container expansion. The effect is scoped to this
// run only.
func (tc *TurnContext) MarkExpanded(container string) {
	tc.expanded[container] = true
}

// IsExpanded reports whether a container has been expanded during this run.
func (tc *TurnContext) IsExpanded(container string) bool {
	return tc.expanded[container]
}

// ExpandedContainers returns the names of all expanded containers.
func (tc *TurnContext) ExpandedContainers() []string {
	names := make([]string, 0, len(tc.expanded))
	for name := range tc.expanded {
		names = append(names, name)
	}
	return names
}

// AddUsage folds provider-reported counters into the run total.
func (tc *TurnContext) AddUsage(u llm.Usage) {
	tc.Usage = tc.Usage.Add(u)
}
