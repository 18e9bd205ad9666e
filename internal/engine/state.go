// Package engine implements the agent run executor: the step loop that
// alternates model turns and tool execution, the append-only tool ledger, the
// forward-only plan tracker, and the approval gate that suspends runs on
// sensitive tools.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/model"
)

// RunState is the executor's working state for one run. It lives in memory
// while the run executes and round-trips through a checkpoint while the run
// is suspended for approval. Restoration keys on the run's thread, never on
// the per-attempt run ID.
type RunState struct {
	Run          model.AgentRun
	Step         model.Step
	Messages     []llm.Message
	Ledger       *Ledger
	Plan         *Tracker
	Pending      []llm.ToolCall
	Iterations   int
	ResponseText string
	InputTokens  int64
	OutputTokens int64
}

// NewRunState initializes state for a fresh run.
func NewRunState(run model.AgentRun) *RunState {
	return &RunState{
		Run:    run,
		Step:   model.StepLoadContext,
		Ledger: NewLedger(),
		Plan:   NewTracker(),
	}
}

// snapshot is the serialized form of RunState persisted in agent_runs.context.
type snapshot struct {
	Messages     []llm.Message          `json:"messages"`
	ToolHistory  []model.ToolInvocation `json:"tool_history"`
	Todos        []model.Todo           `json:"todos"`
	Pending      []llm.ToolCall         `json:"pending,omitempty"`
	Step         model.Step             `json:"step"`
	Iterations   int                    `json:"iterations"`
	ResponseText string                 `json:"response_text,omitempty"`
	InputTokens  int64                  `json:"input_tokens"`
	OutputTokens int64                  `json:"output_tokens"`
}

// Checkpoint serializes the state for persistence across a suspension.
func (s *RunState) Checkpoint() (json.RawMessage, error) {
	raw, err := json.Marshal(snapshot{
		Messages:     s.Messages,
		ToolHistory:  s.Ledger.Entries(),
		Todos:        s.Plan.Todos(),
		Pending:      s.Pending,
		Step:         s.Step,
		Iterations:   s.Iterations,
		ResponseText: s.ResponseText,
		InputTokens:  s.InputTokens,
		OutputTokens: s.OutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: encode checkpoint: %w", err)
	}
	return raw, nil
}

// RestoreState rebuilds executor state from a persisted checkpoint.
func RestoreState(run model.AgentRun, raw json.RawMessage) (*RunState, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("engine: run %s has no checkpoint", run.ID)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("engine: decode checkpoint: %w", err)
	}
	return &RunState{
		Run:          run,
		Step:         snap.Step,
		Messages:     snap.Messages,
		Ledger:       RestoreLedger(snap.ToolHistory),
		Plan:         RestoreTracker(snap.Todos),
		Pending:      snap.Pending,
		Iterations:   snap.Iterations,
		ResponseText: snap.ResponseText,
		InputTokens:  snap.InputTokens,
		OutputTokens: snap.OutputTokens,
	}, nil
}
