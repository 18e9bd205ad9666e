package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/model"
)

// DefaultApprovalTTL bounds how long a run may sit suspended before the
// pending token expires and is treated as a rejection.
const DefaultApprovalTTL = 24 * time.Hour

// GateStore persists wait tokens. *storage.DB satisfies it.
type GateStore interface {
	CreateWaitToken(ctx context.Context, runID uuid.UUID, callID, toolName, reason string, ttl time.Duration) (model.WaitToken, error)
}

// Gate suspends runs on approval-gated tool calls by minting consume-once
// wait tokens.
type Gate struct {
	store GateStore
	ttl   time.Duration
}

// NewGate creates an approval gate. ttl <= 0 falls back to DefaultApprovalTTL.
func NewGate(store GateStore, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultApprovalTTL
	}
	return &Gate{store: store, ttl: ttl}
}

// Suspend mints a pending wait token for the gated call. The partial unique
// index in storage guarantees a run never carries two pending tokens.
func (g *Gate) Suspend(ctx context.Context, runID uuid.UUID, call llm.ToolCall) (model.WaitToken, error) {
	reason := fmt.Sprintf("tool %s requires human approval", call.Name)
	tok, err := g.store.CreateWaitToken(ctx, runID, call.ID, call.Name, reason, g.ttl)
	if err != nil {
		return model.WaitToken{}, fmt.Errorf("engine: suspend run: %w", err)
	}
	return tok, nil
}

// Resolution is the human's answer to a pending approval, applied on resume.
type Resolution struct {
	CallID   string
	Approved bool
}
