package model

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalState is the resolution state of a wait token.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
	ApprovalRejected ApprovalState = "rejected"
)

// WaitToken marks a run suspended on a human decision. At most one pending
// token exists per run; it is consumed exactly once to resume or abort the
// gated tool call.
type WaitToken struct {
	ID         uuid.UUID     `json:"id"`
	RunID      uuid.UUID     `json:"run_id"`
	CallID     string        `json:"call_id"`
	ToolName   string        `json:"tool_name"`
	Reason     string        `json:"reason"`
	State      ApprovalState `json:"state"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}
