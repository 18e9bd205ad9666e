// Package model defines the core domain types for Prospecta's agent run engine.
//
// Types correspond directly to database tables and wire payloads. They use
// strong typing (UUIDs, time.Time, enums) and avoid interface{} wherever
// possible; the one deliberate exception is opaque tool payloads (see tool.go).
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an agent run.
type RunStatus string

const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusRunning         RunStatus = "running"
	RunStatusWaitingApproval RunStatus = "waiting_approval"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
)

// Terminal reports whether the status is final. Terminal runs are immutable.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// Step identifies the executor's current position in the step graph.
type Step string

const (
	StepLoadContext    Step = "load_context"
	StepPlan           Step = "plan"
	StepThink          Step = "think"
	StepTools          Step = "tools"
	StepProcessResults Step = "process_results"
	StepFinalizing     Step = "finalizing"
	StepCompleted      Step = "completed"
)

// AgentRun is one execution attempt of a conversation turn.
//
// The run ID is unique per attempt; the thread ID is stable per conversation
// and is the key used for state restoration. Resumption must always key on
// ThreadID, never on the per-attempt run ID.
type AgentRun struct {
	ID             uuid.UUID        `json:"id"`
	ThreadID       string           `json:"thread_id"`
	ConversationID uuid.UUID        `json:"conversation_id"`
	UserID         uuid.UUID        `json:"user_id"`
	Status         RunStatus        `json:"status"`
	CurrentStep    Step             `json:"current_step"`
	Model          string           `json:"model"`
	Temperature    float32          `json:"temperature"`
	Todos          []Todo           `json:"todos"`
	ToolHistory    []ToolInvocation `json:"tool_history"`
	ResponseText   string           `json:"response_text"`
	InputTokens    int64            `json:"input_tokens"`
	OutputTokens   int64            `json:"output_tokens"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
}

// User is the minimal account projection the engine needs: plan for limits
// and creation time for the billing-period anchor.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Plan      PlanName  `json:"plan"`
	CreatedAt time.Time `json:"created_at"`
}

// PlanName is a subscription tier.
type PlanName string

const (
	PlanFree       PlanName = "FREE"
	PlanPro        PlanName = "PRO"
	PlanEnterprise PlanName = "ENTERPRISE"
)

// ConversationMessage is one persisted chat message.
type ConversationMessage struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	RunID          *uuid.UUID `json:"run_id,omitempty"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	ModelName      string     `json:"model_name,omitempty"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
	CreatedAt      time.Time  `json:"created_at"`
}
