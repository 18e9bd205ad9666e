package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageKind selects which period counter an admission check reserves against.
type UsageKind string

const (
	UsageSearch UsageKind = "search"
	UsageExport UsageKind = "export"
	UsagePrompt UsageKind = "prompt"
)

// Usage is one user's counters for one billing period. Counters only grow
// within a period; a period rollover creates a fresh row.
type Usage struct {
	UserID             uuid.UUID `json:"user_id"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	Searches           int       `json:"searches"`
	Exports            int       `json:"exports"`
	Prompts            int       `json:"prompts"`
	PromptInputTokens  int64     `json:"prompt_input_tokens"`
	PromptOutputTokens int64     `json:"prompt_output_tokens"`
	PromptDollars      float64   `json:"prompt_dollars"`
}

// PlanLimits holds the per-period ceilings for a subscription tier.
// A limit of 0 means unlimited.
type PlanLimits struct {
	Searches int `json:"searches"`
	Exports  int `json:"exports"`
	Prompts  int `json:"prompts"`
}
