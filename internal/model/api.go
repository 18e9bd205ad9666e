package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// API error codes returned in error response bodies.
const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeNotFound      = "not_found"
	ErrCodeQuotaExceeded = "quota_exceeded"
	ErrCodeConflict      = "conflict"
	ErrCodeInternal      = "internal_error"
)

// MaxMessageLen bounds the user message so one request cannot fill the
// context window or the runs table with caller-controlled garbage.
const MaxMessageLen = 32 * 1024

// ChatMessage is one prior turn of the conversation, as supplied by the caller.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// CreateRunRequest starts a new agent run for a conversation turn.
type CreateRunRequest struct {
	ThreadID       string        `json:"thread_id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	UserID         uuid.UUID     `json:"user_id"`
	Message        string        `json:"message"`
	Model          string        `json:"model,omitempty"`
	Temperature    *float32      `json:"temperature,omitempty"`
	History        []ChatMessage `json:"history,omitempty"`
}

// Validate checks request fields before any state is created.
func (r CreateRunRequest) Validate() error {
	if strings.TrimSpace(r.ThreadID) == "" {
		return fmt.Errorf("model: thread_id is required")
	}
	if r.ConversationID == uuid.Nil {
		return fmt.Errorf("model: conversation_id is required")
	}
	if r.UserID == uuid.Nil {
		return fmt.Errorf("model: user_id is required")
	}
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("model: message is required")
	}
	if len(r.Message) > MaxMessageLen {
		return fmt.Errorf("model: message exceeds %d bytes", MaxMessageLen)
	}
	for _, m := range r.History {
		if m.Role != "user" && m.Role != "assistant" {
			return fmt.Errorf("model: history role must be user or assistant, got %q", m.Role)
		}
	}
	return nil
}

// ResolveApprovalRequest is the single external mutation a client may issue
// against a running agent: resolving a wait token.
type ResolveApprovalRequest struct {
	Approved bool `json:"approved"`
}

// ResponseMeta is attached to every API response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}
