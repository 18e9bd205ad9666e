// Package llm abstracts the language model behind a provider interface so the
// engine can be driven by fakes in tests and by Gemini in production.
package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
)

// Role values for conversation messages.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// PlanToolName is the synthetic function the model calls to publish or revise
// its todo plan. Providers intercept it and surface the items on Turn.Plan
// instead of the tool-call list; it never reaches the tool runner.
const PlanToolName = "update_plan"

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ToolResult is the outcome of an executed tool call, fed back to the model.
type ToolResult struct {
	CallID       string          `json:"call_id"`
	Name         string          `json:"name"`
	Output       json.RawMessage `json:"output,omitempty"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Message is one entry in the conversation transcript sent to the model.
// Exactly one of Text, ToolCalls, or ToolResults is normally set.
type Message struct {
	Role        string       `json:"role"`
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// Request is one model invocation.
type Request struct {
	Model       string
	Temperature float32
	System      string
	Messages    []Message
	Tools       []mcp.Tool
}

// Turn is the model's reply to a request. A turn with no tool calls is a
// final answer. Plan carries todo descriptions when the model published or
// revised its plan this turn.
type Turn struct {
	Text         string
	ToolCalls    []ToolCall
	Plan         []string
	InputTokens  int64
	OutputTokens int64
}

// Provider generates model turns.
type Provider interface {
	Generate(ctx context.Context, req Request) (Turn, error)
}

// transientError marks provider failures worth retrying (rate limits,
// upstream 5xx). Wrap with MarkTransient; classify with IsTransient.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// MarkTransient wraps err so IsTransient reports true for it.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether a provider error is worth retrying. Context
// cancellation is never transient: the caller's deadline is the wall clock.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var te *transientError
	return errors.As(err, &te)
}
