// Package tools implements the agent's tool surface: company search and
// lookup, email drafting, and exports. Tools declare their interface with MCP
// schemas and are dispatched by name through a registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/quota"
	"github.com/prospecta-ai/prospecta/internal/telemetry"
)

var toolMeter = telemetry.Meter("prospecta/tools")

// Result is the terminal outcome of one tool execution. A failed result is
// data, not an error: it is recorded in the ledger and shown to the model,
// which decides how to proceed.
type Result struct {
	Success      bool            `json:"success"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Fail builds a failed result with a formatted message.
func Fail(format string, args ...any) Result {
	return Result{Success: false, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Ok builds a successful result, encoding v as the output payload.
func Ok(v any) Result {
	out, err := json.Marshal(v)
	if err != nil {
		return Fail("encode output: %v", err)
	}
	return Result{Success: true, Output: out}
}

// Tool is one named capability exposed to the model.
type Tool interface {
	// Definition declares the tool's name, description, and input schema.
	Definition() mcp.Tool
	// Gated reports whether execution requires prior human approval.
	Gated() bool
	// Execute runs the tool. Errors that the model can act on come back as
	// failed Results; an error return means the tool itself broke.
	Execute(ctx context.Context, user model.User, args json.RawMessage) Result
}

// QuotaGate is the admission-control contract tools use before consuming a
// metered resource. *quota.Service satisfies it.
type QuotaGate interface {
	CheckAndReserve(ctx context.Context, user model.User, kind model.UsageKind) (quota.Decision, error)
}

// Registry dispatches tool calls by name and answers approval-policy queries.
type Registry struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates a registry over the given tools. Registration order is
// preserved in Definitions so the model always sees a stable tool list.
func NewRegistry(logger *slog.Logger, tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools)), logger: logger}
	for _, t := range tools {
		name := t.Definition().Name
		r.tools[name] = t
		r.order = append(r.order, name)
	}
	return r
}

// Definitions returns the MCP declarations for every registered tool.
func (r *Registry) Definitions() []mcp.Tool {
	defs := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Gated reports whether the named tool requires human approval. Unknown
// tools are not gated; they fail at execution instead.
func (r *Registry) Gated(name string) bool {
	t, ok := r.tools[name]
	return ok && t.Gated()
}

// Execute dispatches a call to the named tool. Unknown tool names produce a
// failed result so the model can correct itself.
func (r *Registry) Execute(ctx context.Context, user model.User, name string, args json.RawMessage) Result {
	t, ok := r.tools[name]
	if !ok {
		return Fail("unknown tool %q", name)
	}
	res := t.Execute(ctx, user, args)
	r.logger.Debug("tools: executed", "tool", name, "success", res.Success, "user_id", user.ID)
	if counter, err := toolMeter.Int64Counter("agent.tool.invocations"); err == nil {
		counter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("tool", name),
			attribute.Bool("success", res.Success),
		))
	}
	return res
}
