package engine

import (
	"fmt"
	"time"

	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/tools"
)

// Ledger is the append-only record of tool activity for one run. Every call
// gets exactly one entry when issued and at most one result entry when it
// finishes. Entries are never mutated or removed.
type Ledger struct {
	entries []model.ToolInvocation
	calls   map[string]llm.ToolCall
	results map[string]bool
	now     func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		calls:   make(map[string]llm.ToolCall),
		results: make(map[string]bool),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RestoreLedger rebuilds a ledger from persisted entries, e.g. when resuming
// a suspended run.
func RestoreLedger(entries []model.ToolInvocation) *Ledger {
	l := NewLedger()
	for _, e := range entries {
		l.entries = append(l.entries, e)
		switch e.Kind {
		case model.InvocationCall:
			l.calls[e.CallID] = llm.ToolCall{ID: e.CallID, Name: e.ToolName, Args: e.Input}
		case model.InvocationResult:
			l.results[e.CallID] = true
		}
	}
	return l
}

// RecordCall appends a call entry. Call IDs are unique per run; a duplicate
// is a protocol violation from the model and is rejected.
func (l *Ledger) RecordCall(call llm.ToolCall) error {
	if _, ok := l.calls[call.ID]; ok {
		return fmt.Errorf("engine: duplicate tool call id %q", call.ID)
	}
	l.calls[call.ID] = call
	l.entries = append(l.entries, model.ToolInvocation{
		CallID:    call.ID,
		ToolName:  call.Name,
		Kind:      model.InvocationCall,
		Input:     call.Args,
		Timestamp: l.now(),
	})
	return nil
}

// RecordResult appends a result entry for a previously recorded call. It is
// idempotent: recording a result twice for the same call is a no-op, which
// makes replay after resumption safe. A result for an unknown call is an
// error.
func (l *Ledger) RecordResult(callID string, res tools.Result) error {
	call, ok := l.calls[callID]
	if !ok {
		return fmt.Errorf("engine: result for unknown call id %q", callID)
	}
	if l.results[callID] {
		return nil
	}
	l.results[callID] = true

	success := res.Success
	entry := model.ToolInvocation{
		CallID:    callID,
		ToolName:  call.Name,
		Kind:      model.InvocationResult,
		Output:    res.Output,
		Success:   &success,
		Timestamp: l.now(),
	}
	if res.ErrorMessage != "" {
		msg := res.ErrorMessage
		entry.ErrorMessage = &msg
	}
	l.entries = append(l.entries, entry)
	return nil
}

// HasResult reports whether the call already has a recorded result.
func (l *Ledger) HasResult(callID string) bool { return l.results[callID] }

// Outstanding returns the calls that have no result yet, in issue order.
func (l *Ledger) Outstanding() []llm.ToolCall {
	var out []llm.ToolCall
	for _, e := range l.entries {
		if e.Kind == model.InvocationCall && !l.results[e.CallID] {
			out = append(out, l.calls[e.CallID])
		}
	}
	return out
}

// Entries returns a copy of the full ledger in append order.
func (l *Ledger) Entries() []model.ToolInvocation {
	out := make([]model.ToolInvocation, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of ledger entries.
func (l *Ledger) Len() int { return len(l.entries) }
