package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/tools"
)

func call(id, name string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Args: json.RawMessage(`{"query":"acme"}`)}
}

func TestLedgerRecordCallAndResult(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.RecordCall(call("c1", "search_companies")))
	require.NoError(t, l.RecordResult("c1", tools.Ok(map[string]int{"count": 3})))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, model.InvocationCall, entries[0].Kind)
	assert.Equal(t, model.InvocationResult, entries[1].Kind)
	assert.Equal(t, "c1", entries[1].CallID)
	require.NotNil(t, entries[1].Success)
	assert.True(t, *entries[1].Success)
}

func TestLedgerTimestampsUTC(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.RecordCall(call("c1", "search_companies")))
	require.NoError(t, l.RecordResult("c1", tools.Ok(nil)))

	// Entries get serialized into the checkpoint; UTC stamps keep them
	// comparable after the JSON round-trip.
	for _, e := range l.Entries() {
		assert.Equal(t, time.UTC, e.Timestamp.Location())
	}
}

func TestLedgerDuplicateCallRejected(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.RecordCall(call("c1", "search_companies")))
	assert.Error(t, l.RecordCall(call("c1", "search_companies")))
}

func TestLedgerResultIdempotent(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.RecordCall(call("c1", "search_companies")))
	require.NoError(t, l.RecordResult("c1", tools.Ok("first")))
	// A replayed result is silently dropped; the ledger keeps the first.
	require.NoError(t, l.RecordResult("c1", tools.Fail("second")))

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.True(t, *entries[1].Success)
}

func TestLedgerResultForUnknownCall(t *testing.T) {
	l := NewLedger()
	assert.Error(t, l.RecordResult("ghost", tools.Ok(nil)))
}

func TestLedgerOutstanding(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.RecordCall(call("c1", "search_companies")))
	require.NoError(t, l.RecordCall(call("c2", "get_company_details")))
	require.NoError(t, l.RecordResult("c1", tools.Ok(nil)))

	out := l.Outstanding()
	require.Len(t, out, 1)
	assert.Equal(t, "c2", out[0].ID)
	assert.True(t, l.HasResult("c1"))
	assert.False(t, l.HasResult("c2"))
}

func TestLedgerRestoreRoundTrip(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.RecordCall(call("c1", "search_companies")))
	require.NoError(t, l.RecordCall(call("c2", "draft_email")))
	require.NoError(t, l.RecordResult("c1", tools.Fail("boom")))

	restored := RestoreLedger(l.Entries())
	assert.Equal(t, l.Len(), restored.Len())
	assert.True(t, restored.HasResult("c1"))
	require.Len(t, restored.Outstanding(), 1)
	assert.Equal(t, "c2", restored.Outstanding()[0].ID)

	// The restored ledger keeps enforcing uniqueness and idempotency.
	assert.Error(t, restored.RecordCall(call("c1", "search_companies")))
	require.NoError(t, restored.RecordResult("c1", tools.Ok(nil)))
	assert.Equal(t, l.Len(), restored.Len())
}
