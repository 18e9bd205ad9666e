package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prospecta-ai/prospecta/internal/model"
)

type recordingGateStore struct {
	ttl    time.Duration
	reason string
}

func (s *recordingGateStore) CreateWaitToken(_ context.Context, runID uuid.UUID, callID, toolName, reason string, ttl time.Duration) (model.WaitToken, error) {
	s.ttl = ttl
	s.reason = reason
	now := time.Now().UTC()
	return model.WaitToken{
		ID:        uuid.New(),
		RunID:     runID,
		CallID:    callID,
		ToolName:  toolName,
		Reason:    reason,
		State:     model.ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}, nil
}

func TestGateSuspend(t *testing.T) {
	store := &recordingGateStore{}
	gate := NewGate(store, time.Hour)
	runID := uuid.New()

	tok, err := gate.Suspend(context.Background(), runID, call("c1", "draft_email"))
	require.NoError(t, err)
	assert.Equal(t, runID, tok.RunID)
	assert.Equal(t, "c1", tok.CallID)
	assert.Equal(t, "draft_email", tok.ToolName)
	assert.Equal(t, model.ApprovalPending, tok.State)
	assert.Equal(t, time.Hour, store.ttl)
	assert.Contains(t, store.reason, "draft_email")
}

func TestGateDefaultTTL(t *testing.T) {
	store := &recordingGateStore{}
	gate := NewGate(store, 0)

	_, err := gate.Suspend(context.Background(), uuid.New(), call("c1", "export_companies"))
	require.NoError(t, err)
	assert.Equal(t, DefaultApprovalTTL, store.ttl)
}
