package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// CreateWaitToken records a pending approval for a gated tool call.
// The partial unique index on (run_id) WHERE state = 'pending' enforces
// at most one unresolved token per suspended run.
func (db *DB) CreateWaitToken(ctx context.Context, runID uuid.UUID, callID, toolName, reason string, ttl time.Duration) (model.WaitToken, error) {
	now := time.Now().UTC()
	tok := model.WaitToken{
		ID:        uuid.New(),
		RunID:     runID,
		CallID:    callID,
		ToolName:  toolName,
		Reason:    reason,
		State:     model.ApprovalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO wait_tokens (id, run_id, call_id, tool_name, reason, state, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tok.ID, tok.RunID, tok.CallID, tok.ToolName, tok.Reason, string(tok.State), tok.CreatedAt, tok.ExpiresAt,
	)
	if err != nil {
		return model.WaitToken{}, fmt.Errorf("storage: create wait token: %w", err)
	}
	return tok, nil
}

// GetWaitToken retrieves a wait token by ID.
func (db *DB) GetWaitToken(ctx context.Context, id uuid.UUID) (model.WaitToken, error) {
	var tok model.WaitToken
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, call_id, tool_name, reason, state, created_at, expires_at, resolved_at
		 FROM wait_tokens WHERE id = $1`, id,
	).Scan(&tok.ID, &tok.RunID, &tok.CallID, &tok.ToolName, &tok.Reason, &tok.State,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WaitToken{}, ErrNotFound
		}
		return model.WaitToken{}, fmt.Errorf("storage: get wait token: %w", err)
	}
	return tok, nil
}

// GetPendingWaitToken returns the run's unresolved token, if any. At most one
// exists per run.
func (db *DB) GetPendingWaitToken(ctx context.Context, runID uuid.UUID) (model.WaitToken, error) {
	var tok model.WaitToken
	err := db.pool.QueryRow(ctx,
		`SELECT id, run_id, call_id, tool_name, reason, state, created_at, expires_at, resolved_at
		 FROM wait_tokens WHERE run_id = $1 AND state = 'pending'`, runID,
	).Scan(&tok.ID, &tok.RunID, &tok.CallID, &tok.ToolName, &tok.Reason, &tok.State,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WaitToken{}, ErrNotFound
		}
		return model.WaitToken{}, fmt.Errorf("storage: get pending wait token: %w", err)
	}
	return tok, nil
}

// ResolveWaitToken consumes a pending token exactly once. The guarded UPDATE
// means two concurrent resolves cannot both succeed: the loser gets
// ErrTokenResolved (or ErrNotFound if the token never existed).
func (db *DB) ResolveWaitToken(ctx context.Context, id uuid.UUID, approved bool) (model.WaitToken, error) {
	state := model.ApprovalRejected
	if approved {
		state = model.ApprovalApproved
	}
	now := time.Now().UTC()

	var tok model.WaitToken
	err := db.pool.QueryRow(ctx,
		`UPDATE wait_tokens SET state = $2, resolved_at = $3
		 WHERE id = $1 AND state = 'pending' AND expires_at > $3
		 RETURNING id, run_id, call_id, tool_name, reason, state, created_at, expires_at, resolved_at`,
		id, string(state), now,
	).Scan(&tok.ID, &tok.RunID, &tok.CallID, &tok.ToolName, &tok.Reason, &tok.State,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, lookupErr := db.GetWaitToken(ctx, id); errors.Is(lookupErr, ErrNotFound) {
				return model.WaitToken{}, ErrNotFound
			}
			return model.WaitToken{}, ErrTokenResolved
		}
		return model.WaitToken{}, fmt.Errorf("storage: resolve wait token: %w", err)
	}
	return tok, nil
}

// ExpireWaitTokens marks pending tokens past their expiry as rejected and
// returns them so the supervisor can resume the suspended runs. Expiry is
// modeled as rejection: the gated call fails and the run proceeds.
func (db *DB) ExpireWaitTokens(ctx context.Context, now time.Time) ([]model.WaitToken, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE wait_tokens SET state = 'rejected', resolved_at = $1
		 WHERE state = 'pending' AND expires_at <= $1
		 RETURNING id, run_id, call_id, tool_name, reason, state, created_at, expires_at, resolved_at`,
		now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: expire wait tokens: %w", err)
	}
	defer rows.Close()

	var toks []model.WaitToken
	for rows.Next() {
		var tok model.WaitToken
		if err := rows.Scan(&tok.ID, &tok.RunID, &tok.CallID, &tok.ToolName, &tok.Reason, &tok.State,
			&tok.CreatedAt, &tok.ExpiresAt, &tok.ResolvedAt); err != nil {
			return nil, fmt.Errorf("storage: scan expired token: %w", err)
		}
		toks = append(toks, tok)
	}
	return toks, rows.Err()
}
