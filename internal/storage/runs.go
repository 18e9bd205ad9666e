package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// CreateRun inserts a new queued agent run and returns it.
func (db *DB) CreateRun(ctx context.Context, req model.CreateRunRequest, modelName string, temperature float32) (model.AgentRun, error) {
	run := model.AgentRun{
		ID:             uuid.New(),
		ThreadID:       req.ThreadID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Status:         model.RunStatusQueued,
		CurrentStep:    model.StepLoadContext,
		Model:          modelName,
		Temperature:    temperature,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO agent_runs (id, thread_id, conversation_id, user_id, status, current_step, model, temperature, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.ThreadID, run.ConversationID, run.UserID,
		string(run.Status), string(run.CurrentStep), run.Model, run.Temperature, run.CreatedAt,
	)
	if err != nil {
		return model.AgentRun{}, fmt.Errorf("storage: create run: %w", err)
	}
	return run, nil
}

// ClaimRun transitions a queued run to running, enforcing the single-active-run
// invariant: at most one running or waiting_approval run per thread. Returns
// ErrRunConflict when another run on the thread is active, ErrNotFound when
// the run is missing or no longer queued.
func (db *DB) ClaimRun(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs SET status = 'running', started_at = $2
		 WHERE id = $1 AND status = 'queued'
		   AND NOT EXISTS (
		     SELECT 1 FROM agent_runs other
		     WHERE other.thread_id = agent_runs.thread_id
		       AND other.id <> agent_runs.id
		       AND other.status IN ('running', 'waiting_approval')
		   )`,
		id, now,
	)
	if err != nil {
		return fmt.Errorf("storage: claim run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a busy thread from a missing/started run.
		var status string
		err := db.pool.QueryRow(ctx, `SELECT status FROM agent_runs WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("storage: claim run lookup: %w", err)
		}
		if status == string(model.RunStatusQueued) {
			return ErrRunConflict
		}
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID.
func (db *DB) GetRun(ctx context.Context, id uuid.UUID) (model.AgentRun, error) {
	var (
		run         model.AgentRun
		todosJSON   []byte
		historyJSON []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, thread_id, conversation_id, user_id, status, current_step, model, temperature,
		        todos, tool_history, response_text, input_tokens, output_tokens,
		        error_message, created_at, started_at, completed_at
		 FROM agent_runs WHERE id = $1`, id,
	).Scan(
		&run.ID, &run.ThreadID, &run.ConversationID, &run.UserID, &run.Status, &run.CurrentStep,
		&run.Model, &run.Temperature, &todosJSON, &historyJSON, &run.ResponseText,
		&run.InputTokens, &run.OutputTokens, &run.ErrorMessage,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.AgentRun{}, ErrNotFound
		}
		return model.AgentRun{}, fmt.Errorf("storage: get run: %w", err)
	}
	if len(todosJSON) > 0 {
		if err := json.Unmarshal(todosJSON, &run.Todos); err != nil {
			return model.AgentRun{}, fmt.Errorf("storage: decode run todos: %w", err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &run.ToolHistory); err != nil {
			return model.AgentRun{}, fmt.Errorf("storage: decode run tool history: %w", err)
		}
	}
	return run, nil
}

// RunUpdate is a partial update of a run's externally observable state.
// Nil fields are left untouched, so every write is idempotent-safe to retry.
type RunUpdate struct {
	Status       *model.RunStatus
	CurrentStep  *model.Step
	Todos        []model.Todo
	ToolHistory  []model.ToolInvocation
	ResponseText *string
	InputTokens  *int64
	OutputTokens *int64
	ErrorMessage *string
	Context      json.RawMessage // executor checkpoint for resumption, keyed by thread
	CompletedAt  *time.Time
}

// UpdateRun applies a partial update to a non-terminal run. Terminal runs are
// immutable; updating one returns ErrRunTerminal.
func (db *DB) UpdateRun(ctx context.Context, id uuid.UUID, upd RunUpdate) error {
	var todosJSON, historyJSON []byte
	var err error
	if upd.Todos != nil {
		if todosJSON, err = json.Marshal(upd.Todos); err != nil {
			return fmt.Errorf("storage: encode todos: %w", err)
		}
	}
	if upd.ToolHistory != nil {
		if historyJSON, err = json.Marshal(upd.ToolHistory); err != nil {
			return fmt.Errorf("storage: encode tool history: %w", err)
		}
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs SET
		   status        = COALESCE($2, status),
		   current_step  = COALESCE($3, current_step),
		   todos         = COALESCE($4, todos),
		   tool_history  = COALESCE($5, tool_history),
		   response_text = COALESCE($6, response_text),
		   input_tokens  = COALESCE($7, input_tokens),
		   output_tokens = COALESCE($8, output_tokens),
		   error_message = COALESCE($9, error_message),
		   context       = COALESCE($10, context),
		   completed_at  = COALESCE($11, completed_at)
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id,
		statusPtr(upd.Status), stepPtr(upd.CurrentStep), todosJSON, historyJSON,
		upd.ResponseText, upd.InputTokens, upd.OutputTokens, upd.ErrorMessage,
		upd.Context, upd.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := db.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM agent_runs WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("storage: update run lookup: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrRunTerminal
	}
	return nil
}

// ResumeRun transitions a run from waiting_approval back to running.
func (db *DB) ResumeRun(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agent_runs SET status = 'running' WHERE id = $1 AND status = 'waiting_approval'`, id,
	)
	if err != nil {
		return fmt.Errorf("storage: resume run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailRun marks a run failed with a human-readable message. A no-op for
// already-terminal runs (the first terminal write wins).
func (db *DB) FailRun(ctx context.Context, id uuid.UUID, msg string) error {
	now := time.Now().UTC()
	_, err := db.pool.Exec(ctx,
		`UPDATE agent_runs SET status = 'failed', error_message = $2, completed_at = $3
		 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		id, msg, now,
	)
	if err != nil {
		return fmt.Errorf("storage: fail run: %w", err)
	}
	return nil
}

// GetRunContext returns the persisted executor checkpoint for a run.
func (db *DB) GetRunContext(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT context FROM agent_runs WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get run context: %w", err)
	}
	return raw, nil
}

func statusPtr(s *model.RunStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func stepPtr(s *model.Step) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
