package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// UpsertConversationTodos mirrors a run's todo list into the normalized
// conversation_todos table, one row per todo, keyed by (run_id, todo_id).
// This complements agent_runs.todos (jsonb) so conversations survive reloads.
func (db *DB) UpsertConversationTodos(ctx context.Context, runID, conversationID uuid.UUID, todos []model.Todo) error {
	if len(todos) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range todos {
		batch.Queue(
			`INSERT INTO conversation_todos
			   (run_id, conversation_id, todo_id, description, status, sort_order, created_at, completed_at, error_message, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
			 ON CONFLICT (run_id, todo_id) DO UPDATE SET
			   description   = EXCLUDED.description,
			   status        = EXCLUDED.status,
			   sort_order    = EXCLUDED.sort_order,
			   completed_at  = EXCLUDED.completed_at,
			   error_message = EXCLUDED.error_message,
			   updated_at    = now()`,
			runID, conversationID, t.ID, t.Description, string(t.Status),
			t.Position, t.CreatedAt, t.CompletedAt, t.ErrorMessage,
		)
	}

	results := db.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range todos {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("storage: upsert conversation todos: %w", err)
		}
	}
	return nil
}

// ListConversationTodos returns the todos recorded for a conversation,
// ordered by run creation then sort order.
func (db *DB) ListConversationTodos(ctx context.Context, conversationID uuid.UUID) ([]model.Todo, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT todo_id, description, status, sort_order, created_at, completed_at, error_message
		 FROM conversation_todos
		 WHERE conversation_id = $1
		 ORDER BY created_at, sort_order`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list conversation todos: %w", err)
	}
	defer rows.Close()

	var todos []model.Todo
	for rows.Next() {
		var t model.Todo
		if err := rows.Scan(&t.ID, &t.Description, &t.Status, &t.Position, &t.CreatedAt, &t.CompletedAt, &t.ErrorMessage); err != nil {
			return nil, fmt.Errorf("storage: scan conversation todo: %w", err)
		}
		todos = append(todos, t)
	}
	return todos, rows.Err()
}
