package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/prospecta-ai/prospecta/internal/model"
)

// InsertConversationMessage persists a chat message. The supervisor writes
// the assistant's final answer here after a run completes.
func (db *DB) InsertConversationMessage(ctx context.Context, msg model.ConversationMessage) (model.ConversationMessage, error) {
	msg.ID = uuid.New()
	msg.CreatedAt = time.Now().UTC()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversation_messages
		   (id, conversation_id, run_id, role, content, model_name, input_tokens, output_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.ConversationID, msg.RunID, msg.Role, msg.Content,
		msg.ModelName, msg.InputTokens, msg.OutputTokens, msg.CreatedAt,
	)
	if err != nil {
		return model.ConversationMessage{}, fmt.Errorf("storage: insert conversation message: %w", err)
	}
	return msg, nil
}

// ListConversationMessages returns a conversation's messages in order.
func (db *DB) ListConversationMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]model.ConversationMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, conversation_id, run_id, role, content, model_name, input_tokens, output_tokens, created_at
		 FROM conversation_messages
		 WHERE conversation_id = $1
		 ORDER BY created_at
		 LIMIT $2`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list conversation messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.RunID, &m.Role, &m.Content,
			&m.ModelName, &m.InputTokens, &m.OutputTokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan conversation message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
