package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prospecta-ai/prospecta/internal/model"
	"github.com/prospecta-ai/prospecta/internal/storage"
)

// Sink receives run-state publications. Publications are partial and
// idempotent: replaying one is harmless. The production sink writes to
// Postgres, whose trigger feeds the change stream; tests substitute a
// recorder.
type Sink interface {
	Publish(ctx context.Context, run model.AgentRun, upd storage.RunUpdate) error
}

// DBPublisher writes run-state updates to Postgres with bounded retries and
// mirrors todo changes into the normalized conversation_todos table.
type DBPublisher struct {
	db     *storage.DB
	logger *slog.Logger
}

// NewDBPublisher creates the production publisher.
func NewDBPublisher(db *storage.DB, logger *slog.Logger) *DBPublisher {
	return &DBPublisher{db: db, logger: logger}
}

// Publish applies the update to the run row. Serialization conflicts retry
// with backoff; the update itself is safe to replay since nil fields are
// untouched and jsonb fields are whole-value writes.
func (p *DBPublisher) Publish(ctx context.Context, run model.AgentRun, upd storage.RunUpdate) error {
	err := storage.WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		return p.db.UpdateRun(ctx, run.ID, upd)
	})
	if err != nil {
		return fmt.Errorf("engine: publish run state: %w", err)
	}

	if upd.Todos != nil {
		if err := p.db.UpsertConversationTodos(ctx, run.ID, run.ConversationID, upd.Todos); err != nil {
			// The jsonb copy on agent_runs already has the todos; the mirror
			// table catches up on the next publication.
			p.logger.Warn("engine: mirror todos", "run_id", run.ID, "error", err)
		}
	}
	return nil
}
