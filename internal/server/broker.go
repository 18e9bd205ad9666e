package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/prospecta-ai/prospecta/internal/storage"
)

// runEvent is the payload emitted by the agent_runs trigger.
type runEvent struct {
	RunID  uuid.UUID `json:"run_id"`
	Status string    `json:"status"`
	Step   string    `json:"step"`
}

// Broker fans out Postgres LISTEN/NOTIFY run-state changes to SSE
// subscribers. It runs a background goroutine that waits for notifications
// and routes each payload to the subscribers watching that run.
type Broker struct {
	db     *storage.DB
	buffer int
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]uuid.UUID
}

// NewBroker creates an SSE broker. bufferSize is the per-subscriber channel
// capacity; values <= 0 fall back to 64. Call Start to begin listening.
func NewBroker(db *storage.DB, bufferSize int, logger *slog.Logger) *Broker {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broker{
		db:          db,
		buffer:      bufferSize,
		logger:      logger,
		subscribers: make(map[chan []byte]uuid.UUID),
	}
}

// Start begins listening on the runs channel. It blocks, so call it in a
// goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelRuns); err != nil {
		b.logger.Error("broker: listen runs", "error", err)
		return
	}
	b.logger.Info("broker: listening for run notifications", "channel", storage.ChannelRuns)

	for {
		_, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}

		var ev runEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			b.logger.Warn("broker: malformed run notification", "error", err)
			continue
		}
		b.broadcast(ev.RunID, formatSSE("run", payload))
	}
}

// Subscribe returns a channel receiving SSE-formatted events for one run.
// uuid.Nil subscribes to all runs. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(runID uuid.UUID) chan []byte {
	ch := make(chan []byte, b.buffer) // Buffered so a slow client cannot block the broadcast loop.
	b.mu.Lock()
	b.subscribers[ch] = runID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast routes an event to the run's subscribers. Slow subscribers with a
// full buffer are skipped so one slow client cannot block the rest.
func (b *Broker) broadcast(runID uuid.UUID, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch, filter := range b.subscribers {
		if filter != uuid.Nil && filter != runID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
