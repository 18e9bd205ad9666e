package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/prospecta-ai/prospecta/internal/testutil"
)

func TestBrokerSubscribeBufferSize(t *testing.T) {
	b := NewBroker(nil, 8, testutil.TestLogger())
	ch := b.Subscribe(uuid.Nil)
	defer b.Unsubscribe(ch)
	assert.Equal(t, 8, cap(ch))
}

func TestBrokerDefaultBufferSize(t *testing.T) {
	b := NewBroker(nil, 0, testutil.TestLogger())
	ch := b.Subscribe(uuid.Nil)
	defer b.Unsubscribe(ch)
	assert.Equal(t, 64, cap(ch))
}

func TestBrokerBroadcastFiltersByRun(t *testing.T) {
	b := NewBroker(nil, 4, testutil.TestLogger())
	runID := uuid.New()

	matching := b.Subscribe(runID)
	defer b.Unsubscribe(matching)
	other := b.Subscribe(uuid.New())
	defer b.Unsubscribe(other)
	wildcard := b.Subscribe(uuid.Nil)
	defer b.Unsubscribe(wildcard)

	event := formatSSE("run", `{"status":"running"}`)
	b.broadcast(runID, event)

	assert.Equal(t, event, <-matching)
	assert.Equal(t, event, <-wildcard)
	assert.Empty(t, other, "subscriber for another run must not receive the event")
}

func TestBrokerBroadcastSkipsFullSubscriber(t *testing.T) {
	b := NewBroker(nil, 1, testutil.TestLogger())
	ch := b.Subscribe(uuid.Nil)
	defer b.Unsubscribe(ch)

	b.broadcast(uuid.New(), []byte("first"))
	// Buffer is full; the second event is dropped instead of blocking.
	b.broadcast(uuid.New(), []byte("second"))

	assert.Len(t, ch, 1)
	assert.Equal(t, []byte("first"), <-ch)
}

func TestFormatSSE(t *testing.T) {
	got := formatSSE("run", `{"status":"queued"}`)
	assert.Equal(t, "event: run\ndata: {\"status\":\"queued\"}\n\n", string(got))
}
