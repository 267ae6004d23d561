package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/yungbote/neurobridge-rag/internal/domain"
	"github.com/yungbote/neurobridge-rag/internal/platform/logger"
)

func TestDecodeEventRejectsUnknownStatus(t *testing.T) {
	_, err := decodeEvent(`{"document_id":"` + uuid.NewString() + `","status":"WEIRD"}`)
	assert.Error(t, err)

	ev, err := decodeEvent(`{"document_id":"` + uuid.NewString() + `","status":"PROCESSING","processed_chunks":2}`)
	require.NoError(t, err)
	assert.Equal(t, types.DocumentProcessing, ev.Status)
	assert.Equal(t, 2, ev.ProcessedChunks)
}

func TestProgressBusRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}
	bus, err := NewProgressBus(Config{Addr: addr, Channel: "test-progress-" + uuid.NewString()}, logger.Nop())
	require.NoError(t, err)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan types.ProgressEvent, 1)
	require.NoError(t, bus.StartForwarder(ctx, func(ev types.ProgressEvent) { got <- ev }))

	want := types.ProgressEvent{DocumentID: uuid.New(), Status: types.DocumentCompleted, ProcessedChunks: 3, At: time.Now().UTC()}
	require.NoError(t, bus.Publish(ctx, want))

	select {
	case ev := <-got:
		assert.Equal(t, want.DocumentID, ev.DocumentID)
		assert.Equal(t, types.DocumentCompleted, ev.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for progress event")
	}
}
