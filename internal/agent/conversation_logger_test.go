package agent

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []ConversationLogEvent {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []ConversationLogEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev ConversationLogEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestConversationLoggerWritesTurnsPerSessionAndGlobally(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "turns.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	require.NoError(t, err)

	logger.Log(ConversationLogEvent{
		UserID:    "op_1",
		SessionID: "s1",
		Channel:   "turn",
		Direction: "inbound",
		EventType: "turn_user_message",
		Content:   "Remove vehicle from Bulk - 00:01",
		Meta:      map[string]any{"page": "bus_dashboard"},
	})
	logger.Log(ConversationLogEvent{
		UserID:    "op_1",
		SessionID: "s1",
		Channel:   "turn",
		Direction: "outbound",
		EventType: "turn_assistant_message",
		Content:   "Trip 'Bulk - 00:01' is 25% booked. Proceed?",
		Meta:      map[string]any{"state": "AWAITING_CONFIRMATION", "pending_id": "p-1"},
	})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close(), "close is idempotent")

	events := readEvents(t, filepath.Join(dir, "op_1", "s1.ndjson"))
	require.Len(t, events, 2)
	assert.Equal(t, "turn_user_message", events[0].EventType)
	assert.NotEmpty(t, events[0].Timestamp)
	assert.Equal(t, "AWAITING_CONFIRMATION", events[1].Meta["state"])
	assert.Equal(t, "p-1", events[1].Meta["pending_id"])

	assert.Len(t, readEvents(t, global), 2)
}

func TestConversationLoggerDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	// No writer goroutine drains the queue.
	l := &fileConversationLogger{
		queue:  make(chan ConversationLogEvent, 1),
		logger: slog.Default(),
	}
	l.Log(ConversationLogEvent{EventType: "turn_user_message"})
	l.Log(ConversationLogEvent{EventType: "turn_assistant_message"})
	l.Log(ConversationLogEvent{EventType: "turn_model_error"})

	assert.Len(t, l.queue, 1)
	assert.Equal(t, int64(2), l.dropped.Load())
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, noopConversationLogger{}, logger)
	assert.NoError(t, logger.Close())
}

func TestSafePathPart(t *testing.T) {
	assert.Equal(t, "op_1", safePathPart("op_1", "unknown"))
	assert.Equal(t, ".._etc_passwd", safePathPart("../etc/passwd", "unknown"))
	assert.Equal(t, "unknown", safePathPart("..", "unknown"))
	assert.Equal(t, "default", safePathPart("", "default"))
}
