package agent

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// connRegistry tracks the live WebSocket of each session. A session has at
// most one; a newer connection replaces the older one.
type connRegistry struct {
	mu     sync.Mutex
	active map[string]*websocket.Conn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{active: make(map[string]*websocket.Conn)}
}

func (m *connRegistry) register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	existing, ok := m.active[sessionID]
	m.active[sessionID] = conn
	m.mu.Unlock()

	if ok && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "session replaced")
	}
	slog.Debug("WebSocket session registered", "session_id", sessionID)
}

func (m *connRegistry) unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[sessionID]; ok && current == conn {
		delete(m.active, sessionID)
		slog.Debug("WebSocket session unregistered", "session_id", sessionID)
	}
}

// close terminates the session's connection, if any.
func (m *connRegistry) close(sessionID, reason string) {
	m.mu.Lock()
	conn, ok := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, reason)
		slog.Info("WebSocket session closed", "session_id", sessionID, "reason", reason)
	}
}
