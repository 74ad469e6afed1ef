package agent

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/fleetguard/internal/identity"
	"github.com/coder/websocket"
)

// wsMessage is one inbound WebSocket frame. Type defaults to "turn".
type wsMessage struct {
	Type string `json:"type,omitempty"`
	TurnRequest
}

type wsReply struct {
	Type   string `json:"type"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
	*TurnResponse
}

// HandleWebSocket handles GET /api/agent/ws. Each text frame carries a
// TurnRequest and is answered with one TurnResponse frame, in order.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	operator := identity.OperatorFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if operator == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "operator", operator, "session_id", sessionID, "ip", r.RemoteAddr)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "operator", operator)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "operator", operator)
		}
	}()
	ws.SetReadLimit(h.maxBody)

	h.conns.register(sessionID, ws)
	defer h.conns.unregister(sessionID, ws)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "operator", operator)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "operator", operator)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if err := h.writeJSON(ctx, ws, wsReply{Type: "error", Error: "invalid message", Status: http.StatusBadRequest}); err != nil {
				return
			}
			continue
		}

		var reply wsReply
		switch msg.Type {
		case "ping":
			reply = wsReply{Type: "pong"}
		case "", "turn":
			reply = h.wsTurn(ctx, r, operator, sessionID, msg.TurnRequest)
		default:
			reply = wsReply{Type: "error", Error: "unknown message type", Status: http.StatusBadRequest}
		}
		if err := h.writeJSON(ctx, ws, reply); err != nil {
			h.logger.Debug("WebSocket write error", "error", err, "operator", operator)
			return
		}
	}
}

func (h *Handler) wsTurn(ctx context.Context, r *http.Request, operator, sessionID string, req TurnRequest) wsReply {
	if !h.rateLimiter.Allow(rateKey(r)) {
		return wsReply{Type: "error", Error: "rate limit exceeded", Status: http.StatusTooManyRequests}
	}
	if req.SessionID == "" || !identity.ValidSessionID(req.SessionID) {
		req.SessionID = sessionID
	}
	resp, err := h.service.HandleTurn(ctx, operator, req)
	if err != nil {
		status, msg := errorStatus(err)
		return wsReply{Type: "error", Error: msg, Status: status}
	}
	return wsReply{Type: "turn", TurnResponse: resp}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
