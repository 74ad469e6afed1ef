// Package agent drives one operator turn through the model, the vision
// resolver and the guard, and serves it over HTTP and WebSocket.
package agent

import (
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/executor"
)

// TurnRequest is one operator message.
type TurnRequest struct {
	Text        string `json:"text"`
	PageContext string `json:"page_context"`
	SessionID   string `json:"session_id,omitempty"`
	// Image is base64 or a data URL.
	Image string `json:"image,omitempty"`
}

// TurnResponse is the system's answer to one turn.
type TurnResponse struct {
	SessionID            string                `json:"session_id"`
	Response             string                `json:"response"`
	AwaitingConfirmation bool                  `json:"awaiting_confirmation"`
	State                domain.ConfirmState   `json:"state"`
	Transitions          []domain.ConfirmState `json:"transitions,omitempty"`
	Pending              *domain.PendingAction `json:"pending,omitempty"`
	Vision               *domain.VisionContext `json:"vision,omitempty"`
	Result               *executor.Result      `json:"result,omitempty"`
	Tool                 string                `json:"tool,omitempty"`
}

// SessionView is the inspectable state of a session.
type SessionView struct {
	SessionID    string                `json:"session_id"`
	PageContext  string                `json:"page_context"`
	State        domain.ConfirmState   `json:"state"`
	Pending      *domain.PendingAction `json:"pending,omitempty"`
	Vision       *domain.VisionContext `json:"vision,omitempty"`
	Turns        []domain.Turn         `json:"turns"`
	LastActivity time.Time             `json:"last_activity"`
	CreatedAt    time.Time             `json:"created_at"`
}

// ServiceConfig tunes the turn service.
type ServiceConfig struct {
	ModelTimeout time.Duration
	// HistoryTurns bounds the conversation sent to the model.
	HistoryTurns int
}

// DefaultServiceConfig returns the default turn service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ModelTimeout: 30 * time.Second,
		HistoryTurns: 20,
	}
}
