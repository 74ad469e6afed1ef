package domain

import (
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in the session conversation.
type Turn struct {
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	ImageRef string    `json:"image_ref,omitempty"`
	At       time.Time `json:"at"`
}

// ConfirmState is the confirmation lifecycle state of a session.
type ConfirmState string

const (
	StateIdle                 ConfirmState = "IDLE"
	StateAwaitingConfirmation ConfirmState = "AWAITING_CONFIRMATION"
	StateExecuting            ConfirmState = "EXECUTING"
	StateCancelled            ConfirmState = "CANCELLED"
	StateCompleted            ConfirmState = "COMPLETED"
)

// Session holds per-conversation guard state.
type Session struct {
	ID           string
	Operator     string
	Turns        []Turn
	PageContext  string
	State        ConfirmState
	Pending      *PendingAction
	Vision       *VisionContext
	LastActivity time.Time
	CreatedAt    time.Time
}

// NewSession returns an idle session.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		State:        StateIdle,
		LastActivity: now,
		CreatedAt:    now,
	}
}

// RecordTurn appends a turn to the session history.
func (s *Session) RecordTurn(role Role, text, imageRef string, at time.Time) {
	s.Turns = append(s.Turns, Turn{
		Role:     role,
		Text:     text,
		ImageRef: imageRef,
		At:       at,
	})
}

// RecentTurns returns the last n turns from history.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 || n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// LatestUserTurn returns the most recent user turn, if any.
func (s *Session) LatestUserTurn() (Turn, bool) {
	for i := len(s.Turns) - 1; i >= 0; i-- {
		if s.Turns[i].Role == RoleUser {
			return s.Turns[i], true
		}
	}
	return Turn{}, false
}

// AwaitingConfirmation reports whether a pending action is open.
func (s *Session) AwaitingConfirmation() bool {
	return s.State == StateAwaitingConfirmation && s.Pending != nil
}

// Reset clears conversation and guard state, keeping identity.
func (s *Session) Reset(now time.Time) {
	s.Turns = nil
	s.Pending = nil
	s.Vision = nil
	s.State = StateIdle
	s.LastActivity = now
}
