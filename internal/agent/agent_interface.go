package agent

import (
	"context"
	"errors"

	"github.com/ashureev/fleetguard/internal/domain"
)

var (
	// ErrModelTimeout indicates the model did not answer within its deadline.
	ErrModelTimeout = errors.New("model request timed out")
	// ErrModelUnavailable indicates the model service could not be reached.
	ErrModelUnavailable = errors.New("model service unavailable")
)

// ProposeRequest is what the model sees for one turn.
type ProposeRequest struct {
	SessionID string
	Operator  string
	Page      string
	Allowed   []domain.Collection
	Tools     []domain.Tool
	History   []domain.Turn
	Vision    string
}

// Proposal is the model's answer: a plain reply, at most one tool call, or both.
type Proposal struct {
	Reply string
	Call  *domain.ToolCall
}

// Proposer is the model/tool-invocation oracle.
type Proposer interface {
	// Propose returns zero or one proposed tool call for the conversation.
	Propose(ctx context.Context, req ProposeRequest) (*Proposal, error)

	// Health checks that the model service answers.
	Health(ctx context.Context) error

	// Close releases resources.
	Close()
}

// Ensure GrpcClient implements Proposer.
var _ Proposer = (*GrpcClient)(nil)
