package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/scope"
)

// ErrOutOfScope is returned for calls on a collection the page does not allow.
var ErrOutOfScope = errors.New("collection not allowed on this page")

// ScopeError is a scope violation with guidance on where the call is allowed.
type ScopeError struct {
	Tool       string
	Collection domain.Collection
	Page       string
	Pages      []string

	// Unrecognized is set when the page context matched no known page and
	// the most restrictive page scope was applied instead.
	Unrecognized bool
}

func (e *ScopeError) Error() string {
	msg := fmt.Sprintf("I can't work with %s from the %s page.", e.Collection, e.Page)
	if e.Unrecognized {
		msg = fmt.Sprintf("I didn't recognize the page you're on, so only the most restrictive set of collections is available, and it doesn't include %s.", e.Collection)
	}
	if len(e.Pages) > 0 {
		msg += fmt.Sprintf(" Switch to %s to do that.", strings.Join(e.Pages, " or "))
	}
	return msg
}

func (e *ScopeError) Unwrap() error {
	return ErrOutOfScope
}

// Reader is the read access the guard pipeline needs from the fleet store.
type Reader interface {
	EntityLookup
	ConsequenceReader
}

// Config tunes the guard pipeline.
type Config struct {
	MaxAttempts  int
	QueryTimeout time.Duration
}

// Guard runs proposed tool calls through scope check, classification,
// consequence evaluation and the confirmation machine, in that order.
type Guard struct {
	scopes     *scope.Resolver
	classifier *Classifier
	evaluator  *Evaluator
	machine    *Machine
	logger     *slog.Logger
}

// New wires a Guard.
func New(scopes *scope.Resolver, reader Reader, exec Executor, cfg Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		scopes:     scopes,
		classifier: NewClassifier(NewEntityResolver(reader)),
		evaluator:  NewEvaluator(reader, cfg.QueryTimeout, logger),
		machine:    NewMachine(exec, MachineConfig{MaxAttempts: cfg.MaxAttempts}, logger),
		logger:     logger,
	}
}

// Resolver exposes the entity resolver shared with vision lookups.
func (g *Guard) Resolver() *EntityResolver {
	return g.classifier.resolver
}

// Propose handles a call proposed by the model for sess.
func (g *Guard) Propose(ctx context.Context, sess *domain.Session, call domain.ToolCall) Outcome {
	tool, err := LookupTool(call)
	if err != nil {
		return g.reject(sess, call, err)
	}
	if !g.scopes.IsAllowed(sess.PageContext, tool.Collection) {
		page, known := g.scopes.Canonical(sess.PageContext)
		return g.reject(sess, call, &ScopeError{
			Tool:         tool.Name,
			Collection:   tool.Collection,
			Page:         page,
			Pages:        g.scopes.PagesFor(tool.Collection),
			Unrecognized: !known,
		})
	}

	resolved, err := g.classifier.Classify(ctx, call)
	if err != nil {
		return g.reject(sess, call, err)
	}

	var summary *domain.ConsequenceSummary
	if resolved.Kind.Destructive() {
		s := g.evaluator.Evaluate(ctx, resolved.Kind, *resolved.Target)
		summary = &s
	}
	return g.machine.Propose(ctx, sess, *resolved, summary)
}

// Reply handles the operator's answer while a confirmation is open.
func (g *Guard) Reply(ctx context.Context, sess *domain.Session, text string) Outcome {
	return g.machine.Reply(ctx, sess, text)
}

// EnforceScope cancels the pending action when the session's current page no
// longer allows its collection. The bool reports whether it did.
func (g *Guard) EnforceScope(sess *domain.Session) (Outcome, bool) {
	p := sess.Pending
	if p == nil || g.scopes.IsAllowed(sess.PageContext, p.Collection) {
		return Outcome{State: sess.State}, false
	}
	where := "an unrecognized page"
	if page, known := g.scopes.Canonical(sess.PageContext); known {
		where = "the " + page + " page"
	}
	text := fmt.Sprintf("You moved to %s, which can't change %s, so I cancelled the pending request to %s. Nothing was changed.",
		where, p.Collection, actionPhrase(p.Kind, p.TargetLabel))
	return g.machine.Cancel(sess, text), true
}

func (g *Guard) reject(sess *domain.Session, call domain.ToolCall, err error) Outcome {
	g.logger.Info("Tool call rejected",
		"session_id", sess.ID,
		"tool", call.Name,
		"page", sess.PageContext,
		"error", err)
	return Outcome{State: sess.State, Text: RejectionText(err), Err: err}
}

// RejectionText renders a pre-execution failure for the operator.
func RejectionText(err error) string {
	var scopeErr *ScopeError
	var resErr *ResolutionError
	switch {
	case errors.As(err, &scopeErr):
		return scopeErr.Error()
	case errors.As(err, &resErr):
		return "I couldn't work out which row you meant: " + resErr.Error() + "."
	case errors.Is(err, ErrUnknownTool):
		return "I can't do that here; it isn't one of the fleet operations I support."
	default:
		return "I couldn't process that request: " + err.Error()
	}
}

// ApplyVision fills the target of a targeted call from an identified image
// when the call names no target of its own. The call still goes through
// Propose unchanged otherwise.
func ApplyVision(call domain.ToolCall, v *domain.VisionContext) domain.ToolCall {
	if !v.Identified() {
		return call
	}
	tool, ok := domain.LookupTool(call.Name)
	if !ok || !tool.Operation.Targeted() {
		return call
	}

	want := tool.Collection
	if tool.ViaTrip {
		want = domain.CollectionTrips
	}
	if v.Resolved.Collection != want {
		return call
	}
	for _, key := range tool.TargetKeys() {
		if val, ok := call.Args[key]; ok && val != nil && val != "" {
			return call
		}
	}

	args := make(map[string]any, len(call.Args)+1)
	for k, val := range call.Args {
		args[k] = val
	}
	args[tool.IDKeys()[0]] = v.Resolved.ID
	return domain.ToolCall{Name: call.Name, Args: args}
}
