package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/executor"
	"github.com/google/uuid"
)

var (
	// ErrNothingPending is returned by Reply when no action awaits confirmation.
	ErrNothingPending = errors.New("no action awaiting confirmation")
	// ErrConfirmationOpen is returned by Propose while another action awaits confirmation.
	ErrConfirmationOpen = errors.New("an action is already awaiting confirmation")
)

// DefaultMaxAttempts bounds unclassifiable replies before auto-cancel.
const DefaultMaxAttempts = 3

// Executor runs confirmed calls.
type Executor interface {
	Execute(ctx context.Context, call domain.ResolvedCall, actor string) (*executor.Result, error)
}

// Outcome reports what one machine step did to the session.
type Outcome struct {
	State       domain.ConfirmState   `json:"state"`
	Transitions []domain.ConfirmState `json:"transitions,omitempty"`
	Text        string                `json:"text"`
	Pending     *domain.PendingAction `json:"pending,omitempty"`
	Result      *executor.Result      `json:"result,omitempty"`
	Reply       string                `json:"reply,omitempty"`
	Err         error                 `json:"-"`
}

// Executed reports whether the step ran the call.
func (o Outcome) Executed() bool {
	return o.Passed(domain.StateExecuting)
}

// Passed reports whether the step went through state.
func (o Outcome) Passed(state domain.ConfirmState) bool {
	for _, s := range o.Transitions {
		if s == state {
			return true
		}
	}
	return false
}

// MachineConfig tunes the confirmation machine.
type MachineConfig struct {
	MaxAttempts int
	Now         func() time.Time
	NewID       func() string
}

// Machine is the per-session confirmation lifecycle. Callers must hold the
// session's lock for the duration of each call.
type Machine struct {
	exec        Executor
	maxAttempts int
	now         func() time.Time
	newID       func() string
	logger      *slog.Logger
}

// NewMachine creates a Machine.
func NewMachine(exec Executor, cfg MachineConfig, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Machine{
		exec:        exec,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
		newID:       cfg.NewID,
		logger:      logger,
	}
}

type stepper struct {
	m    *Machine
	sess *domain.Session
	out  Outcome
}

func (s *stepper) enter(state domain.ConfirmState) {
	s.m.logger.Debug("Confirmation state transition",
		"session_id", s.sess.ID,
		"from", s.sess.State,
		"to", state)
	s.sess.State = state
	s.out.Transitions = append(s.out.Transitions, state)
}

func (s *stepper) done() Outcome {
	s.out.State = s.sess.State
	return s.out
}

// Propose takes a classified call from IDLE. Benign calls and destructive calls
// without impact run at once; the rest suspend awaiting confirmation.
func (m *Machine) Propose(ctx context.Context, sess *domain.Session, call domain.ResolvedCall, summary *domain.ConsequenceSummary) Outcome {
	st := &stepper{m: m, sess: sess}
	if sess.AwaitingConfirmation() {
		st.out.Err = ErrConfirmationOpen
		st.out.Pending = sess.Pending
		st.out.Text = RenderWarning(sess.Pending)
		return st.done()
	}

	if !call.Kind.Destructive() || summary == nil || !summary.HasImpact() {
		m.execute(ctx, st, call)
		return st.done()
	}

	pending := &domain.PendingAction{
		ID:           m.newID(),
		Kind:         call.Kind,
		Collection:   call.Tool.Collection,
		Call:         call,
		Consequences: summary,
		CreatedAt:    m.now(),
	}
	if call.Target != nil {
		pending.TargetID = call.Target.ID
		pending.TargetLabel = call.Target.Label
	}
	if pending.TargetLabel == "" {
		pending.TargetLabel = summary.TargetLabel
	}

	sess.Pending = pending
	st.enter(domain.StateAwaitingConfirmation)
	st.out.Pending = pending
	st.out.Text = RenderWarning(pending)

	m.logger.Info("Destructive action awaiting confirmation",
		"session_id", sess.ID,
		"pending_id", pending.ID,
		"kind", pending.Kind,
		"target_id", pending.TargetID,
		"unknown_impact", summary.Unknown)
	return st.done()
}

// Reply interprets the operator's answer to an open confirmation.
func (m *Machine) Reply(ctx context.Context, sess *domain.Session, text string) Outcome {
	st := &stepper{m: m, sess: sess}
	if !sess.AwaitingConfirmation() {
		st.out.Err = ErrNothingPending
		return st.done()
	}

	reply := InterpretReply(text)
	st.out.Reply = reply.String()

	switch reply {
	case ReplyAffirmative:
		pending := sess.Pending
		m.logger.Info("Pending action confirmed", "session_id", sess.ID, "pending_id", pending.ID)
		m.execute(ctx, st, pending.Call)

	case ReplyNegative:
		m.cancel(st, fmt.Sprintf("Okay, I won't %s. Nothing was changed.", actionPhrase(sess.Pending.Kind, sess.Pending.TargetLabel)))

	default:
		pending := sess.Pending
		pending.Attempts++
		if pending.Attempts >= m.maxAttempts {
			m.cancel(st, fmt.Sprintf("I still couldn't tell whether you wanted to %s, so I cancelled it. Nothing was changed.",
				actionPhrase(pending.Kind, pending.TargetLabel)))
			return st.done()
		}
		st.out.Pending = pending
		st.out.Text = RenderReprompt(pending, m.maxAttempts-pending.Attempts)
	}
	return st.done()
}

// Cancel discards any open pending action, e.g. when the page no longer
// allows its collection.
func (m *Machine) Cancel(sess *domain.Session, reason string) Outcome {
	st := &stepper{m: m, sess: sess}
	if sess.Pending == nil {
		st.out.Err = ErrNothingPending
		return st.done()
	}
	m.cancel(st, reason)
	return st.done()
}

func (m *Machine) cancel(st *stepper, text string) {
	pending := st.sess.Pending
	st.sess.Pending = nil
	st.enter(domain.StateCancelled)
	st.enter(domain.StateIdle)
	st.out.Text = text
	m.logger.Info("Pending action cancelled", "session_id", st.sess.ID, "pending_id", pending.ID, "attempts", pending.Attempts)
}

// execute clears the pending action on entering EXECUTING so a repeated
// trigger finds nothing to run.
func (m *Machine) execute(ctx context.Context, st *stepper, call domain.ResolvedCall) {
	st.sess.Pending = nil
	st.enter(domain.StateExecuting)

	res, err := m.exec.Execute(ctx, call, st.sess.Operator)
	if err != nil {
		st.out.Err = err
		st.out.Text = failureText(call, err)
		st.enter(domain.StateIdle)
		return
	}
	st.out.Result = res
	st.out.Text = res.Message
	st.enter(domain.StateCompleted)
	st.enter(domain.StateIdle)
}

func failureText(call domain.ResolvedCall, err error) string {
	what := call.Tool.Collection.Singular()
	if call.Target != nil && call.Target.Label != "" {
		what += " '" + call.Target.Label + "'"
	}
	switch executor.FailureKind(err) {
	case executor.FailureNotFound:
		return fmt.Sprintf("I couldn't find %s any more; it may already have been removed. Nothing was changed.", what)
	case executor.FailureConflict:
		return fmt.Sprintf("That change to %s conflicts with existing data: %v", what, err)
	case executor.FailureTransient:
		return "The database is busy right now and the change did not go through. Please ask again in a moment."
	case executor.FailureInvalid:
		return fmt.Sprintf("I couldn't run %s: %v", call.Tool.Name, err)
	default:
		return fmt.Sprintf("Something went wrong running %s. Nothing was changed.", call.Tool.Name)
	}
}
