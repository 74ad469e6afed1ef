package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/guard"
	"github.com/ashureev/fleetguard/internal/scope"
	"github.com/ashureev/fleetguard/internal/session"
	"github.com/ashureev/fleetguard/internal/vision"
	"github.com/google/uuid"
)

var (
	// ErrEmptyTurn is returned for a turn with neither text nor image.
	ErrEmptyTurn = errors.New("text or image is required")
	// ErrInvalidImage is returned when the image payload cannot be decoded.
	ErrInvalidImage = errors.New("image is not valid base64")
)

// VisionResolver turns an uploaded image into an entity hint.
type VisionResolver interface {
	Resolve(ctx context.Context, image []byte, instruction string, allowed []domain.Collection) *domain.VisionContext
}

// Service handles one operator turn at a time per session.
type Service struct {
	sessions *session.Store
	scopes   *scope.Resolver
	guard    *guard.Guard
	model    Proposer
	images   VisionResolver
	log      ConversationLogger
	cfg      ServiceConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewService wires a turn service. images may be nil when image analysis
// is not configured.
func NewService(sessions *session.Store, scopes *scope.Resolver, g *guard.Guard, model Proposer, images VisionResolver, log ConversationLogger, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if log == nil {
		log = noopConversationLogger{}
	}
	def := DefaultServiceConfig()
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = def.ModelTimeout
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	return &Service{
		sessions: sessions,
		scopes:   scopes,
		guard:    g,
		model:    model,
		images:   images,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
	}
}

// checkpoint is the session state a failed model call must not leave behind.
type checkpoint struct {
	turns  int
	page   string
	vision *domain.VisionContext
	carry  bool
}

func takeCheckpoint(sess *domain.Session) checkpoint {
	cp := checkpoint{turns: len(sess.Turns), page: sess.PageContext, vision: sess.Vision}
	if sess.Vision != nil {
		cp.carry = sess.Vision.CarryForward
	}
	return cp
}

func (cp checkpoint) restore(sess *domain.Session) {
	sess.Turns = sess.Turns[:cp.turns]
	sess.PageContext = cp.page
	sess.Vision = cp.vision
	if cp.vision != nil {
		cp.vision.CarryForward = cp.carry
	}
}

// HandleTurn processes one operator message in its session. A session still
// busy with an earlier message yields session.ErrBusy; a model failure leaves
// the session as it was before the message.
func (s *Service) HandleTurn(ctx context.Context, operator string, req TurnRequest) (*TurnResponse, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && req.Image == "" {
		return nil, ErrEmptyTurn
	}
	var image []byte
	if req.Image != "" {
		var err error
		if image, err = vision.DecodeImage(req.Image); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	lease, err := s.sessions.Acquire(req.SessionID, operator)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	sess := lease.Session

	cp := takeCheckpoint(sess)
	// An unrecognized page is kept as sent so later checks can say so; it
	// still resolves to the fallback scope.
	page, known := s.scopes.Canonical(req.PageContext)
	if !known {
		s.logger.Debug("Unknown page context, using fallback", "session_id", sess.ID, "page_context", req.PageContext, "fallback", page)
		page = strings.TrimSpace(req.PageContext)
	}
	sess.PageContext = page

	var imageRef string
	if image != nil {
		imageRef = "img_" + uuid.NewString()
	}
	sess.RecordTurn(domain.RoleUser, text, imageRef, s.now())
	s.logEvent(sess, "turn_user_message", text, map[string]any{"page": page, "image_ref": imageRef})

	if out, cancelled := s.guard.EnforceScope(sess); cancelled {
		sess.Vision = nil
		return s.finish(sess, out, ""), nil
	}

	fresh := s.refreshVision(ctx, sess, image, imageRef, text)

	if sess.AwaitingConfirmation() {
		out := s.guard.Reply(ctx, sess, text)
		out.Text = withVisionNote(sess.Vision, fresh, out.Text)
		return s.finish(sess, out, ""), nil
	}

	prop, err := s.propose(ctx, sess)
	if err != nil {
		cp.restore(sess)
		s.logger.Warn("Model call failed, turn rolled back", "session_id", sess.ID, "error", err)
		s.logEvent(sess, "turn_model_error", err.Error(), nil)
		return nil, err
	}

	if prop.Call == nil {
		if fresh {
			sess.Vision.CarryForward = true
		}
		text := withVisionNote(sess.Vision, fresh, prop.Reply)
		return s.finish(sess, guard.Outcome{State: sess.State, Text: text}, ""), nil
	}

	call := guard.ApplyVision(*prop.Call, sess.Vision)
	out := s.guard.Propose(ctx, sess, call)
	if out.Text == "" {
		out.Text = prop.Reply
	}
	out.Text = withVisionNote(sess.Vision, fresh, out.Text)
	return s.finish(sess, out, call.Name), nil
}

// withVisionNote puts what a newly uploaded image was read as ahead of the
// reply, so a misread or an unmatched image is visible to the operator.
func withVisionNote(v *domain.VisionContext, fresh bool, text string) string {
	if !fresh || v == nil {
		return text
	}
	note := vision.Describe(v)
	if text == "" {
		return note
	}
	return note + "\n\n" + text
}

// refreshVision applies the vision lifetime: a new image replaces the
// context, and an older one survives only the single turn after it arrived.
// It reports whether the context was created this turn.
func (s *Service) refreshVision(ctx context.Context, sess *domain.Session, image []byte, imageRef, text string) bool {
	if image == nil {
		if sess.Vision != nil && sess.Vision.CarryForward {
			sess.Vision.CarryForward = false
		} else {
			sess.Vision = nil
		}
		return false
	}

	var vc *domain.VisionContext
	if s.images == nil {
		vc = &domain.VisionContext{Note: "image analysis is unavailable", CreatedAt: s.now()}
	} else {
		vc = s.images.Resolve(ctx, image, text, s.scopes.ResolveAllowed(sess.PageContext))
	}
	vc.ImageRef = imageRef
	sess.Vision = vc
	s.logger.Info("Image resolved",
		"session_id", sess.ID,
		"entity", vc.EntityName,
		"confidence", vc.Confidence,
		"identified", vc.Identified())
	return true
}

func (s *Service) propose(ctx context.Context, sess *domain.Session) (*Proposal, error) {
	if s.model == nil {
		return nil, ErrModelUnavailable
	}
	allowed := s.scopes.ResolveAllowed(sess.PageContext)

	mctx, cancel := context.WithTimeout(ctx, s.cfg.ModelTimeout)
	defer cancel()
	prop, err := s.model.Propose(mctx, ProposeRequest{
		SessionID: sess.ID,
		Operator:  sess.Operator,
		Page:      sess.PageContext,
		Allowed:   allowed,
		Tools:     domain.ToolsFor(allowed),
		History:   sess.RecentTurns(s.cfg.HistoryTurns),
		Vision:    vision.Describe(sess.Vision),
	})
	if err != nil {
		if errors.Is(mctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrModelTimeout) {
			return nil, fmt.Errorf("%w: %v", ErrModelTimeout, err)
		}
		return nil, err
	}
	if prop == nil {
		prop = &Proposal{}
	}
	return prop, nil
}

func (s *Service) finish(sess *domain.Session, out guard.Outcome, tool string) *TurnResponse {
	sess.RecordTurn(domain.RoleAssistant, out.Text, "", s.now())

	meta := map[string]any{
		"state":    string(out.State),
		"executed": out.Executed(),
	}
	if tool != "" {
		meta["tool"] = tool
	}
	if sess.Pending != nil {
		meta["pending_id"] = sess.Pending.ID
	}
	if out.Err != nil {
		meta["error"] = out.Err.Error()
	}
	s.logEvent(sess, "turn_assistant_message", out.Text, meta)

	return &TurnResponse{
		SessionID:            sess.ID,
		Response:             out.Text,
		AwaitingConfirmation: sess.AwaitingConfirmation(),
		State:                sess.State,
		Transitions:          out.Transitions,
		Pending:              sess.Pending.Clone(),
		Vision:               sess.Vision.Clone(),
		Result:               out.Result,
		Tool:                 tool,
	}
}

func (s *Service) logEvent(sess *domain.Session, eventType, content string, meta map[string]any) {
	// Directions are from this service's side: operator messages arrive,
	// replies leave.
	direction := "outbound"
	if eventType == "turn_user_message" {
		direction = "inbound"
	}
	s.log.Log(ConversationLogEvent{
		UserID:    sess.Operator,
		SessionID: sess.ID,
		Channel:   "turn",
		Direction: direction,
		EventType: eventType,
		Content:   content,
		Meta:      meta,
	})
}

// Session returns the inspectable state of a session.
func (s *Service) Session(operator, id string) (*SessionView, error) {
	snap, err := s.sessions.Snapshot(id, operator)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		SessionID:    snap.ID,
		PageContext:  snap.PageContext,
		State:        snap.State,
		Pending:      snap.Pending,
		Vision:       snap.Vision,
		Turns:        snap.Turns,
		LastActivity: snap.LastActivity,
		CreatedAt:    snap.CreatedAt,
	}, nil
}

// Reset drops a session, discarding any pending action.
func (s *Service) Reset(operator, id string) error {
	if err := s.sessions.Delete(id, operator); err != nil {
		return err
	}
	s.logger.Info("Session reset", "session_id", id, "operator", operator)
	return nil
}

// Close releases the model connection and flushes the conversation log.
func (s *Service) Close() {
	if s.model != nil {
		s.model.Close()
	}
	if err := s.log.Close(); err != nil {
		s.logger.Warn("failed to close conversation logger", "error", err)
	}
}
