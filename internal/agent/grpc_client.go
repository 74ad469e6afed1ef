package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the model service. Payloads are google.protobuf.Struct.
const (
	proposeMethod = "/fleetguard.agent.v1.AgentService/Propose"
	healthMethod  = "/fleetguard.agent.v1.AgentService/Health"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMalformedProposal        = errors.New("malformed proposal")
)

// GrpcClient provides a gRPC client to the model service.
type GrpcClient struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the model service and waits until it is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("model service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to model service", "address", cfg.Address)

	return &GrpcClient{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		logger:  logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks if the model service is healthy.
func (c *GrpcClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, healthMethod, &structpb.Struct{}, resp); err != nil {
		return fmt.Errorf("health check failed: %w", mapRPCError(ctx, err))
	}
	if s, ok := resp.GetFields()["status"]; ok && s.GetStringValue() != "" && s.GetStringValue() != "ok" {
		return fmt.Errorf("health check failed: status %q", s.GetStringValue())
	}
	return nil
}

// Propose asks the model for the next step of the conversation.
func (c *GrpcClient) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	in, err := encodeProposeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("encode propose request: %w", err)
	}

	out := &structpb.Struct{}
	start := time.Now()
	if err := c.conn.Invoke(ctx, proposeMethod, in, out); err != nil {
		c.logger.Warn("Propose failed", "session_id", req.SessionID, "error", err)
		return nil, mapRPCError(ctx, err)
	}

	p, err := decodeProposal(out)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Model proposal received",
		"session_id", req.SessionID,
		"has_call", p.Call != nil,
		"latency_ms", time.Since(start).Milliseconds())
	return p, nil
}

func mapRPCError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), status.Code(err) == codes.DeadlineExceeded:
		return fmt.Errorf("%w: %v", ErrModelTimeout, err)
	case status.Code(err) == codes.Unavailable:
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	default:
		return err
	}
}

func encodeProposeRequest(req ProposeRequest) (*structpb.Struct, error) {
	allowed := make([]any, 0, len(req.Allowed))
	for _, c := range req.Allowed {
		allowed = append(allowed, string(c))
	}
	tools := make([]any, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, map[string]any{
			"name":        t.Name,
			"collection":  string(t.Collection),
			"operation":   string(t.Operation),
			"description": t.Description,
		})
	}
	history := make([]any, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, map[string]any{
			"role": string(turn.Role),
			"text": turn.Text,
		})
	}
	return structpb.NewStruct(map[string]any{
		"session_id":          req.SessionID,
		"operator":            req.Operator,
		"page_context":        req.Page,
		"allowed_collections": allowed,
		"tools":               tools,
		"history":             history,
		"vision_context":      req.Vision,
	})
}

func decodeProposal(out *structpb.Struct) (*Proposal, error) {
	fields := out.AsMap()
	p := &Proposal{}
	if reply, ok := fields["reply"].(string); ok {
		p.Reply = reply
	}

	raw, ok := fields["tool_call"]
	if !ok || raw == nil {
		return p, nil
	}
	call, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: tool_call is %T", errMalformedProposal, raw)
	}
	name, _ := call["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("%w: tool_call without name", errMalformedProposal)
	}
	args, _ := call["args"].(map[string]any)
	p.Call = &domain.ToolCall{Name: name, Args: args}
	return p, nil
}
