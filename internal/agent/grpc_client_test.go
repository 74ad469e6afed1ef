package agent

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// modelServer is an in-process model service speaking Struct payloads.
type modelServer struct {
	mu      sync.Mutex
	last    map[string]any
	reply   map[string]any
	err     error
	stall   bool
	healthy string
}

func (m *modelServer) propose(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	m.mu.Lock()
	m.last = in.AsMap()
	reply, err, stall := m.reply, m.err, m.stall
	m.mu.Unlock()

	if stall {
		<-ctx.Done()
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(reply)
}

func (m *modelServer) health() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *modelServer) request() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

var modelServiceDesc = grpc.ServiceDesc{
	ServiceName: "fleetguard.agent.v1.AgentService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Propose",
			Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return srv.(*modelServer).propose(ctx, in)
			},
		},
		{
			MethodName: "Health",
			Handler: func(srv any, _ context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				if err := dec(&structpb.Struct{}); err != nil {
					return nil, err
				}
				return structpb.NewStruct(map[string]any{"status": srv.(*modelServer).health()})
			},
		},
	},
}

func newBufconnClient(t *testing.T, ms *modelServer, requestTimeout time.Duration) *GrpcClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&modelServiceDesc, ms)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGrpcClient(GrpcClientConfig{
		Address:        "passthrough:///bufnet",
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: requestTimeout,
	}, nil, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestGrpcClientProposeRoundTrip(t *testing.T) {
	ms := &modelServer{reply: map[string]any{
		"reply": "Checking that route.",
		"tool_call": map[string]any{
			"name": "delete_route",
			"args": map[string]any{"route_id": 7},
		},
	}}
	client := newBufconnClient(t, ms, time.Second)

	tools := domain.ToolsFor([]domain.Collection{domain.CollectionRoutes})
	p, err := client.Propose(context.Background(), ProposeRequest{
		SessionID: "s1",
		Operator:  "op-1",
		Page:      "route_management",
		Allowed:   []domain.Collection{domain.CollectionRoutes},
		Tools:     tools,
		History:   []domain.Turn{{Role: domain.RoleUser, Text: "delete route 7"}},
		Vision:    "Image: no entity identified.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Checking that route.", p.Reply)
	require.NotNil(t, p.Call)
	assert.Equal(t, "delete_route", p.Call.Name)
	assert.Equal(t, 7.0, p.Call.Args["route_id"])

	got := ms.request()
	assert.Equal(t, "route_management", got["page_context"])
	assert.Equal(t, []any{"routes"}, got["allowed_collections"])
	assert.Len(t, got["tools"], len(tools))
	assert.Equal(t, "Image: no entity identified.", got["vision_context"])
}

func TestGrpcClientReplyWithoutCall(t *testing.T) {
	client := newBufconnClient(t, &modelServer{reply: map[string]any{"reply": "Hi."}}, time.Second)

	p, err := client.Propose(context.Background(), ProposeRequest{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "Hi.", p.Reply)
	assert.Nil(t, p.Call)
}

func TestGrpcClientErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		client := newBufconnClient(t, &modelServer{stall: true}, 50*time.Millisecond)
		_, err := client.Propose(context.Background(), ProposeRequest{SessionID: "s1"})
		assert.ErrorIs(t, err, ErrModelTimeout)
	})

	t.Run("unavailable", func(t *testing.T) {
		client := newBufconnClient(t, &modelServer{err: status.Error(codes.Unavailable, "model loading")}, time.Second)
		_, err := client.Propose(context.Background(), ProposeRequest{SessionID: "s1"})
		assert.ErrorIs(t, err, ErrModelUnavailable)
	})

	t.Run("malformed call", func(t *testing.T) {
		client := newBufconnClient(t, &modelServer{reply: map[string]any{"tool_call": "delete everything"}}, time.Second)
		_, err := client.Propose(context.Background(), ProposeRequest{SessionID: "s1"})
		assert.ErrorIs(t, err, errMalformedProposal)
	})
}

func TestGrpcClientHealth(t *testing.T) {
	ms := &modelServer{healthy: "ok"}
	client := newBufconnClient(t, ms, time.Second)
	require.NoError(t, client.Health(context.Background()))

	ms.mu.Lock()
	ms.healthy = "degraded"
	ms.mu.Unlock()
	assert.Error(t, client.Health(context.Background()))
}
