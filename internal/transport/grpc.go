// ABOUTME: gRPC transport exposing beacon.v1.Ingest with OpenSession and Publish
// ABOUTME: Bodies are google.protobuf.Struct so agents need no generated stubs

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/beacon-gateway/internal/auth"
	"github.com/2389/beacon-gateway/internal/message"
	"github.com/2389/beacon-gateway/internal/store"
)

// Fully qualified method names of the ingest service.
const (
	IngestServiceName = "beacon.v1.Ingest"
	OpenSessionMethod = "/beacon.v1.Ingest/OpenSession"
	PublishMethod     = "/beacon.v1.Ingest/Publish"
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthListMethod  = "/grpc.health.v1.Health/List"
)

// IngestServer is the server API for the ingest service.
type IngestServer interface {
	OpenSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// ingestServiceDesc is what protoc-gen-go-grpc would emit for:
//
//	service Ingest {
//	  rpc OpenSession(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc Publish(google.protobuf.Struct) returns (google.protobuf.Empty);
//	}
var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OpenSession", Handler: ingestOpenSessionHandler},
		{MethodName: "Publish", Handler: ingestPublishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "beacon/v1/ingest.proto",
}

// RegisterIngestServer registers srv on s.
func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

func ingestOpenSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).OpenSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OpenSessionMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).OpenSession(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func ingestPublishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngestServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PublishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngestServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCHandler serves the ingest service plus the standard health service.
type GRPCHandler struct{}

// Create implements Handler.
func (GRPCHandler) Create(ctx context.Context, opts Options) (Process, error) {
	if opts.Pipeline == nil {
		return nil, errors.New("grpc transport: pipeline is required")
	}
	logger := opts.logger("grpc")

	ln, err := opts.listen()
	if err != nil {
		return nil, err
	}

	srv, hs := NewGRPCServer(opts.ID, opts.Pipeline, logger)

	p := newProcess(opts.ID, ln.Addr(), func(ctx context.Context) error {
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			srv.Stop()
		}
		return nil
	})

	go func() {
		logger.Info("listening", "addr", ln.Addr().String())
		err := srv.Serve(ln)
		if err != nil {
			err = fmt.Errorf("transport %s: %w", opts.ID, err)
		}
		p.finish(err)
	}()
	return p, nil
}

// NewGRPCServer builds a grpc.Server with auth, the ingest service and
// health registered. It is exposed for tests that serve on bufconn.
func NewGRPCServer(id string, pipeline *Pipeline, logger *slog.Logger) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}

	srv := grpc.NewServer(
		grpc.UnaryInterceptor(auth.UnaryInterceptor(pipeline.Guard(), OpenSessionMethod, healthCheckMethod, healthListMethod)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	RegisterIngestServer(srv, &ingestService{id: id, pipeline: pipeline, logger: logger})

	hs := health.NewServer()
	hs.SetServingStatus(IngestServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	return srv, hs
}

type ingestService struct {
	id       string
	pipeline *Pipeline
	logger   *slog.Logger
}

func (s *ingestService) OpenSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
	}
	username, password, ok := auth.ParseBasic(header)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "basic credentials required")
	}

	token, err := s.pipeline.OpenSession(ctx, username, password, req.AsMap())
	if err != nil {
		return nil, s.grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"token": token})
}

func (s *ingestService) Publish(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	if _, err := s.pipeline.Ingest(ctx, s.id, req.AsMap(), true); err != nil {
		return nil, s.grpcError(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *ingestService) grpcError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUnauthorized):
		s.logger.Warn("auth failure", "reason", err.Error())
		return status.Error(codes.Unauthenticated, "invalid credentials")
	case errors.Is(err, auth.ErrMissingAgentID), errors.Is(err, message.ErrMalformedPayload):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		s.logger.Error("credential store unavailable", "error", err)
		return status.Error(codes.Unavailable, "credential store unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		return status.Error(codes.Internal, "internal error")
	}
}

// IngestClient calls the ingest service over any grpc connection.
type IngestClient struct {
	cc grpc.ClientConnInterface
}

// NewIngestClient wraps cc.
func NewIngestClient(cc grpc.ClientConnInterface) *IngestClient {
	return &IngestClient{cc: cc}
}

// OpenSession exchanges credentials for a session token.
func (c *IngestClient) OpenSession(ctx context.Context, username, password, agentID string, opts ...grpc.CallOption) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"agent-id": agentID})
	if err != nil {
		return "", err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", auth.BasicHeader(username, password))

	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, OpenSessionMethod, req, resp, opts...); err != nil {
		return "", err
	}
	return resp.GetFields()["token"].GetStringValue(), nil
}

// Publish sends one metric. fields must be representable as a protobuf Struct.
func (c *IngestClient) Publish(ctx context.Context, token string, fields map[string]any, opts ...grpc.CallOption) error {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return fmt.Errorf("encoding fields: %w", err)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	return c.cc.Invoke(ctx, PublishMethod, req, new(emptypb.Empty), opts...)
}
