// Package grpc implements the gRPC transport for agrospeak.
//
// The agrospeak.v1.Assistant service is described by a hand-written
// ServiceDesc and carries the message package types over a JSON codec.
// The standard gRPC health service is registered alongside it.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/agrospeak/agrospeak/internal/message"
	"github.com/agrospeak/agrospeak/internal/transport"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "agrospeak.v1.Assistant"

// SessionRequest addresses a session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// LanguageRequest changes a session's language preference.
type LanguageRequest struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
}

// ClassifyRequest asks for the intent of text.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// Empty is an empty reply.
type Empty struct{}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	server *grpc.Server
	health *health.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Server builds a gRPC server with the assistant and health services
// registered for svc.
func (t *Transport) Server(svc transport.Service) *grpc.Server {
	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, &server{svc: svc})

	t.health = health.NewServer()
	t.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(t.server, t.health)
	return t.server
}

// Listen starts the gRPC server and routes incoming requests to svc.
func (t *Transport) Listen(ctx context.Context, svc transport.Service) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	srv := t.Server(svc)
	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.health.Shutdown()
		srv.GracefulStop()
	}()

	return srv.Serve(lis)
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.server != nil {
		t.health.Shutdown()
		t.server.GracefulStop()
	}
	return nil
}

// assistantServer is the handler type checked by RegisterService.
type assistantServer interface {
	Converse(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error)
	History(ctx context.Context, req *SessionRequest) (*message.History, error)
	ClearHistory(ctx context.Context, req *SessionRequest) (*Empty, error)
	SetLanguage(ctx context.Context, req *LanguageRequest) (*Empty, error)
	Classify(ctx context.Context, req *ClassifyRequest) (*message.Classification, error)
}

type server struct {
	svc transport.Service
}

func (s *server) Converse(ctx context.Context, req *message.TurnRequest) (*message.TurnResult, error) {
	res, err := s.svc.Converse(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *server) History(ctx context.Context, req *SessionRequest) (*message.History, error) {
	res, err := s.svc.History(ctx, req.SessionID)
	if err != nil {
		return nil, toStatus(err)
	}
	return res, nil
}

func (s *server) ClearHistory(ctx context.Context, req *SessionRequest) (*Empty, error) {
	if err := s.svc.ClearHistory(ctx, req.SessionID); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *server) SetLanguage(ctx context.Context, req *LanguageRequest) (*Empty, error) {
	if err := s.svc.SetLanguage(ctx, req.SessionID, req.Language); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *server) Classify(_ context.Context, req *ClassifyRequest) (*message.Classification, error) {
	if req.Text == "" {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	c := s.svc.Classify(req.Text)
	return &c, nil
}

// toStatus maps a service error to a gRPC status.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, transport.ErrInvalid):
		code = codes.InvalidArgument
	case errors.Is(err, transport.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, transport.ErrConflict):
		code = codes.FailedPrecondition
	case errors.Is(err, transport.ErrUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func unaryHandler[Req any, Resp any](call func(assistantServer, context.Context, *Req) (*Resp, error), method string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(assistantServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(assistantServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*assistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Converse", Handler: unaryHandler(assistantServer.Converse, "Converse")},
		{MethodName: "History", Handler: unaryHandler(assistantServer.History, "History")},
		{MethodName: "ClearHistory", Handler: unaryHandler(assistantServer.ClearHistory, "ClearHistory")},
		{MethodName: "SetLanguage", Handler: unaryHandler(assistantServer.SetLanguage, "SetLanguage")},
		{MethodName: "Classify", Handler: unaryHandler(assistantServer.Classify, "Classify")},
	},
	Metadata: "agrospeak/v1/assistant.proto",
}
