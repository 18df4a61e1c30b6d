// Package rpc exposes the email service over gRPC using the Online Boutique
// hipstershop.EmailService contract, plus the standard health protocol.
package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/example/emailservice/internal/confirmation"
	"github.com/example/emailservice/internal/logger"
	"github.com/example/emailservice/internal/worker"
)

// emailServiceServer is the handler type the service descriptor dispatches to.
type emailServiceServer interface {
	SendOrderConfirmation(ctx context.Context, in *dynamicpb.Message) (*dynamicpb.Message, error)
}

type emailServer struct {
	schema *Schema
	sender confirmation.ConfirmationSender
}

func (s *emailServer) SendOrderConfirmation(ctx context.Context, in *dynamicpb.Message) (*dynamicpb.Message, error) {
	req, err := s.schema.DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.sender.SendOrderConfirmation(ctx, req); err != nil {
		return nil, err
	}
	return s.schema.NewResponse(), nil
}

var emailServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*emailServiceServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "SendOrderConfirmation",
		Handler:    sendOrderConfirmationHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

func sendOrderConfirmationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*emailServer)
	in := dynamicpb.NewMessage(s.schema.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return s.SendOrderConfirmation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SendOrderConfirmationMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.SendOrderConfirmation(ctx, req.(*dynamicpb.Message))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterEmailService registers the confirmation sender under the
// hipstershop.EmailService name.
func RegisterEmailService(r grpc.ServiceRegistrar, sender confirmation.ConfirmationSender) error {
	if sender == nil {
		return errors.New("rpc: confirmation sender is required")
	}
	schema, err := LoadSchema()
	if err != nil {
		return err
	}
	r.RegisterService(&emailServiceDesc, &emailServer{schema: schema, sender: sender})
	return nil
}

// ServerOption customises NewServer.
type ServerOption func(*serverSettings)

type serverSettings struct {
	pool    *worker.Pool
	grpcOpt []grpc.ServerOption
}

// WithPool runs every email RPC inside a worker pool slot.
func WithPool(p *worker.Pool) ServerOption {
	return func(s *serverSettings) {
		s.pool = p
	}
}

// WithGRPCOptions appends raw gRPC server options.
func WithGRPCOptions(opts ...grpc.ServerOption) ServerOption {
	return func(s *serverSettings) {
		s.grpcOpt = append(s.grpcOpt, opts...)
	}
}

// NewServer builds a gRPC server serving the email service and the health
// protocol.
func NewServer(sender confirmation.ConfirmationSender, reporter healthpb.HealthServer, log zerolog.Logger, opts ...ServerOption) (*grpc.Server, error) {
	if reporter == nil {
		return nil, errors.New("rpc: health reporter is required")
	}
	log = logger.OrNop(log)

	settings := &serverSettings{}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}

	interceptors := []grpc.UnaryServerInterceptor{LoggingInterceptor(log)}
	if settings.pool != nil {
		interceptors = append(interceptors, settings.pool.UnaryServerInterceptor())
	}

	grpcOpts := append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(interceptors...)}, settings.grpcOpt...)
	srv := grpc.NewServer(grpcOpts...)

	if err := RegisterEmailService(srv, sender); err != nil {
		return nil, err
	}
	healthpb.RegisterHealthServer(srv, reporter)
	return srv, nil
}

// LoggingInterceptor logs the method, status code and duration of every
// unary call.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	log = logger.OrNop(log)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		evt := log.Debug()
		if code != codes.OK {
			evt = log.Warn().Str("status_message", status.Convert(err).Message())
		}
		evt.Str("method", info.FullMethod).
			Str("code", code.String()).
			Dur("duration", time.Since(started)).
			Msg("rpc finished")
		return resp, err
	}
}
