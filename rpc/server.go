// Package rpc exposes the inference service over gRPC. Messages are the
// well-known wrapper types, so no generated code is needed: envelopes travel
// as BytesValue and JSON metadata as BytesValue.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"bfv-inference/he"
	"bfv-inference/service"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "inference.Inference"
	// ModelNameKey is the metadata key naming the model for Infer.
	ModelNameKey = "x-model-name"
	// DefaultMaxMsgSize bounds messages in both directions.
	DefaultMaxMsgSize = 1024 * 1024 * 1024
)

// inferenceServer is the handler type checked by grpc.RegisterService.
type inferenceServer interface {
	Infer(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Params(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error)
	Model(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*inferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Infer", Handler: inferHandler},
		{MethodName: "Params", Handler: paramsHandler},
		{MethodName: "Model", Handler: modelHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func inferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(inferenceServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Infer"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(inferenceServer).Infer(ctx, req.(*wrapperspb.BytesValue))
	})
}

func paramsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(inferenceServer).Params(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Params"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(inferenceServer).Params(ctx, req.(*emptypb.Empty))
	})
}

func modelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(inferenceServer).Model(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Model"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(inferenceServer).Model(ctx, req.(*wrapperspb.StringValue))
	})
}

// Server adapts a service.Service to gRPC.
type Server struct {
	svc *service.Service
}

func NewServer(svc *service.Service) *Server {
	return &Server{svc: svc}
}

// Register attaches the service to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) Infer(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	name := modelName(ctx)
	log.Printf("Received gRPC inference request for %s (%d bytes)", name, len(req.GetValue()))

	out, err := s.svc.Infer(ctx, name, req.GetValue())
	if err != nil {
		log.Printf("❌ %s: inference failed: %v", name, err)
		return nil, toStatus(err)
	}
	return wrapperspb.Bytes(out), nil
}

func (s *Server) Params(context.Context, *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	data, err := json.Marshal(s.svc.Params())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

func (s *Server) Model(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	info, err := s.svc.Model(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(data), nil
}

func modelName(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(ModelNameKey); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Code maps pipeline errors to gRPC status codes.
func Code(err error) codes.Code {
	switch {
	case errors.Is(err, he.ErrModelNotFound):
		return codes.NotFound
	case errors.Is(err, he.ErrFeatureCountMismatch):
		return codes.FailedPrecondition
	case errors.Is(err, he.ErrInvalidModelName),
		errors.Is(err, he.ErrCorruptStream),
		errors.Is(err, he.ErrIncompatibleParameters):
		return codes.InvalidArgument
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	return codes.Internal
}

func toStatus(err error) error {
	return status.Error(Code(err), err.Error())
}

// Serve runs svc on lis until ctx is done, then stops gracefully.
func Serve(ctx context.Context, lis net.Listener, svc *service.Service, maxMsgSize int) error {
	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxMsgSize
	}
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	NewServer(svc).Register(gs)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Printf("Shutting down gRPC server...")
		gs.GracefulStop()
	}()

	log.Printf("gRPC server listening on %s", lis.Addr())
	err := gs.Serve(lis)
	if ctx.Err() != nil {
		<-stopped
		return nil
	}
	return err
}
