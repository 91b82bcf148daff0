package grpc_control

import (
	"context"
	"time"

	"market-feed/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Every method takes and returns a google.protobuf.Struct, so the services
// need no generated code.
const (
	FeedControlService   = "marketfeed.FeedControl"
	SourceControlService = "marketfeed.SourceControl"
)

// unary adapts a Struct-in/Struct-out method to a grpc.MethodDesc.
func unary[S any](service, name string, fn func(S, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	full := "/" + service + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(S), ctx, req.(*structpb.Struct))
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}

// -----------------------------------------------------------------------------

// IFeedControlServer is the server side of marketfeed.FeedControl.
type IFeedControlServer interface {
	Replay(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSpeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pause(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopAndResume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	StopAndClear(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetState(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSymbols(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var FeedControlDesc = grpc.ServiceDesc{
	ServiceName: FeedControlService,
	HandlerType: (*IFeedControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(FeedControlService, "Replay", IFeedControlServer.Replay),
		unary(FeedControlService, "SetSpeed", IFeedControlServer.SetSpeed),
		unary(FeedControlService, "Pause", IFeedControlServer.Pause),
		unary(FeedControlService, "StopAndResume", IFeedControlServer.StopAndResume),
		unary(FeedControlService, "StopAndClear", IFeedControlServer.StopAndClear),
		unary(FeedControlService, "GetState", IFeedControlServer.GetState),
		unary(FeedControlService, "SetSymbols", IFeedControlServer.SetSymbols),
	},
	Metadata: "marketfeed/control",
}

func RegisterFeedControlServer(s grpc.ServiceRegistrar, srv IFeedControlServer) {
	s.RegisterService(&FeedControlDesc, srv)
}

// -----------------------------------------------------------------------------

// ISourceControlServer is the server side of marketfeed.SourceControl.
type ISourceControlServer interface {
	ListSources(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveSource(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateSymbols(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var SourceControlDesc = grpc.ServiceDesc{
	ServiceName: SourceControlService,
	HandlerType: (*ISourceControlServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(SourceControlService, "ListSources", ISourceControlServer.ListSources),
		unary(SourceControlService, "AddSource", ISourceControlServer.AddSource),
		unary(SourceControlService, "RemoveSource", ISourceControlServer.RemoveSource),
		unary(SourceControlService, "UpdateSymbols", ISourceControlServer.UpdateSymbols),
	},
	Metadata: "marketfeed/control",
}

func RegisterSourceControlServer(s grpc.ServiceRegistrar, srv ISourceControlServer) {
	s.RegisterService(&SourceControlDesc, srv)
}

// -----------------------------------------------------------------------------

// NewServer returns a gRPC server that logs every call.
func NewServer(log *logger.Logger) *grpc.Server {
	return grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warning("gRPC %s failed after %s: %s", info.FullMethod, time.Since(start), status.Code(err))
		} else {
			log.Debug("gRPC %s ok in %s", info.FullMethod, time.Since(start))
		}
		return resp, err
	}
}
