package door

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Full method names of door.v1.DoorService.
const (
	ServiceName     = "door.v1.DoorService"
	MethodUnlock    = "/" + ServiceName + "/Unlock"
	MethodLock      = "/" + ServiceName + "/Lock"
	MethodGetStatus = "/" + ServiceName + "/GetStatus"
	MethodWatch     = "/" + ServiceName + "/Watch"
)

// DoorServiceServer is the server API of door.v1.DoorService.
type DoorServiceServer interface {
	Unlock(ctx context.Context, requester *wrapperspb.StringValue) (*structpb.Struct, error)
	Lock(ctx context.Context, requester *wrapperspb.StringValue) (*structpb.Struct, error)
	GetStatus(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
	Watch(requester *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error
}

// ServiceDesc describes door.v1.DoorService for grpc.Server.RegisterService and
// for opening Watch streams on the client side.
//
//nolint:gochecknoglobals // Mirrors generated gRPC descriptors.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DoorServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Unlock",
			Handler:    unaryHandler(MethodUnlock, DoorServiceServer.Unlock),
		},
		{
			MethodName: "Lock",
			Handler:    unaryHandler(MethodLock, DoorServiceServer.Lock),
		},
		{
			MethodName: "GetStatus",
			Handler:    unaryHandler(MethodGetStatus, DoorServiceServer.GetStatus),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "door/v1/door.proto",
}

// Register attaches the implementation to a gRPC server.
func Register(registrar grpc.ServiceRegistrar, srv DoorServiceServer) {
	registrar.RegisterService(&ServiceDesc, srv)
}

// unaryHandler adapts a typed unary method to grpc.MethodHandler.
func unaryHandler[Req any](
	fullMethod string,
	call func(DoorServiceServer, context.Context, *Req) (*structpb.Struct, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(DoorServiceServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}

		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(DoorServiceServer), ctx, req.(*Req))
		}

		return interceptor(ctx, in, info, handler)
	}
}

// watchHandler adapts Watch to grpc.StreamHandler.
func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(DoorServiceServer).Watch(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{
		ServerStream: stream,
	})
}
