// Package replayapi exposes the playback engine over gRPC. Messages are
// protobuf well-known types, so no generated code is involved.
package replayapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "flightreplay.v1.PlaybackService"

const (
	methodListSorties  = "/" + ServiceName + "/ListSorties"
	methodSelect       = "/" + ServiceName + "/Select"
	methodControl      = "/" + ServiceName + "/Control"
	methodStatus       = "/" + ServiceName + "/Status"
	methodStreamFrames = "/" + ServiceName + "/StreamFrames"
)

// PlaybackServer is the server API of the playback service.
type PlaybackServer interface {
	ListSorties(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	Select(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Control(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StreamFrames(*structpb.Struct, FrameStream) error
}

// FrameStream is the server side of StreamFrames.
type FrameStream = grpc.ServerStreamingServer[structpb.Struct]

// PlaybackServiceDesc describes the playback service for grpc.Server.
var PlaybackServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlaybackServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSorties", Handler: listSortiesHandler},
		{MethodName: "Select", Handler: selectHandler},
		{MethodName: "Control", Handler: controlHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamFrames", Handler: streamFramesHandler, ServerStreams: true},
	},
	Metadata: "flightreplay/v1/playback.proto",
}

// RegisterPlaybackServer registers srv on s.
func RegisterPlaybackServer(s grpc.ServiceRegistrar, srv PlaybackServer) {
	s.RegisterService(&PlaybackServiceDesc, srv)
}

func listSortiesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlaybackServer).ListSorties(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListSorties}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlaybackServer).ListSorties(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func selectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlaybackServer).Select(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSelect}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlaybackServer).Select(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func controlHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlaybackServer).Control(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodControl}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlaybackServer).Control(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlaybackServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlaybackServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func streamFramesHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(PlaybackServer).StreamFrames(in, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}
