package telemetry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "enginesound.telemetry.v1.Telemetry"
	// StreamTelemetryMethod is the full method name of the telemetry stream.
	StreamTelemetryMethod = "/" + ServiceName + "/StreamTelemetry"
	// SubmitCommandMethod is the full method name of command submission.
	SubmitCommandMethod = "/" + ServiceName + "/SubmitCommand"
)

// TelemetryServer is implemented by Service.
type TelemetryServer interface {
	StreamTelemetry(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	SubmitCommand(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// ServiceDesc describes the telemetry service. The messages are well-known types so no
// generated code is required.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitCommand", Handler: submitCommandHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamTelemetry", Handler: streamTelemetryHandler, ServerStreams: true},
	},
	Metadata: "enginesound/telemetry/v1/telemetry.proto",
}

// Register attaches srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func submitCommandHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).SubmitCommand(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitCommandMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).SubmitCommand(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamTelemetryHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).StreamTelemetry(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Client calls the telemetry service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// StreamTelemetry opens the telemetry stream.
func (c *Client) StreamTelemetry(ctx context.Context, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], StreamTelemetryMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// SubmitCommand sends one control frame.
func (c *Client) SubmitCommand(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, SubmitCommandMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
