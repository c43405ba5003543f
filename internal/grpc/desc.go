package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ScriptServiceName is the fully-qualified gRPC service name. Messages are
// google.protobuf.Struct in both directions, so no generated code is needed.
const ScriptServiceName = "chunkback.v1.ScriptService"

// StreamMethod is the full method name of the server-streaming RPC.
const StreamMethod = "/" + ScriptServiceName + "/Stream"

// ScriptServiceServer is implemented by ScriptService.
type ScriptServiceServer interface {
	Stream(req *structpb.Struct, stream ScriptStreamServer) error
}

// ScriptStreamServer is the server side of one Stream call.
type ScriptStreamServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type scriptStreamServer struct {
	grpc.ServerStream
}

func (x *scriptStreamServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ScriptServiceServer).Stream(req, &scriptStreamServer{stream})
}

// ScriptServiceDesc describes chunkback.v1.ScriptService for grpc.Server.
var ScriptServiceDesc = grpc.ServiceDesc{
	ServiceName: ScriptServiceName,
	HandlerType: (*ScriptServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Stream",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "chunkback/v1/script.proto",
}

// RegisterScriptServiceServer registers srv with s.
func RegisterScriptServiceServer(s grpc.ServiceRegistrar, srv ScriptServiceServer) {
	s.RegisterService(&ScriptServiceDesc, srv)
}

// ScriptStreamClient receives the responses of one Stream call.
type ScriptStreamClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type scriptStreamClient struct {
	grpc.ClientStream
}

func (x *scriptStreamClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ScriptClient calls chunkback.v1.ScriptService.
type ScriptClient struct {
	cc grpc.ClientConnInterface
}

func NewScriptClient(cc grpc.ClientConnInterface) *ScriptClient {
	return &ScriptClient{cc: cc}
}

// Stream starts a call and sends req. Read responses with Recv until io.EOF.
func (c *ScriptClient) Stream(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (ScriptStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &ScriptServiceDesc.Streams[0], StreamMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &scriptStreamClient{stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
