package api

import (
	"context"

	"google.golang.org/grpc"

	"github.com/matheus3301/chatsync/internal/bus"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "chatsync.v1.SyncService"

// SyncServer is the server API for the control service.
type SyncServer interface {
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	Sync(context.Context, *SyncRequest) (*SyncResponse, error)
	SendMessage(context.Context, *SendRequest) (*SendResponse, error)
	Drain(context.Context, *DrainRequest) (*DrainResponse, error)
	ListMessages(context.Context, *ListMessagesRequest) (*ListMessagesResponse, error)
	SearchMessages(context.Context, *SearchMessagesRequest) (*SearchMessagesResponse, error)
	ListChats(context.Context, *ListChatsRequest) (*ListChatsResponse, error)
	MarkRead(context.Context, *MarkReadRequest) (*MarkReadResponse, error)
	ClearConversation(context.Context, *ClearConversationRequest) (*ClearConversationResponse, error)
	WatchEvents(*WatchEventsRequest, grpc.ServerStreamingServer[bus.Event]) error
	WatchConversation(*WatchConversationRequest, grpc.ServerStreamingServer[SyncResponse]) error
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a typed handler to grpc.MethodDesc.
func unary[Req, Resp any](name string, call func(SyncServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SyncServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(SyncServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// serverStream adapts a typed server-streaming handler to grpc.StreamDesc.
func serverStream[Req, Resp any](name string, call func(SyncServer, *Req, grpc.ServerStreamingServer[Resp]) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(Req)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(SyncServer), in, &grpc.GenericServerStream[Req, Resp]{ServerStream: stream})
		},
	}
}

// ServiceDesc describes the control service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", SyncServer.GetStatus),
		unary("Sync", SyncServer.Sync),
		unary("SendMessage", SyncServer.SendMessage),
		unary("Drain", SyncServer.Drain),
		unary("ListMessages", SyncServer.ListMessages),
		unary("SearchMessages", SyncServer.SearchMessages),
		unary("ListChats", SyncServer.ListChats),
		unary("MarkRead", SyncServer.MarkRead),
		unary("ClearConversation", SyncServer.ClearConversation),
	},
	Streams: []grpc.StreamDesc{
		serverStream("WatchEvents", SyncServer.WatchEvents),
		serverStream("WatchConversation", SyncServer.WatchConversation),
	},
	Metadata: "chatsync/v1/sync",
}

// RegisterSyncServer registers srv on s.
func RegisterSyncServer(s grpc.ServiceRegistrar, srv SyncServer) {
	s.RegisterService(&ServiceDesc, srv)
}
