package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/matheus3301/chatsync/internal/bus"
)

// Client talks to a daemon over its unix socket.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon socket at path. The connection is lazy; the
// first call fails if no daemon is listening.
func Dial(path string) (*Client, error) {
	conn, err := grpc.NewClient("unix://"+path,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c, "GetStatus", req)
}

func (c *Client) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	return invoke[SyncResponse](ctx, c, "Sync", req)
}

func (c *Client) SendMessage(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	return invoke[SendResponse](ctx, c, "SendMessage", req)
}

func (c *Client) Drain(ctx context.Context, req *DrainRequest) (*DrainResponse, error) {
	return invoke[DrainResponse](ctx, c, "Drain", req)
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	return invoke[ListMessagesResponse](ctx, c, "ListMessages", req)
}

func (c *Client) SearchMessages(ctx context.Context, req *SearchMessagesRequest) (*SearchMessagesResponse, error) {
	return invoke[SearchMessagesResponse](ctx, c, "SearchMessages", req)
}

func (c *Client) ListChats(ctx context.Context, req *ListChatsRequest) (*ListChatsResponse, error) {
	return invoke[ListChatsResponse](ctx, c, "ListChats", req)
}

func (c *Client) MarkRead(ctx context.Context, req *MarkReadRequest) (*MarkReadResponse, error) {
	return invoke[MarkReadResponse](ctx, c, "MarkRead", req)
}

func (c *Client) ClearConversation(ctx context.Context, req *ClearConversationRequest) (*ClearConversationResponse, error) {
	return invoke[ClearConversationResponse](ctx, c, "ClearConversation", req)
}

func openStream[Req, Resp any](ctx context.Context, c *Client, idx int, req *Req) (grpc.ServerStreamingClient[Resp], error) {
	desc := &ServiceDesc.Streams[idx]
	stream, err := c.conn.NewStream(ctx, desc, fullMethod(desc.StreamName))
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[Req, Resp]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// WatchEvents streams bus events until ctx is cancelled.
func (c *Client) WatchEvents(ctx context.Context, req *WatchEventsRequest) (grpc.ServerStreamingClient[bus.Event], error) {
	return openStream[WatchEventsRequest, bus.Event](ctx, c, 0, req)
}

// WatchConversation streams sync results for one scope until ctx is cancelled.
func (c *Client) WatchConversation(ctx context.Context, req *WatchConversationRequest) (grpc.ServerStreamingClient[SyncResponse], error) {
	return openStream[WatchConversationRequest, SyncResponse](ctx, c, 1, req)
}
